// Package model maps the logical document model onto physical tables.
//
// The model is built once from a schema registry and a configuration and is
// read-only afterwards. It answers three questions for the rest of the
// engine:
//
//	Which table and column hold a property?     Property(name)
//	Which fragment tables does a type carry?     TypeFragments(type)
//	How are node ids minted?                     NewID(), IsTemporaryID(id)
//
// # Table layout
//
// Every node has a row in the hierarchy table (parent, pos, name,
// isproperty). The type discriminator (primarytype) lives either in a
// separate main table or directly in the hierarchy table, depending on
// Config.SeparateMainTable. Each schema with scalar fields gets a table
// named after the schema; each array field gets a collection table named
// after the property with ":" replaced by "_", holding (id, pos, item).
//
// # Id policies
//
// IDPolicyAppUUID mints final UUID strings at creation time.
// IDPolicyDBIdentity mints temporary "T<n>" ids; the store assigns the final
// int64 id when the main row is inserted.
package model
