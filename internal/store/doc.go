// Package store opens the backing database and creates the repository
// layout.
//
// # Layout
//
//   - hierarchy: one row per node (parent, pos, name, isproperty and, in
//     the merged layout, primarytype)
//   - types: the type discriminator, in the separate layout only
//   - one table per schema holding its scalar fields
//   - one table per array field holding (id, pos, item) rows
//   - repositoryinfo: the root id of each repository
//
// Every fragment table references hierarchy(id) with ON DELETE CASCADE.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// SQLite records the layout version in PRAGMA user_version.
package store
