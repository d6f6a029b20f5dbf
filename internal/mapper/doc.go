// Package mapper executes the statement catalog of package sqlinfo on a
// single pinned database connection.
//
// A Mapper serves two roles. It is the row gateway behind a
// persist.PersistenceContext: reads by id, by parent and name, children
// listings, inserts with store-assigned ids, full or partial updates,
// cascading deletes and server-side subtree copies. It is also an
// xa.Resource: Start opens a database transaction on the connection, and
// Prepare, Commit and Rollback drive it through the two-phase protocol.
// Outside a branch every statement autocommits.
package mapper
