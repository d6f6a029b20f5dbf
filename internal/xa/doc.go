// Package xa defines the two-phase commit contract between a transaction
// coordinator and resource managers.
//
// A Resource is one transactional branch: a session of the store, backed by
// one database connection. The Coordinator starts a branch on every
// resource of a transaction, ends them, and then either commits a single
// branch in one phase or prepares all branches and commits those that
// voted XAOK. Branches that voted XARdOnly have already finished.
//
// Protocol failures are reported as *Error carrying an XA code, so callers
// can tell a rollback vote from a missing branch with errors.As.
package xa
