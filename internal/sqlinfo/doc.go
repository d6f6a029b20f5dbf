// Package sqlinfo precomputes every SQL statement the engine executes.
//
// SQLInfo is built once per model and dialect and is immutable afterwards.
// For each table it holds the DDL, the ordered column list and one
// Statement per operation:
//
//	SelectByID   row (or ordered array) of one id
//	Insert       id first unless the store assigns it
//	Update       every non-id column, id last
//	Delete       by id
//	Copy         INSERT ... SELECT duplicating one id's rows under a new id
//
// The hierarchy table additionally gets child lookups split by the
// complex-property flag, and the repositoryinfo table records the root id.
//
// A Statement carries the exact order of the values to bind (Bind) and of
// the columns it returns (Result); callers never inspect table shapes
// themselves. Placeholders are already rebound for the dialect.
package sqlinfo
