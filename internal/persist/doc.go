// Package persist implements the session-local fragment caches.
//
// A Fragment is the cached state of one row (scalar tables) or one ordered
// array (collection tables), identified by (table, id). Every fragment is
// owned by the Context of its table. A Context keeps two kinds of buckets:
//
//	pristine   fragments matching the store, in a bounded cache that may
//	           drop entries at any time; dropped entries are refetched
//	working    created, modified and deleted fragments in creation order,
//	           never evicted before save
//
// Fragment lifecycle:
//
//	            write              save
//	ABSENT ---------> CREATED ----------> PRISTINE <-----+
//	                                       |   |         | save
//	                                 write |   | remove  |
//	                                       v   |         |
//	                                  MODIFIED-+----> DELETED ---> DETACHED
//	                                                        save
//
// ABSENT and CREATED fragments become DETACHED when removed. Invalidation
// messages from other sessions flag pristine fragments as stale and evict
// them so the next access through the Context refetches.
//
// HierarchyContext adds the per-parent children cache, and
// PersistenceContext ties one Context per table together and saves them in
// an order that lets store-assigned ids flow from the main table to every
// other row.
//
// Callers should resolve fragments through their Context by id rather than
// hold on to them: a Context only guarantees identity of the objects it
// still caches.
package persist
