// Package invalidation carries cache invalidations between sessions of
// the same store.
//
// A committing session publishes an Invalidations set (ids modified and
// deleted per table, plus parents whose children changed) on the store's
// Bus. The bus appends a copy to the Queue of every other registered
// session. Recipients drain their queue only at a transaction boundary and
// apply the ids to their own caches.
//
// Locks are held only while enqueueing and draining. Delivery cannot fail:
// the hand-off is in process.
package invalidation
