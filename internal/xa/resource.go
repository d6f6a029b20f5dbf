package xa

import (
	"context"
	"time"
)

// Resource is one resource manager taking part in a global transaction.
// Every method reports protocol failures as *Error.
type Resource interface {
	// Start associates work with a branch. TMNoFlags starts a new branch,
	// TMJoin and TMResume continue one.
	Start(ctx context.Context, xid Xid, flags Flags) error
	// End dissociates work from a branch. TMFail marks it rollback-only.
	End(ctx context.Context, xid Xid, flags Flags) error
	// Prepare votes on the outcome of an ended branch.
	Prepare(ctx context.Context, xid Xid) (Vote, error)
	// Commit commits a prepared branch, or an ended one when onePhase.
	Commit(ctx context.Context, xid Xid, onePhase bool) error
	// Rollback undoes a branch.
	Rollback(ctx context.Context, xid Xid) error
	// Forget drops a heuristically completed branch.
	Forget(ctx context.Context, xid Xid) error
	// Recover lists prepared branches awaiting an outcome.
	Recover(ctx context.Context, flags Flags) ([]Xid, error)

	SetTransactionTimeout(d time.Duration) bool
	TransactionTimeout() time.Duration
	// IsSameRM reports whether other reaches the same resource manager.
	IsSameRM(other Resource) bool
}
