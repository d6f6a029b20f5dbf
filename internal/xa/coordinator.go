package xa

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Coordinator drives global transactions over a set of resources.
//
// Thread-safety: a Coordinator may start transactions from any goroutine;
// each Transaction must be finished from one goroutine.
type Coordinator struct {
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTimeout bounds the duration of every transaction. Zero disables it.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type branch struct {
	res   Resource
	xid   Xid
	ended bool
	// failed branches rolled themselves back when End failed.
	failed bool
	vote   Vote
}

// Transaction is one global transaction.
type Transaction struct {
	c        *Coordinator
	xid      Xid
	branches []*branch
	deadline time.Time
	done     bool
}

// Begin starts one branch per distinct resource manager. On failure the
// branches already started are rolled back.
func (c *Coordinator) Begin(ctx context.Context, resources ...Resource) (*Transaction, error) {
	tx := &Transaction{c: c, xid: NewXid()}
	if c.timeout > 0 {
		tx.deadline = c.now().Add(c.timeout)
	}

	for _, r := range resources {
		if tx.joined(r) {
			continue
		}
		b := &branch{res: r, xid: tx.xid.Branch(len(tx.branches) + 1)}
		if c.timeout > 0 {
			r.SetTransactionTimeout(c.timeout)
		}
		if err := r.Start(ctx, b.xid, TMNoFlags); err != nil {
			rbErr := tx.Rollback(ctx)
			return nil, withRollback(Wrap(CodeRMErr, err, "start %s", b.xid), rbErr)
		}
		tx.branches = append(tx.branches, b)
	}
	c.logger.Debug("transaction started", "xid", tx.xid.GlobalID, "branches", len(tx.branches))
	return tx, nil
}

func (tx *Transaction) joined(r Resource) bool {
	for _, b := range tx.branches {
		if b.res.IsSameRM(r) {
			return true
		}
	}
	return false
}

// Xid returns the xid of the first branch.
func (tx *Transaction) Xid() Xid {
	return tx.xid
}

// Commit ends every branch, then commits a single branch in one phase or
// runs both phases over several. A failed End or Prepare, or an expired
// timeout, rolls every branch back and returns a rollback-coded *Error.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.done {
		return NewError(CodeProto, "transaction %s already finished", tx.xid.GlobalID)
	}
	if !tx.deadline.IsZero() && tx.c.now().After(tx.deadline) {
		rbErr := tx.Rollback(ctx)
		return withRollback(NewError(CodeRBTimeout, "transaction %s timed out", tx.xid.GlobalID), rbErr)
	}

	for _, b := range tx.branches {
		if err := b.res.End(ctx, b.xid, TMSuccess); err != nil {
			b.failed = true
			rbErr := tx.Rollback(ctx)
			return withRollback(Wrap(CodeRBRollback, err, "end %s", b.xid), rbErr)
		}
		b.ended = true
	}

	if len(tx.branches) == 1 {
		b := tx.branches[0]
		tx.done = true
		if err := b.res.Commit(ctx, b.xid, true); err != nil {
			return Wrap(CodeRMErr, err, "commit %s", b.xid)
		}
		tx.c.logger.Debug("transaction committed", "xid", tx.xid.GlobalID, "phases", 1)
		return nil
	}

	for _, b := range tx.branches {
		vote, err := b.res.Prepare(ctx, b.xid)
		if err != nil {
			b.failed = true
			rbErr := tx.Rollback(ctx)
			return withRollback(Wrap(CodeRBRollback, err, "prepare %s", b.xid), rbErr)
		}
		b.vote = vote
	}

	tx.done = true
	var result *multierror.Error
	for _, b := range tx.branches {
		if b.vote == XARdOnly {
			continue
		}
		if err := b.res.Commit(ctx, b.xid, false); err != nil {
			result = multierror.Append(result, Wrap(CodeRMErr, err, "commit %s", b.xid))
		}
	}
	tx.c.logger.Debug("transaction committed", "xid", tx.xid.GlobalID, "phases", 2)
	return result.ErrorOrNil()
}

// Rollback rolls every branch back. Branches that already rolled back on
// their own are skipped.
func (tx *Transaction) Rollback(ctx context.Context) error {
	if tx.done {
		return NewError(CodeProto, "transaction %s already finished", tx.xid.GlobalID)
	}
	tx.done = true

	var result *multierror.Error
	for _, b := range tx.branches {
		if b.failed || (b.ended && b.vote == XARdOnly) {
			continue
		}
		if !b.ended {
			if err := b.res.End(ctx, b.xid, TMFail); err != nil {
				result = multierror.Append(result, Wrap(CodeRMErr, err, "end %s", b.xid))
				continue
			}
		}
		if err := b.res.Rollback(ctx, b.xid); err != nil {
			if code, ok := CodeOf(err); ok && code == CodeNoTA {
				continue
			}
			result = multierror.Append(result, Wrap(CodeRMErr, err, "rollback %s", b.xid))
		}
	}
	tx.c.logger.Debug("transaction rolled back", "xid", tx.xid.GlobalID)
	return result.ErrorOrNil()
}

// Recover finishes the prepared branches a resource reports, committing
// them or rolling them back. It returns the xids handled.
func (c *Coordinator) Recover(ctx context.Context, r Resource, commit bool) ([]Xid, error) {
	xids, err := r.Recover(ctx, TMStartRScan|TMEndRScan)
	if err != nil {
		return nil, Wrap(CodeRMErr, err, "recover")
	}
	var result *multierror.Error
	for _, xid := range xids {
		if commit {
			err = r.Commit(ctx, xid, false)
		} else {
			err = r.Rollback(ctx, xid)
		}
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.logger.Info("recovered branches", "count", len(xids), "commit", commit)
	return xids, result.ErrorOrNil()
}

// withRollback keeps the first failure in front of rollback failures.
func withRollback(err, rbErr error) error {
	if rbErr == nil {
		return err
	}
	return multierror.Append(err, rbErr)
}
