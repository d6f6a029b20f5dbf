package mapper

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/fragstore/internal/xa"
)

type branchState int

const (
	branchActive branchState = iota
	branchSuspended
	branchEnded
	branchRollbackOnly
	branchPrepared
)

// branch is the transaction the connection is enlisted in. Prepare keeps
// the database transaction open until the second phase.
type branch struct {
	xid     xa.Xid
	tx      *sql.Tx
	txCtx   context.Context
	cancel  context.CancelFunc
	state   branchState
	written bool
}

func (b *branch) timedOut() bool {
	return errors.Is(b.txCtx.Err(), context.DeadlineExceeded)
}

func (m *Mapper) endBranch() {
	if m.branch == nil {
		return
	}
	m.branch.cancel()
	m.branch = nil
}

func (m *Mapper) current(xid xa.Xid) (*branch, error) {
	if m.branch == nil || m.branch.xid != xid {
		return nil, xa.NewError(xa.CodeNoTA, "unknown branch %s", xid)
	}
	return m.branch, nil
}

// Start enlists the connection in a branch, or resumes a suspended one.
func (m *Mapper) Start(ctx context.Context, xid xa.Xid, flags xa.Flags) error {
	if flags.Has(xa.TMJoin) || flags.Has(xa.TMResume) {
		b, err := m.current(xid)
		if err != nil {
			return err
		}
		if b.state != branchSuspended && b.state != branchActive {
			return xa.NewError(xa.CodeProto, "branch %s cannot be resumed", xid)
		}
		b.state = branchActive
		return nil
	}
	if flags != xa.TMNoFlags {
		return xa.NewError(xa.CodeInval, "invalid start flags %d", flags)
	}
	if m.branch != nil {
		if m.branch.xid == xid {
			return xa.NewError(xa.CodeDupID, "branch %s already started", xid)
		}
		return xa.NewError(xa.CodeProto, "connection already enlisted in %s", m.branch.xid)
	}

	// The branch outlives the caller's context; only the timeout ends it.
	var (
		txCtx  context.Context
		cancel context.CancelFunc
	)
	if m.timeout > 0 {
		txCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	} else {
		txCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	tx, err := m.conn.BeginTx(txCtx, nil)
	if err != nil {
		cancel()
		return xa.Wrap(xa.CodeRMErr, classify("begin", err), "start %s", xid)
	}
	m.branch = &branch{xid: xid, tx: tx, txCtx: txCtx, cancel: cancel, state: branchActive}
	m.logger.Debug("branch started", "xid", xid.String())
	return nil
}

// End dissociates the connection from the branch. TMFail marks it
// rollback-only.
func (m *Mapper) End(ctx context.Context, xid xa.Xid, flags xa.Flags) error {
	b, err := m.current(xid)
	if err != nil {
		return err
	}
	if b.state != branchActive && b.state != branchSuspended {
		return xa.NewError(xa.CodeProto, "branch %s is not active", xid)
	}
	switch {
	case flags.Has(xa.TMFail):
		b.state = branchRollbackOnly
	case flags.Has(xa.TMSuspend):
		b.state = branchSuspended
	case flags.Has(xa.TMSuccess):
		b.state = branchEnded
	default:
		return xa.NewError(xa.CodeInval, "invalid end flags %d", flags)
	}
	return nil
}

// Prepare votes on the branch. A branch that wrote nothing is committed
// right away and votes read-only.
func (m *Mapper) Prepare(ctx context.Context, xid xa.Xid) (xa.Vote, error) {
	b, err := m.current(xid)
	if err != nil {
		return xa.XAOK, err
	}
	if err := m.checkRollbackOnly(b); err != nil {
		return xa.XAOK, err
	}
	if b.state != branchEnded {
		return xa.XAOK, xa.NewError(xa.CodeProto, "branch %s is not ended", xid)
	}
	if !b.written {
		err := b.tx.Commit()
		m.endBranch()
		if err != nil {
			return xa.XAOK, m.commitError(b, err)
		}
		return xa.XARdOnly, nil
	}
	b.state = branchPrepared
	m.logger.Debug("branch prepared", "xid", xid.String())
	return xa.XAOK, nil
}

// Commit commits a prepared branch, or an ended one in one phase.
func (m *Mapper) Commit(ctx context.Context, xid xa.Xid, onePhase bool) error {
	b, err := m.current(xid)
	if err != nil {
		return err
	}
	if onePhase {
		if err := m.checkRollbackOnly(b); err != nil {
			return err
		}
		if b.state != branchEnded {
			return xa.NewError(xa.CodeProto, "branch %s is not ended", xid)
		}
	} else if b.state != branchPrepared {
		return xa.NewError(xa.CodeProto, "branch %s is not prepared", xid)
	}

	err = b.tx.Commit()
	m.endBranch()
	if err != nil {
		return m.commitError(b, err)
	}
	m.logger.Debug("branch committed", "xid", xid.String(), "one_phase", onePhase)
	return nil
}

// Rollback discards the branch in any state.
func (m *Mapper) Rollback(ctx context.Context, xid xa.Xid) error {
	b, err := m.current(xid)
	if err != nil {
		return err
	}
	err = b.tx.Rollback()
	m.endBranch()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return xa.Wrap(xa.CodeRMErr, classify("rollback", err), "rollback %s", xid)
	}
	m.logger.Debug("branch rolled back", "xid", xid.String())
	return nil
}

// Forget always fails: branches are never completed heuristically.
func (m *Mapper) Forget(ctx context.Context, xid xa.Xid) error {
	return xa.NewError(xa.CodeNoTA, "no heuristically completed branch %s", xid)
}

// Recover lists the prepared branch of this connection, if any. Prepared
// branches do not survive the process.
func (m *Mapper) Recover(ctx context.Context, flags xa.Flags) ([]xa.Xid, error) {
	if m.branch != nil && m.branch.state == branchPrepared {
		return []xa.Xid{m.branch.xid}, nil
	}
	return nil, nil
}

// SetTransactionTimeout applies to branches started afterwards.
func (m *Mapper) SetTransactionTimeout(d time.Duration) bool {
	if d < 0 {
		return false
	}
	m.timeout = d
	return true
}

func (m *Mapper) TransactionTimeout() time.Duration { return m.timeout }

// IsSameRM is identity: each Mapper owns its own connection.
func (m *Mapper) IsSameRM(other xa.Resource) bool {
	o, ok := other.(*Mapper)
	return ok && o == m
}

// InTransaction reports whether statements run inside a branch.
func (m *Mapper) InTransaction() bool {
	return m.branch != nil
}

func (m *Mapper) checkRollbackOnly(b *branch) error {
	timedOut := b.timedOut()
	if b.state != branchRollbackOnly && !timedOut {
		return nil
	}
	_ = b.tx.Rollback()
	m.endBranch()
	if timedOut {
		return xa.NewError(xa.CodeRBTimeout, "branch %s timed out", b.xid)
	}
	return xa.NewError(xa.CodeRBRollback, "branch %s is rollback-only", b.xid)
}

func (m *Mapper) commitError(b *branch, err error) error {
	if b.timedOut() {
		return xa.NewError(xa.CodeRBTimeout, "branch %s timed out", b.xid)
	}
	return xa.Wrap(xa.CodeRMErr, classify("commit", err), "commit %s", b.xid)
}
