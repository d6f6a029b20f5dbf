package session

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/fragstore/internal/xa"
)

// Start enlists the session in a branch. A new branch first applies the
// invalidations received from other sessions.
func (s *Session) Start(ctx context.Context, xid xa.Xid, flags xa.Flags) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if flags == xa.TMNoFlags {
		s.receive()
	}
	if err := s.mapper.Start(ctx, xid, flags); err != nil {
		return err
	}
	s.logger.Debug("transaction started", "xid", xid.String())
	return nil
}

// End flushes pending changes into the branch unless it is failing. A
// failed flush rolls the branch back.
func (s *Session) End(ctx context.Context, xid xa.Xid, flags xa.Flags) error {
	if flags.Has(xa.TMFail) {
		return s.mapper.End(ctx, xid, flags)
	}
	if _, err := s.pc.Save(ctx); err != nil {
		cause := xa.Wrap(xa.CodeRBRollback, err, "flush %s", xid)
		if endErr := s.mapper.End(ctx, xid, xa.TMFail); endErr != nil {
			s.pc.Rollback()
			return multierror.Append(cause, endErr)
		}
		s.logger.Debug("transaction rolled back on flush failure", "xid", xid.String(), "error", err)
		return s.rollbackBranch(ctx, xid, cause)
	}
	return s.mapper.End(ctx, xid, flags)
}

// Prepare votes on the branch. A read-only vote finishes it, so what it
// saved is announced right away.
func (s *Session) Prepare(ctx context.Context, xid xa.Xid) (xa.Vote, error) {
	vote, err := s.mapper.Prepare(ctx, xid)
	if err != nil {
		return vote, s.rollbackBranch(ctx, xid, err)
	}
	if vote == xa.XARdOnly {
		s.publish()
	}
	return vote, nil
}

// rollbackBranch discards the branch after cause and drops the cached
// fragments. A branch the mapper already ended is not an error.
func (s *Session) rollbackBranch(ctx context.Context, xid xa.Xid, cause error) error {
	var result *multierror.Error
	result = multierror.Append(result, cause)
	if rbErr := s.mapper.Rollback(ctx, xid); rbErr != nil {
		if code, ok := xa.CodeOf(rbErr); !ok || code != xa.CodeNoTA {
			result = multierror.Append(result, rbErr)
		}
	}
	s.pc.Rollback()
	return result.ErrorOrNil()
}

// Commit commits the branch and announces what it saved.
func (s *Session) Commit(ctx context.Context, xid xa.Xid, onePhase bool) error {
	if err := s.mapper.Commit(ctx, xid, onePhase); err != nil {
		s.pc.Rollback()
		return err
	}
	s.publish()
	s.logger.Debug("transaction committed", "xid", xid.String())
	return nil
}

// Rollback discards the branch and every cached fragment. Nothing is
// announced.
func (s *Session) Rollback(ctx context.Context, xid xa.Xid) error {
	err := s.mapper.Rollback(ctx, xid)
	s.pc.Rollback()
	s.logger.Debug("transaction rolled back", "xid", xid.String())
	return err
}

func (s *Session) Forget(ctx context.Context, xid xa.Xid) error {
	return s.mapper.Forget(ctx, xid)
}

func (s *Session) Recover(ctx context.Context, flags xa.Flags) ([]xa.Xid, error) {
	return s.mapper.Recover(ctx, flags)
}

func (s *Session) SetTransactionTimeout(d time.Duration) bool { return s.mapper.SetTransactionTimeout(d) }
func (s *Session) TransactionTimeout() time.Duration          { return s.mapper.TransactionTimeout() }

// IsSameRM is identity: each session owns its own connection.
func (s *Session) IsSameRM(other xa.Resource) bool {
	o, ok := other.(*Session)
	return ok && o == s
}
