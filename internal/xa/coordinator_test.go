package xa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResource records the protocol calls it receives.
type fakeResource struct {
	name     string
	calls    []string
	vote     Vote
	failOn   string
	prepared []Xid
	timeout  time.Duration
}

func (r *fakeResource) record(call string, xid Xid) error {
	r.calls = append(r.calls, call)
	if call == r.failOn {
		return NewError(CodeRMErr, "%s failed on %s", r.name, xid)
	}
	return nil
}

func (r *fakeResource) Start(_ context.Context, xid Xid, flags Flags) error {
	return r.record("start", xid)
}

func (r *fakeResource) End(_ context.Context, xid Xid, flags Flags) error {
	if flags.Has(TMFail) {
		return r.record("end-fail", xid)
	}
	return r.record("end", xid)
}

func (r *fakeResource) Prepare(_ context.Context, xid Xid) (Vote, error) {
	if err := r.record("prepare", xid); err != nil {
		return 0, err
	}
	return r.vote, nil
}

func (r *fakeResource) Commit(_ context.Context, xid Xid, onePhase bool) error {
	if onePhase {
		return r.record("commit-1pc", xid)
	}
	return r.record("commit", xid)
}

func (r *fakeResource) Rollback(_ context.Context, xid Xid) error {
	return r.record("rollback", xid)
}

func (r *fakeResource) Forget(_ context.Context, xid Xid) error {
	return r.record("forget", xid)
}

func (r *fakeResource) Recover(_ context.Context, flags Flags) ([]Xid, error) {
	r.calls = append(r.calls, "recover")
	return r.prepared, nil
}

func (r *fakeResource) SetTransactionTimeout(d time.Duration) bool {
	r.timeout = d
	return true
}

func (r *fakeResource) TransactionTimeout() time.Duration { return r.timeout }

func (r *fakeResource) IsSameRM(other Resource) bool {
	o, ok := other.(*fakeResource)
	return ok && o == r
}

func newCoordinator(opts ...CoordinatorOption) *Coordinator {
	opts = append([]CoordinatorOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewCoordinator(opts...)
}

func TestSingleResourceCommitsInOnePhase(t *testing.T) {
	ctx := context.Background()
	r := &fakeResource{name: "r"}

	tx, err := newCoordinator().Begin(ctx, r, r)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{"start", "end", "commit-1pc"}, r.calls)
}

func TestTwoResourcesRunBothPhases(t *testing.T) {
	ctx := context.Background()
	r1 := &fakeResource{name: "r1"}
	r2 := &fakeResource{name: "r2", vote: XARdOnly}

	tx, err := newCoordinator().Begin(ctx, r1, r2)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{"start", "end", "prepare", "commit"}, r1.calls)
	assert.Equal(t, []string{"start", "end", "prepare"}, r2.calls, "read-only branch is not committed")

	err = tx.Commit(ctx)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeProto, code)
}

func TestPrepareFailureRollsBackEveryBranch(t *testing.T) {
	ctx := context.Background()
	r1 := &fakeResource{name: "r1"}
	r2 := &fakeResource{name: "r2", failOn: "prepare"}

	tx, err := newCoordinator().Begin(ctx, r1, r2)
	require.NoError(t, err)
	err = tx.Commit(ctx)
	require.Error(t, err)

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeRBRollback, code)
	assert.True(t, code.IsRollback())

	assert.Equal(t, []string{"start", "end", "prepare", "rollback"}, r1.calls)
	assert.Equal(t, []string{"start", "end", "prepare"}, r2.calls)
}

func TestEndFailureSkipsFailedBranch(t *testing.T) {
	ctx := context.Background()
	r1 := &fakeResource{name: "r1", failOn: "end"}
	r2 := &fakeResource{name: "r2"}

	tx, err := newCoordinator().Begin(ctx, r1, r2)
	require.NoError(t, err)
	err = tx.Commit(ctx)
	code, _ := CodeOf(err)
	assert.Equal(t, CodeRBRollback, code)

	assert.Equal(t, []string{"start", "end"}, r1.calls)
	assert.Equal(t, []string{"start", "end-fail", "rollback"}, r2.calls)
}

func TestTimeoutRollsBack(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := &fakeResource{name: "r"}

	tx, err := newCoordinator(WithTimeout(time.Second), WithClock(clock)).Begin(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, time.Second, r.TransactionTimeout())

	now = now.Add(2 * time.Second)
	err = tx.Commit(ctx)
	code, _ := CodeOf(err)
	assert.Equal(t, CodeRBTimeout, code)
	assert.Equal(t, []string{"start", "end-fail", "rollback"}, r.calls)
}

func TestStartFailureRollsBackStartedBranches(t *testing.T) {
	ctx := context.Background()
	r1 := &fakeResource{name: "r1"}
	r2 := &fakeResource{name: "r2", failOn: "start"}

	_, err := newCoordinator().Begin(ctx, r1, r2)
	require.Error(t, err)
	assert.Equal(t, []string{"start", "end-fail", "rollback"}, r1.calls)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	x1, x2 := NewXid(), NewXid()
	r := &fakeResource{name: "r", prepared: []Xid{x1, x2}}

	xids, err := newCoordinator().Recover(ctx, r, true)
	require.NoError(t, err)
	assert.Equal(t, []Xid{x1, x2}, xids)
	assert.Equal(t, []string{"recover", "commit", "commit"}, r.calls)
}

func TestXid(t *testing.T) {
	x := NewXid()
	assert.False(t, x.IsZero())
	assert.True(t, Xid{}.IsZero())
	b := x.Branch(2)
	assert.Equal(t, x.GlobalID, b.GlobalID)
	assert.Equal(t, "2", b.BranchID)
	assert.Equal(t, fmt.Sprintf("%d:%s:2", FormatID, x.GlobalID), b.String())
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeRMErr, cause, "commit %s", "x")
	assert.Equal(t, "XAER_RMERR: commit x: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(CodeRMErr, nil, "unused"))
	assert.Equal(t, "XA(1)", Code(1).String())
	assert.Equal(t, "XA_RDONLY", XARdOnly.String())
}
