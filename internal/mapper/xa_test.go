package mapper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/xa"
)

func requireCode(t *testing.T, want xa.Code, err error) {
	t.Helper()
	require.Error(t, err)
	code, ok := xa.CodeOf(err)
	require.True(t, ok, "not an xa error: %v", err)
	assert.Equal(t, want, code, err.Error())
}

func TestBranchOnePhaseCommit(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)
	reader := openMapper(t, db, info)

	xid := xa.NewXid()
	require.NoError(t, m.Start(ctx, xid, xa.TMNoFlags))
	assert.True(t, m.InTransaction())
	insert(t, m, "hierarchy", hierRow("root", nil, "", nil, model.RootType))

	row, err := reader.ReadRow(ctx, "hierarchy", "root")
	require.NoError(t, err)
	assert.Nil(t, row, "uncommitted row is not visible to other connections")

	require.NoError(t, m.End(ctx, xid, xa.TMSuccess))
	require.NoError(t, m.Commit(ctx, xid, true))
	assert.False(t, m.InTransaction())

	row, err = reader.ReadRow(ctx, "hierarchy", "root")
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestBranchRollback(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	xid := xa.NewXid()
	require.NoError(t, m.Start(ctx, xid, xa.TMNoFlags))
	insert(t, m, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	require.NoError(t, m.End(ctx, xid, xa.TMFail))

	requireCode(t, xa.CodeRBRollback, m.Commit(ctx, xid, true))
	assert.False(t, m.InTransaction())

	row, err := m.ReadRow(ctx, "hierarchy", "root")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestBranchTwoPhase(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	xid := xa.NewXid()
	require.NoError(t, m.Start(ctx, xid, xa.TMNoFlags))
	insert(t, m, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	require.NoError(t, m.End(ctx, xid, xa.TMSuccess))

	requireCode(t, xa.CodeProto, m.Commit(ctx, xid, false))

	vote, err := m.Prepare(ctx, xid)
	require.NoError(t, err)
	assert.Equal(t, xa.XAOK, vote)

	xids, err := m.Recover(ctx, xa.TMStartRScan|xa.TMEndRScan)
	require.NoError(t, err)
	assert.Equal(t, []xa.Xid{xid}, xids)

	require.NoError(t, m.Commit(ctx, xid, false))
	row, err := m.ReadRow(ctx, "hierarchy", "root")
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestReadOnlyBranchVotesReadOnly(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	xid := xa.NewXid()
	require.NoError(t, m.Start(ctx, xid, xa.TMNoFlags))
	_, err := m.ReadRow(ctx, "hierarchy", "root")
	require.NoError(t, err)
	require.NoError(t, m.End(ctx, xid, xa.TMSuccess))

	vote, err := m.Prepare(ctx, xid)
	require.NoError(t, err)
	assert.Equal(t, xa.XARdOnly, vote)
	assert.False(t, m.InTransaction())
}

func TestBranchProtocolErrors(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	xid := xa.NewXid()
	requireCode(t, xa.CodeNoTA, m.End(ctx, xid, xa.TMSuccess))
	requireCode(t, xa.CodeNoTA, m.Rollback(ctx, xid))
	requireCode(t, xa.CodeNoTA, m.Forget(ctx, xid))

	require.NoError(t, m.Start(ctx, xid, xa.TMNoFlags))
	requireCode(t, xa.CodeDupID, m.Start(ctx, xid, xa.TMNoFlags))
	requireCode(t, xa.CodeProto, m.Start(ctx, xa.NewXid(), xa.TMNoFlags))
	_, err := m.Prepare(ctx, xid)
	requireCode(t, xa.CodeProto, err)

	require.NoError(t, m.End(ctx, xid, xa.TMSuspend))
	require.NoError(t, m.Start(ctx, xid, xa.TMResume))
	require.NoError(t, m.End(ctx, xid, xa.TMSuccess))
	requireCode(t, xa.CodeProto, m.End(ctx, xid, xa.TMSuccess))
	require.NoError(t, m.Rollback(ctx, xid))

	assert.True(t, m.IsSameRM(m))
	assert.False(t, m.IsSameRM(openMapper(t, db, info)))
}

func TestBranchTimeout(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	require.True(t, m.SetTransactionTimeout(10*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, m.TransactionTimeout())

	xid := xa.NewXid()
	require.NoError(t, m.Start(ctx, xid, xa.TMNoFlags))
	insert(t, m, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.End(ctx, xid, xa.TMSuccess))

	requireCode(t, xa.CodeRBTimeout, m.Commit(ctx, xid, true))
	row, err := openMapper(t, db, info).ReadRow(ctx, "hierarchy", "root")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCoordinatorOverTwoConnections(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	writer := openMapper(t, db, info)
	reader := openMapper(t, db, info)

	c := xa.NewCoordinator(xa.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	tx, err := c.Begin(ctx, writer, reader, writer)
	require.NoError(t, err)

	insert(t, writer, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	_, err = reader.ReadRow(ctx, "hierarchy", "root")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.False(t, writer.InTransaction())
	assert.False(t, reader.InTransaction())

	row, err := reader.ReadRow(ctx, "hierarchy", "root")
	require.NoError(t, err)
	assert.NotNil(t, row)
}
