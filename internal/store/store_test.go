package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/sqlinfo"
	"github.com/roach88/fragstore/internal/storage"
	"github.com/roach88/fragstore/internal/testutil"
)

func newInfo(t *testing.T) *sqlinfo.SQLInfo {
	t.Helper()
	m, err := model.New(testutil.NewRegistry(t), model.Config{})
	require.NoError(t, err)
	info, err := sqlinfo.New(m, sqlinfo.SQLite{})
	require.NoError(t, err)
	return info
}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), sqlinfo.SQLite{}, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name    string
		dialect sqlinfo.Dialect
		dsn     string
		want    string
	}{
		{"sqlite plain", sqlinfo.SQLite{}, "repo.db", "repo.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
		{"sqlite with params", sqlinfo.SQLite{}, "file:repo.db?cache=shared", "file:repo.db?cache=shared&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
		{"sqlite keeps caller values", sqlinfo.SQLite{}, "repo.db?_busy_timeout=100", "repo.db?_busy_timeout=100&_foreign_keys=on&_journal_mode=WAL"},
		{"postgresql untouched", sqlinfo.PostgreSQL{}, "postgres://localhost/repo", "postgres://localhost/repo"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DSN(tc.dialect, tc.dsn))
		})
	}
}

func TestOpenCreatesDatabaseWithPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.db")
	s := openTestStore(t, path)

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.Equal(t, "sqlite", s.Dialect().Name())
}

func TestCreateTables(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo.db"))
	info := newInfo(t)

	version, err := s.LayoutVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	ok, err := s.HasTable(ctx, model.HierTableName)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CreateTables(ctx, info))
	// Idempotent.
	require.NoError(t, s.CreateTables(ctx, info))

	for _, table := range []string{"hierarchy", "dublincore", "dc_subjects", "file", "note", "repositoryinfo"} {
		ok, err := s.HasTable(ctx, table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}
	version, err = s.LayoutVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, currentLayoutVersion, version)
}

func TestCreateTablesRejectsNewerLayout(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo.db"))
	_, err := s.DB().ExecContext(ctx, "PRAGMA user_version = 99")
	require.NoError(t, err)

	err = s.CreateTables(ctx, newInfo(t))
	require.Error(t, err)
	assert.True(t, storage.IsConfigError(err))

	ok, err := s.HasTable(ctx, model.HierTableName)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenFailure(t *testing.T) {
	_, err := Open(context.Background(), sqlinfo.SQLite{}, filepath.Join(t.TempDir(), "missing", "repo.db"))
	require.Error(t, err)
	assert.True(t, storage.IsStoreError(err))
}

func TestCloseTwice(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
