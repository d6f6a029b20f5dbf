package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/sqlinfo"
	"github.com/roach88/fragstore/internal/storage"
)

// Layout version tracking (PRAGMA user_version on SQLite):
// 0 - empty database
// 1 - hierarchy, fragment, collection and repositoryinfo tables
const currentLayoutVersion = 1

// sqliteParams are added to every SQLite DSN so that each pooled connection
// gets them, not only the first one.
var sqliteParams = []struct{ key, value string }{
	{"_foreign_keys", "on"},
	{"_busy_timeout", "5000"},
	{"_journal_mode", "WAL"},
}

// Store is an opened backing database.
type Store struct {
	db      *sql.DB
	dialect sqlinfo.Dialect
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens the database named by dsn with the dialect's driver.
//
// SQLite databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement, which the ON DELETE CASCADE layout relies on
//
// The pool is not limited to one connection: every session pins its own.
func Open(ctx context.Context, d sqlinfo.Dialect, dsn string, opts ...Option) (*Store, error) {
	s := &Store{dialect: d, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open(d.DriverName(), DSN(d, dsn))
	if err != nil {
		return nil, storage.WrapStoreError("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storage.WrapStoreError("connect", err)
	}
	s.db = db
	s.logger.Info("store opened", "dialect", d.Name())
	return s, nil
}

// DSN completes a data source name with the parameters the dialect needs.
// Parameters already present are kept.
func DSN(d sqlinfo.Dialect, dsn string) string {
	if d.Name() != (sqlinfo.SQLite{}).Name() {
		return dsn
	}
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqliteParams {
		if strings.Contains(dsn, p.key+"=") {
			continue
		}
		b.WriteString(sep)
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
		sep = "&"
	}
	return b.String()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the dialect the store was opened with.
func (s *Store) Dialect() sqlinfo.Dialect {
	return s.dialect
}

// HasTable reports whether a table exists.
func (s *Store) HasTable(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.TableExists(), name).Scan(&n); err != nil {
		return false, storage.WrapStoreError("check table", err)
	}
	return n > 0, nil
}

// LayoutVersion returns the recorded layout version, 0 for an empty
// database. Only SQLite records versions; elsewhere the presence of the
// hierarchy table stands for the current version.
func (s *Store) LayoutVersion(ctx context.Context) (int, error) {
	if s.dialect.Name() == (sqlinfo.SQLite{}).Name() {
		var version int
		if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return 0, storage.WrapStoreError("get user_version", err)
		}
		return version, nil
	}
	ok, err := s.HasTable(ctx, model.HierTableName)
	if err != nil || !ok {
		return 0, err
	}
	return currentLayoutVersion, nil
}

// CreateTables creates every table of the catalog in one transaction and
// records the layout version. Safe to call on an initialized database.
func (s *Store) CreateTables(ctx context.Context, info *sqlinfo.SQLInfo) error {
	version, err := s.LayoutVersion(ctx)
	if err != nil {
		return err
	}
	if version > currentLayoutVersion {
		return storage.NewConfigError("database layout version %d is newer than supported version %d", version, currentLayoutVersion)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapStoreError("begin", err)
	}
	ddl := info.DDL()
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return storage.WrapStoreError("create tables", fmt.Errorf("%s: %w", stmt, err))
		}
	}
	if s.dialect.Name() == (sqlinfo.SQLite{}).Name() && version < currentLayoutVersion {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentLayoutVersion)); err != nil {
			tx.Rollback()
			return storage.WrapStoreError("set user_version", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.WrapStoreError("commit", err)
	}

	s.logger.Info("tables created", "count", len(ddl), "layoutVersion", currentLayoutVersion)
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
