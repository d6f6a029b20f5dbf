package mapper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/persist"
	"github.com/roach88/fragstore/internal/sqlinfo"
	"github.com/roach88/fragstore/internal/storage"
	"github.com/roach88/fragstore/internal/xa"
)

// DefaultRepositoryID names the repository in the repositoryinfo table.
const DefaultRepositoryID = "default"

// execer is satisfied by *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger used for statements and branch events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) {
		m.logger = l
	}
}

// WithRepositoryID selects the repositoryinfo row holding the root id.
func WithRepositoryID(id string) Option {
	return func(m *Mapper) {
		m.repoID = id
	}
}

// Mapper runs the precomputed statements of a SQLInfo on one physical
// connection. Without an active branch every statement autocommits.
//
// Thread-safety: not safe for concurrent use; one session owns it.
type Mapper struct {
	info   *sqlinfo.SQLInfo
	model  *model.Model
	conn   *sql.Conn
	repoID string
	logger *slog.Logger

	branch  *branch
	timeout time.Duration
}

var (
	_ persist.Mapper = (*Mapper)(nil)
	_ xa.Resource    = (*Mapper)(nil)
)

// New wraps a connection. The Mapper owns it from now on.
func New(conn *sql.Conn, info *sqlinfo.SQLInfo, opts ...Option) *Mapper {
	m := &Mapper{
		info:   info,
		model:  info.Model(),
		conn:   conn,
		repoID: DefaultRepositoryID,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open pins a new connection of db.
func Open(ctx context.Context, db *sql.DB, info *sqlinfo.SQLInfo, opts ...Option) (*Mapper, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, storage.WrapStoreError("open connection", err)
	}
	return New(conn, info, opts...), nil
}

// Close rolls back an unfinished branch and releases the connection.
func (m *Mapper) Close() error {
	var result *multierror.Error
	if m.branch != nil {
		if err := m.branch.tx.Rollback(); err != nil && err != sql.ErrTxDone {
			result = multierror.Append(result, storage.WrapStoreError("rollback on close", err))
		}
		m.endBranch()
	}
	if err := m.conn.Close(); err != nil {
		result = multierror.Append(result, storage.WrapStoreError("close connection", err))
	}
	return result.ErrorOrNil()
}

// SQLInfo returns the statement catalog.
func (m *Mapper) SQLInfo() *sqlinfo.SQLInfo { return m.info }

func (m *Mapper) db() execer {
	if m.branch != nil {
		return m.branch.tx
	}
	return m.conn
}

func (m *Mapper) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	m.logger.Debug("exec", "sql", query, "params", args)
	res, err := m.db().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	if m.branch != nil {
		m.branch.written = true
	}
	return res, nil
}

func (m *Mapper) query(ctx context.Context, op, query string, args ...any) (*sql.Rows, error) {
	m.logger.Debug("query", "sql", query, "params", args)
	rows, err := m.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	return rows, nil
}

// scanRows reads every row of a result into canonical values.
func scanRows(op string, rows *sql.Rows, cols []*sqlinfo.Column) ([][]any, error) {
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(op, err)
		}
		for i, c := range cols {
			v, err := c.Type.Kind.FromDB(raw[i])
			if err != nil {
				return nil, storage.WrapStoreError(op, fmt.Errorf("column %s.%s: %w", c.Table, c.Key, err))
			}
			raw[i] = v
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (m *Mapper) table(name string) (*sqlinfo.Table, error) {
	return m.info.Table(name)
}

// bindArgs orders the values of a row for a statement.
func bindArgs(st *sqlinfo.Statement, t *sqlinfo.Table, row *persist.Row) []any {
	args := make([]any, len(st.Bind))
	for i, c := range st.Bind {
		if c == t.ID {
			args[i] = row.ID
		} else {
			args[i] = row.Values[c.Key]
		}
	}
	return args
}

func toRow(id model.ID, cols []*sqlinfo.Column, values []any) *persist.Row {
	row := &persist.Row{ID: id, Values: make(map[string]any, len(cols))}
	for i, c := range cols {
		row.Values[c.Key] = values[i]
	}
	return row
}

// ReadRow reads a scalar row, or the ordered items of a collection.
func (m *Mapper) ReadRow(ctx context.Context, table string, id model.ID) (*persist.Row, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	op := "read " + table
	st := t.SelectByID()
	rows, err := m.query(ctx, op, st.SQL, id)
	if err != nil {
		return nil, err
	}
	values, err := scanRows(op, rows, st.Result)
	if err != nil {
		return nil, err
	}

	if t.Info.Collection {
		items := make([]any, len(values))
		for i, v := range values {
			items[i] = v[0]
		}
		return &persist.Row{ID: id, Array: items}, nil
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return toRow(id, st.Result, values[0]), nil
	default:
		return nil, storage.NewMultiplicityError(op, len(values))
	}
}

// ReadChildByName reads the hierarchy row of a named child.
func (m *Mapper) ReadChildByName(ctx context.Context, parentID model.ID, name string, complexProp bool) (*persist.Row, error) {
	const op = "read child by name"
	st := m.info.SelectChildByName(sqlinfo.FlavorOf(complexProp))
	rows, err := m.query(ctx, op, st.SQL, parentID, name)
	if err != nil {
		return nil, err
	}
	values, err := scanRows(op, rows, st.Result)
	if err != nil {
		return nil, err
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return toRow(values[0][0], st.Result[1:], values[0][1:]), nil
	default:
		return nil, storage.NewMultiplicityError(op, len(values))
	}
}

// ReadChildren reads the hierarchy rows of one partition of children.
func (m *Mapper) ReadChildren(ctx context.Context, parentID model.ID, complexProp bool) ([]*persist.Row, error) {
	const op = "read children"
	st := m.info.SelectChildren(sqlinfo.FlavorOf(complexProp))
	rows, err := m.query(ctx, op, st.SQL, parentID)
	if err != nil {
		return nil, err
	}
	values, err := scanRows(op, rows, st.Result)
	if err != nil {
		return nil, err
	}
	out := make([]*persist.Row, len(values))
	for i, v := range values {
		out[i] = toRow(v[0], st.Result[1:], v[1:])
	}
	return out, nil
}

// InsertRow inserts a row, or one row per collection item, and returns the
// final id: the store-assigned one for identity tables.
func (m *Mapper) InsertRow(ctx context.Context, table string, row *persist.Row) (model.ID, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	op := "insert " + table
	if t.Info.Collection {
		return row.ID, m.insertItems(ctx, op, t, row.ID, row.Array)
	}
	st := t.Insert()
	if _, err := m.exec(ctx, op, st.SQL, bindArgs(st, t, row)...); err != nil {
		return nil, err
	}
	if !t.ID.Identity {
		return row.ID, nil
	}
	return m.fetchIdentity(ctx, t)
}

func (m *Mapper) insertItems(ctx context.Context, op string, t *sqlinfo.Table, id model.ID, items []any) error {
	st := t.Insert()
	for i, item := range items {
		if _, err := m.exec(ctx, op, st.SQL, id, int64(i), item); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) fetchIdentity(ctx context.Context, t *sqlinfo.Table) (model.ID, error) {
	op := "identity " + t.Name()
	st := t.IdentityFetch()
	rows, err := m.query(ctx, op, st.SQL)
	if err != nil {
		return nil, err
	}
	values, err := scanRows(op, rows, st.Result)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, storage.NewMultiplicityError(op, len(values))
	}
	return values[0][0], nil
}

// UpdateRow rewrites a row. A nil keys slice rewrites every column;
// collections are deleted and reinserted.
func (m *Mapper) UpdateRow(ctx context.Context, table string, row *persist.Row, keys []string) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	op := "update " + table
	if t.Info.Collection {
		if _, err := m.exec(ctx, op, t.Delete().SQL, row.ID); err != nil {
			return err
		}
		return m.insertItems(ctx, op, t, row.ID, row.Array)
	}
	st := t.Update()
	if keys != nil {
		if st, err = m.info.UpdateColumns(table, keys); err != nil {
			return err
		}
	}
	_, err = m.exec(ctx, op, st.SQL, bindArgs(st, t, row)...)
	return err
}

// DeleteRow deletes every row of an id. Dependent rows go through
// ON DELETE CASCADE.
func (m *Mapper) DeleteRow(ctx context.Context, table string, id model.ID) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	_, err = m.exec(ctx, "delete "+table, t.Delete().SQL, id)
	return err
}

// RootID reads the root id of the repository, nil when not initialized.
func (m *Mapper) RootID(ctx context.Context) (model.ID, error) {
	const op = "read root id"
	st := m.info.SelectRootID()
	rows, err := m.query(ctx, op, st.SQL, m.repoID)
	if err != nil {
		return nil, err
	}
	values, err := scanRows(op, rows, st.Result)
	if err != nil {
		return nil, err
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0][0], nil
	default:
		return nil, storage.NewMultiplicityError(op, len(values))
	}
}

// SetRootID records the root id of the repository.
func (m *Mapper) SetRootID(ctx context.Context, id model.ID) error {
	_, err := m.exec(ctx, "write root id", m.info.InsertRootID().SQL, m.repoID, id)
	return err
}

// QueryIDs runs a compiled query selecting hierarchy ids.
func (m *Mapper) QueryIDs(ctx context.Context, query string, params []any) ([]model.ID, error) {
	const op = "query"
	hier, err := m.table(model.HierTableName)
	if err != nil {
		return nil, err
	}
	rows, err := m.query(ctx, op, query, params...)
	if err != nil {
		return nil, err
	}
	values, err := scanRows(op, rows, []*sqlinfo.Column{hier.ID})
	if err != nil {
		return nil, err
	}
	ids := make([]model.ID, len(values))
	for i, v := range values {
		ids[i] = v[0]
	}
	return ids, nil
}
