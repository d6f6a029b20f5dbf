package mapper

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/persist"
	"github.com/roach88/fragstore/internal/sqlinfo"
	"github.com/roach88/fragstore/internal/storage"
	"github.com/roach88/fragstore/internal/testutil"
)

const testDSNParams = "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"

// testDB creates the tables of a fresh SQLite database.
func testDB(t *testing.T, cfg model.Config) (*sql.DB, *sqlinfo.SQLInfo) {
	t.Helper()
	m, err := model.New(testutil.NewRegistry(t), cfg)
	require.NoError(t, err)
	info, err := sqlinfo.New(m, sqlinfo.SQLite{})
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "repo.db")+testDSNParams)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, ddl := range info.DDL() {
		_, err := db.Exec(ddl)
		require.NoError(t, err, ddl)
	}
	return db, info
}

func openMapper(t *testing.T, db *sql.DB, info *sqlinfo.SQLInfo) *Mapper {
	t.Helper()
	m, err := Open(context.Background(), db, info, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func hierRow(id, parent model.ID, name string, pos any, primaryType string) *persist.Row {
	return &persist.Row{ID: id, Values: map[string]any{
		model.HierParentKey:          parent,
		model.HierChildNameKey:       name,
		model.HierChildPosKey:        pos,
		model.HierChildIsPropertyKey: false,
		model.MainPrimaryTypeKey:     primaryType,
	}}
}

func insert(t *testing.T, m *Mapper, table string, row *persist.Row) model.ID {
	t.Helper()
	id, err := m.InsertRow(context.Background(), table, row)
	require.NoError(t, err)
	return id
}

func TestRowLifecycle(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	insert(t, m, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	insert(t, m, "hierarchy", hierRow("f1", "root", "docs", int64(0), "Folder"))

	created := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	insert(t, m, "dublincore", &persist.Row{ID: "f1", Values: map[string]any{
		"title":   "Docs",
		"created": created,
	}})
	insert(t, m, "dc_subjects", &persist.Row{ID: "f1", Array: []any{"b", "a"}})

	row, err := m.ReadRow(ctx, "hierarchy", "f1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "root", row.Values["parent"])
	assert.Equal(t, "docs", row.Values["name"])
	assert.Equal(t, int64(0), row.Values["pos"])
	assert.Equal(t, false, row.Values["isproperty"])

	row, err = m.ReadRow(ctx, "dublincore", "f1")
	require.NoError(t, err)
	assert.Equal(t, "Docs", row.Values["title"])
	assert.Nil(t, row.Values["description"])
	got, ok := row.Values["created"].(time.Time)
	require.True(t, ok)
	assert.True(t, created.Equal(got))

	row, err = m.ReadRow(ctx, "dc_subjects", "f1")
	require.NoError(t, err)
	assert.Equal(t, []any{"b", "a"}, row.Array)

	// Partial update leaves other columns alone.
	require.NoError(t, m.UpdateRow(ctx, "dublincore", &persist.Row{ID: "f1", Values: map[string]any{"title": "Papers"}}, []string{"title"}))
	row, err = m.ReadRow(ctx, "dublincore", "f1")
	require.NoError(t, err)
	assert.Equal(t, "Papers", row.Values["title"])
	assert.NotNil(t, row.Values["created"])

	require.NoError(t, m.UpdateRow(ctx, "dc_subjects", &persist.Row{ID: "f1", Array: []any{"c"}}, nil))
	row, err = m.ReadRow(ctx, "dc_subjects", "f1")
	require.NoError(t, err)
	assert.Equal(t, []any{"c"}, row.Array)

	// Deleting the hierarchy row cascades to the fragments.
	require.NoError(t, m.DeleteRow(ctx, "hierarchy", "f1"))
	row, err = m.ReadRow(ctx, "hierarchy", "f1")
	require.NoError(t, err)
	assert.Nil(t, row)
	row, err = m.ReadRow(ctx, "dublincore", "f1")
	require.NoError(t, err)
	assert.Nil(t, row)
	row, err = m.ReadRow(ctx, "dc_subjects", "f1")
	require.NoError(t, err)
	assert.Empty(t, row.Array)
	assert.NotNil(t, row.Array)
}

func TestChildLookups(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	insert(t, m, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	insert(t, m, "hierarchy", hierRow("a", "root", "a", int64(1), "File"))
	insert(t, m, "hierarchy", hierRow("b", "root", "b", int64(0), "File"))
	prop := hierRow("p", "a", "attachment", nil, "Attachment")
	prop.Values[model.HierChildIsPropertyKey] = true
	insert(t, m, "hierarchy", prop)

	row, err := m.ReadChildByName(ctx, "root", "a", false)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "a", row.ID)
	assert.Equal(t, "File", row.Values["primarytype"])

	row, err = m.ReadChildByName(ctx, "a", "attachment", false)
	require.NoError(t, err)
	assert.Nil(t, row)
	row, err = m.ReadChildByName(ctx, "a", "attachment", true)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "p", row.ID)

	rows, err := m.ReadChildren(ctx, "root", false)
	require.NoError(t, err)
	ids := make([]any, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	assert.ElementsMatch(t, []any{"a", "b"}, ids)

	rows, err = m.ReadChildren(ctx, "a", false)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Names are not unique in the table; a duplicate breaks the lookup.
	insert(t, m, "hierarchy", hierRow("a2", "root", "a", nil, "File"))
	_, err = m.ReadChildByName(ctx, "root", "a", false)
	require.Error(t, err)
	assert.True(t, storage.IsMultiplicityError(err))
}

func TestConstraintViolation(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	insert(t, m, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	_, err := m.InsertRow(ctx, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	require.Error(t, err)
	assert.True(t, storage.IsStoreError(err))
	assert.True(t, IsConstraintViolation(err))
	assert.Contains(t, err.Error(), "constraint violation")

	// Unknown parent breaks the foreign key.
	_, err = m.InsertRow(ctx, "hierarchy", hierRow("x", "nowhere", "x", nil, "File"))
	assert.True(t, IsConstraintViolation(err))

	_, err = m.ReadRow(ctx, "nosuchtable", "root")
	assert.True(t, storage.IsConfigError(err))
}

func TestIdentityInsertAndCopy(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{IDPolicy: model.IDPolicyDBIdentity})
	m := openMapper(t, db, info)

	root := insert(t, m, "hierarchy", hierRow(nil, nil, "", nil, model.RootType))
	assert.Equal(t, int64(1), root)
	folder := insert(t, m, "hierarchy", hierRow(nil, root, "docs", nil, "Folder"))
	file := insert(t, m, "hierarchy", hierRow(nil, folder, "report", int64(0), "File"))
	assert.Equal(t, int64(3), file)
	insert(t, m, "file", &persist.Row{ID: file, Values: map[string]any{"filename": "report.pdf", "size": int64(42)}})
	insert(t, m, "dc_subjects", &persist.Row{ID: file, Array: []any{"x", "y"}})

	copied, err := m.CopyHierarchy(ctx, folder, root, "docs-copy", int64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(4), copied)

	row, err := m.ReadRow(ctx, "hierarchy", copied)
	require.NoError(t, err)
	assert.Equal(t, "docs-copy", row.Values["name"])
	assert.Equal(t, int64(5), row.Values["pos"])
	assert.Equal(t, "Folder", row.Values["primarytype"])

	child, err := m.ReadChildByName(ctx, copied, "report", false)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, int64(5), child.ID)
	assert.Equal(t, int64(0), child.Values["pos"])

	row, err = m.ReadRow(ctx, "file", child.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", row.Values["filename"])
	assert.Equal(t, int64(42), row.Values["size"])
	row, err = m.ReadRow(ctx, "dc_subjects", child.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, row.Array)
}

func TestCopyWithSeparateMainTable(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{SeparateMainTable: true})
	m := openMapper(t, db, info)

	for _, n := range []struct {
		id, parent model.ID
		name, typ  string
	}{
		{"root", nil, "", model.RootType},
		{"n1", "root", "note", "Note"},
	} {
		insert(t, m, "types", &persist.Row{ID: n.id, Values: map[string]any{"primarytype": n.typ}})
		row := hierRow(n.id, n.parent, n.name, nil, n.typ)
		delete(row.Values, model.MainPrimaryTypeKey)
		insert(t, m, "hierarchy", row)
	}
	insert(t, m, "note", &persist.Row{ID: "n1", Values: map[string]any{"note": "hello", "published": true}})

	copied, err := m.CopyHierarchy(ctx, "n1", "root", "note2", nil)
	require.NoError(t, err)
	assert.NotEqual(t, "n1", copied)

	row, err := m.ReadRow(ctx, "types", copied)
	require.NoError(t, err)
	assert.Equal(t, "Note", row.Values["primarytype"])
	row, err = m.ReadRow(ctx, "note", copied)
	require.NoError(t, err)
	assert.Equal(t, "hello", row.Values["note"])
	assert.Equal(t, true, row.Values["published"])

	_, err = m.CopyHierarchy(ctx, "missing", "root", "x", nil)
	assert.True(t, storage.IsStateError(err))
}

func TestRootID(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	id, err := m.RootID(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)

	insert(t, m, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	require.NoError(t, m.SetRootID(ctx, "root"))
	id, err = m.RootID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "root", id)

	other := openMapper(t, db, info)
	other.repoID = "other"
	id, err = other.RootID(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestQueryIDs(t *testing.T) {
	ctx := context.Background()
	db, info := testDB(t, model.Config{})
	m := openMapper(t, db, info)

	insert(t, m, "hierarchy", hierRow("root", nil, "", nil, model.RootType))
	insert(t, m, "hierarchy", hierRow("a", "root", "a", nil, "File"))
	insert(t, m, "hierarchy", hierRow("b", "root", "b", nil, "Note"))

	ids, err := m.QueryIDs(ctx, `SELECT "id" FROM "hierarchy" WHERE "primarytype" = ? ORDER BY "id"`, []any{"File"})
	require.NoError(t, err)
	assert.Equal(t, []model.ID{"a"}, ids)
}
