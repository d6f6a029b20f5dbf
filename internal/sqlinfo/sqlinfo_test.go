package sqlinfo

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/storage"
	"github.com/roach88/fragstore/internal/testutil"
)

func newInfo(t *testing.T, cfg model.Config, d Dialect) *SQLInfo {
	t.Helper()
	m, err := model.New(testutil.NewRegistry(t), cfg)
	require.NoError(t, err)
	info, err := New(m, d)
	require.NoError(t, err)
	return info
}

func script(info *SQLInfo) []byte {
	return []byte(strings.Join(info.DDL(), ";\n") + ";\n")
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestDDLGolden(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		info := newInfo(t, model.Config{}, SQLite{})
		newGoldie(t).Assert(t, "ddl_sqlite", script(info))
	})
	t.Run("postgresql_identity", func(t *testing.T) {
		info := newInfo(t, model.Config{IDPolicy: model.IDPolicyDBIdentity, SeparateMainTable: true}, PostgreSQL{})
		newGoldie(t).Assert(t, "ddl_postgresql_identity", script(info))
	})
}

func mustTable(t *testing.T, info *SQLInfo, name string) *Table {
	t.Helper()
	tbl, err := info.Table(name)
	require.NoError(t, err)
	return tbl
}

func TestScalarStatementsSQLite(t *testing.T) {
	info := newInfo(t, model.Config{}, SQLite{})
	hier := mustTable(t, info, "hierarchy")
	dc := mustTable(t, info, "dublincore")

	tests := []struct {
		name string
		stmt *Statement
		sql  string
		bind []string
	}{
		{"select", hier.SelectByID(),
			`SELECT "parent", "pos", "name", "isproperty", "primarytype" FROM "hierarchy" WHERE "id" = ?`,
			[]string{"id"}},
		{"insert", hier.Insert(),
			`INSERT INTO "hierarchy" ("id", "parent", "pos", "name", "isproperty", "primarytype") VALUES (?, ?, ?, ?, ?, ?)`,
			[]string{"id", "parent", "pos", "name", "isproperty", "primarytype"}},
		{"update", hier.Update(),
			`UPDATE "hierarchy" SET "parent" = ?, "pos" = ?, "name" = ?, "isproperty" = ?, "primarytype" = ? WHERE "id" = ?`,
			[]string{"parent", "pos", "name", "isproperty", "primarytype", "id"}},
		{"delete", hier.Delete(),
			`DELETE FROM "hierarchy" WHERE "id" = ?`,
			[]string{"id"}},
		{"copy", dc.Copy(),
			`INSERT INTO "dublincore" ("id", "title", "description", "created", "modified") SELECT ?, "title", "description", "created", "modified" FROM "dublincore" WHERE "id" = ?`,
			[]string{"id", "id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.stmt)
			assert.Equal(t, tt.sql, tt.stmt.SQL)
			assert.Equal(t, tt.bind, tt.stmt.BindKeys())
		})
	}

	assert.Nil(t, hier.IdentityFetch())
	assert.Len(t, hier.SelectByID().Result, 5)
}

func TestCollectionStatementsSQLite(t *testing.T) {
	info := newInfo(t, model.Config{}, SQLite{})
	subjects := mustTable(t, info, "dc_subjects")

	assert.Equal(t, `SELECT "item" FROM "dc_subjects" WHERE "id" = ? ORDER BY "pos"`, subjects.SelectByID().SQL)
	assert.Equal(t, `INSERT INTO "dc_subjects" ("id", "pos", "item") VALUES (?, ?, ?)`, subjects.Insert().SQL)
	assert.Equal(t, []string{"id", "pos", "item"}, subjects.Insert().BindKeys())
	assert.Equal(t, `DELETE FROM "dc_subjects" WHERE "id" = ?`, subjects.Delete().SQL)
	assert.Equal(t, `INSERT INTO "dc_subjects" ("id", "pos", "item") SELECT ?, "pos", "item" FROM "dc_subjects" WHERE "id" = ?`, subjects.Copy().SQL)
	assert.Nil(t, subjects.Update())
}

func TestHierarchyStatementsSQLite(t *testing.T) {
	info := newInfo(t, model.Config{}, SQLite{})
	const cols = `"id", "parent", "pos", "name", "isproperty", "primarytype"`

	assert.Equal(t, `SELECT `+cols+` FROM "hierarchy" WHERE "parent" = ? AND "name" = ?`,
		info.SelectChildByName(AnyChild).SQL)
	assert.Equal(t, `SELECT `+cols+` FROM "hierarchy" WHERE "parent" = ? AND "name" = ? AND "isproperty" = 0`,
		info.SelectChildByName(RegularChild).SQL)
	assert.Equal(t, `SELECT `+cols+` FROM "hierarchy" WHERE "parent" = ? AND "isproperty" = 1`,
		info.SelectChildren(PropertyChild).SQL)
	assert.Equal(t, []string{"parent", "name"}, info.SelectChildByName(RegularChild).BindKeys())
	assert.Len(t, info.SelectChildren(AnyChild).Result, 6)

	assert.Equal(t, `SELECT "id", "primarytype" FROM "hierarchy" WHERE "parent" = ?`,
		info.SelectChildrenIDsAndTypes().SQL)
	assert.Equal(t, `INSERT INTO "hierarchy" ("id", "parent", "pos", "name", "isproperty", "primarytype") SELECT ?, ?, ?, ?, "isproperty", "primarytype" FROM "hierarchy" WHERE "id" = ?`,
		info.CopyHierarchy().SQL)
	assert.Equal(t, []string{"id", "parent", "pos", "name", "id"}, info.CopyHierarchy().BindKeys())

	assert.Equal(t, `SELECT "id" FROM "repositoryinfo" WHERE "repoid" = ?`, info.SelectRootID().SQL)
	assert.Equal(t, `INSERT INTO "repositoryinfo" ("repoid", "id") VALUES (?, ?)`, info.InsertRootID().SQL)
}

func TestIdentityStatementsPostgreSQL(t *testing.T) {
	info := newInfo(t, model.Config{IDPolicy: model.IDPolicyDBIdentity, SeparateMainTable: true}, PostgreSQL{})
	types := mustTable(t, info, "types")

	assert.Equal(t, `INSERT INTO "types" ("primarytype") VALUES ($1)`, types.Insert().SQL)
	assert.Equal(t, []string{"primarytype"}, types.Insert().BindKeys())
	require.NotNil(t, types.IdentityFetch())
	assert.Equal(t, `SELECT currval(pg_get_serial_sequence('types', 'id'))`, types.IdentityFetch().SQL)
	assert.Equal(t, `INSERT INTO "types" ("primarytype") SELECT "primarytype" FROM "types" WHERE "id" = $1`, types.Copy().SQL)

	hier := mustTable(t, info, "hierarchy")
	assert.Nil(t, hier.IdentityFetch())
	assert.Equal(t, `INSERT INTO "hierarchy" ("id", "parent", "pos", "name", "isproperty") VALUES ($1, $2, $3, $4, $5)`, hier.Insert().SQL)

	assert.Equal(t, `INSERT INTO "hierarchy" ("id", "parent", "pos", "name", "isproperty") SELECT $1, $2, $3, $4, "isproperty" FROM "hierarchy" WHERE "id" = $5`,
		info.CopyHierarchy().SQL)
	assert.Equal(t, `SELECT "hierarchy"."id", "types"."primarytype" FROM "hierarchy" JOIN "types" ON "hierarchy"."id" = "types"."id" WHERE "hierarchy"."parent" = $1`,
		info.SelectChildrenIDsAndTypes().SQL)
	assert.Equal(t, `SELECT "id", "parent", "pos", "name", "isproperty" FROM "hierarchy" WHERE "parent" = $1 AND "isproperty" = false`,
		info.SelectChildren(RegularChild).SQL)
}

func TestMergedIdentityHierarchy(t *testing.T) {
	info := newInfo(t, model.Config{IDPolicy: model.IDPolicyDBIdentity}, SQLite{})
	hier := mustTable(t, info, "hierarchy")

	assert.Equal(t, `INSERT INTO "hierarchy" ("parent", "pos", "name", "isproperty", "primarytype") VALUES (?, ?, ?, ?, ?)`, hier.Insert().SQL)
	require.NotNil(t, hier.IdentityFetch())
	assert.Equal(t, "SELECT last_insert_rowid()", hier.IdentityFetch().SQL)
	assert.Equal(t, `INSERT INTO "hierarchy" ("parent", "pos", "name", "isproperty", "primarytype") SELECT ?, ?, ?, "isproperty", "primarytype" FROM "hierarchy" WHERE "id" = ?`,
		info.CopyHierarchy().SQL)
	assert.Equal(t, []string{"parent", "pos", "name", "id"}, info.CopyHierarchy().BindKeys())
}

func TestUpdateColumns(t *testing.T) {
	info := newInfo(t, model.Config{}, PostgreSQL{})

	stmt, err := info.UpdateColumns("dublincore", []string{"modified", "title"})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "dublincore" SET "title" = $1, "modified" = $2 WHERE "id" = $3`, stmt.SQL)
	assert.Equal(t, []string{"title", "modified", "id"}, stmt.BindKeys())

	_, err = info.UpdateColumns("dublincore", []string{"nope"})
	assert.True(t, storage.IsConfigError(err))

	_, err = info.UpdateColumns("dc_subjects", []string{"item"})
	assert.True(t, storage.IsStateError(err))

	_, err = info.UpdateColumns("missing", nil)
	assert.True(t, storage.IsConfigError(err))
}
