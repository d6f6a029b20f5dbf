package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fragstore/internal/schema"
	"github.com/roach88/fragstore/internal/storage"
	"github.com/roach88/fragstore/internal/testutil"
)

func newModel(t *testing.T, cfg Config) *Model {
	t.Helper()
	m, err := New(testutil.NewRegistry(t), cfg)
	require.NoError(t, err)
	return m
}

func tableNames(m *Model) []string {
	var names []string
	for _, t := range m.Tables() {
		names = append(names, t.Name)
	}
	return names
}

func TestTablesMergedLayout(t *testing.T) {
	m := newModel(t, Config{})

	assert.Equal(t, []string{"hierarchy", "common", "dublincore", "dc_subjects", "file", "note"}, tableNames(m))
	assert.Equal(t, HierTableName, m.MainTableName())

	hier, ok := m.Table(HierTableName)
	require.True(t, ok)
	assert.Equal(t, []string{"parent", "pos", "name", "isproperty", "primarytype"}, hier.Keys())
	assert.False(t, hier.Identity)

	parent, ok := hier.Column(HierParentKey)
	require.True(t, ok)
	assert.True(t, parent.Ref)
}

func TestTablesSeparateMainTable(t *testing.T) {
	m := newModel(t, Config{SeparateMainTable: true, IDPolicy: IDPolicyDBIdentity})

	assert.Equal(t, []string{"types", "hierarchy", "common", "dublincore", "dc_subjects", "file", "note"}, tableNames(m))
	assert.Equal(t, MainTableName, m.MainTableName())

	main, _ := m.Table(MainTableName)
	assert.True(t, main.Identity)
	assert.Equal(t, []string{"primarytype"}, main.Keys())

	hier, _ := m.Table(HierTableName)
	assert.False(t, hier.Identity)
	assert.Equal(t, []string{"parent", "pos", "name", "isproperty"}, hier.Keys())
}

func TestProperty(t *testing.T) {
	m := newModel(t, Config{})

	tests := []struct {
		name     string
		table    string
		key      string
		typ      PropertyType
		readOnly bool
	}{
		{"dc:title", "dublincore", "title", PropertyType{Kind: KindString}, false},
		{"dc:description", "dublincore", "description", PropertyType{Kind: KindText}, false},
		{"dc:subjects", "dc_subjects", "item", PropertyType{Kind: KindString, Array: true}, false},
		{"icon", "common", "icon", PropertyType{Kind: KindString}, false},
		{"size", "file", "size", PropertyType{Kind: KindLong}, false},
		{"ecm:name", "hierarchy", "name", PropertyType{Kind: KindString}, true},
		{"ecm:primaryType", "hierarchy", "primarytype", PropertyType{Kind: KindString}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := m.Property(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.table, p.Table)
			assert.Equal(t, tt.key, p.Key)
			assert.Equal(t, tt.typ, p.Type)
			assert.Equal(t, tt.readOnly, p.ReadOnly)
		})
	}

	_, err := m.Property("dc:nope")
	require.Error(t, err)
	assert.True(t, storage.IsConfigError(err))
	assert.Contains(t, err.Error(), "unknown field: dc:nope")
}

func TestTypeFragments(t *testing.T) {
	m := newModel(t, Config{})

	frags, err := m.TypeFragments("File")
	require.NoError(t, err)
	assert.Equal(t, []string{"common", "dublincore", "dc_subjects", "file"}, frags)

	frags, err = m.TypeFragments("OrderedFolder")
	require.NoError(t, err)
	assert.Equal(t, []string{"common", "dublincore", "dc_subjects"}, frags)

	frags, err = m.TypeFragments(RootType)
	require.NoError(t, err)
	assert.Empty(t, frags)

	_, err = m.TypeFragments("Nope")
	assert.True(t, storage.IsConfigError(err))
}

func TestSubTypesExcludesRoot(t *testing.T) {
	reg := testutil.NewRegistry(t)
	require.NoError(t, reg.AddType(RootType, "Document"))
	m, err := New(reg, Config{})
	require.NoError(t, err)

	subs, err := m.SubTypes("Document")
	require.NoError(t, err)
	assert.Equal(t, []string{"Document", "Folder", "OrderedFolder", "File", "Note"}, subs)

	subs, err = m.SubTypes(RootType)
	require.NoError(t, err)
	assert.Empty(t, subs)

	_, err = m.SubTypes("Unknown")
	assert.True(t, storage.IsConfigError(err))
}

func TestTypeHasProperty(t *testing.T) {
	m := newModel(t, Config{})
	size, _ := m.Property("size")
	title, _ := m.Property("dc:title")
	name, _ := m.Property("ecm:name")

	assert.True(t, m.TypeHasProperty("File", size))
	assert.False(t, m.TypeHasProperty("Folder", size))
	assert.True(t, m.TypeHasProperty("Folder", title))
	assert.True(t, m.TypeHasProperty("Attachment", name))
}

func TestIsOrderable(t *testing.T) {
	m := newModel(t, Config{})
	assert.True(t, m.IsOrderable("OrderedFolder"))
	assert.False(t, m.IsOrderable("Folder"))
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	_, err := New(testutil.NewRegistry(t), Config{IDPolicy: "sequence"})
	require.Error(t, err)
	assert.True(t, storage.IsConfigError(err))
}

func TestNewRejectsTableClash(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.AddSchema("hierarchy", "h", schema.Field{Name: "x", Kind: schema.KindString}))
	_, err := New(reg, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `table name "hierarchy" is already in use`)
}

func TestNewIDPerPolicy(t *testing.T) {
	uuidModel := newModel(t, Config{IDPolicy: IDPolicyAppUUID})
	id := uuidModel.NewID()
	assert.Len(t, id, 36)
	assert.False(t, IsTemporaryID(id))
	assert.False(t, uuidModel.IsStoreAssigned())

	identity := newModel(t, Config{IDPolicy: IDPolicyDBIdentity})
	assert.Equal(t, "T1", identity.NewID())
	assert.Equal(t, "T2", identity.NewID())
	assert.True(t, identity.IsStoreAssigned())

	fixed, err := New(testutil.NewRegistry(t), Config{}, WithIDGenerator(NewFixedGenerator("a", "b")))
	require.NoError(t, err)
	assert.Equal(t, "a", fixed.NewID())
	assert.Equal(t, "b", fixed.NewID())
	assert.Panics(t, func() { fixed.NewID() })
}

func TestIsTemporaryID(t *testing.T) {
	assert.True(t, IsTemporaryID("T1"))
	assert.True(t, IsTemporaryID("T42"))
	assert.False(t, IsTemporaryID("T"))
	assert.False(t, IsTemporaryID("Tx"))
	assert.False(t, IsTemporaryID(int64(1)))
	assert.False(t, IsTemporaryID("0190e0a4-6b1c-7000-8000-000000000000"))
}
