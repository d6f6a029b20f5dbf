package persist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fragstore/internal/invalidation"
	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/storage"
)

// seededTree stores root > a > b and root > c.
func seededTree(t *testing.T) (*PersistenceContext, *memMapper) {
	t.Helper()
	pc, mm := newTestPC(t, model.Config{})
	mm.seed("root", nil, "", nil, model.RootType)
	mm.seed("a", "root", "a", nil, "Folder")
	mm.seed("b", "a", "b", nil, "File")
	mm.seed("c", "root", "c", nil, "Folder")
	return pc, mm
}

func names(frags []*Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = ChildName(f)
	}
	return out
}

func TestChildByNameCachesNegativeResults(t *testing.T) {
	ctx := context.Background()
	pc, mm := seededTree(t)
	hier := pc.Hierarchy()

	f, err := hier.ChildByName(ctx, "root", "a", false)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "a", f.ID())

	f, err = hier.ChildByName(ctx, "root", "zzz", false)
	require.NoError(t, err)
	assert.Nil(t, f)

	reads := mm.reads
	f, err = hier.ChildByName(ctx, "root", "zzz", false)
	require.NoError(t, err)
	assert.Nil(t, f)
	again, err := hier.ChildByName(ctx, "root", "a", false)
	require.NoError(t, err)
	assert.Equal(t, "a", again.ID())
	assert.Equal(t, reads, mm.reads)

	// A complex property child does not answer a regular lookup.
	f, err = hier.ChildByName(ctx, "root", "a", true)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestCreatedChildClearsNegativeEntry(t *testing.T) {
	ctx := context.Background()
	pc, _ := seededTree(t)
	hier := pc.Hierarchy()

	f, err := hier.ChildByName(ctx, "root", "new", false)
	require.NoError(t, err)
	assert.Nil(t, f)

	id := pc.GenerateNewID()
	created, err := hier.Create(id, hierValues("root", "new", nil, "File"))
	require.NoError(t, err)

	f, err = hier.ChildByName(ctx, "root", "new", false)
	require.NoError(t, err)
	assert.Same(t, created, f)

	require.NoError(t, created.Remove())
	f, err = hier.ChildByName(ctx, "root", "new", false)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestChildrenMergesLocalChanges(t *testing.T) {
	ctx := context.Background()
	pc, _ := seededTree(t)
	hier := pc.Hierarchy()

	id := pc.GenerateNewID()
	_, err := hier.Create(id, hierValues("root", "d", nil, "File"))
	require.NoError(t, err)
	c, err := hier.ChildByName(ctx, "root", "c", false)
	require.NoError(t, err)
	require.NoError(t, c.Remove())

	children, err := hier.Children(ctx, "root", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "d"}, names(children))

	has, err := hier.HasChildren(ctx, "b", false)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestChildrenSortedByPosition(t *testing.T) {
	ctx := context.Background()
	pc, mm := newTestPC(t, model.Config{})
	mm.seed("root", nil, "", nil, model.RootType)
	mm.seed("x", "root", "x", int64(2), "File")
	mm.seed("y", "root", "y", int64(0), "File")
	mm.seed("z", "root", "z", nil, "File")
	hier := pc.Hierarchy()

	id := pc.GenerateNewID()
	_, err := hier.Create(id, hierValues("root", "w", int64(1), "File"))
	require.NoError(t, err)

	children, err := hier.Children(ctx, "root", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "w", "x", "z"}, names(children))

	next, err := hier.NextPos(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)

	next, err = hier.NextPos(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), next)
}

func TestMoveUpdatesChildrenOfBothParents(t *testing.T) {
	ctx := context.Background()
	pc, _ := seededTree(t)
	hier := pc.Hierarchy()

	b, err := hier.ChildByName(ctx, "a", "b", false)
	require.NoError(t, err)
	_, err = hier.Children(ctx, "c", false)
	require.NoError(t, err)

	require.NoError(t, hier.Move(ctx, b, "c", "b2", nil))
	assert.Equal(t, StateModified, b.State())

	fromA, err := hier.Children(ctx, "a", false)
	require.NoError(t, err)
	assert.Empty(t, fromA)
	inC, err := hier.Children(ctx, "c", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b2"}, names(inC))

	old, err := hier.ChildByName(ctx, "a", "b", false)
	require.NoError(t, err)
	assert.Nil(t, old)

	_, err = pc.Save(ctx)
	require.NoError(t, err)
	inv := pc.TakeInvalidations()
	assert.True(t, inv.Parents.Has("a"))
	assert.True(t, inv.Parents.Has("c"))
}

func TestMoveRejectsCycleWithoutMutation(t *testing.T) {
	ctx := context.Background()
	pc, _ := seededTree(t)
	hier := pc.Hierarchy()

	a, err := hier.ChildByName(ctx, "root", "a", false)
	require.NoError(t, err)

	for _, dest := range []model.ID{"a", "b"} {
		err = hier.Move(ctx, a, dest, "a", nil)
		require.Error(t, err)
		assert.True(t, storage.IsStateError(err))
	}
	assert.Equal(t, StatePristine, a.State())
	assert.Equal(t, "root", ParentID(a))
	assert.False(t, pc.HasPendingChanges())
}

func TestMoveRejectsTakenName(t *testing.T) {
	ctx := context.Background()
	pc, _ := seededTree(t)
	hier := pc.Hierarchy()

	b, err := hier.ChildByName(ctx, "a", "b", false)
	require.NoError(t, err)
	err = hier.Move(ctx, b, "root", "c", nil)
	require.Error(t, err)
	assert.True(t, storage.IsStateError(err))
	assert.Equal(t, StatePristine, b.State())

	// Renaming in place is allowed.
	require.NoError(t, hier.Move(ctx, b, "a", "b", nil))
}

func TestCopySubtree(t *testing.T) {
	ctx := context.Background()
	pc, mm := seededTree(t)
	mm.rows["dublincore"]["b"] = &Row{ID: "b", Values: map[string]any{"title": "Report"}}
	hier := pc.Hierarchy()

	a, err := hier.ChildByName(ctx, "root", "a", false)
	require.NoError(t, err)
	cp, err := hier.Copy(ctx, a, "c", "a-copy", nil)
	require.NoError(t, err)
	assert.Equal(t, "c", ParentID(cp))
	assert.Equal(t, "a-copy", ChildName(cp))

	sub, err := hier.Children(ctx, cp.ID(), false)
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, "b", ChildName(sub[0]))
	assert.NotEqual(t, "b", sub[0].ID())
	assert.Equal(t, "Report", mm.rows["dublincore"][sub[0].ID()].Values["title"])

	_, err = hier.Copy(ctx, a, "b", "loop", nil)
	assert.True(t, storage.IsStateError(err))
	_, err = hier.Copy(ctx, a, "c", "a-copy", nil)
	assert.True(t, storage.IsStateError(err))

	assert.True(t, pc.TakeInvalidations().Parents.Has("c"))
}

func TestDropParentsForgetsStaleChildren(t *testing.T) {
	ctx := context.Background()
	pc, mm := seededTree(t)
	hier := pc.Hierarchy()

	children, err := hier.Children(ctx, "root", false)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	// Another session adds a child of root.
	mm.seed("e", "root", "e", nil, "File")
	inv := invalidation.New()
	inv.AddParent("root")
	assert.Equal(t, 1, pc.ApplyInvalidations(inv))

	children, err = hier.Children(ctx, "root", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c", "e"}, names(children))
}
