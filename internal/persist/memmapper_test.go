package persist

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/testutil"
)

// memMapper is an in-memory Mapper counting the statements it would run.
type memMapper struct {
	model  *model.Model
	rows   map[string]map[model.ID]*Row
	nextID int64

	reads  int
	writes int
	log    []string
}

func newMemMapper(m *model.Model) *memMapper {
	mm := &memMapper{model: m, rows: make(map[string]map[model.ID]*Row)}
	for _, t := range m.Tables() {
		mm.rows[t.Name] = make(map[model.ID]*Row)
	}
	return mm
}

func (m *memMapper) statements() int { return m.reads + m.writes }

func (m *memMapper) table(name string) *model.TableInfo {
	t, _ := m.model.Table(name)
	return t
}

func cloneRow(r *Row) *Row {
	out := &Row{ID: r.ID}
	if r.Values != nil {
		out.Values = make(map[string]any, len(r.Values))
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	if r.Array != nil {
		out.Array = append([]any{}, r.Array...)
	}
	return out
}

func (m *memMapper) ReadRow(_ context.Context, table string, id model.ID) (*Row, error) {
	m.reads++
	m.log = append(m.log, "read "+table)
	r, ok := m.rows[table][id]
	if !ok {
		if m.table(table).Collection {
			return &Row{ID: id, Array: []any{}}, nil
		}
		return nil, nil
	}
	return cloneRow(r), nil
}

func (m *memMapper) ReadChildByName(_ context.Context, parentID model.ID, name string, complexProp bool) (*Row, error) {
	m.reads++
	m.log = append(m.log, "read child "+name)
	for _, r := range m.rows[model.HierTableName] {
		if r.Values[model.HierParentKey] == parentID && r.Values[model.HierChildNameKey] == name &&
			r.Values[model.HierChildIsPropertyKey] == complexProp {
			return cloneRow(r), nil
		}
	}
	return nil, nil
}

func (m *memMapper) ReadChildren(_ context.Context, parentID model.ID, complexProp bool) ([]*Row, error) {
	m.reads++
	m.log = append(m.log, "read children")
	var out []*Row
	for _, r := range m.rows[model.HierTableName] {
		if r.Values[model.HierParentKey] == parentID && r.Values[model.HierChildIsPropertyKey] == complexProp {
			out = append(out, cloneRow(r))
		}
	}
	return out, nil
}

func (m *memMapper) InsertRow(_ context.Context, table string, row *Row) (model.ID, error) {
	m.writes++
	m.log = append(m.log, "insert "+table)
	id := row.ID
	if m.table(table).Identity {
		m.nextID++
		id = m.nextID
	}
	r := cloneRow(row)
	r.ID = id
	m.rows[table][id] = r
	return id, nil
}

func (m *memMapper) UpdateRow(_ context.Context, table string, row *Row, keys []string) error {
	m.writes++
	m.log = append(m.log, "update "+table)
	r, ok := m.rows[table][row.ID]
	if !ok || m.table(table).Collection || keys == nil {
		m.rows[table][row.ID] = cloneRow(row)
		return nil
	}
	for _, k := range keys {
		r.Values[k] = row.Values[k]
	}
	return nil
}

func (m *memMapper) DeleteRow(_ context.Context, table string, id model.ID) error {
	m.writes++
	m.log = append(m.log, "delete "+table)
	delete(m.rows[table], id)
	return nil
}

func (m *memMapper) CopyHierarchy(_ context.Context, sourceID, parentID model.ID, name string, pos any) (model.ID, error) {
	m.writes++
	m.log = append(m.log, "copy")
	return m.copyNode(sourceID, parentID, name, pos), nil
}

func (m *memMapper) copyNode(sourceID, parentID model.ID, name string, pos any) model.ID {
	m.nextID++
	newID := model.ID(m.nextID)
	if !m.model.IsStoreAssigned() {
		newID = m.model.NewID()
	}
	for _, rows := range m.rows {
		if r, ok := rows[sourceID]; ok {
			cp := cloneRow(r)
			cp.ID = newID
			rows[newID] = cp
		}
	}
	hier := m.rows[model.HierTableName][newID]
	hier.Values[model.HierParentKey] = parentID
	hier.Values[model.HierChildNameKey] = name
	hier.Values[model.HierChildPosKey] = pos
	for _, r := range m.rowsUnder(sourceID) {
		m.copyNode(r.ID, newID, r.Values[model.HierChildNameKey].(string), r.Values[model.HierChildPosKey])
	}
	return newID
}

func (m *memMapper) rowsUnder(parentID model.ID) []*Row {
	var out []*Row
	for _, r := range m.rows[model.HierTableName] {
		if r.Values[model.HierParentKey] == parentID {
			out = append(out, r)
		}
	}
	return out
}

// seed stores a hierarchy row directly, as if saved by another session.
func (m *memMapper) seed(id, parent model.ID, name string, pos any, primaryType string) {
	values := map[string]any{
		model.HierParentKey:          parent,
		model.HierChildNameKey:       name,
		model.HierChildPosKey:        pos,
		model.HierChildIsPropertyKey: false,
	}
	if m.model.IsSeparateMainTable() {
		m.rows[model.MainTableName][id] = &Row{ID: id, Values: map[string]any{model.MainPrimaryTypeKey: primaryType}}
	} else {
		values[model.MainPrimaryTypeKey] = primaryType
	}
	m.rows[model.HierTableName][id] = &Row{ID: id, Values: values}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPC(t *testing.T, cfg model.Config, opts ...Option) (*PersistenceContext, *memMapper) {
	t.Helper()
	m, err := model.New(testutil.NewRegistry(t), cfg)
	require.NoError(t, err)
	mm := newMemMapper(m)
	opts = append([]Option{WithLogger(discardLogger()), WithCacheCapacity(1000)}, opts...)
	pc, err := New(m, mm, opts...)
	require.NoError(t, err)
	t.Cleanup(pc.Close)
	return pc, mm
}

func hierValues(parent model.ID, name string, pos any, primaryType string) map[string]any {
	return map[string]any{
		model.HierParentKey:          parent,
		model.HierChildNameKey:       name,
		model.HierChildPosKey:        pos,
		model.HierChildIsPropertyKey: false,
		model.MainPrimaryTypeKey:     primaryType,
	}
}
