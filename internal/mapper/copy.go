package mapper

import (
	"context"
	"fmt"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/storage"
)

// CopyHierarchy copies the subtree rooted at sourceID under parentID and
// returns the id of the copy. Every descendant gets a new id; fragment rows
// are copied server-side.
func (m *Mapper) CopyHierarchy(ctx context.Context, sourceID, parentID model.ID, name string, pos any) (model.ID, error) {
	newID, err := m.copyNode(ctx, sourceID, parentID, name, pos)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("copied hierarchy", "source", sourceID, "copy", newID)
	return newID, nil
}

func (m *Mapper) copyNode(ctx context.Context, src, parent model.ID, name string, pos any) (model.ID, error) {
	primaryType, err := m.primaryType(ctx, src)
	if err != nil {
		return nil, err
	}

	var newID model.ID
	if m.model.IsSeparateMainTable() {
		if newID, err = m.copyRow(ctx, model.MainTableName, src); err != nil {
			return nil, err
		}
	}
	if newID, err = m.copyHierarchyRow(ctx, newID, src, parent, name, pos); err != nil {
		return nil, err
	}

	frags, err := m.model.TypeFragments(primaryType)
	if err != nil {
		return nil, err
	}
	for _, table := range frags {
		if _, err := m.copyRowAs(ctx, table, newID, src); err != nil {
			return nil, err
		}
	}

	children, err := m.childIDs(ctx, src)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		row, err := m.ReadRow(ctx, model.HierTableName, child)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		childName, _ := row.Values[model.HierChildNameKey].(string)
		if _, err := m.copyNode(ctx, child, newID, childName, row.Values[model.HierChildPosKey]); err != nil {
			return nil, err
		}
	}
	return newID, nil
}

func (m *Mapper) primaryType(ctx context.Context, id model.ID) (string, error) {
	row, err := m.ReadRow(ctx, m.model.MainTableName(), id)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", storage.NewStateError("copy source %s does not exist", model.FormatID(id))
	}
	typ, ok := row.Values[model.MainPrimaryTypeKey].(string)
	if !ok {
		return "", storage.WrapStoreError("copy", fmt.Errorf("row %s has no primary type", model.FormatID(id)))
	}
	return typ, nil
}

// copyRow copies the main row under a fresh id.
func (m *Mapper) copyRow(ctx context.Context, table string, src model.ID) (model.ID, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	if !t.ID.Identity {
		return m.copyRowAs(ctx, table, m.model.NewID(), src)
	}
	if _, err := m.exec(ctx, "copy "+table, t.Copy().SQL, src); err != nil {
		return nil, err
	}
	return m.fetchIdentity(ctx, t)
}

func (m *Mapper) copyRowAs(ctx context.Context, table string, newID, src model.ID) (model.ID, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	if _, err := m.exec(ctx, "copy "+table, t.Copy().SQL, newID, src); err != nil {
		return nil, err
	}
	return newID, nil
}

// copyHierarchyRow copies the hierarchy row with a new parent, name and
// position. A nil newID is minted here or by the store.
func (m *Mapper) copyHierarchyRow(ctx context.Context, newID, src, parent model.ID, name string, pos any) (model.ID, error) {
	const op = "copy hierarchy"
	hier, err := m.table(model.HierTableName)
	if err != nil {
		return nil, err
	}
	st := m.info.CopyHierarchy()
	if hier.ID.Identity {
		if _, err := m.exec(ctx, op, st.SQL, parent, pos, name, src); err != nil {
			return nil, err
		}
		return m.fetchIdentity(ctx, hier)
	}
	if newID == nil {
		newID = m.model.NewID()
	}
	if _, err := m.exec(ctx, op, st.SQL, newID, parent, pos, name, src); err != nil {
		return nil, err
	}
	return newID, nil
}

// childIDs lists the children of every flavor. Rows are drained before the
// caller issues further statements on the connection.
func (m *Mapper) childIDs(ctx context.Context, parent model.ID) ([]model.ID, error) {
	const op = "read children ids"
	st := m.info.SelectChildrenIDsAndTypes()
	rows, err := m.query(ctx, op, st.SQL, parent)
	if err != nil {
		return nil, err
	}
	values, err := scanRows(op, rows, st.Result)
	if err != nil {
		return nil, err
	}
	ids := make([]model.ID, len(values))
	for i, v := range values {
		ids[i] = v[0]
	}
	return ids, nil
}
