package persist

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/fragstore/internal/invalidation"
	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/storage"
)

// childPartition is the known part of one parent's regular or
// complex-property children. A name is never both in byName and missing.
type childPartition struct {
	complete bool
	ids      []model.ID
	byName   map[string]model.ID
	missing  map[string]struct{}
}

func newChildPartition() *childPartition {
	return &childPartition{
		byName:  make(map[string]model.ID),
		missing: make(map[string]struct{}),
	}
}

func (p *childPartition) add(id model.ID, name string) {
	delete(p.missing, name)
	p.byName[name] = id
	for _, o := range p.ids {
		if o == id {
			return
		}
	}
	p.ids = append(p.ids, id)
}

func (p *childPartition) remove(id model.ID, name string) {
	if p.byName[name] == id {
		delete(p.byName, name)
		p.missing[name] = struct{}{}
	}
	for i, o := range p.ids {
		if o == id {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			return
		}
	}
}

func (p *childPartition) remap(remap map[model.ID]model.ID) {
	for i, id := range p.ids {
		if n, ok := remap[id]; ok {
			p.ids[i] = n
		}
	}
	for name, id := range p.byName {
		if n, ok := remap[id]; ok {
			p.byName[name] = n
		}
	}
}

type childrenEntry struct {
	regular  *childPartition
	property *childPartition
}

func (e *childrenEntry) partition(complexProp bool) *childPartition {
	if complexProp {
		return e.property
	}
	return e.regular
}

// HierarchyContext is the Context of the hierarchy table plus a children
// cache keyed by parent id. The cache stores ids only; fragments are always
// resolved through the context.
type HierarchyContext struct {
	*Context

	children map[model.ID]*childrenEntry
	// pendingParents holds parents whose children changed since the last
	// save; parentsInTx the same after save, for invalidations.
	pendingParents invalidation.IDSet
	parentsInTx    invalidation.IDSet
}

func newHierarchyContext(c *Context) *HierarchyContext {
	h := &HierarchyContext{
		Context:        c,
		children:       make(map[model.ID]*childrenEntry),
		pendingParents: make(invalidation.IDSet),
		parentsInTx:    make(invalidation.IDSet),
	}
	c.hooks = h
	return h
}

// ParentID returns the parent id of a hierarchy fragment, nil for the root.
func ParentID(f *Fragment) model.ID { return f.values[model.HierParentKey] }

// ChildName returns the name of a hierarchy fragment.
func ChildName(f *Fragment) string {
	s, _ := f.values[model.HierChildNameKey].(string)
	return s
}

// IsComplexProperty reports whether a hierarchy fragment is a complex
// property child.
func IsComplexProperty(f *Fragment) bool {
	b, _ := f.values[model.HierChildIsPropertyKey].(bool)
	return b
}

// Pos returns the position of a hierarchy fragment, or nil.
func Pos(f *Fragment) any { return f.values[model.HierChildPosKey] }

func isLive(f *Fragment) bool {
	return f.state == StateCreated || f.state == StatePristine || f.state == StateModified
}

// isChildOf reports whether f currently sits in the given partition.
func isChildOf(f *Fragment, parentID model.ID, complexProp bool) bool {
	return isLive(f) && ParentID(f) == parentID && IsComplexProperty(f) == complexProp
}

func (h *HierarchyContext) entry(parentID model.ID) *childrenEntry {
	e, ok := h.children[parentID]
	if !ok {
		e = &childrenEntry{regular: newChildPartition(), property: newChildPartition()}
		h.children[parentID] = e
	}
	return e
}

func (h *HierarchyContext) onCreated(f *Fragment) {
	parent := ParentID(f)
	if parent == nil {
		return
	}
	h.entry(parent).partition(IsComplexProperty(f)).add(f.id, ChildName(f))
	h.pendingParents.Add(parent)
}

func (h *HierarchyContext) onFetched(f *Fragment) {
	parent := ParentID(f)
	if f.state != StatePristine || parent == nil {
		return
	}
	if e, ok := h.children[parent]; ok {
		e.partition(IsComplexProperty(f)).add(f.id, ChildName(f))
	}
}

func (h *HierarchyContext) onRemoved(f *Fragment) {
	parent := ParentID(f)
	if parent == nil {
		return
	}
	if e, ok := h.children[parent]; ok {
		e.partition(IsComplexProperty(f)).remove(f.id, ChildName(f))
	}
	h.pendingParents.Add(parent)
}

// ChildByName returns the live child with the given name, or nil. Names
// known not to exist are remembered until the partition changes.
func (h *HierarchyContext) ChildByName(ctx context.Context, parentID model.ID, name string, complexProp bool) (*Fragment, error) {
	p := h.entry(parentID).partition(complexProp)
	if id, ok := p.byName[name]; ok {
		f, err := h.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if isChildOf(f, parentID, complexProp) && ChildName(f) == name {
			return f, nil
		}
		delete(p.byName, name)
	}
	if _, ok := p.missing[name]; ok || p.complete {
		return nil, nil
	}
	if h.pc.IsIDNew(parentID) {
		p.missing[name] = struct{}{}
		return nil, nil
	}

	row, err := h.pc.mapper.ReadChildByName(ctx, parentID, name, complexProp)
	if err != nil {
		return nil, fmt.Errorf("child %q of %s: %w", name, model.FormatID(parentID), err)
	}
	if row == nil {
		p.missing[name] = struct{}{}
		return nil, nil
	}
	f, err := h.adopt(row)
	if err != nil {
		return nil, err
	}
	if !isChildOf(f, parentID, complexProp) || ChildName(f) != name {
		// Moved, renamed or removed locally.
		p.missing[name] = struct{}{}
		return nil, nil
	}
	p.add(f.id, name)
	return f, nil
}

// Children returns the live children of one partition sorted by position,
// children without a position last in the order they became known.
func (h *HierarchyContext) Children(ctx context.Context, parentID model.ID, complexProp bool) ([]*Fragment, error) {
	p := h.entry(parentID).partition(complexProp)
	if !p.complete {
		if !h.pc.IsIDNew(parentID) {
			rows, err := h.pc.mapper.ReadChildren(ctx, parentID, complexProp)
			if err != nil {
				return nil, fmt.Errorf("children of %s: %w", model.FormatID(parentID), err)
			}
			for _, row := range rows {
				f, err := h.adopt(row)
				if err != nil {
					return nil, err
				}
				if isChildOf(f, parentID, complexProp) {
					p.add(f.id, ChildName(f))
				}
			}
		}
		p.complete = true
		p.missing = make(map[string]struct{})
	}

	out := make([]*Fragment, 0, len(p.ids))
	for _, id := range p.ids {
		f, err := h.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if isChildOf(f, parentID, complexProp) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := Pos(out[i]).(int64)
		pj, jok := Pos(out[j]).(int64)
		switch {
		case iok && jok:
			return pi < pj
		default:
			return iok && !jok
		}
	})
	return out, nil
}

// HasChildren reports whether the partition has at least one live child.
func (h *HierarchyContext) HasChildren(ctx context.Context, parentID model.ID, complexProp bool) (bool, error) {
	children, err := h.Children(ctx, parentID, complexProp)
	if err != nil {
		return false, err
	}
	return len(children) > 0, nil
}

// NextPos returns the position following the last regular child.
func (h *HierarchyContext) NextPos(ctx context.Context, parentID model.ID) (int64, error) {
	children, err := h.Children(ctx, parentID, false)
	if err != nil {
		return 0, err
	}
	next := int64(0)
	for _, f := range children {
		if pos, ok := Pos(f).(int64); ok && pos >= next {
			next = pos + 1
		}
	}
	return next, nil
}

// checkNotUnder fails when parentID is sourceID or one of its descendants.
func (h *HierarchyContext) checkNotUnder(ctx context.Context, sourceID, parentID model.ID) error {
	seen := make(map[model.ID]bool)
	for id := parentID; id != nil; {
		if id == sourceID {
			return storage.NewStateError("cannot place %s under itself or one of its descendants", model.FormatID(sourceID))
		}
		if seen[id] {
			return storage.NewStateError("hierarchy loop above %s", model.FormatID(parentID))
		}
		seen[id] = true
		f, err := h.Get(ctx, id)
		if err != nil {
			return err
		}
		if !isLive(f) {
			return storage.NewStateError("destination %s does not exist", model.FormatID(parentID))
		}
		id = ParentID(f)
	}
	return nil
}

func (h *HierarchyContext) checkNameFree(ctx context.Context, f *Fragment, parentID model.ID, name string, complexProp bool) error {
	existing, err := h.ChildByName(ctx, parentID, name, complexProp)
	if err != nil {
		return err
	}
	if existing != nil && existing != f {
		return storage.NewStateError("destination %s already has a child named %q", model.FormatID(parentID), name)
	}
	return nil
}

// Move reparents and renames a hierarchy fragment. Nothing changes when
// the name is taken or the destination lies under the fragment.
func (h *HierarchyContext) Move(ctx context.Context, f *Fragment, parentID model.ID, name string, pos any) error {
	if !isLive(f) || f.owner != h.Context {
		return storage.NewStateError("cannot move %s in state %s", model.FormatID(f.id), f.state)
	}
	complexProp := IsComplexProperty(f)
	if err := h.checkNameFree(ctx, f, parentID, name, complexProp); err != nil {
		return err
	}
	if err := h.checkNotUnder(ctx, f.id, parentID); err != nil {
		return err
	}

	oldParent, oldName := ParentID(f), ChildName(f)
	if err := f.Put(model.HierParentKey, parentID); err != nil {
		return err
	}
	if err := f.Put(model.HierChildNameKey, name); err != nil {
		return err
	}
	if err := f.Put(model.HierChildPosKey, pos); err != nil {
		return err
	}
	if oldParent != nil {
		if e, ok := h.children[oldParent]; ok {
			e.partition(complexProp).remove(f.id, oldName)
		}
		h.pendingParents.Add(oldParent)
	}
	h.entry(parentID).partition(complexProp).add(f.id, name)
	h.pendingParents.Add(parentID)
	return nil
}

// Copy duplicates the saved subtree of f under parentID and returns the
// hierarchy fragment of the copy. The caller saves pending changes first:
// the copy is made in the store.
func (h *HierarchyContext) Copy(ctx context.Context, f *Fragment, parentID model.ID, name string, pos any) (*Fragment, error) {
	if f.state != StatePristine || f.owner != h.Context {
		return nil, storage.NewStateError("cannot copy %s in state %s", model.FormatID(f.id), f.state)
	}
	complexProp := IsComplexProperty(f)
	if err := h.checkNameFree(ctx, nil, parentID, name, complexProp); err != nil {
		return nil, err
	}
	if err := h.checkNotUnder(ctx, f.id, parentID); err != nil {
		return nil, err
	}

	newID, err := h.pc.mapper.CopyHierarchy(ctx, f.id, parentID, name, pos)
	if err != nil {
		return nil, fmt.Errorf("copy %s: %w", model.FormatID(f.id), err)
	}
	p := h.entry(parentID).partition(complexProp)
	delete(p.missing, name)
	cp, err := h.Get(ctx, newID)
	if err != nil {
		return nil, err
	}
	p.add(cp.id, name)
	h.parentsInTx.Add(parentID)
	return cp, nil
}

// afterSave rekeys the children cache and turns pending parents into
// committed ones.
func (h *HierarchyContext) afterSave(remap map[model.ID]model.ID) {
	if len(remap) > 0 {
		children := make(map[model.ID]*childrenEntry, len(h.children))
		for parent, e := range h.children {
			if n, ok := remap[parent]; ok {
				parent = n
			}
			e.regular.remap(remap)
			e.property.remap(remap)
			children[parent] = e
		}
		h.children = children
	}
	for parent := range h.pendingParents {
		if n, ok := remap[parent]; ok {
			parent = n
		}
		if !model.IsTemporaryID(parent) {
			h.parentsInTx.Add(parent)
		}
	}
	h.pendingParents = make(invalidation.IDSet)
}

// dropParents forgets the children of parents changed by another session,
// keeping what the working bucket knows.
func (h *HierarchyContext) dropParents(parents invalidation.IDSet) int {
	n := 0
	for parent := range parents {
		if _, ok := h.children[parent]; !ok {
			continue
		}
		delete(h.children, parent)
		n++
	}
	if n == 0 {
		return 0
	}
	for _, f := range h.working.fragments() {
		if !isLive(f) {
			continue
		}
		if parent := ParentID(f); parent != nil && parents.Has(parent) {
			h.entry(parent).partition(IsComplexProperty(f)).add(f.id, ChildName(f))
		}
	}
	return n
}

func (h *HierarchyContext) takeParents(inv *invalidation.Invalidations) {
	for parent := range h.parentsInTx {
		inv.AddParent(parent)
	}
	h.parentsInTx = make(invalidation.IDSet)
}

func (h *HierarchyContext) clearChildren() {
	h.children = make(map[model.ID]*childrenEntry)
	h.pendingParents = make(invalidation.IDSet)
	h.parentsInTx = make(invalidation.IDSet)
}
