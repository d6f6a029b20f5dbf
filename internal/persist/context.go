package persist

import (
	"context"
	"fmt"

	"github.com/roach88/fragstore/internal/invalidation"
	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/storage"
)

// contextHooks lets the hierarchy context follow fragment registration.
type contextHooks interface {
	onCreated(f *Fragment)
	onFetched(f *Fragment)
	onRemoved(f *Fragment)
}

// Context caches the fragments of one table for one session.
type Context struct {
	table *model.TableInfo
	pc    *PersistenceContext
	hooks contextHooks

	pristine *pristineCache
	working  *fragmentList
	// fresh holds ABSENT fragments of ids not saved yet. They stay out of
	// the evictable cache so their id can be remapped at save.
	fresh *fragmentList

	modifiedInTx invalidation.IDSet
	deletedInTx  invalidation.IDSet
}

func newContext(pc *PersistenceContext, table *model.TableInfo) (*Context, error) {
	cache, err := newPristineCache(pc.opts.capacity)
	if err != nil {
		return nil, fmt.Errorf("context %s: %w", table.Name, err)
	}
	return &Context{
		table:        table,
		pc:           pc,
		pristine:     cache,
		working:      newFragmentList(),
		fresh:        newFragmentList(),
		modifiedInTx: make(invalidation.IDSet),
		deletedInTx:  make(invalidation.IDSet),
	}, nil
}

// Name returns the table name.
func (c *Context) Name() string { return c.table.Name }

// Table returns the table description.
func (c *Context) Table() *model.TableInfo { return c.table }

// register puts a newly built fragment in the bucket matching its state.
func (c *Context) register(f *Fragment) error {
	switch f.state {
	case StateAbsent:
		if c.pc.IsIDNew(f.id) {
			c.fresh.add(f)
		} else {
			c.pristine.put(f)
		}
	case StatePristine:
		c.pristine.put(f)
	case StateCreated:
		c.working.add(f)
	default:
		return storage.NewStateError("cannot register fragment %s/%s in state %s", c.table.Name, model.FormatID(f.id), f.state)
	}
	f.owner = c
	f.epoch = c.pc.epoch
	return nil
}

// GetIfPresent returns the cached fragment, without reaching the store.
func (c *Context) GetIfPresent(id model.ID) *Fragment {
	if f, ok := c.working.get(id); ok {
		return f
	}
	if f, ok := c.fresh.get(id); ok {
		return f
	}
	if f, ok := c.pristine.get(id); ok && f.IsCurrent() {
		return f
	}
	return nil
}

// Get returns the fragment of an id, fetching it when it is not cached.
// A missing row yields an ABSENT fragment holding default values. Ids
// created in this session never reach the store.
func (c *Context) Get(ctx context.Context, id model.ID) (*Fragment, error) {
	if f := c.GetIfPresent(id); f != nil {
		return f, nil
	}
	var row *Row
	if !c.pc.IsIDNew(id) {
		r, err := c.pc.mapper.ReadRow(ctx, c.table.Name, id)
		if err != nil {
			return nil, fmt.Errorf("get %s/%s: %w", c.table.Name, model.FormatID(id), err)
		}
		row = r
	}
	state := StatePristine
	if row == nil {
		state = StateAbsent
	}
	f := newFragment(c.table, id, state, row)
	if err := c.register(f); err != nil {
		return nil, err
	}
	if c.hooks != nil {
		c.hooks.onFetched(f)
	}
	return f, nil
}

// adopt returns the cached fragment of a row read by a bulk query, or
// caches the row as a pristine fragment. Local state wins over the row.
func (c *Context) adopt(row *Row) (*Fragment, error) {
	if f := c.GetIfPresent(row.ID); f != nil {
		return f, nil
	}
	f := newFragment(c.table, row.ID, StatePristine, row)
	if err := c.register(f); err != nil {
		return nil, err
	}
	if c.hooks != nil {
		c.hooks.onFetched(f)
	}
	return f, nil
}

// Create registers a new fragment. The id must not be known to any bucket.
func (c *Context) Create(id model.ID, values map[string]any) (*Fragment, error) {
	if f := c.GetIfPresent(id); f != nil {
		return nil, storage.NewStateError("fragment %s/%s already exists in state %s", c.table.Name, model.FormatID(id), f.state)
	}
	f := newFragment(c.table, id, StateCreated, &Row{ID: id, Values: values})
	if err := c.register(f); err != nil {
		return nil, err
	}
	if c.hooks != nil {
		c.hooks.onCreated(f)
	}
	return f, nil
}

// Remove schedules a fragment for deletion. Fragments that never reached
// the store are dropped at once.
func (c *Context) Remove(f *Fragment) error {
	if f.owner != c {
		return storage.NewStateError("fragment %s/%s is not owned by context %s", f.table.Name, model.FormatID(f.id), c.table.Name)
	}
	switch f.state {
	case StateAbsent, StateCreated:
		c.working.remove(f.id)
		c.fresh.remove(f.id)
		c.pristine.remove(f.id)
		if c.hooks != nil {
			c.hooks.onRemoved(f)
		}
		if err := f.setState(StateDetached); err != nil {
			return err
		}
		f.owner = nil
	case StatePristine, StateModified:
		if err := c.moveToWorking(f, StateDeleted); err != nil {
			return err
		}
		if c.hooks != nil {
			c.hooks.onRemoved(f)
		}
	case StateDeleted, StateDetached:
		return storage.NewStateError("fragment %s/%s is already removed", f.table.Name, model.FormatID(f.id))
	default:
		return storage.NewStateError("fragment %s/%s is stale, fetch it again", f.table.Name, model.FormatID(f.id))
	}
	return nil
}

func (c *Context) moveToWorking(f *Fragment, to State) error {
	if err := f.setState(to); err != nil {
		return err
	}
	c.pristine.remove(f.id)
	c.fresh.remove(f.id)
	c.working.add(f)
	return nil
}

// pending returns the number of working fragments.
func (c *Context) pending() int {
	return c.working.len()
}

// save flushes the working bucket. Ids found in remap replace temporary
// ids in the fragment id and reference columns; ids assigned by the store
// are added to remap.
func (c *Context) save(ctx context.Context, remap map[model.ID]model.ID) error {
	for _, f := range c.saveOrder() {
		var err error
		switch f.state {
		case StateCreated:
			err = c.saveCreated(ctx, f, remap)
		case StateModified:
			err = c.saveModified(ctx, f, remap)
		case StateDeleted:
			err = c.saveDeleted(ctx, f)
		}
		if err != nil {
			return err
		}
	}
	c.working.clear()
	c.rekeyFresh(remap)
	return nil
}

func (c *Context) saveCreated(ctx context.Context, f *Fragment, remap map[model.ID]model.ID) error {
	oldID := f.id
	c.remapRefs(f, remap)
	row := f.row()
	if id, ok := remap[oldID]; ok {
		row.ID = id
	}
	if model.IsTemporaryID(row.ID) && !c.table.Identity {
		return storage.NewStateError("no final id for %s/%s", c.table.Name, model.FormatID(oldID))
	}
	finalID, err := c.pc.mapper.InsertRow(ctx, c.table.Name, row)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", c.table.Name, model.FormatID(oldID), err)
	}
	if finalID == nil {
		finalID = row.ID
	}
	if finalID != oldID {
		remap[oldID] = finalID
	}
	f.id = finalID
	f.dirty = nil
	if err := f.setState(StatePristine); err != nil {
		return err
	}
	c.pristine.put(f)
	c.modifiedInTx.Add(finalID)
	return nil
}

func (c *Context) saveModified(ctx context.Context, f *Fragment, remap map[model.ID]model.ID) error {
	c.remapRefs(f, remap)
	var keys []string
	if c.pc.opts.partialUpdates && !c.table.Collection {
		keys = f.dirtyKeys()
	}
	if keys == nil || len(keys) > 0 {
		if err := c.pc.mapper.UpdateRow(ctx, c.table.Name, f.row(), keys); err != nil {
			return fmt.Errorf("update %s/%s: %w", c.table.Name, model.FormatID(f.id), err)
		}
	}
	f.dirty = nil
	if err := f.setState(StatePristine); err != nil {
		return err
	}
	c.pristine.put(f)
	c.modifiedInTx.Add(f.id)
	return nil
}

func (c *Context) saveDeleted(ctx context.Context, f *Fragment) error {
	if err := c.pc.mapper.DeleteRow(ctx, c.table.Name, f.id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c.table.Name, model.FormatID(f.id), err)
	}
	c.deletedInTx.Add(f.id)
	if err := f.setState(StateDetached); err != nil {
		return err
	}
	f.owner = nil
	return nil
}

// saveOrder returns the working fragments in creation order, except that a
// fragment referencing another unsaved fragment of this table comes after
// it. A reference cycle keeps the remaining fragments in creation order.
func (c *Context) saveOrder() []*Fragment {
	frags := c.working.fragments()
	waiting := make(map[model.ID]bool)
	for _, f := range frags {
		if f.state == StateCreated {
			waiting[f.id] = true
		}
	}
	if len(waiting) == 0 || !c.hasRefs() {
		return frags
	}

	out := make([]*Fragment, 0, len(frags))
	rest := frags
	for len(rest) > 0 {
		var deferred []*Fragment
		for _, f := range rest {
			if f.state != StateDeleted && c.refersTo(f, waiting) {
				deferred = append(deferred, f)
				continue
			}
			out = append(out, f)
			delete(waiting, f.id)
		}
		if len(deferred) == len(rest) {
			return append(out, deferred...)
		}
		rest = deferred
	}
	return out
}

func (c *Context) hasRefs() bool {
	for _, col := range c.table.Columns {
		if col.Ref {
			return true
		}
	}
	return false
}

func (c *Context) refersTo(f *Fragment, ids map[model.ID]bool) bool {
	for _, col := range c.table.Columns {
		if !col.Ref {
			continue
		}
		if v := f.values[col.Key]; v != nil && v != f.id && ids[v] {
			return true
		}
	}
	return false
}

func (c *Context) remapRefs(f *Fragment, remap map[model.ID]model.ID) {
	if len(remap) == 0 {
		return
	}
	for _, col := range c.table.Columns {
		if !col.Ref {
			continue
		}
		if v := f.values[col.Key]; v != nil {
			if id, ok := remap[v]; ok {
				f.values[col.Key] = id
			}
		}
	}
}

// rekeyFresh moves the ABSENT fragments of just saved ids into the
// pristine cache under their final id. Temporary ids left without a final
// id belonged to nodes dropped before save.
func (c *Context) rekeyFresh(remap map[model.ID]model.ID) {
	for _, f := range c.fresh.fragments() {
		if id, ok := remap[f.id]; ok {
			f.id = id
		} else if model.IsTemporaryID(f.id) {
			f.detach()
			continue
		}
		c.pristine.put(f)
	}
	c.fresh.clear()
}

// invalidate flags and evicts cached fragments changed by another session.
// Fragments in a working state are left alone.
func (c *Context) invalidate(ids invalidation.IDSet, deleted bool) int {
	to := StateInvalidatedModified
	if deleted {
		to = StateInvalidatedDeleted
	}
	n := 0
	for id := range ids {
		f, ok := c.pristine.get(id)
		if !ok || (f.state != StatePristine && f.state != StateAbsent) {
			continue
		}
		if err := f.setState(to); err != nil {
			continue
		}
		c.pristine.remove(id)
		n++
	}
	return n
}

// takeInvalidations moves the ids saved since the last call into inv.
func (c *Context) takeInvalidations(inv *invalidation.Invalidations) {
	for id := range c.modifiedInTx {
		inv.AddModified(c.table.Name, id)
	}
	for id := range c.deletedInTx {
		inv.AddDeleted(c.table.Name, id)
	}
	c.modifiedInTx = make(invalidation.IDSet)
	c.deletedInTx = make(invalidation.IDSet)
}

// clear drops every cached fragment and every recorded id.
func (c *Context) clear() {
	for _, f := range c.working.fragments() {
		f.detach()
	}
	for _, f := range c.fresh.fragments() {
		f.detach()
	}
	c.working.clear()
	c.fresh.clear()
	c.pristine.clear()
	c.modifiedInTx = make(invalidation.IDSet)
	c.deletedInTx = make(invalidation.IDSet)
}

func (c *Context) close() {
	c.clear()
	c.pristine.close()
}
