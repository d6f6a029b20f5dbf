package persist

import (
	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/storage"
)

// Kind tags the two fragment shapes.
type Kind int

const (
	// KindScalar fragments hold one row of named columns.
	KindScalar Kind = iota + 1
	// KindCollection fragments hold one ordered array.
	KindCollection
)

// Row is the plain data exchanged with the mapper.
type Row struct {
	ID model.ID
	// Values holds scalar columns by key.
	Values map[string]any
	// Array holds collection items in order.
	Array []any
}

// Fragment is the cached state of one (table, id).
type Fragment struct {
	id    model.ID
	table *model.TableInfo
	state State
	owner *Context
	// epoch is the owner's epoch at registration; rollback bumps it.
	epoch uint64

	values map[string]any
	dirty  map[string]bool
	array  []any
}

func newFragment(table *model.TableInfo, id model.ID, state State, row *Row) *Fragment {
	f := &Fragment{id: id, table: table, state: state}
	if table.Collection {
		f.array = []any{}
		if row != nil && row.Array != nil {
			f.array = append(f.array, row.Array...)
		}
		return f
	}
	f.values = make(map[string]any, len(table.Columns))
	for _, c := range table.Columns {
		f.values[c.Key] = nil
	}
	if row != nil {
		for k, v := range row.Values {
			if _, ok := f.values[k]; ok {
				f.values[k] = v
			}
		}
	}
	return f
}

// ID returns the fragment id. It changes once, at first save, when the
// store assigns the id.
func (f *Fragment) ID() model.ID { return f.id }

// Table returns the owning table name.
func (f *Fragment) Table() string { return f.table.Name }

// State returns the lifecycle state.
func (f *Fragment) State() State { return f.state }

// Kind returns the fragment shape.
func (f *Fragment) Kind() Kind {
	if f.table.Collection {
		return KindCollection
	}
	return KindScalar
}

// Get returns a scalar column value.
func (f *Fragment) Get(key string) (any, error) {
	if f.table.Collection {
		return nil, storage.NewStateError("fragment %s is a collection", f.table.Name)
	}
	v, ok := f.values[key]
	if !ok {
		return nil, storage.NewConfigError("unknown column %s.%s", f.table.Name, key)
	}
	return v, nil
}

// Put writes a scalar column value and marks the fragment modified.
// The value must already be normalized.
func (f *Fragment) Put(key string, value any) error {
	if f.table.Collection {
		return storage.NewStateError("fragment %s is a collection", f.table.Name)
	}
	if _, ok := f.values[key]; !ok {
		return storage.NewConfigError("unknown column %s.%s", f.table.Name, key)
	}
	if err := f.checkWritable(); err != nil {
		return err
	}
	f.values[key] = value
	if f.dirty == nil {
		f.dirty = make(map[string]bool)
	}
	f.dirty[key] = true
	return f.markModified()
}

// Array returns a copy of the collection items.
func (f *Fragment) Array() ([]any, error) {
	if !f.table.Collection {
		return nil, storage.NewStateError("fragment %s is not a collection", f.table.Name)
	}
	return append([]any{}, f.array...), nil
}

// SetArray replaces the collection items and marks the fragment modified.
func (f *Fragment) SetArray(items []any) error {
	if !f.table.Collection {
		return storage.NewStateError("fragment %s is not a collection", f.table.Name)
	}
	if err := f.checkWritable(); err != nil {
		return err
	}
	f.array = append([]any{}, items...)
	return f.markModified()
}

// IsCurrent reports whether the fragment is still the one its context
// serves. Stale fragments must be fetched again through the context.
func (f *Fragment) IsCurrent() bool {
	if f.state.IsInvalidated() {
		return false
	}
	return f.owner != nil && f.epoch == f.owner.pc.epoch
}

func (f *Fragment) checkWritable() error {
	if f.state.IsInvalidated() || (f.owner != nil && f.epoch != f.owner.pc.epoch) {
		return storage.NewStateError("fragment %s/%s is stale, fetch it again", f.table.Name, model.FormatID(f.id))
	}
	return nil
}

// markModified moves PRISTINE to MODIFIED and ABSENT to CREATED, relocating
// the fragment into the working bucket. Other states are left unchanged.
func (f *Fragment) markModified() error {
	switch f.state {
	case StatePristine:
		return f.relocate(StateModified)
	case StateAbsent:
		return f.relocate(StateCreated)
	default:
		return nil
	}
}

func (f *Fragment) relocate(to State) error {
	if f.owner == nil {
		return f.setState(to)
	}
	return f.owner.moveToWorking(f, to)
}

// Remove schedules the fragment for deletion or drops it when it never
// reached the store.
func (f *Fragment) Remove() error {
	if f.owner == nil {
		return storage.NewStateError("fragment %s/%s is detached", f.table.Name, model.FormatID(f.id))
	}
	return f.owner.Remove(f)
}

func (f *Fragment) setState(to State) error {
	if !canTransition(f.state, to) {
		return storage.NewStateError("fragment %s/%s: illegal transition %s -> %s",
			f.table.Name, model.FormatID(f.id), f.state, to)
	}
	f.state = to
	return nil
}

// row snapshots the fragment for the mapper.
func (f *Fragment) row() *Row {
	if f.table.Collection {
		return &Row{ID: f.id, Array: append([]any{}, f.array...)}
	}
	values := make(map[string]any, len(f.values))
	for k, v := range f.values {
		values[k] = v
	}
	return &Row{ID: f.id, Values: values}
}

// dirtyKeys returns the keys written since the last save, in table order.
func (f *Fragment) dirtyKeys() []string {
	var keys []string
	for _, c := range f.table.Columns {
		if f.dirty[c.Key] {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

func (f *Fragment) detach() {
	f.state = StateDetached
	f.owner = nil
}
