package persist

import (
	"context"
	"log/slog"

	"github.com/roach88/fragstore/internal/invalidation"
	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/storage"
)

type options struct {
	capacity       int64
	partialUpdates bool
	logger         *slog.Logger
}

// Option configures a PersistenceContext.
type Option func(*options)

// WithCacheCapacity bounds the pristine fragments kept per table.
func WithCacheCapacity(n int64) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithPartialUpdates makes updates write only the columns changed since the
// last save instead of the whole row.
func WithPartialUpdates(enabled bool) Option {
	return func(o *options) {
		o.partialUpdates = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// PersistenceContext holds one Context per table for one session and saves
// them together.
//
// Thread-safety: not safe for concurrent use. A session drives it from one
// goroutine at a time.
type PersistenceContext struct {
	model  *model.Model
	mapper Mapper
	opts   options
	logger *slog.Logger

	contexts map[string]*Context
	order    []string
	hier     *HierarchyContext

	// createdIDs holds ids generated since the last save.
	createdIDs invalidation.IDSet
	epoch      uint64
}

// New creates the contexts of every table of the model.
func New(m *model.Model, mapper Mapper, opts ...Option) (*PersistenceContext, error) {
	o := options{capacity: DefaultCacheCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	pc := &PersistenceContext{
		model:      m,
		mapper:     mapper,
		opts:       o,
		logger:     o.logger,
		contexts:   make(map[string]*Context),
		createdIDs: make(invalidation.IDSet),
	}
	for _, t := range m.Tables() {
		c, err := newContext(pc, t)
		if err != nil {
			pc.Close()
			return nil, err
		}
		pc.contexts[t.Name] = c
		pc.order = append(pc.order, t.Name)
		if t.Name == model.HierTableName {
			pc.hier = newHierarchyContext(c)
		}
	}
	return pc, nil
}

// Model returns the model.
func (pc *PersistenceContext) Model() *model.Model { return pc.model }

// Context returns the context of a table.
func (pc *PersistenceContext) Context(table string) (*Context, error) {
	c, ok := pc.contexts[table]
	if !ok {
		return nil, storage.NewConfigError("unknown table: %s", table)
	}
	return c, nil
}

// Hierarchy returns the hierarchy context.
func (pc *PersistenceContext) Hierarchy() *HierarchyContext { return pc.hier }

// Main returns the context saved first.
func (pc *PersistenceContext) Main() *Context {
	return pc.contexts[pc.model.MainTableName()]
}

// GenerateNewID mints an id for a new node.
func (pc *PersistenceContext) GenerateNewID() model.ID {
	id := pc.model.NewID()
	pc.createdIDs.Add(id)
	return id
}

// IsIDNew reports whether an id was generated in this session and not
// saved yet. Such ids are never looked up in the store.
func (pc *PersistenceContext) IsIDNew(id model.ID) bool {
	return model.IsTemporaryID(id) || pc.createdIDs.Has(id)
}

// HasPendingChanges reports whether a save would issue statements.
func (pc *PersistenceContext) HasPendingChanges() bool {
	for _, c := range pc.contexts {
		if c.pending() > 0 {
			return true
		}
	}
	return false
}

// Save writes every pending change: created rows of the main table first,
// in creation order, then every other table in table order. It returns the
// temporary to final id mapping of this save.
func (pc *PersistenceContext) Save(ctx context.Context) (map[model.ID]model.ID, error) {
	remap := make(map[model.ID]model.ID)
	if !pc.HasPendingChanges() {
		return remap, nil
	}

	counts := make(map[string]int)
	main := pc.Main()
	counts[main.Name()] = main.pending()
	if err := main.save(ctx, remap); err != nil {
		return nil, err
	}
	for _, name := range pc.order {
		c := pc.contexts[name]
		if c == main {
			continue
		}
		if n := c.pending(); n > 0 {
			counts[name] = n
		}
		if err := c.save(ctx, remap); err != nil {
			return nil, err
		}
	}
	pc.hier.afterSave(remap)
	pc.createdIDs = make(invalidation.IDSet)

	pc.logger.Debug("saved", "tables", counts, "remapped", len(remap))
	return remap, nil
}

// TakeInvalidations returns what was saved since the last call and resets
// the per-context records.
func (pc *PersistenceContext) TakeInvalidations() *invalidation.Invalidations {
	inv := invalidation.New()
	for _, name := range pc.order {
		pc.contexts[name].takeInvalidations(inv)
	}
	pc.hier.takeParents(inv)
	return inv
}

// ApplyInvalidations flags and evicts the fragments another session
// changed. Returns the number of fragments and parents affected.
func (pc *PersistenceContext) ApplyInvalidations(inv *invalidation.Invalidations) int {
	if inv.IsEmpty() {
		return 0
	}
	n := 0
	for table, ids := range inv.Modified {
		if c, ok := pc.contexts[table]; ok {
			n += c.invalidate(ids, false)
		}
	}
	for table, ids := range inv.Deleted {
		if c, ok := pc.contexts[table]; ok {
			n += c.invalidate(ids, true)
		}
	}
	n += pc.hier.dropParents(inv.Parents)
	pc.logger.Debug("invalidations applied", "received", inv.Count(), "affected", n)
	return n
}

// Rollback forgets every cached fragment and every unsaved change.
// Fragments handed out before are stale afterwards.
func (pc *PersistenceContext) Rollback() {
	pc.epoch++
	for _, c := range pc.contexts {
		c.clear()
	}
	if pc.hier != nil {
		pc.hier.clearChildren()
	}
	pc.createdIDs = make(invalidation.IDSet)
}

// Close detaches everything and releases the caches.
func (pc *PersistenceContext) Close() {
	pc.epoch++
	for _, c := range pc.contexts {
		c.close()
	}
	if pc.hier != nil {
		pc.hier.clearChildren()
	}
}
