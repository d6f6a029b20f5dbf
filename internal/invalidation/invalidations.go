package invalidation

import (
	"sort"

	"github.com/roach88/fragstore/internal/model"
)

// IDSet is an unordered set of node ids.
type IDSet map[any]struct{}

// Add inserts an id.
func (s IDSet) Add(id model.ID) { s[id] = struct{}{} }

// Has reports whether the id is present.
func (s IDSet) Has(id model.ID) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the ids sorted by their string form, for stable logs and tests.
func (s IDSet) IDs() []model.ID {
	out := make([]model.ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return model.FormatID(out[i]) < model.FormatID(out[j])
	})
	return out
}

// Invalidations lists what a transaction changed.
type Invalidations struct {
	// Modified holds ids created or updated, per table.
	Modified map[string]IDSet
	// Deleted holds ids deleted, per table.
	Deleted map[string]IDSet
	// Parents holds ids whose set of children changed.
	Parents IDSet
}

// New returns an empty set.
func New() *Invalidations {
	return &Invalidations{
		Modified: make(map[string]IDSet),
		Deleted:  make(map[string]IDSet),
		Parents:  make(IDSet),
	}
}

// AddModified records a created or updated row.
func (inv *Invalidations) AddModified(table string, id model.ID) {
	addTo(inv.Modified, table, id)
}

// AddDeleted records a deleted row.
func (inv *Invalidations) AddDeleted(table string, id model.ID) {
	addTo(inv.Deleted, table, id)
}

// AddParent records a parent whose children changed.
func (inv *Invalidations) AddParent(id model.ID) {
	inv.Parents.Add(id)
}

func addTo(m map[string]IDSet, table string, id model.ID) {
	s, ok := m[table]
	if !ok {
		s = make(IDSet)
		m[table] = s
	}
	s.Add(id)
}

// Merge adds every id of other.
func (inv *Invalidations) Merge(other *Invalidations) {
	if other == nil {
		return
	}
	for table, ids := range other.Modified {
		for id := range ids {
			inv.AddModified(table, id)
		}
	}
	for table, ids := range other.Deleted {
		for id := range ids {
			inv.AddDeleted(table, id)
		}
	}
	for id := range other.Parents {
		inv.AddParent(id)
	}
}

// IsEmpty reports whether nothing was recorded.
func (inv *Invalidations) IsEmpty() bool {
	if inv == nil {
		return true
	}
	for _, ids := range inv.Modified {
		if len(ids) > 0 {
			return false
		}
	}
	for _, ids := range inv.Deleted {
		if len(ids) > 0 {
			return false
		}
	}
	return len(inv.Parents) == 0
}

// Count returns the number of recorded (table, id) pairs and parents.
func (inv *Invalidations) Count() int {
	if inv == nil {
		return 0
	}
	n := len(inv.Parents)
	for _, ids := range inv.Modified {
		n += len(ids)
	}
	for _, ids := range inv.Deleted {
		n += len(ids)
	}
	return n
}
