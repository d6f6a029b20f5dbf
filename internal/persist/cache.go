package persist

import (
	"fmt"
	"weak"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/roach88/fragstore/internal/model"
)

// DefaultCacheCapacity bounds the pristine fragments kept per table.
const DefaultCacheCapacity = 10000

// pristineCache holds fragments matching the store. The ristretto cache
// keeps recently used fragments alive and may drop any of them. Fragments
// still referenced by a caller stay reachable through live, so a dropped
// entry is never fetched twice or missed by an invalidation.
type pristineCache struct {
	c    *ristretto.Cache[string, *Fragment]
	live map[string]weak.Pointer[Fragment]

	// live is swept of collected entries once it reaches sweepAt.
	sweepAt  int
	minSweep int
}

func newPristineCache(capacity int64) (*pristineCache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *Fragment]{
		NumCounters:        capacity * 10,
		MaxCost:            capacity,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create pristine cache: %w", err)
	}
	minSweep := int(min(capacity*2, 1<<16))
	return &pristineCache{
		c:        c,
		live:     make(map[string]weak.Pointer[Fragment]),
		sweepAt:  minSweep,
		minSweep: minSweep,
	}, nil
}

// cacheKey keeps string and int64 ids apart.
func cacheKey(id model.ID) string {
	switch v := id.(type) {
	case string:
		return "s:" + v
	default:
		return "i:" + model.FormatID(v)
	}
}

func (p *pristineCache) get(id model.ID) (*Fragment, bool) {
	key := cacheKey(id)
	if f, ok := p.c.Get(key); ok && f != nil {
		return f, true
	}
	wp, ok := p.live[key]
	if !ok {
		return nil, false
	}
	f := wp.Value()
	if f == nil {
		delete(p.live, key)
		return nil, false
	}
	return f, true
}

// put makes the fragment visible to the next get.
func (p *pristineCache) put(f *Fragment) {
	key := cacheKey(f.id)
	p.c.Set(key, f, 1)
	p.c.Wait()
	p.live[key] = weak.Make(f)
	if len(p.live) >= p.sweepAt {
		p.sweep()
	}
}

// sweep forgets fragments the garbage collector reclaimed.
func (p *pristineCache) sweep() {
	for key, wp := range p.live {
		if wp.Value() == nil {
			delete(p.live, key)
		}
	}
	p.sweepAt = max(2*len(p.live), p.minSweep)
}

func (p *pristineCache) remove(id model.ID) {
	key := cacheKey(id)
	p.c.Del(key)
	delete(p.live, key)
}

func (p *pristineCache) clear() {
	p.c.Clear()
	clear(p.live)
	p.sweepAt = p.minSweep
}

func (p *pristineCache) close() {
	p.c.Close()
}

// fragmentList is an insertion-ordered id to fragment map.
type fragmentList struct {
	order []model.ID
	byID  map[any]*Fragment
}

func newFragmentList() *fragmentList {
	return &fragmentList{byID: make(map[any]*Fragment)}
}

func (l *fragmentList) get(id model.ID) (*Fragment, bool) {
	f, ok := l.byID[id]
	return f, ok
}

func (l *fragmentList) add(f *Fragment) {
	if _, ok := l.byID[f.id]; !ok {
		l.order = append(l.order, f.id)
	}
	l.byID[f.id] = f
}

func (l *fragmentList) remove(id model.ID) {
	if _, ok := l.byID[id]; !ok {
		return
	}
	delete(l.byID, id)
	for i, o := range l.order {
		if o == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// fragments returns a snapshot in insertion order.
func (l *fragmentList) fragments() []*Fragment {
	out := make([]*Fragment, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

func (l *fragmentList) len() int {
	return len(l.order)
}

func (l *fragmentList) clear() {
	l.order = nil
	l.byID = make(map[any]*Fragment)
}
