package model

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDPolicy selects how node ids are minted.
type IDPolicy string

const (
	// IDPolicyAppUUID generates final UUID ids in the application.
	IDPolicyAppUUID IDPolicy = "app_uuid"
	// IDPolicyDBIdentity lets the store assign int64 ids on insert.
	IDPolicyDBIdentity IDPolicy = "db_identity"
)

// TemporaryIDPrefix starts every temporary id.
const TemporaryIDPrefix = "T"

// IDGenerator mints new node ids.
type IDGenerator interface {
	NewID() ID
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a hyphenated UUIDv7 string.
func (UUIDv7Generator) NewID() ID {
	return uuid.Must(uuid.NewV7()).String()
}

// TemporaryIDGenerator mints "T1", "T2", ... placeholders replaced at save
// by the store-assigned id.
type TemporaryIDGenerator struct {
	next atomic.Int64
}

// NewID returns the next temporary id.
func (g *TemporaryIDGenerator) NewID() ID {
	return TemporaryIDPrefix + strconv.FormatInt(g.next.Add(1), 10)
}

// FixedGenerator returns predetermined ids for tests.
//
// Panics once all ids have been consumed.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator returning ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined id.
func (g *FixedGenerator) NewID() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// IsTemporaryID reports whether id is a placeholder awaiting a store id.
func IsTemporaryID(id ID) bool {
	s, ok := id.(string)
	if !ok || len(s) < 2 || !strings.HasPrefix(s, TemporaryIDPrefix) {
		return false
	}
	_, err := strconv.ParseInt(s[1:], 10, 64)
	return err == nil
}
