package persist

import (
	"context"

	"github.com/roach88/fragstore/internal/model"
)

// Mapper is the store access the contexts need. Reads return nil rows
// when nothing matches.
type Mapper interface {
	// ReadRow reads one scalar row, or the ordered items of a collection
	// (an empty array when there are none).
	ReadRow(ctx context.Context, table string, id model.ID) (*Row, error)
	// ReadChildByName reads the hierarchy row of a named child.
	ReadChildByName(ctx context.Context, parentID model.ID, name string, complexProp bool) (*Row, error)
	// ReadChildren reads the hierarchy rows of all children in one partition.
	ReadChildren(ctx context.Context, parentID model.ID, complexProp bool) ([]*Row, error)
	// InsertRow inserts a row or collection and returns the final id.
	InsertRow(ctx context.Context, table string, row *Row) (model.ID, error)
	// UpdateRow rewrites a row. A nil keys slice rewrites every column;
	// collections are always rewritten entirely.
	UpdateRow(ctx context.Context, table string, row *Row, keys []string) error
	// DeleteRow deletes every row of an id.
	DeleteRow(ctx context.Context, table string, id model.ID) error
	// CopyHierarchy duplicates a subtree under a new parent and returns the
	// id of the copy.
	CopyHierarchy(ctx context.Context, sourceID, parentID model.ID, name string, pos any) (model.ID, error)
}
