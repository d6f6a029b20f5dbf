package session

import (
	"context"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/persist"
	"github.com/roach88/fragstore/internal/storage"
)

// Node is a document node: a hierarchy fragment plus the fragments of the
// schemas of its type, reached on demand.
type Node struct {
	s    *Session
	hier *persist.Fragment
	typ  string
}

// ID returns the node id. Under db_identity it changes once, at the first
// save of the node.
func (n *Node) ID() model.ID { return n.hier.ID() }

// Type returns the primary type.
func (n *Node) Type() string { return n.typ }

// hierarchy returns the current hierarchy fragment, fetching it again when
// a rollback or another session made the held one stale.
func (n *Node) hierarchy(ctx context.Context) (*persist.Fragment, error) {
	if err := n.s.checkOpen(); err != nil {
		return nil, err
	}
	f := n.hier
	if !f.IsCurrent() {
		var err error
		if f, err = n.s.pc.Hierarchy().Get(ctx, n.hier.ID()); err != nil {
			return nil, err
		}
		n.hier = f
	}
	switch {
	case f.State() == persist.StateDeleted:
		return nil, storage.NewStateError("node %s was removed", model.FormatID(f.ID()))
	case !isLive(f):
		return nil, storage.NewStateError("node %s does not exist", model.FormatID(f.ID()))
	}
	return f, nil
}

// Name returns the name of the node under its parent.
func (n *Node) Name(ctx context.Context) (string, error) {
	f, err := n.hierarchy(ctx)
	if err != nil {
		return "", err
	}
	return persist.ChildName(f), nil
}

// Pos returns the position under an orderable parent.
func (n *Node) Pos(ctx context.Context) (int64, bool, error) {
	f, err := n.hierarchy(ctx)
	if err != nil {
		return 0, false, err
	}
	pos, ok := persist.Pos(f).(int64)
	return pos, ok, nil
}

// IsComplexProperty reports whether the node is a complex property of its
// parent rather than a regular child.
func (n *Node) IsComplexProperty(ctx context.Context) (bool, error) {
	f, err := n.hierarchy(ctx)
	if err != nil {
		return false, err
	}
	return persist.IsComplexProperty(f), nil
}

// Property returns a property of the node's type.
func (n *Node) Property(name string) (*Property, error) {
	info, err := n.s.model().Property(name)
	if err != nil {
		return nil, err
	}
	if !n.s.model().TypeHasProperty(n.typ, info) {
		return nil, storage.NewConfigError("type %s has no property %s", n.typ, name)
	}
	return &Property{node: n, info: info}, nil
}

// GetValue returns the value of a property.
func (n *Node) GetValue(ctx context.Context, name string) (any, error) {
	p, err := n.Property(name)
	if err != nil {
		return nil, err
	}
	return p.Value(ctx)
}

// SetValue writes a property.
func (n *Node) SetValue(ctx context.Context, name string, value any) error {
	p, err := n.Property(name)
	if err != nil {
		return err
	}
	return p.SetValue(ctx, value)
}
