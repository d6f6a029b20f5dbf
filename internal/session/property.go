package session

import (
	"context"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/persist"
	"github.com/roach88/fragstore/internal/storage"
)

// Property is one property of a node. Scalars live in a column of the
// schema table, arrays in a collection table of their own.
type Property struct {
	node *Node
	info *model.PropertyInfo
}

// Name returns the prefixed property name.
func (p *Property) Name() string { return p.info.Name }

// IsArray reports whether the property holds a list.
func (p *Property) IsArray() bool { return p.info.Type.Array }

// IsReadOnly reports whether only the engine writes the property.
func (p *Property) IsReadOnly() bool { return p.info.ReadOnly }

func (p *Property) fragment(ctx context.Context) (*persist.Fragment, error) {
	hier, err := p.node.hierarchy(ctx)
	if err != nil {
		return nil, err
	}
	if p.info.Table == model.HierTableName {
		return hier, nil
	}
	c, err := p.node.s.pc.Context(p.info.Table)
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, hier.ID())
}

// Value returns the stored value: nil for an unset scalar, an empty slice
// for an unset array.
func (p *Property) Value(ctx context.Context) (any, error) {
	if p.info.Name == model.PropUUID {
		hier, err := p.node.hierarchy(ctx)
		if err != nil {
			return nil, err
		}
		return hier.ID(), nil
	}
	f, err := p.fragment(ctx)
	if err != nil {
		return nil, err
	}
	if p.info.Type.Array {
		return f.Array()
	}
	return f.Get(p.info.Key)
}

// SetValue normalizes and writes a value. Strings are stored NFC
// normalized; arrays accept typed slices.
func (p *Property) SetValue(ctx context.Context, value any) error {
	if p.info.ReadOnly {
		return storage.NewStateError("property %s is read-only", p.info.Name)
	}
	f, err := p.fragment(ctx)
	if err != nil {
		return err
	}
	if p.info.Type.Array {
		items, err := p.info.Type.Kind.NormalizeArray(value)
		if err != nil {
			return err
		}
		return f.SetArray(items)
	}
	v, err := p.info.Type.Kind.Normalize(value)
	if err != nil {
		return err
	}
	return f.Put(p.info.Key, v)
}
