package schema

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// FieldKind is the declared storage kind of a field.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindText    FieldKind = "text" // large text, stored as a CLOB where the dialect distinguishes
	KindBoolean FieldKind = "boolean"
	KindLong    FieldKind = "long"
	KindDouble  FieldKind = "double"
	KindDate    FieldKind = "date"
	KindBinary  FieldKind = "binary" // reference to an external blob, stored as its digest
)

var validKinds = map[FieldKind]bool{
	KindString: true, KindText: true, KindBoolean: true, KindLong: true,
	KindDouble: true, KindDate: true, KindBinary: true,
}

// ParseFieldKind parses a kind name such as "string" or "date[]".
// The "[]" suffix marks an array field.
func ParseFieldKind(s string) (FieldKind, bool, error) {
	array := strings.HasSuffix(s, "[]")
	kind := FieldKind(strings.TrimSuffix(s, "[]"))
	if !validKinds[kind] {
		return "", false, fmt.Errorf("unknown field kind %q", s)
	}
	return kind, array, nil
}

// Field is one declared field of a schema.
type Field struct {
	Name  string
	Kind  FieldKind
	Array bool
}

// String renders the field kind the way it is declared.
func (f Field) String() string {
	if f.Array {
		return string(f.Kind) + "[]"
	}
	return string(f.Kind)
}

// Schema is a named group of fields sharing a property prefix.
type Schema struct {
	Name   string
	Prefix string
	Fields []Field
}

// PropertyName returns the prefixed property name of a field, e.g. "dc:title".
func (s *Schema) PropertyName(f Field) string {
	if s.Prefix == "" {
		return f.Name
	}
	return s.Prefix + ":" + f.Name
}

// FacetOrderable marks types whose regular children keep an explicit order.
const FacetOrderable = "Orderable"

// DocumentType declares a type, its super type and its own schemas.
type DocumentType struct {
	Name    string
	Super   string
	Schemas []string
	Facets  []string
}

// Registry is an ordered collection of schemas and document types.
// Iteration order is declaration order.
type Registry struct {
	schemas     map[string]*Schema
	schemaOrder []string
	types       map[string]*DocumentType
	typeOrder   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
		types:   make(map[string]*DocumentType),
	}
}

// AddSchema declares a schema. Names must be unique.
func (r *Registry) AddSchema(name, prefix string, fields ...Field) error {
	if name == "" {
		return fmt.Errorf("schema name is required")
	}
	if _, ok := r.schemas[name]; ok {
		return fmt.Errorf("duplicate schema %q", name)
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q: field name is required", name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %q: duplicate field %q", name, f.Name)
		}
		if !validKinds[f.Kind] {
			return fmt.Errorf("schema %q: field %q: unknown kind %q", name, f.Name, f.Kind)
		}
		seen[f.Name] = true
	}
	r.schemas[name] = &Schema{Name: name, Prefix: prefix, Fields: append([]Field(nil), fields...)}
	r.schemaOrder = append(r.schemaOrder, name)
	return nil
}

// AddType declares a document type. The super type and schemas are
// resolved by Validate, so declaration order does not matter.
func (r *Registry) AddType(name, super string, schemas ...string) error {
	if name == "" {
		return fmt.Errorf("type name is required")
	}
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("duplicate type %q", name)
	}
	r.types[name] = &DocumentType{Name: name, Super: super, Schemas: append([]string(nil), schemas...)}
	r.typeOrder = append(r.typeOrder, name)
	return nil
}

// AddFacets attaches facets to a declared type.
func (r *Registry) AddFacets(name string, facets ...string) error {
	t, ok := r.types[name]
	if !ok {
		return fmt.Errorf("unknown type %q", name)
	}
	t.Facets = append(t.Facets, facets...)
	return nil
}

// HasFacet reports whether the type or one of its super types carries the facet.
func (r *Registry) HasFacet(name, facet string) bool {
	seen := make(map[string]bool)
	for name != "" && !seen[name] {
		seen[name] = true
		t, ok := r.types[name]
		if !ok {
			return false
		}
		for _, f := range t.Facets {
			if f == facet {
				return true
			}
		}
		name = t.Super
	}
	return false
}

// Schema returns the schema with the given name.
func (r *Registry) Schema(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Type returns the document type with the given name.
func (r *Registry) Type(name string) (*DocumentType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Schemas returns all schemas in declaration order.
func (r *Registry) Schemas() []*Schema {
	out := make([]*Schema, 0, len(r.schemaOrder))
	for _, name := range r.schemaOrder {
		out = append(out, r.schemas[name])
	}
	return out
}

// Types returns all document types in declaration order.
func (r *Registry) Types() []*DocumentType {
	out := make([]*DocumentType, 0, len(r.typeOrder))
	for _, name := range r.typeOrder {
		out = append(out, r.types[name])
	}
	return out
}

// SubTypes returns the type itself followed by all its transitive subtypes,
// in declaration order. Returns nil for an unknown type.
func (r *Registry) SubTypes(name string) []string {
	if _, ok := r.types[name]; !ok {
		return nil
	}
	var out []string
	for _, candidate := range r.typeOrder {
		if r.isSubTypeOf(candidate, name) {
			out = append(out, candidate)
		}
	}
	return out
}

func (r *Registry) isSubTypeOf(name, ancestor string) bool {
	seen := make(map[string]bool)
	for name != "" && !seen[name] {
		if name == ancestor {
			return true
		}
		seen[name] = true
		t, ok := r.types[name]
		if !ok {
			return false
		}
		name = t.Super
	}
	return false
}

// TypeSchemas returns the schemas of a type including inherited ones,
// super types first, without duplicates.
func (r *Registry) TypeSchemas(name string) []string {
	var chain []*DocumentType
	seen := make(map[string]bool)
	for name != "" && !seen[name] {
		seen[name] = true
		t, ok := r.types[name]
		if !ok {
			break
		}
		chain = append(chain, t)
		name = t.Super
	}
	var out []string
	added := make(map[string]bool)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, s := range chain[i].Schemas {
			if !added[s] {
				added[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Validate checks cross references: super types and schemas must exist,
// the type graph must be acyclic and property names must be unique across
// schemas. All problems are reported together.
func (r *Registry) Validate() error {
	var result *multierror.Error

	props := make(map[string]string)
	for _, s := range r.Schemas() {
		for _, f := range s.Fields {
			prop := s.PropertyName(f)
			if owner, ok := props[prop]; ok {
				result = multierror.Append(result, fmt.Errorf("property %q declared by schemas %q and %q", prop, owner, s.Name))
				continue
			}
			props[prop] = s.Name
		}
	}

	for _, t := range r.Types() {
		if t.Super != "" {
			if _, ok := r.types[t.Super]; !ok {
				result = multierror.Append(result, fmt.Errorf("type %q: unknown super type %q", t.Name, t.Super))
			}
		}
		for _, s := range t.Schemas {
			if _, ok := r.schemas[s]; !ok {
				result = multierror.Append(result, fmt.Errorf("type %q: unknown schema %q", t.Name, s))
			}
		}
		if r.hasCycle(t.Name) {
			result = multierror.Append(result, fmt.Errorf("type %q: super type cycle", t.Name))
		}
	}

	return result.ErrorOrNil()
}

func (r *Registry) hasCycle(name string) bool {
	seen := make(map[string]bool)
	for name != "" {
		if seen[name] {
			return true
		}
		seen[name] = true
		t, ok := r.types[name]
		if !ok {
			return false
		}
		name = t.Super
	}
	return false
}
