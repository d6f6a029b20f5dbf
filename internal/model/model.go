package model

import (
	"fmt"
	"strings"

	"github.com/roach88/fragstore/internal/schema"
	"github.com/roach88/fragstore/internal/storage"
)

// Layout names and keys.
const (
	RootType = "Root"

	MainKey       = "id"
	MainTableName = "types"
	HierTableName = "hierarchy"

	HierParentKey          = "parent"
	HierChildNameKey       = "name"
	HierChildPosKey        = "pos"
	HierChildIsPropertyKey = "isproperty"

	MainPrimaryTypeKey = "primarytype"

	CollTablePosKey   = "pos"
	CollTableValueKey = "item"

	RepoInfoTableName = "repositoryinfo"
	RepoInfoRepoIDKey = "repoid"
)

// System properties addressable by queries and node accessors.
const (
	PropUUID        = "ecm:uuid"
	PropParentID    = "ecm:parentId"
	PropName        = "ecm:name"
	PropPos         = "ecm:pos"
	PropIsProperty  = "ecm:isProperty"
	PropPrimaryType = "ecm:primaryType"
)

// Config holds the per-repository layout options.
type Config struct {
	IDPolicy          IDPolicy
	SeparateMainTable bool
}

// ColumnInfo describes a non-id column of a scalar table.
type ColumnInfo struct {
	Key  string
	Type PropertyType
	// Ref marks columns holding another node's id, remapped at save.
	Ref bool
}

// TableInfo describes one fragment table.
type TableInfo struct {
	Name string
	// Collection tables hold one ordered array per id.
	Collection bool
	// Columns excludes the id column. Empty for collection tables.
	Columns []ColumnInfo
	// ItemType is the element type of a collection table.
	ItemType PropertyType
	// Identity is set when the store assigns the id on insert.
	Identity bool
	// Schema is the owning schema, empty for structural tables.
	Schema string
}

// Column returns the column with the given key.
func (t *TableInfo) Column(key string) (ColumnInfo, bool) {
	for _, c := range t.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// Keys returns the column keys in table order.
func (t *TableInfo) Keys() []string {
	keys := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		keys[i] = c.Key
	}
	return keys
}

// PropertyInfo locates a property.
type PropertyInfo struct {
	Name  string
	Table string
	Key   string
	Type  PropertyType
	// ReadOnly properties are maintained by the engine itself.
	ReadOnly bool
}

// Model is the read-only logical to physical mapping.
type Model struct {
	cfg      Config
	registry *schema.Registry
	idGen    IDGenerator

	tables     map[string]*TableInfo
	tableOrder []string

	props         map[string]*PropertyInfo
	typeFragments map[string][]string
}

// Option configures a Model.
type Option func(*Model)

// WithIDGenerator overrides the id generator implied by the id policy.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Model) {
		m.idGen = g
	}
}

// New builds the model for a validated registry. The Root type is added
// to the registry if it does not declare one.
func New(reg *schema.Registry, cfg Config, opts ...Option) (*Model, error) {
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}
	switch cfg.IDPolicy {
	case "":
		cfg.IDPolicy = IDPolicyAppUUID
	case IDPolicyAppUUID, IDPolicyDBIdentity:
	default:
		return nil, storage.NewConfigError("unknown id policy %q", cfg.IDPolicy)
	}
	if _, ok := reg.Type(RootType); !ok {
		if err := reg.AddType(RootType, ""); err != nil {
			return nil, fmt.Errorf("declare root type: %w", err)
		}
	}

	m := &Model{
		cfg:           cfg,
		registry:      reg,
		tables:        make(map[string]*TableInfo),
		props:         make(map[string]*PropertyInfo),
		typeFragments: make(map[string][]string),
	}
	if cfg.IDPolicy == IDPolicyDBIdentity {
		m.idGen = &TemporaryIDGenerator{}
	} else {
		m.idGen = UUIDv7Generator{}
	}
	for _, opt := range opts {
		opt(m)
	}

	identity := cfg.IDPolicy == IDPolicyDBIdentity
	idType := PropertyType{Kind: KindID}

	hier := &TableInfo{
		Name: HierTableName,
		Columns: []ColumnInfo{
			{Key: HierParentKey, Type: idType, Ref: true},
			{Key: HierChildPosKey, Type: PropertyType{Kind: KindLong}},
			{Key: HierChildNameKey, Type: PropertyType{Kind: KindString}},
			{Key: HierChildIsPropertyKey, Type: PropertyType{Kind: KindBoolean}},
		},
	}
	primaryType := ColumnInfo{Key: MainPrimaryTypeKey, Type: PropertyType{Kind: KindString}}
	if cfg.SeparateMainTable {
		m.addTable(&TableInfo{Name: MainTableName, Columns: []ColumnInfo{primaryType}, Identity: identity})
	} else {
		hier.Columns = append(hier.Columns, primaryType)
		hier.Identity = identity
	}
	m.addTable(hier)

	for _, s := range reg.Schemas() {
		if err := m.addSchema(s); err != nil {
			return nil, err
		}
	}

	for _, t := range reg.Types() {
		var frags []string
		for _, sname := range reg.TypeSchemas(t.Name) {
			frags = append(frags, m.schemaTables(sname)...)
		}
		m.typeFragments[t.Name] = frags
	}

	m.addSystemProperties()
	return m, nil
}

func (m *Model) addTable(t *TableInfo) {
	m.tables[t.Name] = t
	m.tableOrder = append(m.tableOrder, t.Name)
}

func (m *Model) addSchema(s *schema.Schema) error {
	var scalar []ColumnInfo
	var collections []*TableInfo
	for _, f := range s.Fields {
		prop := s.PropertyName(f)
		pt := typeOf(f)
		if f.Array {
			name := CollectionTableName(prop)
			collections = append(collections, &TableInfo{Name: name, Collection: true, ItemType: PropertyType{Kind: pt.Kind}, Schema: s.Name})
			m.props[prop] = &PropertyInfo{Name: prop, Table: name, Key: CollTableValueKey, Type: pt}
			continue
		}
		scalar = append(scalar, ColumnInfo{Key: f.Name, Type: pt})
		m.props[prop] = &PropertyInfo{Name: prop, Table: s.Name, Key: f.Name, Type: pt}
	}
	if len(scalar) > 0 {
		if err := m.checkFreeTable(s.Name); err != nil {
			return err
		}
		m.addTable(&TableInfo{Name: s.Name, Columns: scalar, Schema: s.Name})
	}
	for _, t := range collections {
		if err := m.checkFreeTable(t.Name); err != nil {
			return err
		}
		m.addTable(t)
	}
	return nil
}

func (m *Model) checkFreeTable(name string) error {
	if _, ok := m.tables[name]; ok || name == RepoInfoTableName {
		return storage.NewConfigError("table name %q is already in use", name)
	}
	return nil
}

// schemaTables lists the fragment tables owned by a schema, scalar table first.
func (m *Model) schemaTables(sname string) []string {
	var out []string
	for _, name := range m.tableOrder {
		if m.tables[name].Schema == sname {
			out = append(out, name)
		}
	}
	return out
}

func (m *Model) addSystemProperties() {
	main := m.MainTableName()
	sys := []PropertyInfo{
		{Name: PropUUID, Table: HierTableName, Key: MainKey, Type: PropertyType{Kind: KindID}},
		{Name: PropParentID, Table: HierTableName, Key: HierParentKey, Type: PropertyType{Kind: KindID}},
		{Name: PropName, Table: HierTableName, Key: HierChildNameKey, Type: PropertyType{Kind: KindString}},
		{Name: PropPos, Table: HierTableName, Key: HierChildPosKey, Type: PropertyType{Kind: KindLong}},
		{Name: PropIsProperty, Table: HierTableName, Key: HierChildIsPropertyKey, Type: PropertyType{Kind: KindBoolean}},
		{Name: PropPrimaryType, Table: main, Key: MainPrimaryTypeKey, Type: PropertyType{Kind: KindString}},
	}
	for i := range sys {
		sys[i].ReadOnly = true
		m.props[sys[i].Name] = &sys[i]
	}
}

// CollectionTableName derives the table name of an array property.
func CollectionTableName(prop string) string {
	return strings.ReplaceAll(prop, ":", "_")
}

// Config returns the layout options.
func (m *Model) Config() Config {
	return m.cfg
}

// Registry returns the schema registry the model was built from.
func (m *Model) Registry() *schema.Registry {
	return m.registry
}

// IsSeparateMainTable reports whether the type discriminator has its own table.
func (m *Model) IsSeparateMainTable() bool {
	return m.cfg.SeparateMainTable
}

// MainTableName returns the table saved first, which mints final ids.
func (m *Model) MainTableName() string {
	if m.cfg.SeparateMainTable {
		return MainTableName
	}
	return HierTableName
}

// Table returns the table with the given name.
func (m *Model) Table(name string) (*TableInfo, bool) {
	t, ok := m.tables[name]
	return t, ok
}

// Tables returns every fragment table, main table first.
func (m *Model) Tables() []*TableInfo {
	out := make([]*TableInfo, len(m.tableOrder))
	for i, name := range m.tableOrder {
		out[i] = m.tables[name]
	}
	return out
}

// Property resolves a property name. Unknown names are configuration errors.
func (m *Model) Property(name string) (*PropertyInfo, error) {
	p, ok := m.props[name]
	if !ok {
		return nil, storage.NewConfigError("unknown field: %s", name)
	}
	return p, nil
}

// HasType reports whether the type is declared.
func (m *Model) HasType(name string) bool {
	_, ok := m.registry.Type(name)
	return ok
}

// TypeFragments returns the schema and collection tables of a type,
// excluding the hierarchy and main tables.
func (m *Model) TypeFragments(typeName string) ([]string, error) {
	frags, ok := m.typeFragments[typeName]
	if !ok {
		return nil, storage.NewConfigError("unknown type: %s", typeName)
	}
	return frags, nil
}

// TypeHasProperty reports whether instances of the type carry the property.
func (m *Model) TypeHasProperty(typeName string, prop *PropertyInfo) bool {
	if prop.ReadOnly {
		return true
	}
	for _, t := range m.typeFragments[typeName] {
		if t == prop.Table {
			return true
		}
	}
	return false
}

// SubTypes expands a type to itself and all its subtypes, excluding Root.
func (m *Model) SubTypes(typeName string) ([]string, error) {
	subs := m.registry.SubTypes(typeName)
	if subs == nil {
		return nil, storage.NewConfigError("unknown type: %s", typeName)
	}
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		if s != RootType {
			out = append(out, s)
		}
	}
	return out, nil
}

// NewID mints an id according to the id policy.
func (m *Model) NewID() ID {
	return m.idGen.NewID()
}

// IsStoreAssigned reports whether final ids come from the store.
func (m *Model) IsStoreAssigned() bool {
	return m.cfg.IDPolicy == IDPolicyDBIdentity
}

// IsOrderable reports whether regular children of the type keep positions.
func (m *Model) IsOrderable(typeName string) bool {
	return m.registry.HasFacet(typeName, schema.FacetOrderable)
}
