package sqlinfo

import (
	"fmt"
	"strings"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/storage"
)

// Column is a physical column.
type Column struct {
	Table string
	Key   string
	Type  model.PropertyType
	// Identity columns are assigned by the store on insert.
	Identity bool
}

// Statement is an executable SQL text with its bind and result shapes.
type Statement struct {
	SQL    string
	Bind   []*Column
	Result []*Column
}

// BindKeys returns the keys of the bound columns, in order.
func (s *Statement) BindKeys() []string {
	keys := make([]string, len(s.Bind))
	for i, c := range s.Bind {
		keys[i] = c.Key
	}
	return keys
}

// ChildFlavor selects which hierarchy children a lookup considers.
type ChildFlavor int

const (
	AnyChild ChildFlavor = iota
	RegularChild
	PropertyChild
)

// FlavorOf maps the complex-property flag to a flavor.
func FlavorOf(complexProp bool) ChildFlavor {
	if complexProp {
		return PropertyChild
	}
	return RegularChild
}

// Table holds the precomputed shape and statements of one table.
type Table struct {
	Info    *model.TableInfo
	ID      *Column
	Columns []*Column
	DDL     string

	selectByID    *Statement
	insert        *Statement
	update        *Statement
	delete        *Statement
	copy          *Statement
	identityFetch *Statement
}

// Name returns the table name.
func (t *Table) Name() string { return t.Info.Name }

// Column returns the non-id column with the given key.
func (t *Table) Column(key string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return nil, false
}

// SelectByID reads a row, or for collections the ordered items, of one id.
func (t *Table) SelectByID() *Statement { return t.selectByID }

// Insert writes one row. Collections insert one row per item.
func (t *Table) Insert() *Statement { return t.insert }

// Update rewrites all non-id columns. Nil for collections.
func (t *Table) Update() *Statement { return t.update }

// Delete removes every row of one id.
func (t *Table) Delete() *Statement { return t.delete }

// Copy duplicates the rows of one id under another id. When the id is
// store-assigned the new id is not bound and IdentityFetch must follow.
func (t *Table) Copy() *Statement { return t.copy }

// IdentityFetch reads the id assigned by the last insert. Nil unless the
// table has an identity column.
func (t *Table) IdentityFetch() *Statement { return t.identityFetch }

// SQLInfo is the immutable statement catalog of a model for one dialect.
type SQLInfo struct {
	model   *model.Model
	dialect Dialect

	tables map[string]*Table
	order  []string

	repoInfoDDL  string
	selectRootID *Statement
	insertRootID *Statement

	selectChildByName         [3]*Statement
	selectChildren            [3]*Statement
	selectChildrenIDsAndTypes *Statement
	copyHierarchy             *Statement
}

// New precomputes all statements for the model.
func New(m *model.Model, d Dialect) (*SQLInfo, error) {
	s := &SQLInfo{
		model:   m,
		dialect: d,
		tables:  make(map[string]*Table),
	}
	for _, ti := range m.Tables() {
		t := s.buildTable(ti)
		s.tables[ti.Name] = t
		s.order = append(s.order, ti.Name)
	}
	if _, ok := s.tables[model.HierTableName]; !ok {
		return nil, storage.NewConfigError("model has no %s table", model.HierTableName)
	}
	s.buildHierarchy()
	s.buildRepositoryInfo()
	return s, nil
}

// Model returns the model the catalog was built for.
func (s *SQLInfo) Model() *model.Model { return s.model }

// Dialect returns the target dialect.
func (s *SQLInfo) Dialect() Dialect { return s.dialect }

// Table returns the catalog entry of a table.
func (s *SQLInfo) Table(name string) (*Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, storage.NewConfigError("unknown table: %s", name)
	}
	return t, nil
}

// Tables returns every table in model order.
func (s *SQLInfo) Tables() []*Table {
	out := make([]*Table, len(s.order))
	for i, name := range s.order {
		out[i] = s.tables[name]
	}
	return out
}

// DDL returns the CREATE TABLE statements in dependency order.
func (s *SQLInfo) DDL() []string {
	out := make([]string, 0, len(s.order)+1)
	for _, t := range s.Tables() {
		out = append(out, t.DDL)
	}
	return append(out, s.repoInfoDDL)
}

// Quote quotes an identifier.
func (s *SQLInfo) Quote(name string) string {
	return s.dialect.QuoteIdentifier(name)
}

// QuoteColumn returns the qualified, quoted table.column reference.
func (s *SQLInfo) QuoteColumn(table, key string) string {
	return s.Quote(table) + "." + s.Quote(key)
}

// SelectChildByName finds children of a parent with a given name.
// Binds parent, name; returns id followed by the hierarchy columns.
func (s *SQLInfo) SelectChildByName(f ChildFlavor) *Statement { return s.selectChildByName[f] }

// SelectChildren lists children of a parent. Binds parent; returns id
// followed by the hierarchy columns.
func (s *SQLInfo) SelectChildren(f ChildFlavor) *Statement { return s.selectChildren[f] }

// SelectChildrenIDsAndTypes lists (id, primarytype) of all children of a parent.
func (s *SQLInfo) SelectChildrenIDsAndTypes() *Statement { return s.selectChildrenIDsAndTypes }

// CopyHierarchy duplicates a hierarchy row with a new parent, pos and name.
// Binds [id,] parent, pos, name, source id.
func (s *SQLInfo) CopyHierarchy() *Statement { return s.copyHierarchy }

// SelectRootID reads the root id of a repository. Binds repoid.
func (s *SQLInfo) SelectRootID() *Statement { return s.selectRootID }

// InsertRootID records the root id of a repository. Binds repoid, id.
func (s *SQLInfo) InsertRootID() *Statement { return s.insertRootID }

// UpdateColumns builds an update of a subset of columns, in table order.
func (s *SQLInfo) UpdateColumns(table string, keys []string) (*Statement, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	if t.Info.Collection {
		return nil, storage.NewStateError("partial update of collection table %s", table)
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := t.Column(k); !ok {
			return nil, storage.NewConfigError("unknown column %s.%s", table, k)
		}
		want[k] = true
	}
	var cols []*Column
	for _, c := range t.Columns {
		if want[c.Key] {
			cols = append(cols, c)
		}
	}
	return s.updateStatement(t, cols), nil
}

func (s *SQLInfo) storeAssigned() bool {
	return s.model.IsStoreAssigned()
}

func (s *SQLInfo) buildTable(ti *model.TableInfo) *Table {
	t := &Table{
		Info: ti,
		ID: &Column{
			Table:    ti.Name,
			Key:      model.MainKey,
			Type:     model.PropertyType{Kind: model.KindID},
			Identity: ti.Identity,
		},
	}
	if ti.Collection {
		t.Columns = []*Column{
			{Table: ti.Name, Key: model.CollTablePosKey, Type: model.PropertyType{Kind: model.KindLong}},
			{Table: ti.Name, Key: model.CollTableValueKey, Type: ti.ItemType},
		}
		s.buildCollection(t)
	} else {
		for _, ci := range ti.Columns {
			t.Columns = append(t.Columns, &Column{Table: ti.Name, Key: ci.Key, Type: ci.Type})
		}
		s.buildScalar(t)
	}
	t.DDL = s.createTable(t)
	return t
}

func (s *SQLInfo) buildScalar(t *Table) {
	name := s.Quote(t.Name())
	cols := t.Columns

	t.selectByID = &Statement{
		SQL:    s.dialect.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", s.columnList(cols), name, s.Quote(model.MainKey))),
		Bind:   []*Column{t.ID},
		Result: cols,
	}

	insertCols := cols
	if !t.ID.Identity {
		insertCols = append([]*Column{t.ID}, cols...)
	}
	t.insert = &Statement{
		SQL:  s.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", name, s.columnList(insertCols), placeholders(len(insertCols)))),
		Bind: insertCols,
	}

	t.update = s.updateStatement(t, cols)

	t.delete = &Statement{
		SQL:  s.dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", name, s.Quote(model.MainKey))),
		Bind: []*Column{t.ID},
	}

	if t.ID.Identity {
		t.copy = &Statement{
			SQL: s.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s = ?",
				name, s.columnList(cols), s.columnList(cols), name, s.Quote(model.MainKey))),
			Bind: []*Column{t.ID},
		}
		t.identityFetch = &Statement{
			SQL:    s.dialect.IdentityFetch(t.Name(), model.MainKey),
			Result: []*Column{t.ID},
		}
	} else {
		t.copy = &Statement{
			SQL: s.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s) SELECT ?, %s FROM %s WHERE %s = ?",
				name, s.columnList(insertCols), s.columnList(cols), name, s.Quote(model.MainKey))),
			Bind: []*Column{t.ID, t.ID},
		}
	}
}

func (s *SQLInfo) updateStatement(t *Table, cols []*Column) *Statement {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = s.Quote(c.Key) + " = ?"
	}
	bind := append(append([]*Column(nil), cols...), t.ID)
	return &Statement{
		SQL: s.dialect.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
			s.Quote(t.Name()), strings.Join(sets, ", "), s.Quote(model.MainKey))),
		Bind: bind,
	}
}

func (s *SQLInfo) buildCollection(t *Table) {
	name := s.Quote(t.Name())
	pos, item := t.Columns[0], t.Columns[1]
	all := []*Column{t.ID, pos, item}

	t.selectByID = &Statement{
		SQL: s.dialect.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
			s.Quote(item.Key), name, s.Quote(model.MainKey), s.Quote(pos.Key))),
		Bind:   []*Column{t.ID},
		Result: []*Column{item},
	}
	t.insert = &Statement{
		SQL:  s.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?)", name, s.columnList(all))),
		Bind: all,
	}
	t.delete = &Statement{
		SQL:  s.dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", name, s.Quote(model.MainKey))),
		Bind: []*Column{t.ID},
	}
	t.copy = &Statement{
		SQL: s.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s) SELECT ?, %s FROM %s WHERE %s = ?",
			name, s.columnList(all), s.columnList([]*Column{pos, item}), name, s.Quote(model.MainKey))),
		Bind: []*Column{t.ID, t.ID},
	}
}

func (s *SQLInfo) buildHierarchy() {
	hier := s.tables[model.HierTableName]
	name := s.Quote(hier.Name())
	parent, _ := hier.Column(model.HierParentKey)
	childName, _ := hier.Column(model.HierChildNameKey)
	pos, _ := hier.Column(model.HierChildPosKey)
	result := append([]*Column{hier.ID}, hier.Columns...)
	selectList := s.columnList(result)

	flavorClause := func(f ChildFlavor) string {
		switch f {
		case RegularChild:
			return fmt.Sprintf(" AND %s = %s", s.Quote(model.HierChildIsPropertyKey), s.dialect.BooleanLiteral(false))
		case PropertyChild:
			return fmt.Sprintf(" AND %s = %s", s.Quote(model.HierChildIsPropertyKey), s.dialect.BooleanLiteral(true))
		default:
			return ""
		}
	}

	for _, f := range []ChildFlavor{AnyChild, RegularChild, PropertyChild} {
		s.selectChildByName[f] = &Statement{
			SQL: s.dialect.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND %s = ?%s",
				selectList, name, s.Quote(parent.Key), s.Quote(childName.Key), flavorClause(f))),
			Bind:   []*Column{parent, childName},
			Result: result,
		}
		s.selectChildren[f] = &Statement{
			SQL: s.dialect.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?%s",
				selectList, name, s.Quote(parent.Key), flavorClause(f))),
			Bind:   []*Column{parent},
			Result: result,
		}
	}

	if s.model.IsSeparateMainTable() {
		main := s.tables[model.MainTableName]
		primaryType, _ := main.Column(model.MainPrimaryTypeKey)
		s.selectChildrenIDsAndTypes = &Statement{
			SQL: s.dialect.Rebind(fmt.Sprintf("SELECT %s, %s FROM %s JOIN %s ON %s = %s WHERE %s = ?",
				s.QuoteColumn(hier.Name(), model.MainKey),
				s.QuoteColumn(main.Name(), model.MainPrimaryTypeKey),
				name, s.Quote(main.Name()),
				s.QuoteColumn(hier.Name(), model.MainKey), s.QuoteColumn(main.Name(), model.MainKey),
				s.QuoteColumn(hier.Name(), model.HierParentKey))),
			Bind:   []*Column{parent},
			Result: []*Column{hier.ID, primaryType},
		}
	} else {
		primaryType, _ := hier.Column(model.MainPrimaryTypeKey)
		s.selectChildrenIDsAndTypes = &Statement{
			SQL: s.dialect.Rebind(fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = ?",
				s.Quote(model.MainKey), s.Quote(model.MainPrimaryTypeKey), name, s.Quote(parent.Key))),
			Bind:   []*Column{parent},
			Result: []*Column{hier.ID, primaryType},
		}
	}

	// Every column except the overridden parent, pos and name is carried over.
	var carried []*Column
	for _, c := range hier.Columns {
		if c != parent && c != pos && c != childName {
			carried = append(carried, c)
		}
	}
	targets := append([]*Column{parent, pos, childName}, carried...)
	sources := "?, ?, ?"
	if len(carried) > 0 {
		sources += ", " + s.columnList(carried)
	}
	bind := []*Column{parent, pos, childName, hier.ID}
	if !hier.ID.Identity {
		targets = append([]*Column{hier.ID}, targets...)
		sources = "?, " + sources
		bind = append([]*Column{hier.ID}, bind...)
	}
	s.copyHierarchy = &Statement{
		SQL: s.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s = ?",
			name, s.columnList(targets), sources, name, s.Quote(model.MainKey))),
		Bind: bind,
	}
}

func (s *SQLInfo) buildRepositoryInfo() {
	name := s.Quote(model.RepoInfoTableName)
	repoID := &Column{Table: model.RepoInfoTableName, Key: model.RepoInfoRepoIDKey, Type: model.PropertyType{Kind: model.KindString}}
	rootID := &Column{Table: model.RepoInfoTableName, Key: model.MainKey, Type: model.PropertyType{Kind: model.KindID}}

	s.repoInfoDDL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s NOT NULL PRIMARY KEY, %s %s)",
		name,
		s.Quote(repoID.Key), s.dialect.ColumnType(repoID.Type),
		s.Quote(rootID.Key), s.dialect.IDColumnType(s.storeAssigned()))
	s.selectRootID = &Statement{
		SQL:    s.dialect.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", s.Quote(rootID.Key), name, s.Quote(repoID.Key))),
		Bind:   []*Column{repoID},
		Result: []*Column{rootID},
	}
	s.insertRootID = &Statement{
		SQL:  s.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", name, s.Quote(repoID.Key), s.Quote(rootID.Key))),
		Bind: []*Column{repoID, rootID},
	}
}

func (s *SQLInfo) createTable(t *Table) string {
	var defs []string
	switch {
	case t.ID.Identity:
		defs = append(defs, s.dialect.IdentityColumn(s.Quote(t.ID.Key)))
	case t.Info.Collection:
		defs = append(defs, fmt.Sprintf("%s %s NOT NULL", s.Quote(t.ID.Key), s.dialect.IDColumnType(s.storeAssigned())))
	default:
		defs = append(defs, fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", s.Quote(t.ID.Key), s.dialect.IDColumnType(s.storeAssigned())))
	}
	for _, c := range t.Columns {
		def := s.Quote(c.Key) + " " + s.columnType(c)
		if t.Info.Collection && c.Key == model.CollTablePosKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	main := s.model.MainTableName()
	if t.Name() != main {
		defs = append(defs, s.foreignKey(model.MainKey, main))
	}
	if t.Name() == model.HierTableName {
		defs = append(defs, s.foreignKey(model.HierParentKey, model.HierTableName))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.Quote(t.Name()), strings.Join(defs, ", "))
}

func (s *SQLInfo) foreignKey(column, target string) string {
	return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE",
		s.Quote(column), s.Quote(target), s.Quote(model.MainKey))
}

func (s *SQLInfo) columnType(c *Column) string {
	if c.Type.Kind == model.KindID {
		return s.dialect.IDColumnType(s.storeAssigned())
	}
	return s.dialect.ColumnType(c.Type)
}

func (s *SQLInfo) columnList(cols []*Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = s.Quote(c.Key)
	}
	return strings.Join(names, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
