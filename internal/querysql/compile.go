package querysql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/queryir"
	"github.com/roach88/fragstore/internal/sqlinfo"
	"github.com/roach88/fragstore/internal/storage"
)

// QueryMaker compiles document queries to parameterized SQL selecting
// hierarchy ids.
//
// Every query ends its ORDER BY with the hierarchy id so results are
// deterministic. Literal values are always bound, never interpolated.
type QueryMaker struct {
	info    *sqlinfo.SQLInfo
	model   *model.Model
	dialect sqlinfo.Dialect
}

// NewQueryMaker creates a QueryMaker over a statement catalog.
func NewQueryMaker(info *sqlinfo.SQLInfo) *QueryMaker {
	return &QueryMaker{
		info:    info,
		model:   info.Model(),
		dialect: info.Dialect(),
	}
}

// Compile converts a query to SQL for the catalog's dialect.
// Returns (sql, params, error) tuple.
//
// Every field is resolved before any SQL is built: an unknown type or field
// is a configuration error and no statement is produced.
func (m *QueryMaker) Compile(q *queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, storage.NewConfigError("cannot compile nil query")
	}
	if err := queryir.Validate(q); err != nil {
		return "", nil, storage.NewConfigError("invalid query: %v", err)
	}

	types, err := m.expandTypes(q.From)
	if err != nil {
		return "", nil, err
	}
	props, err := m.resolveFields(q)
	if err != nil {
		return "", nil, err
	}

	c := &compilation{maker: m, props: props}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(c.hierID())
	sb.WriteString(" FROM ")
	sb.WriteString(m.info.Quote(model.HierTableName))
	for _, table := range m.joinTables(props) {
		fmt.Fprintf(&sb, " LEFT OUTER JOIN %s ON %s = %s",
			m.info.Quote(table), m.info.QuoteColumn(table, model.MainKey), c.hierID())
	}

	conds := []string{c.typeCondition(types), c.notPropertyCondition()}
	if q.Where != nil {
		where, err := c.predicate(q.Where)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, where)
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(conds, " AND "))

	order, err := c.orderBy(q.OrderBy)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(order)

	return m.dialect.Rebind(sb.String()), c.params, nil
}

// expandTypes returns the sorted concrete types selected by FROM.
func (m *QueryMaker) expandTypes(from []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, name := range from {
		subs, err := m.model.SubTypes(name)
		if err != nil {
			return nil, err
		}
		for _, s := range subs {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *QueryMaker) resolveFields(q *queryir.Query) (map[string]*model.PropertyInfo, error) {
	var unsupported error
	queryir.Walk(q.Where, func(p queryir.Predicate) {
		if sw, ok := p.(*queryir.StartsWith); ok && unsupported == nil {
			unsupported = storage.NewConfigError("STARTSWITH on %s is not supported", sw.Field)
		}
	})
	if unsupported != nil {
		return nil, unsupported
	}

	props := make(map[string]*model.PropertyInfo)
	for _, field := range q.Fields() {
		prop, err := m.model.Property(field)
		if err != nil {
			return nil, err
		}
		props[field] = prop
	}
	return props, nil
}

// joinTables lists the scalar fragment tables to join, in model order. The
// main table is joined whenever it is separate since it holds the type.
func (m *QueryMaker) joinTables(props map[string]*model.PropertyInfo) []string {
	need := make(map[string]bool)
	if m.model.IsSeparateMainTable() {
		need[m.model.MainTableName()] = true
	}
	for _, p := range props {
		if !p.Type.Array {
			need[p.Table] = true
		}
	}
	var out []string
	for _, t := range m.model.Tables() {
		if t.Name != model.HierTableName && need[t.Name] {
			out = append(out, t.Name)
		}
	}
	return out
}

// compilation holds the state of one Compile call.
type compilation struct {
	maker  *QueryMaker
	props  map[string]*model.PropertyInfo
	params []any
}

func (c *compilation) hierID() string {
	return c.maker.info.QuoteColumn(model.HierTableName, model.MainKey)
}

func (c *compilation) typeCondition(types []string) string {
	if len(types) == 0 {
		return "0 = 1"
	}
	for _, t := range types {
		c.params = append(c.params, t)
	}
	col := c.maker.info.QuoteColumn(c.maker.model.MainTableName(), model.MainPrimaryTypeKey)
	return fmt.Sprintf("%s IN (%s)", col, placeholders(len(types)))
}

// notPropertyCondition excludes complex property nodes.
func (c *compilation) notPropertyCondition() string {
	return fmt.Sprintf("%s = %s",
		c.maker.info.QuoteColumn(model.HierTableName, model.HierChildIsPropertyKey),
		c.maker.dialect.BooleanLiteral(false))
}

// column returns the comparison expression of a scalar field.
func (c *compilation) column(prop *model.PropertyInfo) string {
	expr := c.maker.info.QuoteColumn(prop.Table, prop.Key)
	if prop.Type.IsLargeText() {
		return c.maker.dialect.ClobCast(expr)
	}
	return expr
}

// bind normalizes a literal to the field's kind and appends it.
func (c *compilation) bind(prop *model.PropertyInfo, v queryir.Value) error {
	val, err := prop.Type.Kind.Normalize(v.Native())
	if err != nil {
		return storage.NewConfigError("%s: %s is not a valid %s value", prop.Name, v, prop.Type.Kind)
	}
	c.params = append(c.params, val)
	return nil
}

func (c *compilation) predicate(p queryir.Predicate) (string, error) {
	switch pred := p.(type) {
	case *queryir.And:
		return c.connective(pred.Predicates, " AND ", "1 = 1")
	case *queryir.Or:
		return c.connective(pred.Predicates, " OR ", "0 = 1")
	case *queryir.Not:
		inner, err := c.predicate(pred.Predicate)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case *queryir.Comparison:
		return c.comparison(pred)
	case *queryir.In:
		return c.in(pred)
	case *queryir.Between:
		return c.between(pred)
	case *queryir.IsNull:
		return c.isNull(pred)
	default:
		return "", storage.NewConfigError("unsupported predicate %T", p)
	}
}

func (c *compilation) connective(preds []queryir.Predicate, sep, empty string) (string, error) {
	if len(preds) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(preds))
	for _, sub := range preds {
		s, err := c.predicate(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (c *compilation) comparison(pred *queryir.Comparison) (string, error) {
	prop := c.props[pred.Field]
	if prop.Type.Array {
		cond := fmt.Sprintf("%s %s ?", c.item(prop), pred.Op.Positive())
		if err := c.bind(prop, pred.Value); err != nil {
			return "", err
		}
		return c.exists(prop, cond, !pred.Op.IsNegated()), nil
	}
	if err := c.bind(prop, pred.Value); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s ?", c.column(prop), pred.Op), nil
}

func (c *compilation) in(pred *queryir.In) (string, error) {
	prop := c.props[pred.Field]
	for _, v := range pred.Values {
		if err := c.bind(prop, v); err != nil {
			return "", err
		}
	}
	list := "(" + placeholders(len(pred.Values)) + ")"
	if prop.Type.Array {
		return c.exists(prop, c.item(prop)+" IN "+list, !pred.Not), nil
	}
	op := "IN"
	if pred.Not {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s %s", c.column(prop), op, list), nil
}

func (c *compilation) between(pred *queryir.Between) (string, error) {
	prop := c.props[pred.Field]
	if err := c.bind(prop, pred.Low); err != nil {
		return "", err
	}
	if err := c.bind(prop, pred.High); err != nil {
		return "", err
	}
	if prop.Type.Array {
		return c.exists(prop, c.item(prop)+" BETWEEN ? AND ?", !pred.Not), nil
	}
	op := "BETWEEN"
	if pred.Not {
		op = "NOT BETWEEN"
	}
	return fmt.Sprintf("%s %s ? AND ?", c.column(prop), op), nil
}

// isNull treats an array without items as null.
func (c *compilation) isNull(pred *queryir.IsNull) (string, error) {
	prop := c.props[pred.Field]
	if prop.Type.Array {
		return c.exists(prop, "", pred.Not), nil
	}
	if pred.Not {
		return c.column(prop) + " IS NOT NULL", nil
	}
	return c.column(prop) + " IS NULL", nil
}

func (c *compilation) item(prop *model.PropertyInfo) string {
	expr := c.maker.info.QuoteColumn(prop.Table, model.CollTableValueKey)
	if prop.Type.IsLargeText() {
		return c.maker.dialect.ClobCast(expr)
	}
	return expr
}

// exists renders a subquery over the collection table of an array field.
// An array matches a positive condition when any item does, and a negated
// one when no item matches the positive form.
func (c *compilation) exists(prop *model.PropertyInfo, cond string, positive bool) string {
	info := c.maker.info
	sub := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s",
		info.Quote(prop.Table), info.QuoteColumn(prop.Table, model.MainKey), c.hierID())
	if cond != "" {
		sub += " AND " + cond
	}
	if positive {
		return "EXISTS (" + sub + ")"
	}
	return "NOT EXISTS (" + sub + ")"
}

func (c *compilation) orderBy(keys []queryir.OrderKey) (string, error) {
	parts := make([]string, 0, len(keys)+1)
	hasID := false
	for _, k := range keys {
		prop := c.props[k.Field]
		if prop.Type.Array {
			return "", storage.NewConfigError("cannot order by array field %s", k.Field)
		}
		expr := c.maker.info.QuoteColumn(prop.Table, prop.Key)
		if prop.Type.IsLargeText() {
			expr = c.maker.dialect.ClobOrderBy(expr)
		}
		if k.Desc {
			expr += " DESC"
		}
		parts = append(parts, expr)
		if prop.Name == model.PropUUID {
			hasID = true
		}
	}
	if !hasID {
		parts = append(parts, c.hierID())
	}
	return strings.Join(parts, ", "), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
