package queryir

import (
	"strconv"
	"time"
)

// Query is a parsed document query.
type Query struct {
	// From lists document types; each expands to itself and its subtypes.
	From []string
	// Where filters nodes. nil selects every node of the types.
	Where Predicate
	// OrderBy keys apply in order.
	OrderBy []OrderKey
}

// OrderKey orders results by one field.
type OrderKey struct {
	Field string
	Desc  bool
}

// Predicate is a WHERE clause node.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Op is a binary comparison operator.
type Op string

const (
	OpEq      Op = "="
	OpNe      Op = "<>"
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
	OpLike    Op = "LIKE"
	OpNotLike Op = "NOT LIKE"
)

// IsNegated reports whether the operator excludes matches. Over an array
// field it means that no item matches.
func (o Op) IsNegated() bool {
	return o == OpNe || o == OpNotLike
}

// Positive returns the operator without negation.
func (o Op) Positive() Op {
	switch o {
	case OpNe:
		return OpEq
	case OpNotLike:
		return OpLike
	default:
		return o
	}
}

// Comparison is `field op value`.
type Comparison struct {
	Field string
	Op    Op
	Value Value
}

func (*Comparison) predicateNode() {}

// In is `field [NOT] IN (v1, v2, ...)`.
type In struct {
	Field  string
	Values []Value
	Not    bool
}

func (*In) predicateNode() {}

// Between is `field [NOT] BETWEEN low AND high`.
type Between struct {
	Field     string
	Low, High Value
	Not       bool
}

func (*Between) predicateNode() {}

// IsNull is `field IS [NOT] NULL`. An array field is null when it has no
// items.
type IsNull struct {
	Field string
	Not   bool
}

func (*IsNull) predicateNode() {}

// StartsWith is `field STARTSWITH 'path'`. It parses but does not compile:
// path prefix matching has no relational translation here.
type StartsWith struct {
	Field string
	Path  string
}

func (*StartsWith) predicateNode() {}

// And is a conjunction. Empty means true.
type And struct {
	Predicates []Predicate
}

func (*And) predicateNode() {}

// Or is a disjunction. Empty means false.
type Or struct {
	Predicates []Predicate
}

func (*Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (*Not) predicateNode() {}

// Value is a literal.
//
// This is a sealed interface - only types in this package implement it.
type Value interface {
	// Native returns the Go value bound as a statement parameter.
	Native() any
	String() string
	valueNode()
}

// String is a quoted string literal.
type String string

func (v String) Native() any    { return string(v) }
func (v String) String() string { return strconv.Quote(string(v)) }
func (String) valueNode()       {}

// Int is an integer literal.
type Int int64

func (v Int) Native() any    { return int64(v) }
func (v Int) String() string { return strconv.FormatInt(int64(v), 10) }
func (Int) valueNode()       {}

// Float is a decimal literal.
type Float float64

func (v Float) Native() any    { return float64(v) }
func (v Float) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (Float) valueNode()       {}

// Bool is TRUE or FALSE.
type Bool bool

func (v Bool) Native() any { return bool(v) }
func (v Bool) String() string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
func (Bool) valueNode() {}

// Date is `DATE 'yyyy-mm-dd'`, midnight UTC.
type Date struct {
	Time time.Time
}

func (v Date) Native() any    { return v.Time }
func (v Date) String() string { return "DATE '" + v.Time.Format(time.DateOnly) + "'" }
func (Date) valueNode()       {}

// Timestamp is `TIMESTAMP 'yyyy-mm-ddThh:mm:ss'`, UTC.
type Timestamp struct {
	Time time.Time
}

func (v Timestamp) Native() any { return v.Time }
func (v Timestamp) String() string {
	return "TIMESTAMP '" + v.Time.Format("2006-01-02T15:04:05.999999999") + "'"
}
func (Timestamp) valueNode() {}

// Fields returns the distinct fields referenced by the WHERE clause and
// then the ORDER BY keys, in first-use order.
func (q *Query) Fields() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	Walk(q.Where, func(p Predicate) {
		if f := FieldOf(p); f != "" {
			add(f)
		}
	})
	for _, k := range q.OrderBy {
		add(k.Field)
	}
	return out
}

// FieldOf returns the field a leaf predicate tests, or "" for connectives.
func FieldOf(p Predicate) string {
	switch p := p.(type) {
	case *Comparison:
		return p.Field
	case *In:
		return p.Field
	case *Between:
		return p.Field
	case *IsNull:
		return p.Field
	case *StartsWith:
		return p.Field
	default:
		return ""
	}
}

// Walk calls fn for p and every predicate below it, depth first.
func Walk(p Predicate, fn func(Predicate)) {
	if p == nil {
		return
	}
	fn(p)
	switch p := p.(type) {
	case *And:
		for _, c := range p.Predicates {
			Walk(c, fn)
		}
	case *Or:
		for _, c := range p.Predicates {
			Walk(c, fn)
		}
	case *Not:
		Walk(p.Predicate, fn)
	}
}
