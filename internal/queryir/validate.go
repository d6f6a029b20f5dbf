package queryir

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Validate checks the structure of a query without consulting the model:
// a type to select from, named fields, known operators and complete
// operands. Every problem is reported, aggregated.
//
// Validate is a pure function with no side effects.
func Validate(q *Query) error {
	if q == nil {
		return fmt.Errorf("nil query")
	}
	v := &validator{}
	if len(q.From) == 0 {
		v.addProblem("FROM lists no type")
	}
	for _, t := range q.From {
		if t == "" {
			v.addProblem("empty type name in FROM")
		}
	}
	v.validatePredicate(q.Where)
	for _, k := range q.OrderBy {
		if k.Field == "" {
			v.addProblem("empty field in ORDER BY")
		}
	}
	return v.problems.ErrorOrNil()
}

// validator accumulates problems during traversal.
type validator struct {
	problems *multierror.Error
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = multierror.Append(v.problems, fmt.Errorf(format, args...))
}

func (v *validator) validateField(field string) {
	if field == "" {
		v.addProblem("predicate without a field")
	}
}

func (v *validator) validateValue(field string, val Value) {
	if val == nil {
		v.addProblem("missing value for %s", field)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return
	}

	switch pred := p.(type) {
	case *Comparison:
		v.validateField(pred.Field)
		v.validateValue(pred.Field, pred.Value)
		switch pred.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		case OpLike, OpNotLike:
			if _, ok := pred.Value.(String); !ok && pred.Value != nil {
				v.addProblem("%s %s needs a string pattern, got %s", pred.Field, pred.Op, pred.Value)
			}
		default:
			v.addProblem("unknown operator %q on %s", pred.Op, pred.Field)
		}
	case *In:
		v.validateField(pred.Field)
		if len(pred.Values) == 0 {
			v.addProblem("%s IN needs at least one value", pred.Field)
		}
		for _, val := range pred.Values {
			v.validateValue(pred.Field, val)
		}
	case *Between:
		v.validateField(pred.Field)
		v.validateValue(pred.Field, pred.Low)
		v.validateValue(pred.Field, pred.High)
	case *IsNull:
		v.validateField(pred.Field)
	case *StartsWith:
		v.validateField(pred.Field)
	case *And:
		for _, sub := range pred.Predicates {
			if sub == nil {
				v.addProblem("nil operand of AND")
			}
			v.validatePredicate(sub)
		}
	case *Or:
		for _, sub := range pred.Predicates {
			if sub == nil {
				v.addProblem("nil operand of OR")
			}
			v.validatePredicate(sub)
		}
	case *Not:
		if pred.Predicate == nil {
			v.addProblem("NOT without operand")
		}
		v.validatePredicate(pred.Predicate)
	default:
		v.addProblem("unknown predicate type %T", p)
	}
}
