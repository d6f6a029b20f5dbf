package queryir

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormedQuery(t *testing.T) {
	q := &Query{
		From: []string{"File"},
		Where: &And{Predicates: []Predicate{
			&Comparison{Field: "dc:title", Op: OpLike, Value: String("R%")},
			&Not{Predicate: &IsNull{Field: "size"}},
		}},
		OrderBy: []OrderKey{{Field: "size"}},
	}
	assert.NoError(t, Validate(q))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	q := &Query{
		Where: &Or{Predicates: []Predicate{
			&Comparison{Field: "", Op: "~", Value: Int(1)},
			&Comparison{Field: "dc:title", Op: OpLike, Value: Int(3)},
			&In{Field: "ecm:name"},
			nil,
		}},
		OrderBy: []OrderKey{{Field: ""}},
	}

	err := Validate(q)
	require.Error(t, err)

	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	var msgs []string
	for _, e := range merr.Errors {
		msgs = append(msgs, e.Error())
	}
	assert.Equal(t, []string{
		"FROM lists no type",
		"predicate without a field",
		`unknown operator "~" on `,
		`dc:title LIKE needs a string pattern, got 3`,
		"ecm:name IN needs at least one value",
		"nil operand of OR",
		"empty field in ORDER BY",
	}, msgs)
}

func TestValidateMissingOperands(t *testing.T) {
	tests := []struct {
		name string
		pred Predicate
		want string
	}{
		{"comparison", &Comparison{Field: "a", Op: OpEq}, "missing value for a"},
		{"between", &Between{Field: "a", Low: Int(1)}, "missing value for a"},
		{"not", &Not{}, "NOT without operand"},
		{"and", &And{Predicates: []Predicate{nil}}, "nil operand of AND"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&Query{From: []string{"Document"}, Where: tc.pred})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateNilQuery(t *testing.T) {
	assert.Error(t, Validate(nil))
}
