package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/smartview/internal/ir"
)

// ValidationError lists every problem found in a query. Validation does not
// stop at the first problem.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid definition: " + strings.Join(e.Problems, "; ")
}

// Validate checks field names, operator and literal types, the order field
// and the limit. It returns nil or a *ValidationError.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	v := &validator{}
	v.validatePredicate(q.Filter, "filter")

	if q.Order != nil {
		if _, ok := LookupField(q.Order.Field); !ok {
			v.addProblem("order: unknown field %q", q.Order.Field)
		}
	}

	if q.Limit != nil {
		v.validateLimit(*q.Limit)
	}

	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validatePredicate(p Predicate, path string) {
	if p == nil {
		return
	}

	switch pred := p.(type) {
	case Compare:
		v.validateCompare(pred, path)
	case And:
		for i, sub := range pred.Predicates {
			v.validateChild(sub, fmt.Sprintf("%s.and[%d]", path, i))
		}
	case Or:
		for i, sub := range pred.Predicates {
			v.validateChild(sub, fmt.Sprintf("%s.or[%d]", path, i))
		}
	case Not:
		v.validateChild(pred.Predicate, path+".not")
	case InPlaylist:
		if pred.Playlist.ID <= 0 {
			v.addProblem("%s: playlist id must be positive", path)
		}
	case Within:
		f, ok := LookupField(pred.Field)
		switch {
		case !ok:
			v.addProblem("%s: unknown field %q", path, pred.Field)
		case f.Kind != KindTime:
			v.addProblem("%s: within needs a time field, %q is %s", path, pred.Field, f.Kind)
		}
		if pred.Seconds <= 0 {
			v.addProblem("%s: within seconds must be positive", path)
		}
	default:
		v.addProblem("%s: unknown predicate type %T", path, p)
	}
}

func (v *validator) validateChild(p Predicate, path string) {
	if p == nil {
		v.addProblem("%s: empty predicate", path)
		return
	}
	v.validatePredicate(p, path)
}

func (v *validator) validateCompare(c Compare, path string) {
	f, ok := LookupField(c.Field)
	if !ok {
		v.addProblem("%s: unknown field %q", path, c.Field)
		return
	}
	if !c.Op.known() {
		v.addProblem("%s: unknown operator %q", path, c.Op)
		return
	}

	if f.Kind == KindText {
		if c.Op.IsOrderingOp() {
			v.addProblem("%s: operator %s does not apply to text field %q", path, c.Op, c.Field)
		}
		if _, ok := c.Value.(ir.String); !ok {
			v.addProblem("%s: field %q needs a string, got %s", path, c.Field, typeName(c.Value))
		}
		return
	}

	if c.Op.IsTextOp() {
		v.addProblem("%s: operator %s only applies to text fields", path, c.Op)
	}
	if _, ok := c.Value.(ir.Int); !ok {
		v.addProblem("%s: field %q needs an int, got %s", path, c.Field, typeName(c.Value))
	}
}

func (v *validator) validateLimit(l Limit) {
	if !l.Criterion.valid() {
		v.addProblem("limit: unknown criterion %d", int(l.Criterion))
		return
	}
	if strings.TrimSpace(l.Number) == "" {
		return
	}
	n, err := l.Float()
	if err != nil {
		v.addProblem("limit: %v", err)
		return
	}
	if n < 0 {
		v.addProblem("limit: number must not be negative")
	}
	if l.Criterion == CriterionItems && n != float64(int64(n)) {
		v.addProblem("limit: item count %q must be a whole number", l.Number)
	}
}

func typeName(v ir.Value) string {
	if v == nil {
		return "nothing"
	}
	return ir.TypeName(v)
}
