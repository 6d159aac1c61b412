package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/smartview/internal/ir"
)

// Definition is a named smart playlist query. ID is assigned by the store
// and never changes.
type Definition struct {
	ID    int64
	Name  string
	Query Query
}

// Ref returns the definition's playlist reference.
func (d Definition) Ref() ir.PlaylistRef {
	return ir.SmartRef(d.ID)
}

// Record is the persisted row shape of a definition.
type Record struct {
	ID             int64
	Name           string
	Predicate      string
	OrderBy        string
	LimitNumber    string
	LimitCriterion int64
}

// Encode converts a definition into its persisted row.
func Encode(d Definition) (Record, error) {
	pred, err := MarshalPredicate(d.Query.Filter)
	if err != nil {
		return Record{}, fmt.Errorf("encode predicate: %w", err)
	}
	rec := Record{ID: d.ID, Name: d.Name, Predicate: pred}
	if d.Query.Order != nil {
		rec.OrderBy = d.Query.Order.String()
	}
	if d.Query.Limit != nil {
		rec.LimitNumber = strings.TrimSpace(d.Query.Limit.Number)
		rec.LimitCriterion = int64(d.Query.Limit.Criterion)
	}
	return rec, nil
}

// Decode parses and validates a persisted row.
func Decode(rec Record) (Definition, error) {
	def := Definition{ID: rec.ID, Name: rec.Name}
	if strings.TrimSpace(rec.Name) == "" {
		return def, &ValidationError{Problems: []string{"name must not be empty"}}
	}

	filter, err := UnmarshalPredicate([]byte(rec.Predicate))
	if err != nil {
		return def, &ValidationError{Problems: []string{err.Error()}}
	}
	order, err := ParseOrder(rec.OrderBy)
	if err != nil {
		return def, &ValidationError{Problems: []string{err.Error()}}
	}
	def.Query = Query{Filter: filter, Order: order}
	if strings.TrimSpace(rec.LimitNumber) != "" {
		def.Query.Limit = &Limit{Number: rec.LimitNumber, Criterion: Criterion(rec.LimitCriterion)}
	}

	if err := Validate(def.Query); err != nil {
		return def, err
	}
	return def, nil
}

// Fingerprint hashes the evaluable parts of a query. Renaming a playlist
// does not change it; changing filter, order or limit does.
func Fingerprint(q Query) (string, error) {
	obj := ir.Object{}
	if q.Filter != nil {
		v, err := ToValue(q.Filter)
		if err != nil {
			return "", err
		}
		obj["filter"] = v
	}
	if q.Order != nil {
		obj["order"] = ir.String(q.Order.String())
	}
	if q.Limit != nil && !q.Limit.Degenerate() {
		obj["limit"] = ir.String(q.Limit.String())
	}
	return ir.Fingerprint(obj)
}
