package queryir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Query is the evaluable part of a smart playlist definition.
type Query struct {
	Filter Predicate // nil matches everything
	Order  *Order    // nil means unordered; a limit is then ignored
	Limit  *Limit
}

// Ordered reports whether the query has an order.
func (q Query) Ordered() bool {
	return q.Order != nil
}

// EffectiveLimit returns the limit when it actually bounds the result: the
// query is ordered and the limit is not degenerate.
func (q Query) EffectiveLimit() (Limit, bool) {
	if q.Order == nil || q.Limit == nil || q.Limit.Degenerate() {
		return Limit{}, false
	}
	return *q.Limit, true
}

// CountLimit returns N when the effective limit is an item count.
func (q Query) CountLimit() (int, bool) {
	l, ok := q.EffectiveLimit()
	if !ok || l.Criterion != CriterionItems {
		return 0, false
	}
	n, err := l.Float()
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// Order sorts candidates by one field. Ties are broken by item id
// ascending, so the order is total.
type Order struct {
	Field string
	Desc  bool
}

// String renders the order as "field asc" or "field desc".
func (o Order) String() string {
	if o.Desc {
		return o.Field + " desc"
	}
	return o.Field + " asc"
}

// ParseOrder parses "field", "field asc" or "field desc". An empty string
// yields a nil order.
func ParseOrder(s string) (*Order, error) {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return &Order{Field: parts[0]}, nil
	case 2:
		switch parts[1] {
		case "asc":
			return &Order{Field: parts[0]}, nil
		case "desc":
			return &Order{Field: parts[0], Desc: true}, nil
		}
	}
	return nil, fmt.Errorf("invalid order %q: want \"field [asc|desc]\"", s)
}

// Criterion is the unit a limit counts in. The integer values are the
// persisted limit_criterion codes.
type Criterion int

const (
	CriterionItems Criterion = iota
	CriterionMinutes
	CriterionHours
	CriterionMegabytes
)

func (c Criterion) String() string {
	switch c {
	case CriterionItems:
		return "items"
	case CriterionMinutes:
		return "minutes"
	case CriterionHours:
		return "hours"
	case CriterionMegabytes:
		return "MB"
	default:
		return fmt.Sprintf("criterion(%d)", int(c))
	}
}

// Cumulative reports whether the limit sums an attribute rather than
// counting items.
func (c Criterion) Cumulative() bool {
	return c == CriterionMinutes || c == CriterionHours || c == CriterionMegabytes
}

func (c Criterion) valid() bool {
	return c >= CriterionItems && c <= CriterionMegabytes
}

var criterionUnits = map[string]Criterion{
	"":          CriterionItems,
	"item":      CriterionItems,
	"items":     CriterionItems,
	"track":     CriterionItems,
	"tracks":    CriterionItems,
	"m":         CriterionMinutes,
	"min":       CriterionMinutes,
	"minute":    CriterionMinutes,
	"minutes":   CriterionMinutes,
	"h":         CriterionHours,
	"hour":      CriterionHours,
	"hours":     CriterionHours,
	"mb":        CriterionMegabytes,
	"megabyte":  CriterionMegabytes,
	"megabytes": CriterionMegabytes,
}

// Limit bounds an ordered result. Number is kept as text, the way it is
// persisted, because hour and minute limits may be fractional.
type Limit struct {
	Number    string
	Criterion Criterion
}

// Float parses Number.
func (l Limit) Float() (float64, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(l.Number), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid limit number %q", l.Number)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("invalid limit number %q", l.Number)
	}
	return n, nil
}

// Degenerate reports whether the limit bounds nothing: no number, or a
// number equal to zero.
func (l *Limit) Degenerate() bool {
	if l == nil || strings.TrimSpace(l.Number) == "" {
		return true
	}
	n, err := l.Float()
	return err == nil && n == 0
}

// String renders the limit as "10 minutes", "25 items" or "700 MB".
func (l Limit) String() string {
	return strings.TrimSpace(l.Number) + " " + l.Criterion.String()
}

// ParseLimit parses "<number> [unit]", e.g. "25", "10 minutes", "1.5 h" or
// "700 MB". An empty string yields a nil limit.
func ParseLimit(s string) (*Limit, error) {
	parts := strings.Fields(strings.TrimSpace(s))
	if len(parts) == 0 {
		return nil, nil
	}
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid limit %q: want \"number [unit]\"", s)
	}
	unit := ""
	if len(parts) == 2 {
		unit = strings.ToLower(parts[1])
	}
	c, ok := criterionUnits[unit]
	if !ok {
		return nil, fmt.Errorf("invalid limit %q: unknown unit %q", s, parts[1])
	}
	l := &Limit{Number: parts[0], Criterion: c}
	if _, err := l.Float(); err != nil {
		return nil, err
	}
	return l, nil
}
