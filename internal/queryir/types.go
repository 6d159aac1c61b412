package queryir

import "github.com/roach88/smartview/internal/ir"

// Predicate represents a filter condition over library items.
//
// This is a sealed interface - only types in this package implement it.
// A nil Predicate matches every item.
//
// Predicate types:
//   - Compare: field <op> literal
//   - And, Or: conjunction and disjunction of predicates
//   - Not: negation
//   - InPlaylist: item is a member of another playlist
//   - Within: a time field lies within the last N seconds
type Predicate interface {
	predicateNode()
}

// Op is a comparison operator.
type Op string

const (
	OpEq          Op = "eq"
	OpNe          Op = "ne"
	OpLt          Op = "lt"
	OpLe          Op = "le"
	OpGt          Op = "gt"
	OpGe          Op = "ge"
	OpContains    Op = "contains"
	OpNotContains Op = "not_contains"
	OpStartsWith  Op = "starts_with"
	OpEndsWith    Op = "ends_with"
)

// IsTextOp reports whether the operator only applies to text fields.
func (o Op) IsTextOp() bool {
	switch o {
	case OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// IsOrderingOp reports whether the operator compares magnitudes.
func (o Op) IsOrderingOp() bool {
	switch o {
	case OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

func (o Op) known() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe,
		OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// Compare compares one item field to a literal.
//
// Semantics:
//
//	<field> <op> <value>
//
// Text equality is case insensitive. Duration literals are seconds, time
// literals are unix seconds.
//
// Example:
//
//	Compare{Field: "genre", Op: OpEq, Value: ir.String("Jazz")}
type Compare struct {
	Field string
	Op    Op
	Value ir.Value
}

func (Compare) predicateNode() {}

// And is true when every predicate is true. An empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or is true when any predicate is true. An empty Or is false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// InPlaylist is true when the item is a member of the referenced playlist.
// For a smart playlist that is its committed materialized set.
//
// "Not in playlist" is expressed as Not{InPlaylist{...}}.
type InPlaylist struct {
	Playlist ir.PlaylistRef
}

func (InPlaylist) predicateNode() {}

// Within is true when a time field lies within the last Seconds seconds of
// the evaluation clock. Items with a zero time (never played) never match.
//
// Within makes the predicate time dependent.
type Within struct {
	Field   string
	Seconds int64
}

func (Within) predicateNode() {}
