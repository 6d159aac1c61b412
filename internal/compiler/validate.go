package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/smartview/internal/engine"
	"github.com/roach88/smartview/internal/queryir"
)

// Validation error codes (E200-E299)
const (
	ErrCompile           = "E200" // definition did not compile
	ErrDuplicateName     = "E201" // two playlists share a name
	ErrDuplicateID       = "E202" // two playlists claim the same id
	ErrUnknownReference  = "E203" // reference to a smart playlist not in the set
	ErrDependencyCycle   = "E204" // smart playlists reference each other in a loop
	ErrUnpinnedReference = "E205" // referenced playlist has no id
)

// ValidationError represents one problem in a set of definitions.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled set of playlists as a whole. Each definition
// already passed queryir.Validate during compilation; this adds name and
// id uniqueness, reference resolution and cycle detection.
//
// existing lists the ids of smart playlists outside the set that
// references may resolve to. Returns all errors found (does not
// fail-fast).
func Validate(set []Playlist, existing ...int64) []ValidationError {
	var errs []ValidationError

	known := make(map[int64]bool, len(existing)+len(set))
	for _, id := range existing {
		known[id] = true
	}

	names := make(map[string]string, len(set))
	ids := make(map[int64]string, len(set))
	for _, p := range set {
		def := p.Definition
		key := strings.ToLower(def.Name)
		if prev, dup := names[key]; dup {
			errs = append(errs, ValidationError{
				Field:   "playlist." + def.Name,
				Message: fmt.Sprintf("duplicate playlist name (first declared at %s)", prev),
				Code:    ErrDuplicateName,
			})
		}
		names[key] = p.Source

		if def.ID == 0 {
			continue
		}
		if prev, dup := ids[def.ID]; dup {
			errs = append(errs, ValidationError{
				Field:   "playlist." + def.Name + ".id",
				Message: fmt.Sprintf("id %d already used by %q", def.ID, prev),
				Code:    ErrDuplicateID,
			})
		}
		ids[def.ID] = def.Name
		known[def.ID] = true
	}

	defs := make([]queryir.Definition, 0, len(set))
	for _, p := range set {
		def := p.Definition
		for _, ref := range queryir.References(def.Query.Filter) {
			if !ref.Smart || known[ref.ID] {
				continue
			}
			errs = append(errs, ValidationError{
				Field:   "playlist." + def.Name + ".where",
				Message: fmt.Sprintf("references unknown smart playlist %d", ref.ID),
				Code:    ErrUnknownReference,
			})
		}
		if def.ID == 0 {
			if hasSmartRef(def.Query.Filter) {
				errs = append(errs, ValidationError{
					Field:   "playlist." + def.Name + ".id",
					Message: "playlists that reference smart playlists need an explicit id for cycle analysis",
					Code:    ErrUnpinnedReference,
				})
			}
			continue
		}
		defs = append(defs, def)
	}

	for _, w := range engine.AnalyzeCycles(defs) {
		errs = append(errs, ValidationError{
			Field:   "playlist." + ids[w.Path[0]],
			Message: w.Message,
			Code:    ErrDependencyCycle,
		})
	}

	return errs
}

func hasSmartRef(p queryir.Predicate) bool {
	for _, ref := range queryir.References(p) {
		if ref.Smart {
			return true
		}
	}
	return false
}

// SmartIDs returns the ids of smart playlists referenced by def.
func SmartIDs(def queryir.Definition) []int64 {
	var out []int64
	for _, ref := range queryir.References(def.Query.Filter) {
		if ref.Smart {
			out = append(out, ref.ID)
		}
	}
	return out
}

