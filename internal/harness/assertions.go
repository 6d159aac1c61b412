package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/smartview/internal/engine"
	"github.com/roach88/smartview/internal/store"
)

// AssertionContext gives assertions access to the final state.
type AssertionContext struct {
	Store      *store.Store
	Controller *engine.Controller
	Ctx        context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEntry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, entry := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s playlist=%d +%v -%v\n",
				i+1, entry.Step, entry.Kind, entry.Playlist, entry.Added, entry.Removed)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages. It does not stop at the first failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertMembers:
		return assertMembers(result, a)
	case AssertCount:
		return assertCount(result, a)
	case AssertNotified:
		return assertNotified(result.Trace, a)
	case AssertConsistent:
		return assertConsistent(actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertMembers compares the playlist's members in query order.
func assertMembers(result *Result, a Assertion) error {
	got, ok := result.Members[a.Playlist]
	if !ok {
		return &AssertionError{
			Type:     AssertMembers,
			Expected: fmt.Sprintf("smart playlist %d to exist", a.Playlist),
			Actual:   "not found",
		}
	}
	want := a.Expect
	if want == nil {
		want = []int64{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertMembers,
			Expected: fmt.Sprintf("playlist %d members %v", a.Playlist, want),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertCount(result *Result, a Assertion) error {
	got, ok := result.Members[a.Playlist]
	if !ok {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("smart playlist %d to exist", a.Playlist),
			Actual:   "not found",
		}
	}
	if len(got) != *a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d members in playlist %d", *a.Count, a.Playlist),
			Actual:   fmt.Sprintf("%d members %v", len(got), got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertNotified counts notifications of a kind for a playlist, optionally
// limited to one step.
func assertNotified(trace []TraceEntry, a Assertion) error {
	count := 0
	for _, entry := range trace {
		if entry.Playlist != a.Playlist || entry.Kind != a.Kind {
			continue
		}
		if a.Step != "" && entry.Step != a.Step {
			continue
		}
		count++
	}

	where := ""
	if a.Step != "" {
		where = " in step " + a.Step
	}
	switch {
	case a.Count == nil && count == 0:
		return &AssertionError{
			Type:     AssertNotified,
			Expected: fmt.Sprintf("a %s notification for playlist %d%s", a.Kind, a.Playlist, where),
			Actual:   "none",
			Trace:    trace,
		}
	case a.Count != nil && count != *a.Count:
		return &AssertionError{
			Type:     AssertNotified,
			Expected: fmt.Sprintf("%d %s notifications for playlist %d%s", *a.Count, a.Kind, a.Playlist, where),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertConsistent checks that the committed membership of every live
// playlist is the same set as its view.
func assertConsistent(actx *AssertionContext) error {
	for _, def := range actx.Controller.List() {
		memory, err := actx.Controller.Members(def.ID)
		if err != nil {
			return err
		}
		committed, err := actx.Store.ReadMembership(actx.Ctx, def.ID)
		if err != nil {
			return fmt.Errorf("read membership of %d: %w", def.ID, err)
		}
		memory = slices.Sorted(slices.Values(memory))
		committed = slices.Sorted(slices.Values(committed))
		if !slices.Equal(memory, committed) {
			return &AssertionError{
				Type:     AssertConsistent,
				Expected: fmt.Sprintf("store membership of %d = %v", def.ID, memory),
				Actual:   fmt.Sprintf("%v", committed),
			}
		}
	}
	return nil
}
