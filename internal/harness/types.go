package harness

import "github.com/roach88/smartview/internal/engine"

// TraceEntry is one notification observed while a step ran.
type TraceEntry struct {
	Step     string  `json:"step"`
	Kind     string  `json:"kind"`
	Playlist int64   `json:"playlist"`
	Added    []int64 `json:"added,omitempty"`
	Removed  []int64 `json:"removed,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every notification in step order. Within a step,
	// entries are grouped by playlist id, each playlist's entries in the
	// order they were published.
	Trace []TraceEntry `json:"trace"`

	// Errors contains assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Members holds the final membership of every live smart playlist.
	Members map[int64][]int64 `json:"members,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEntry{},
		Errors:  []string{},
		Members: make(map[int64][]int64),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddNotification appends n to the trace under step.
func (r *Result) AddNotification(step string, n engine.Notification) {
	r.Trace = append(r.Trace, TraceEntry{
		Step:     step,
		Kind:     string(n.Kind),
		Playlist: n.PlaylistID,
		Added:    n.Added,
		Removed:  n.Removed,
		Message:  n.Message,
	})
}
