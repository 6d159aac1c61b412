package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smartview/internal/engine"
)

func sampleResult() *Result {
	r := NewResult()
	r.AddNotification("setup", engine.Notification{Kind: engine.NotifyCreated, PlaylistID: 1, Message: "Jazz"})
	r.AddNotification("setup", engine.Notification{Kind: engine.NotifyUpdated, PlaylistID: 1, Added: []int64{1, 3}})
	r.AddNotification("retag", engine.Notification{Kind: engine.NotifyUpdated, PlaylistID: 1, Removed: []int64{1}})
	r.Members[1] = []int64{3}
	return r
}

func TestAssertMembers(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertMembers(r, Assertion{Type: AssertMembers, Playlist: 1, Expect: []int64{3}}))

	err := assertMembers(r, Assertion{Type: AssertMembers, Playlist: 1, Expect: []int64{1, 3}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertMembers, ae.Type)
	assert.Equal(t, "[3]", ae.Actual)
	assert.Len(t, ae.Trace, 3)

	err = assertMembers(r, Assertion{Type: AssertMembers, Playlist: 2})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "not found", ae.Actual)
}

func TestAssertMembers_EmptyExpect(t *testing.T) {
	r := NewResult()
	r.Members[4] = nil

	assert.NoError(t, assertMembers(r, Assertion{Type: AssertMembers, Playlist: 4}))
}

func TestAssertCount(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertCount(r, Assertion{Type: AssertCount, Playlist: 1, Count: intPtr(1)}))
	assert.Error(t, assertCount(r, Assertion{Type: AssertCount, Playlist: 1, Count: intPtr(2)}))
	assert.Error(t, assertCount(r, Assertion{Type: AssertCount, Playlist: 5, Count: intPtr(0)}))
}

func TestAssertNotified(t *testing.T) {
	trace := sampleResult().Trace

	tests := []struct {
		name    string
		a       Assertion
		wantErr bool
	}{
		{"any updated", Assertion{Playlist: 1, Kind: "updated"}, false},
		{"exact count", Assertion{Playlist: 1, Kind: "updated", Count: intPtr(2)}, false},
		{"wrong count", Assertion{Playlist: 1, Kind: "updated", Count: intPtr(1)}, true},
		{"scoped to step", Assertion{Playlist: 1, Kind: "updated", Step: "retag", Count: intPtr(1)}, false},
		{"absent kind", Assertion{Playlist: 1, Kind: "removed"}, true},
		{"absent kind with zero count", Assertion{Playlist: 1, Kind: "removed", Count: intPtr(0)}, false},
		{"other playlist", Assertion{Playlist: 2, Kind: "created"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Type = AssertNotified
			err := assertNotified(trace, tt.a)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertMembers,
		Expected: "playlist 1 members [1]",
		Actual:   "[]",
		Trace:    []TraceEntry{{Step: "setup", Kind: "created", Playlist: 1}},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: members")
	assert.Contains(t, msg, "Expected: playlist 1 members [1]")
	assert.Contains(t, msg, "Actual: []")
	assert.Contains(t, msg, "[1] setup created playlist=1")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "sorted"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `assertions[0]: unknown assertion type "sorted"`)
}
