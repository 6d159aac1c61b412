package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
	"github.com/roach88/smartview/internal/querysql"
	"github.com/roach88/smartview/internal/store"
	"github.com/roach88/smartview/internal/testutil"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// openStore creates a store in a temp directory for testing.
func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed inserts items and fails the test on error.
func seed(t *testing.T, s *store.Store, items ...ir.Item) {
	t.Helper()
	for _, item := range items {
		_, err := s.InsertItem(context.Background(), item)
		require.NoError(t, err)
	}
}

// track builds an item with the attributes most tests care about.
func track(id int64, genre string, minutes int) ir.Item {
	return ir.Item{
		ID:        id,
		Title:     "Track",
		Genre:     genre,
		Duration:  time.Duration(minutes) * time.Minute,
		URI:       "file:///music/track.mp3",
		DateAdded: testNow.Add(-time.Duration(id) * time.Hour),
	}
}

func genreIs(genre string) queryir.Predicate {
	return queryir.Compare{Field: "genre", Op: queryir.OpEq, Value: ir.String(genre)}
}

// noThrottle disables the rate limiter so every event is point-checked.
func noThrottle() RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	cfg.EventsMax = 0
	return cfg
}

// newTestController builds a loaded controller with a fixed clock,
// sequential batch ids, a silent logger and no throttling unless opts
// override them.
func newTestController(t *testing.T, s Store, opts ...Option) *Controller {
	t.Helper()
	base := []Option{
		WithNow(func() time.Time { return testNow }),
		WithIDGenerator(testutil.NewSequenceIDGenerator("")),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithRateLimit(noThrottle()),
		WithWorkers(2),
	}
	c, err := New(s, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background()))
	t.Cleanup(c.Close)
	return c
}

// mutate applies a store change, enqueues the matching event and flushes.
func mutate(t *testing.T, c *Controller, e ir.Event) {
	t.Helper()
	require.NoError(t, c.Enqueue(e))
	require.NoError(t, c.Flush(context.Background()))
}

// drain returns every notification already queued on sub.
func drain(sub *Subscription) []Notification {
	var out []Notification
	for {
		n, ok := sub.TryNext()
		if !ok {
			return out
		}
		out = append(out, n)
	}
}

// flakyStore wraps a store and fails membership commits on demand.
type flakyStore struct {
	*store.Store
	failCommits atomic.Bool
	failReads   atomic.Bool
}

var errInjected = errors.New("injected store failure")

func (f *flakyStore) ReplaceMembership(ctx context.Context, id int64, ids []int64) error {
	if f.failCommits.Load() {
		return errInjected
	}
	return f.Store.ReplaceMembership(ctx, id, ids)
}

func (f *flakyStore) PatchMembership(ctx context.Context, id int64, added, removed []int64) error {
	if f.failCommits.Load() {
		return errInjected
	}
	return f.Store.PatchMembership(ctx, id, added, removed)
}

func (f *flakyStore) Candidates(ctx context.Context, q queryir.Query, now time.Time, r *querysql.Restriction) ([]ir.Candidate, error) {
	if f.failReads.Load() {
		return nil, errInjected
	}
	return f.Store.Candidates(ctx, q, now, r)
}

// patchHookStore runs afterPatch once, right after the first successful
// incremental commit.
type patchHookStore struct {
	*store.Store
	afterPatch func()
}

func (h *patchHookStore) PatchMembership(ctx context.Context, id int64, added, removed []int64) error {
	if err := h.Store.PatchMembership(ctx, id, added, removed); err != nil {
		return err
	}
	if fn := h.afterPatch; fn != nil {
		h.afterPatch = nil
		fn()
	}
	return nil
}

// throttleFast throttles on the second check window and ticks every period.
func throttleFast(period time.Duration) RateLimitConfig {
	return RateLimitConfig{EventsMax: 2, Interval: time.Hour, CPUMax: 0.1, RefreshTicks: 5, TickPeriod: period}
}
