package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
)

func TestController_JazzScenario(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 4), track(2, "Rock", 4), track(3, "Jazz", 4))
	c := newTestController(t, s)

	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)

	members, err := c.Members(def.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, members)

	require.NoError(t, s.UpdateItem(ctx, track(1, "Rock", 4)))
	mutate(t, c, ir.Event{Kind: ir.EventItemsChanged, ItemIDs: []int64{1}})

	members, err = c.Members(def.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, members)

	committed, err := s.ReadMembership(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, committed, "store and memory agree")
}

func TestController_MinutesLimitScenario(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 4), track(2, "Jazz", 4), track(3, "Jazz", 4))
	c := newTestController(t, s)

	def, err := c.Create(ctx, "Ten minutes", queryir.Query{
		Order: &queryir.Order{Field: "duration"},
		Limit: &queryir.Limit{Number: "10", Criterion: queryir.CriterionMinutes},
	})
	require.NoError(t, err)

	members, err := c.Members(def.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, members)
}

func TestController_RefreshIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 4), track(2, "Jazz", 4))
	c := newTestController(t, s)

	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)
	v, _ := c.View(def.ID)
	hash := v.Hash()

	sub := c.Subscribe()
	defer sub.Close()
	require.NoError(t, c.Refresh(ctx, def.ID))
	require.NoError(t, c.Refresh(ctx, def.ID))

	assert.Equal(t, hash, v.Hash())
	got := drain(sub)
	require.Len(t, got, 2, "every refresh notifies, even when nothing changed")
	for _, n := range got {
		assert.Equal(t, NotifyUpdated, n.Kind)
		assert.Empty(t, n.Added)
		assert.Empty(t, n.Removed)
	}
	assert.Less(t, got[0].Seq, got[1].Seq)
	assert.NotEqual(t, got[0].BatchID, got[1].BatchID)
}

func TestController_PointCheckMatchesRefresh(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 1), track(2, "Rock", 2), track(3, "Jazz", 3), track(4, "Blues", 4))
	c := newTestController(t, s)

	q := queryir.Query{Filter: queryir.Or{Predicates: []queryir.Predicate{
		genreIs("Jazz"),
		queryir.Compare{Field: "duration", Op: queryir.OpGe, Value: ir.Int(240)},
	}}}
	def, err := c.Create(ctx, "Jazz or long", q)
	require.NoError(t, err)

	steps := []struct {
		apply func()
		event ir.Event
	}{
		{func() { require.NoError(t, s.UpdateItem(ctx, track(2, "Jazz", 2))) }, ir.Event{Kind: ir.EventItemsChanged, ItemIDs: []int64{2}}},
		{func() { require.NoError(t, s.UpdateItem(ctx, track(4, "Blues", 1))) }, ir.Event{Kind: ir.EventItemsChanged, ItemIDs: []int64{4}}},
		{func() { seed(t, s, track(5, "Rock", 9), track(6, "Pop", 1)) }, ir.Event{Kind: ir.EventItemsAdded, ItemIDs: []int64{5, 6}}},
		{func() { require.NoError(t, s.DeleteItems(ctx, []int64{1})) }, ir.Event{Kind: ir.EventItemsRemoved, ItemIDs: []int64{1}}},
		{func() { require.NoError(t, s.UpdateItem(ctx, track(3, "Rock", 3))) }, ir.Event{Kind: ir.EventItemsChanged, ItemIDs: []int64{3}}},
	}

	for i, step := range steps {
		step.apply()
		mutate(t, c, step.event)

		cands, err := s.Candidates(ctx, q, testNow, nil)
		require.NoError(t, err)
		members, err := c.Members(def.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, ids(cands), members, "step %d", i)
	}
}

func TestController_OrderedCheckDisplacesTail(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3), track(2, "Jazz", 5), track(3, "Jazz", 7))
	c := newTestController(t, s)

	def, err := c.Create(ctx, "Two shortest", queryir.Query{
		Filter: genreIs("Jazz"),
		Order:  &queryir.Order{Field: "duration"},
		Limit:  &queryir.Limit{Number: "2"},
	})
	require.NoError(t, err)
	members, _ := c.Members(def.ID)
	require.Equal(t, []int64{1, 2}, members)

	// A new short item displaces the tail.
	seed(t, s, track(4, "Jazz", 1))
	mutate(t, c, ir.Event{Kind: ir.EventItemsAdded, ItemIDs: []int64{4}})
	members, _ = c.Members(def.ID)
	assert.Equal(t, []int64{4, 1}, members)

	// A member stops matching: the frontier moves and the next outside
	// item is pulled back in by the follow-up refresh.
	require.NoError(t, s.UpdateItem(ctx, track(4, "Rock", 1)))
	mutate(t, c, ir.Event{Kind: ir.EventItemsChanged, ItemIDs: []int64{4}})
	members, _ = c.Members(def.ID)
	assert.Equal(t, []int64{1, 2}, members)
}

func TestController_RemovedItemsEvicted(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3), track(2, "Jazz", 5), track(3, "Jazz", 7))
	c := newTestController(t, s)

	def, err := c.Create(ctx, "Two shortest", queryir.Query{
		Order: &queryir.Order{Field: "duration"},
		Limit: &queryir.Limit{Number: "2"},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteItems(ctx, []int64{1}))
	mutate(t, c, ir.Event{Kind: ir.EventItemsRemoved, ItemIDs: []int64{1}})

	members, _ := c.Members(def.ID)
	assert.Equal(t, []int64{2, 3}, members, "eviction frees room for the next item")
}

func TestController_DependencyPropagation(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3), track(2, "Rock", 5), track(3, "Jazz", 7))
	pid, err := s.CreatePlaylist(ctx, 0, "Favourites")
	require.NoError(t, err)
	c := newTestController(t, s)

	favs, err := c.Create(ctx, "Favourites", queryir.Query{Filter: queryir.InPlaylist{Playlist: ir.StaticRef(pid)}})
	require.NoError(t, err)
	favJazz, err := c.Create(ctx, "Favourite jazz", queryir.Query{Filter: queryir.And{Predicates: []queryir.Predicate{
		queryir.InPlaylist{Playlist: ir.SmartRef(favs.ID)},
		genreIs("Jazz"),
	}}})
	require.NoError(t, err)

	added, err := s.AddPlaylistItems(ctx, pid, []int64{1, 2})
	require.NoError(t, err)
	mutate(t, c, ir.Event{Kind: ir.EventPlaylistItemsAdded, Playlist: ir.StaticRef(pid), ItemIDs: added})

	members, _ := c.Members(favs.ID)
	assert.Equal(t, []int64{1, 2}, members)
	members, _ = c.Members(favJazz.ID)
	assert.Equal(t, []int64{1}, members, "the smart playlist's delta reached its dependent")

	removed, err := s.RemovePlaylistItems(ctx, pid, []int64{1})
	require.NoError(t, err)
	mutate(t, c, ir.Event{Kind: ir.EventPlaylistItemsRemoved, Playlist: ir.StaticRef(pid), ItemIDs: removed})

	members, _ = c.Members(favJazz.ID)
	assert.Empty(t, members)
}

func TestController_RemoveRefreshesDependents(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3))
	c := newTestController(t, s)

	base, err := c.Create(ctx, "All", queryir.Query{})
	require.NoError(t, err)
	reader, err := c.Create(ctx, "Reads all", queryir.Query{Filter: queryir.InPlaylist{Playlist: ir.SmartRef(base.ID)}})
	require.NoError(t, err)
	members, _ := c.Members(reader.ID)
	require.Equal(t, []int64{1}, members)

	require.NoError(t, c.Remove(ctx, base.ID))
	require.NoError(t, c.Flush(ctx))

	_, err = c.Get(base.ID)
	assert.True(t, IsNotFound(err))
	members, _ = c.Members(reader.ID)
	assert.Empty(t, members)
}

func TestController_RejectsCycles(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := newTestController(t, s)

	a, err := c.Create(ctx, "A", queryir.Query{})
	require.NoError(t, err)
	b, err := c.Create(ctx, "B", queryir.Query{Filter: queryir.InPlaylist{Playlist: ir.SmartRef(a.ID)}})
	require.NoError(t, err)

	a.Query.Filter = queryir.InPlaylist{Playlist: ir.SmartRef(b.ID)}
	err = c.Update(ctx, a)
	assert.True(t, IsDependencyCycle(err))

	a.Query.Filter = queryir.InPlaylist{Playlist: ir.SmartRef(a.ID)}
	err = c.Update(ctx, a)
	assert.True(t, IsDependencyCycle(err), "self reference")

	_, err = c.Create(ctx, "C", queryir.Query{Filter: queryir.InPlaylist{Playlist: ir.SmartRef(99)}})
	assert.True(t, IsDefinitionInvalid(err), "unknown smart playlist")

	_, err = c.Create(ctx, "D", queryir.Query{Filter: queryir.InPlaylist{Playlist: ir.SmartRef(0)}})
	assert.True(t, IsDefinitionInvalid(err), "a new playlist cannot read an unassigned id")

	got, err := c.Get(a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Query.Filter, "rejected updates leave the definition alone")
}

func TestController_CreateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, openStore(t))

	_, err := c.Create(ctx, "  ", queryir.Query{})
	assert.True(t, IsDefinitionInvalid(err))

	_, err = c.Create(ctx, "Bad field", queryir.Query{Filter: queryir.Compare{Field: "colour", Op: queryir.OpEq, Value: ir.String("red")}})
	assert.True(t, IsDefinitionInvalid(err))
	assert.Empty(t, c.List())
}

func TestController_StoreFailureKeepsLastKnown(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3), track(2, "Rock", 5))
	fs := &flakyStore{Store: s}
	c := newTestController(t, fs)

	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)

	sub := c.Subscribe()
	defer sub.Close()

	fs.failCommits.Store(true)
	require.NoError(t, s.UpdateItem(ctx, track(2, "Jazz", 5)))
	mutate(t, c, ir.Event{Kind: ir.EventItemsChanged, ItemIDs: []int64{2}})

	members, _ := c.Members(def.ID)
	assert.Equal(t, []int64{1}, members, "failed commit keeps the last-known set")

	err = c.Refresh(ctx, def.ID)
	assert.True(t, IsStoreUnavailable(err))
	members, _ = c.Members(def.ID)
	assert.Equal(t, []int64{1}, members)

	fs.failReads.Store(true)
	assert.True(t, IsStoreUnavailable(c.Refresh(ctx, def.ID)))

	got := drain(sub)
	require.NotEmpty(t, got)
	for _, n := range got {
		assert.Equal(t, NotifyWarning, n.Kind)
		assert.Equal(t, def.ID, n.PlaylistID)
		assert.Contains(t, n.Message, string(CodeStoreUnavailable))
	}

	fs.failCommits.Store(false)
	fs.failReads.Store(false)
	require.NoError(t, c.Refresh(ctx, def.ID))
	members, _ = c.Members(def.ID)
	assert.Equal(t, []int64{1, 2}, members, "the next refresh catches up")
}

func TestController_LoadSkipsInvalidDefinitions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3), track(2, "Rock", 5))

	good, err := s.InsertDefinition(ctx, queryir.Record{Name: "Jazz", Predicate: `{"field":"genre","op":"eq","value":"Jazz"}`})
	require.NoError(t, err)
	_, err = s.InsertDefinition(ctx, queryir.Record{Name: "Broken", Predicate: `{"field":`})
	require.NoError(t, err)
	loopA, err := s.InsertDefinition(ctx, queryir.Record{Name: "Loop"})
	require.NoError(t, err)
	loop := queryir.Definition{ID: loopA, Name: "Loop", Query: queryir.Query{Filter: queryir.InPlaylist{Playlist: ir.SmartRef(loopA)}}}
	rec, err := queryir.Encode(loop)
	require.NoError(t, err)
	require.NoError(t, s.UpdateDefinition(ctx, rec))

	c := newTestController(t, s)

	defs := c.List()
	require.Len(t, defs, 1)
	assert.Equal(t, good, defs[0].ID)
	members, _ := c.Members(good)
	assert.Equal(t, []int64{1}, members)
}

func TestController_UpdateAndRename(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3), track(2, "Rock", 5))
	m := NewMetrics(prometheus.NewRegistry())
	c := newTestController(t, s, WithMetrics(m))

	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)
	refreshes := func() float64 { return promtest.ToFloat64(m.Refreshes.WithLabelValues("update")) }

	require.NoError(t, c.Rename(ctx, def.ID, "Smooth"))
	got, _ := c.Get(def.ID)
	assert.Equal(t, "Smooth", got.Name)
	assert.Zero(t, refreshes(), "rename does not recompute")

	got.Query.Filter = genreIs("Rock")
	require.NoError(t, c.Update(ctx, got))
	assert.Equal(t, float64(1), refreshes())
	members, _ := c.Members(def.ID)
	assert.Equal(t, []int64{2}, members)

	rec, err := s.ReadDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "Smooth", rec.Name)

	assert.True(t, IsNotFound(c.Rename(ctx, 404, "x")))
	assert.True(t, IsNotFound(c.Remove(ctx, 404)))
	_, err = c.Count(404)
	assert.True(t, IsNotFound(err))
}

func TestController_LibraryReloaded(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := newTestController(t, s)

	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)

	// Items inserted behind the controller's back are picked up on reload.
	seed(t, s, track(1, "Jazz", 3), track(2, "Jazz", 5))
	mutate(t, c, ir.Event{Kind: ir.EventLibraryReloaded})

	n, err := c.Count(def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestController_ThrottledFlushSettles(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	m := NewMetrics(prometheus.NewRegistry())
	c := newTestController(t, s,
		WithMetrics(m),
		WithRateLimit(RateLimitConfig{EventsMax: 1, Interval: time.Hour, CPUMax: 0.1, RefreshTicks: 5, TickPeriod: time.Hour}),
	)

	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)

	for id := int64(1); id <= 20; id++ {
		seed(t, s, track(id, "Jazz", 3))
		require.NoError(t, c.Enqueue(ir.Event{Kind: ir.EventItemsAdded, ItemIDs: []int64{id}}))
	}
	require.NoError(t, c.Flush(ctx))

	n, err := c.Count(def.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, n, "nothing is lost while throttled")
	assert.False(t, c.Throttled())
	assert.GreaterOrEqual(t, promtest.ToFloat64(m.ThrottleEntries), float64(1))
	assert.GreaterOrEqual(t, promtest.ToFloat64(m.Refreshes.WithLabelValues("settle")), float64(1))
}

func TestController_RunLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3))
	c := newTestController(t, s)
	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)

	sub := c.Subscribe()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	seed(t, s, track(2, "Jazz", 3))
	require.NoError(t, c.Enqueue(ir.Event{Kind: ir.EventItemsAdded, ItemIDs: []int64{2}}))

	n, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, NotifyUpdated, n.Kind)
	assert.Equal(t, def.ID, n.PlaylistID)
	assert.Equal(t, []int64{2}, n.Added)

	c.Stop()
	require.NoError(t, <-done)
	assert.ErrorIs(t, c.Enqueue(ir.Event{Kind: ir.EventLibraryReloaded}), ErrStopped)

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed, "shutdown closes subscriptions")
}

func TestController_EnqueueValidates(t *testing.T) {
	c := newTestController(t, openStore(t))
	var evErr *ir.EventError
	assert.ErrorAs(t, c.Enqueue(ir.Event{Kind: ir.EventItemsChanged}), &evErr)
}

func TestController_DefinePinsID(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 4), track(2, "Rock", 4))
	c := newTestController(t, s)

	base, err := c.Define(ctx, queryir.Definition{ID: 40, Name: "Jazz", Query: queryir.Query{Filter: genreIs("Jazz")}})
	require.NoError(t, err)
	assert.Equal(t, int64(40), base.ID)

	reader, err := c.Define(ctx, queryir.Definition{ID: 41, Name: "From jazz", Query: queryir.Query{
		Filter: queryir.InPlaylist{Playlist: ir.SmartRef(40)},
	}})
	require.NoError(t, err)

	members, err := c.Members(reader.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, members)

	_, err = c.Define(ctx, queryir.Definition{ID: 40, Name: "Again"})
	assert.True(t, IsDefinitionInvalid(err), "ids are not reused")

	_, err = c.Define(ctx, queryir.Definition{ID: 42, Name: "Self", Query: queryir.Query{
		Filter: queryir.InPlaylist{Playlist: ir.SmartRef(42)},
	}})
	assert.True(t, IsDependencyCycle(err))
}

func TestController_FailedCheckIsRepaired(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3))
	fs := &flakyStore{Store: s}
	c := newTestController(t, fs)

	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)

	fs.failCommits.Store(true)
	seed(t, s, track(3, "Jazz", 3))
	mutate(t, c, ir.Event{Kind: ir.EventItemsAdded, ItemIDs: []int64{3}})
	members, _ := c.Members(def.ID)
	assert.Equal(t, []int64{1}, members, "the store is down, last-known set kept")

	fs.failCommits.Store(false)
	require.NoError(t, c.Flush(ctx))
	members, _ = c.Members(def.ID)
	assert.Equal(t, []int64{1, 3}, members, "the next flush retries the failed playlist")
	committed, err := s.ReadMembership(ctx, def.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, committed)
}

func TestController_FailedEvictionIsRepaired(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3), track(2, "Jazz", 3))
	fs := &flakyStore{Store: s}
	c := newTestController(t, fs)

	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)

	fs.failCommits.Store(true)
	require.NoError(t, s.DeleteItems(ctx, []int64{1}))
	mutate(t, c, ir.Event{Kind: ir.EventItemsRemoved, ItemIDs: []int64{1}})

	fs.failCommits.Store(false)
	require.NoError(t, c.Flush(ctx))
	members, _ := c.Members(def.ID)
	assert.Equal(t, []int64{2}, members, "a removed item does not survive a failed eviction")
}

func TestController_DeltasPublishedInCommitOrder(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s, track(1, "Jazz", 3))
	hs := &patchHookStore{Store: s}
	c := newTestController(t, hs)

	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)
	sub := c.Subscribe()
	defer sub.Close()

	// Right after the point check commits item 3, the item changes again
	// and a refresh races the check's notification.
	refreshed := make(chan error, 1)
	hs.afterPatch = func() {
		require.NoError(t, s.UpdateItem(ctx, track(3, "Rock", 3)))
		go func() { refreshed <- c.Refresh(ctx, def.ID) }()
	}
	seed(t, s, track(3, "Jazz", 3))
	mutate(t, c, ir.Event{Kind: ir.EventItemsAdded, ItemIDs: []int64{3}})
	require.NoError(t, <-refreshed)

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, []int64{3}, got[0].Added, "the check committed first")
	assert.Equal(t, []int64{3}, got[1].Removed)
	assert.Less(t, got[0].Seq, got[1].Seq)

	// An observer patching its own copy ends up with the committed set.
	mirror := map[int64]bool{1: true}
	for _, n := range got {
		for _, id := range n.Added {
			mirror[id] = true
		}
		for _, id := range n.Removed {
			delete(mirror, id)
		}
	}
	members, _ := c.Members(def.ID)
	assert.Equal(t, []int64{1}, members)
	assert.Equal(t, map[int64]bool{1: true}, mirror)
}

func TestController_RunSettlesAfterBurst(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := openStore(t)
	m := NewMetrics(prometheus.NewRegistry())
	c := newTestController(t, s, WithMetrics(m), WithRateLimit(throttleFast(10*time.Millisecond)))
	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)
	for id := int64(1); id <= 10; id++ {
		seed(t, s, track(id, "Jazz", 3))
	}

	sub := c.Subscribe()
	defer sub.Close()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for id := int64(1); id <= 10; id++ {
		require.NoError(t, c.Enqueue(ir.Event{Kind: ir.EventItemsAdded, ItemIDs: []int64{id}}))
	}

	for {
		n, err := sub.Next(ctx)
		require.NoError(t, err, "no settle before the deadline")
		if n.Kind != NotifyUpdated || n.PlaylistID != def.ID {
			continue
		}
		if count, _ := c.Count(def.ID); count == 10 {
			break
		}
	}

	assert.False(t, c.Throttled(), "the burst is over")
	assert.GreaterOrEqual(t, promtest.ToFloat64(m.ThrottleEntries), float64(1))
	assert.GreaterOrEqual(t, promtest.ToFloat64(m.Refreshes.WithLabelValues("settle")), float64(1),
		"skipped items only arrive through a settle pass")

	c.Stop()
	require.NoError(t, <-done)
}

func TestController_StopWhileThrottledSettles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := openStore(t)
	m := NewMetrics(prometheus.NewRegistry())
	c := newTestController(t, s, WithMetrics(m), WithRateLimit(throttleFast(time.Hour)))
	def, err := c.Create(ctx, "Jazz", queryir.Query{Filter: genreIs("Jazz")})
	require.NoError(t, err)
	for id := int64(1); id <= 10; id++ {
		seed(t, s, track(id, "Jazz", 3))
		require.NoError(t, c.Enqueue(ir.Event{Kind: ir.EventItemsAdded, ItemIDs: []int64{id}}))
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	c.Stop()
	require.NoError(t, <-done)

	assert.GreaterOrEqual(t, promtest.ToFloat64(m.ThrottleEntries), float64(1))
	assert.False(t, c.Throttled())
	n, err := c.Count(def.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, n, "stopping ends the throttled period with a settle pass")
}
