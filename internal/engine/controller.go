package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
	"github.com/roach88/smartview/internal/querysql"
)

// Store is the persistence the controller needs. Implemented by
// *store.Store.
type Store interface {
	ReadDefinitions(ctx context.Context) ([]queryir.Record, error)
	InsertDefinition(ctx context.Context, rec queryir.Record) (int64, error)
	UpdateDefinition(ctx context.Context, rec queryir.Record) error
	DeleteDefinition(ctx context.Context, id int64) error

	Candidates(ctx context.Context, q queryir.Query, now time.Time, r *querysql.Restriction) ([]ir.Candidate, error)
	MatchItem(ctx context.Context, filter queryir.Predicate, now time.Time, itemID int64) (bool, error)
	ReplaceMembership(ctx context.Context, playlistID int64, ids []int64) error
	PatchMembership(ctx context.Context, playlistID int64, added, removed []int64) error
}

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("controller stopped")

// DefaultWorkers bounds background refreshes and settle fan-out.
const DefaultWorkers = 4

// Controller owns the smart playlist views and keeps them current as the
// library mutates.
//
// Mutation events are consumed by a single dispatch goroutine (Run) from an
// unbounded FIFO queue. The dispatch path runs incremental checks and owns
// the rate limiter. Full refreshes run on a background Refresher, and
// settle passes fan out across playlists in dependency order.
//
// Thread-safety model:
//   - Enqueue, Subscribe, Get, List, Members, Count, Throttled: any goroutine
//   - Create, Update, Rename, Remove, Refresh, RefreshAll: any goroutine
//   - Run or Flush: exactly one goroutine at a time
type Controller struct {
	store   Store
	logger  *slog.Logger
	clock   *Clock
	now     func() time.Time
	ids     IDGenerator
	metrics *Metrics
	workers int

	events    *queue[ir.Event]
	views     *xsync.MapOf[int64, *View]
	deps      *DependencyTracker
	eval      *evaluator
	limiter   *RateLimiter
	refresher *Refresher
	hub       *hub
	schedule  *timeSchedule

	rateCfg  RateLimitConfig
	sizes    SizeResolver
	cronExpr string

	// defMu serializes definition writes so reference and cycle checks see
	// a stable registry.
	defMu sync.Mutex

	// Dispatch-path state, touched only by Run or Flush.
	ticker          *time.Ticker
	settling        bool
	settlePending   bool
	pendingDeferred []func()
	settled         chan time.Duration

	// defined wakes the dispatch loop after a definition write so it can
	// arm or disarm the time refresh.
	defined chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithNow sets the wall clock used for time predicates and the rate
// limiter. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator sets the notification batch id generator. Default:
// UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Controller) { c.ids = g }
}

// WithRateLimit sets the rate limiter configuration.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(c *Controller) { c.rateCfg = cfg }
}

// WithSizeResolver sets how megabyte limits size items. Default: none,
// every item counts as zero megabytes.
func WithSizeResolver(r SizeResolver) Option {
	return func(c *Controller) { c.sizes = r }
}

// WithWorkers bounds background refreshes and settle fan-out.
func WithWorkers(n int) Option {
	return func(c *Controller) { c.workers = n }
}

// WithTimeRefresh sets the cron expression on which time-dependent
// playlists are refreshed. Default: every minute.
func WithTimeRefresh(expr string) Option {
	return func(c *Controller) { c.cronExpr = expr }
}

// WithMetrics sets the Prometheus collectors. Default: unregistered.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a controller over s. Call Load before use.
func New(s Store, opts ...Option) (*Controller, error) {
	c := &Controller{
		store:    s,
		logger:   slog.Default(),
		clock:    NewClock(),
		now:      time.Now,
		ids:      UUIDv7Generator{},
		workers:  DefaultWorkers,
		events:   newQueue[ir.Event](),
		views:    xsync.NewMapOf[int64, *View](),
		deps:     NewDependencyTracker(),
		rateCfg:  DefaultRateLimitConfig(),
		cronExpr: DefaultTimeRefresh,
		settled:  make(chan time.Duration, 1),
		defined:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}

	sched, err := newTimeSchedule(c.cronExpr)
	if err != nil {
		return nil, err
	}
	c.schedule = sched

	c.eval = &evaluator{
		store:  s,
		policy: NewLimitPolicy(c.sizes, c.logger),
		now:    c.now,
		logger: c.logger,
	}
	c.limiter = NewRateLimiter(c.rateCfg, c.now)
	c.refresher = NewRefresher(c.workers, c.backgroundRefresh)
	c.hub = newHub(c.clock, c.ids)
	c.metrics.RefreshTicks.Set(float64(c.limiter.RefreshTicks()))
	return c, nil
}

// Load reads every persisted definition, registers the valid ones and
// refreshes them in dependency order. Invalid definitions and members of
// reference cycles are skipped with a warning; they never prevent the
// others from loading.
func (c *Controller) Load(ctx context.Context) error {
	c.defMu.Lock()
	defer c.defMu.Unlock()

	recs, err := c.store.ReadDefinitions(ctx)
	if err != nil {
		return storeUnavailable(0, "read definitions", err)
	}

	var defs []queryir.Definition
	for _, rec := range recs {
		def, err := queryir.Decode(rec)
		if err != nil {
			c.warn(rec.ID, definitionInvalid(rec.ID, err))
			continue
		}
		defs = append(defs, def)
	}

	cyclic := make(map[int64]bool)
	for _, w := range AnalyzeCycles(defs) {
		for _, id := range w.Path {
			cyclic[id] = true
		}
		c.warn(w.Path[0], &Error{Code: CodeDependencyCycle, PlaylistID: w.Path[0], Message: w.Message})
	}

	loaded := 0
	for _, def := range defs {
		if cyclic[def.ID] {
			continue
		}
		fp, err := queryir.Fingerprint(def.Query)
		if err != nil {
			c.warn(def.ID, definitionInvalid(def.ID, err))
			continue
		}
		c.views.Store(def.ID, newView(def, fp))
		c.deps.Resubscribe(def)
		loaded++
	}

	c.logger.Info("smart playlists loaded",
		"loaded", loaded,
		"skipped", len(recs)-loaded,
	)

	return c.settle(ctx, "load")
}

// Create validates, persists and materializes a new smart playlist. The
// playlist is fully refreshed before Create returns.
func (c *Controller) Create(ctx context.Context, name string, q queryir.Query) (queryir.Definition, error) {
	return c.Define(ctx, queryir.Definition{Name: name, Query: q})
}

// Define creates a smart playlist like Create, but keeps def.ID when it
// is non-zero. Definitions imported from files use it to pin the ids
// their references name.
func (c *Controller) Define(ctx context.Context, def queryir.Definition) (queryir.Definition, error) {
	c.defMu.Lock()
	def.Name = strings.TrimSpace(def.Name)
	if _, exists := c.views.Load(def.ID); def.ID != 0 && exists {
		c.defMu.Unlock()
		return def, definitionInvalid(def.ID, fmt.Errorf("smart playlist %d already exists", def.ID))
	}
	fp, err := c.validate(def)
	if err != nil {
		c.defMu.Unlock()
		return def, err
	}

	rec, err := queryir.Encode(def)
	if err != nil {
		c.defMu.Unlock()
		return def, definitionInvalid(0, err)
	}
	id, err := c.store.InsertDefinition(ctx, rec)
	if err != nil {
		c.defMu.Unlock()
		return def, storeUnavailable(0, "insert definition", err)
	}
	def.ID = id

	v := newView(def, fp)
	c.views.Store(id, v)
	c.deps.Resubscribe(def)
	c.defMu.Unlock()

	c.logger.Info("smart playlist created", "playlist", id, "name", def.Name)
	c.wake()
	c.hub.publish(Notification{Kind: NotifyCreated, PlaylistID: id, Message: def.Name})

	return def, c.refreshView(ctx, v, "create")
}

// Update replaces the name and query of playlist def.ID. The playlist is
// refreshed only when the evaluable query changed.
func (c *Controller) Update(ctx context.Context, def queryir.Definition) error {
	c.defMu.Lock()
	v, ok := c.views.Load(def.ID)
	if !ok {
		c.defMu.Unlock()
		return notFound(def.ID)
	}
	def.Name = strings.TrimSpace(def.Name)
	fp, err := c.validate(def)
	if err != nil {
		c.defMu.Unlock()
		return err
	}

	rec, err := queryir.Encode(def)
	if err != nil {
		c.defMu.Unlock()
		return definitionInvalid(def.ID, err)
	}
	if err := c.store.UpdateDefinition(ctx, rec); err != nil {
		c.defMu.Unlock()
		return storeUnavailable(def.ID, "update definition", err)
	}

	v.mu.RLock()
	changed := v.fingerprint != fp
	v.mu.RUnlock()

	v.setDefinition(def, fp)
	c.deps.Resubscribe(def)
	c.defMu.Unlock()

	c.logger.Info("smart playlist updated", "playlist", def.ID, "name", def.Name, "query_changed", changed)
	c.wake()
	if !changed {
		return nil
	}
	return c.refreshView(ctx, v, "update")
}

// Rename changes a playlist's name. Membership is not recomputed.
func (c *Controller) Rename(ctx context.Context, id int64, name string) error {
	v, ok := c.views.Load(id)
	if !ok {
		return notFound(id)
	}
	def := v.Definition()
	def.Name = name
	return c.Update(ctx, def)
}

// Remove deletes a playlist and its committed membership. Playlists that
// read it are refreshed.
func (c *Controller) Remove(ctx context.Context, id int64) error {
	c.defMu.Lock()
	v, ok := c.views.Load(id)
	if !ok {
		c.defMu.Unlock()
		return notFound(id)
	}
	if err := c.store.DeleteDefinition(ctx, id); err != nil {
		c.defMu.Unlock()
		return storeUnavailable(id, "delete definition", err)
	}
	c.views.Delete(id)
	v.dispose()
	c.deps.Drop(id)
	c.defMu.Unlock()

	c.logger.Info("smart playlist removed", "playlist", id)
	c.hub.publish(Notification{Kind: NotifyRemoved, PlaylistID: id})

	// Dependents now read an empty playlist.
	_ = c.Enqueue(ir.Event{Kind: ir.EventPlaylistDeleted, Playlist: ir.SmartRef(id)})
	return nil
}

// validate checks a definition before it is persisted and returns its
// fingerprint. Must be called with defMu held.
func (c *Controller) validate(def queryir.Definition) (string, error) {
	if def.Name == "" {
		return "", definitionInvalid(def.ID, &queryir.ValidationError{Problems: []string{"name must not be empty"}})
	}
	if err := queryir.Validate(def.Query); err != nil {
		return "", definitionInvalid(def.ID, err)
	}
	for _, ref := range queryir.References(def.Query.Filter) {
		if !ref.Smart || (def.ID != 0 && ref.ID == def.ID) {
			continue
		}
		if _, ok := c.views.Load(ref.ID); !ok {
			return "", definitionInvalid(def.ID, fmt.Errorf("references unknown smart playlist %d", ref.ID))
		}
	}
	if def.ID != 0 {
		if err := c.deps.CheckCycle(def); err != nil {
			return "", err
		}
	}
	fp, err := queryir.Fingerprint(def.Query)
	if err != nil {
		return "", definitionInvalid(def.ID, err)
	}
	return fp, nil
}

// Get returns a playlist's definition.
func (c *Controller) Get(id int64) (queryir.Definition, error) {
	v, ok := c.views.Load(id)
	if !ok {
		return queryir.Definition{}, notFound(id)
	}
	return v.Definition(), nil
}

// View returns a playlist's view.
func (c *Controller) View(id int64) (*View, bool) {
	return c.views.Load(id)
}

// List returns every live definition, ascending by id.
func (c *Controller) List() []queryir.Definition {
	views := c.liveViews()
	defs := make([]queryir.Definition, len(views))
	for i, v := range views {
		defs[i] = v.Definition()
	}
	return defs
}

// Members returns a playlist's members in query order.
func (c *Controller) Members(id int64) ([]int64, error) {
	v, ok := c.views.Load(id)
	if !ok {
		return nil, notFound(id)
	}
	return v.Members(), nil
}

// Count returns a playlist's member count.
func (c *Controller) Count(id int64) (int, error) {
	v, ok := c.views.Load(id)
	if !ok {
		return 0, notFound(id)
	}
	return v.Count(), nil
}

// Throttled reports whether the rate limiter is in throttled mode.
func (c *Controller) Throttled() bool {
	return c.limiter.Throttled()
}

// Subscribe returns a new notification stream.
func (c *Controller) Subscribe() *Subscription {
	return c.hub.subscribe()
}

// Refresh recomputes one playlist on the calling goroutine.
func (c *Controller) Refresh(ctx context.Context, id int64) error {
	v, ok := c.views.Load(id)
	if !ok {
		return notFound(id)
	}
	return c.refreshView(ctx, v, "manual")
}

// RefreshAll recomputes every playlist in dependency order on the calling
// goroutine. All playlists are attempted; the first failure is returned.
func (c *Controller) RefreshAll(ctx context.Context) error {
	return c.settle(ctx, "manual")
}

// Enqueue stamps e with the next seq and queues it for dispatch.
// Thread-safe: may be called from any goroutine.
func (c *Controller) Enqueue(e ir.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.Seq = c.clock.Next()
	if !c.events.Enqueue(e) {
		return ErrStopped
	}
	return nil
}

// Run is the dispatch loop. It processes events until ctx is cancelled or
// Stop is called and the queue has drained.
//
// CRITICAL: Run must be called from exactly one goroutine, and never
// concurrently with Flush.
func (c *Controller) Run(ctx context.Context) error {
	c.refresher.Start(ctx)
	defer c.shutdown()

	c.logger.Info("controller started", "workers", c.workers, "time_refresh", c.schedule.expr)

	cron := &timeRefresh{schedule: c.schedule}
	defer cron.stop()

	idle := true
	for {
		if cron.sync(c.hasTimeDependent(), c.now()) {
			c.logger.Debug("time refresh", "armed", cron.Armed())
		}

		// Timers first so a sustained storm cannot starve the throttle ticks.
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping: context cancelled")
			return ctx.Err()
		case <-c.tickC():
			c.onTick(ctx)
			continue
		case elapsed := <-c.settled:
			c.onSettled(ctx, elapsed)
			continue
		case <-cron.C():
			c.onTimeTick()
			cron.rearm(c.now())
			continue
		default:
		}

		if e, ok := c.events.TryDequeue(); ok {
			c.dispatch(ctx, e)
			idle = false
			continue
		}
		if !idle {
			// A burst just drained: retry playlists left stale by it.
			c.repairStale()
			idle = true
		}

		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping: context cancelled")
			return ctx.Err()
		case <-c.tickC():
			c.onTick(ctx)
		case elapsed := <-c.settled:
			c.onSettled(ctx, elapsed)
		case <-cron.C():
			c.onTimeTick()
			cron.rearm(c.now())
		case <-c.defined:
		case <-c.events.Wait():
			// The signal channel closes when the queue is closed.
			if c.events.Closed() && c.events.Len() == 0 {
				c.finish(ctx)
				c.logger.Info("controller stopping: queue closed")
				return nil
			}
		}
	}
}

// Flush retries playlists whose last commit failed, processes every queued
// event on the calling goroutine, waits for background refreshes, and
// finishes any throttled period with a settle pass, repeating until nothing
// is left to do. Views are exact when Flush returns nil and no warning was
// published.
//
// Used by the CLI and the test harness in place of Run.
func (c *Controller) Flush(ctx context.Context) error {
	c.refresher.Start(ctx)
	c.repairStale()

	for {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			e, ok := c.events.TryDequeue()
			if !ok {
				break
			}
			c.dispatch(ctx, e)
		}

		c.refresher.WaitIdle()

		deferred, throttled := c.limiter.Release()
		c.stopTicker()
		if throttled || len(deferred) > 0 {
			for _, fn := range deferred {
				fn()
			}
			if err := c.settle(ctx, "settle"); err != nil {
				c.logger.Warn("settle pass incomplete", "error", err)
			}
		}

		if c.events.Len() == 0 && c.refresher.Pending() == 0 {
			return nil
		}
	}
}

// Stop closes the event queue. Run returns once the queue has drained and
// any throttled period has ended with a settle pass.
func (c *Controller) Stop() {
	c.events.Close()
}

// Close stops background work and closes every subscription. Use it when
// the controller was driven with Flush rather than Run.
func (c *Controller) Close() {
	c.events.Close()
	c.shutdown()
}

// finish completes outstanding work before Run returns after Stop: it waits
// for an in-flight settle and background refreshes, then ends a throttled
// period with the deferred actions and a final settle pass.
func (c *Controller) finish(ctx context.Context) {
	for c.settling {
		c.onSettled(ctx, <-c.settled)
	}
	c.refresher.WaitIdle()

	deferred, throttled := c.limiter.Release()
	c.stopTicker()
	if !throttled && len(deferred) == 0 {
		return
	}
	for _, fn := range deferred {
		fn()
	}
	if err := c.settle(ctx, "settle"); err != nil {
		c.logger.Warn("settle pass incomplete", "error", err)
	}
	c.refresher.WaitIdle()
}

func (c *Controller) shutdown() {
	c.stopTicker()
	c.refresher.Stop()
	c.hub.closeAll()
}

// dispatch routes one event.
// CRITICAL: called only from Run or Flush.
func (c *Controller) dispatch(ctx context.Context, e ir.Event) {
	c.metrics.event(e.Kind)
	c.logger.Debug("dispatching event",
		"kind", e.Kind,
		"seq", e.Seq,
		"items", len(e.ItemIDs),
		"playlist", e.Playlist.String(),
	)

	switch e.Kind {
	case ir.EventItemsAdded, ir.EventItemsChanged:
		c.handleItemsChanged(ctx, e)
	case ir.EventItemsRemoved:
		c.handleItemsRemoved(ctx, e)
	case ir.EventPlaylistCreated, ir.EventPlaylistDeleted:
		c.handlePlaylistLifecycle(e)
	case ir.EventPlaylistItemsAdded, ir.EventPlaylistItemsRemoved:
		c.handlePlaylistItems(ctx, e)
	case ir.EventLibraryReloaded:
		c.limiter.Execute("library_reloaded", func() { c.requestRefresh(c.liveViews()) })
	default:
		c.logger.Warn("unknown event kind", "kind", e.Kind, "seq", e.Seq)
	}
}

// handleItemsChanged point-checks added or changed items against every
// playlist, unless the rate limiter says to skip.
func (c *Controller) handleItemsChanged(ctx context.Context, e ir.Event) {
	start := time.Now()

	skip := false
	for range e.ItemIDs {
		if c.limiter.RecordEvent() {
			skip = true
		}
	}
	if skip {
		c.enterThrottle()
		return
	}

	c.checkViews(ctx, c.liveViews(), e.ItemIDs)
	c.limiter.AddCPU(time.Since(start))
}

// handleItemsRemoved evicts deleted items. Eviction is never rate limited:
// a removed item must not linger in any playlist.
func (c *Controller) handleItemsRemoved(ctx context.Context, e ir.Event) {
	for _, v := range c.liveViews() {
		id := v.Definition().ID
		if !v.run.TryLock() {
			c.metrics.check("busy")
			c.refresher.Request(id)
			continue
		}
		delta, err := c.eval.evict(ctx, v, e.ItemIDs)
		c.metrics.check("evict")

		if err != nil {
			v.run.Unlock()
			c.repairLater(v, err)
			continue
		}
		if delta.Empty() {
			v.run.Unlock()
			continue
		}
		c.publishDelta(id, delta)
		v.run.Unlock()
		// A limited playlist has room for an outside item now.
		if _, limited := v.Definition().Query.EffectiveLimit(); limited {
			c.refresher.Request(id)
		}
	}
}

// handlePlaylistLifecycle resubscribes and refreshes every playlist that
// reads the created or deleted playlist.
func (c *Controller) handlePlaylistLifecycle(e ir.Event) {
	ref := e.Playlist
	c.limiter.Execute("playlist:"+ref.String(), func() {
		var views []*View
		for _, id := range c.deps.Dependents(ref) {
			if v, ok := c.views.Load(id); ok {
				c.deps.Resubscribe(v.Definition())
				views = append(views, v)
			}
		}
		c.requestRefresh(views)
	})
}

// handlePlaylistItems propagates a referenced playlist's membership change
// to its dependents.
func (c *Controller) handlePlaylistItems(ctx context.Context, e ir.Event) {
	deps := c.deps.Dependents(e.Playlist)
	if len(deps) == 0 {
		return
	}

	start := time.Now()
	if c.limiter.RecordEvent() {
		c.enterThrottle()
		return
	}

	views := make([]*View, 0, len(deps))
	for _, id := range deps {
		if v, ok := c.views.Load(id); ok {
			views = append(views, v)
		}
	}
	c.checkViews(ctx, views, e.ItemIDs)
	c.limiter.AddCPU(time.Since(start))
}

// checkViews point-checks items against views. A view that is busy
// refreshing is not waited for; it gets a follow-up refresh instead.
func (c *Controller) checkViews(ctx context.Context, views []*View, itemIDs []int64) {
	for _, v := range views {
		id := v.Definition().ID
		if v.State() == StateLoading {
			c.refresher.Request(id)
			continue
		}
		if !v.run.TryLock() {
			c.metrics.check("busy")
			c.refresher.Request(id)
			continue
		}
		delta, reconcile, err := c.eval.check(ctx, v, itemIDs)
		if err == nil && !delta.Empty() {
			c.publishDelta(id, delta)
		}
		v.run.Unlock()

		if v.Definition().Query.Ordered() {
			c.metrics.check("ordered")
		} else {
			c.metrics.check("unordered")
		}

		if err != nil {
			c.repairLater(v, err)
			continue
		}
		if reconcile {
			c.refresher.Request(id)
		}
	}
}

// timeDependentViews returns the live playlists whose membership depends on
// the current time.
func (c *Controller) timeDependentViews() []*View {
	var views []*View
	for _, v := range c.liveViews() {
		if queryir.TimeDependent(v.Definition().Query) {
			views = append(views, v)
		}
	}
	return views
}

func (c *Controller) hasTimeDependent() bool {
	found := false
	c.views.Range(func(_ int64, v *View) bool {
		if v.State() != StateDisposed && queryir.TimeDependent(v.Definition().Query) {
			found = true
			return false
		}
		return true
	})
	return found
}

// wake signals the dispatch loop without blocking.
func (c *Controller) wake() {
	select {
	case c.defined <- struct{}{}:
	default:
	}
}

// onTimeTick refreshes time-dependent playlists in the background.
func (c *Controller) onTimeTick() {
	views := c.timeDependentViews()
	if len(views) == 0 {
		return
	}
	if c.limiter.RecordEvent() {
		c.enterThrottle()
		return
	}
	c.logger.Debug("time refresh", "playlists", len(views))
	c.limiter.Execute("time_refresh", func() { c.requestRefresh(views) })
}

func (c *Controller) requestRefresh(views []*View) {
	for _, v := range views {
		c.refresher.Request(v.Definition().ID)
	}
}

func (c *Controller) tickC() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C
}

func (c *Controller) enterThrottle() {
	if c.ticker != nil {
		return
	}
	c.ticker = time.NewTicker(c.limiter.Period())
	c.metrics.ThrottleEntries.Inc()
	c.metrics.Throttled.Set(1)
	c.logger.Info("rate limited: switching to periodic settle passes",
		"period", c.limiter.Period(),
		"refresh_ticks", c.limiter.RefreshTicks(),
	)
}

func (c *Controller) stopTicker() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.ticker = nil
	c.metrics.Throttled.Set(0)
}

func (c *Controller) onTick(ctx context.Context) {
	res := c.limiter.Tick()
	if res.Exited {
		c.stopTicker()
		c.logger.Info("rate limit lifted")
	}
	if res.Settle {
		c.startSettle(ctx, res.Deferred)
	}
}

// startSettle launches a settle pass in the background. A pass requested
// while one is running is queued behind it.
func (c *Controller) startSettle(ctx context.Context, deferred []func()) {
	if c.settling {
		c.settlePending = true
		c.pendingDeferred = append(c.pendingDeferred, deferred...)
		return
	}
	c.settling = true
	go func() {
		start := time.Now()
		for _, fn := range deferred {
			fn()
		}
		if err := c.settle(ctx, "settle"); err != nil {
			c.logger.Warn("settle pass incomplete", "error", err)
		}
		c.settled <- time.Since(start)
	}()
}

func (c *Controller) onSettled(ctx context.Context, elapsed time.Duration) {
	c.settling = false
	c.metrics.SettleSeconds.Observe(elapsed.Seconds())
	if c.limiter.ObserveSettle(elapsed) {
		c.metrics.RefreshTicks.Set(float64(c.limiter.RefreshTicks()))
		c.logger.Warn("settle pass slow: backing off",
			"elapsed", elapsed,
			"refresh_ticks", c.limiter.RefreshTicks(),
		)
	}
	if c.settlePending {
		c.settlePending = false
		deferred := c.pendingDeferred
		c.pendingDeferred = nil
		c.startSettle(ctx, deferred)
	}
}

// settle refreshes every live playlist, one dependency level at a time,
// with up to c.workers refreshes in flight. Every playlist is attempted;
// the first failure is returned.
func (c *Controller) settle(ctx context.Context, reason string) error {
	views := c.liveViews()
	ids := make([]int64, len(views))
	for i, v := range views {
		ids[i] = v.Definition().ID
	}

	var first error
	for _, level := range c.deps.Levels(ids) {
		var g errgroup.Group
		g.SetLimit(c.workers)
		for _, id := range level {
			v, ok := c.views.Load(id)
			if !ok {
				continue
			}
			g.Go(func() error {
				return c.refreshView(ctx, v, reason)
			})
		}
		if err := g.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// backgroundRefresh is the Refresher callback.
func (c *Controller) backgroundRefresh(ctx context.Context, id int64) {
	v, ok := c.views.Load(id)
	if !ok {
		return
	}
	_ = c.refreshView(ctx, v, "background")
}

// refreshView fully recomputes v and always notifies, even when nothing
// changed. The notification is published under v.run so subscribers see a
// playlist's deltas in commit order. Failures are reported as warnings,
// mark v stale and are returned.
func (c *Controller) refreshView(ctx context.Context, v *View, reason string) error {
	id := v.Definition().ID
	v.run.Lock()
	defer v.run.Unlock()

	delta, err := c.eval.refresh(ctx, v)
	c.metrics.refresh(reason)
	if err != nil {
		v.stale.Store(true)
		c.warn(id, err)
		return err
	}
	v.stale.Store(false)

	c.logger.Debug("playlist refreshed",
		"playlist", id,
		"reason", reason,
		"members", v.Count(),
		"added", len(delta.Added),
		"removed", len(delta.Removed),
	)
	c.publishDelta(id, delta)
	return nil
}

// publishDelta notifies subscribers of a committed change and propagates it
// to dependent playlists through the event queue, so propagation stays on
// the dispatch path and under the rate limiter.
func (c *Controller) publishDelta(id int64, delta Delta) {
	c.hub.publish(Notification{
		Kind:       NotifyUpdated,
		PlaylistID: id,
		Added:      delta.Added,
		Removed:    delta.Removed,
	})

	ref := ir.SmartRef(id)
	if delta.Empty() || len(c.deps.Dependents(ref)) == 0 {
		return
	}
	if len(delta.Added) > 0 {
		_ = c.Enqueue(ir.Event{Kind: ir.EventPlaylistItemsAdded, Playlist: ref, ItemIDs: delta.Added})
	}
	if len(delta.Removed) > 0 {
		_ = c.Enqueue(ir.Event{Kind: ir.EventPlaylistItemsRemoved, Playlist: ref, ItemIDs: delta.Removed})
	}
}

// repairLater reports a failed point commit and schedules a full refresh.
// If that refresh fails too, v stays stale until repairStale retries it.
func (c *Controller) repairLater(v *View, err error) {
	id := v.Definition().ID
	v.stale.Store(true)
	c.warn(id, err)
	c.refresher.Request(id)
}

// repairStale requests a refresh of every view whose last commit failed.
func (c *Controller) repairStale() {
	for _, v := range c.liveViews() {
		if v.stale.Load() {
			c.refresher.Request(v.Definition().ID)
		}
	}
}

// warn logs a recovered failure and notifies subscribers. It never
// escalates: the dispatch loop keeps going.
func (c *Controller) warn(id int64, err error) {
	code := ErrorCode("UNKNOWN")
	var e *Error
	if errors.As(err, &e) {
		code = e.Code
	}
	c.metrics.failure(code)
	c.logger.Warn("smart playlist failure",
		"playlist", id,
		"code", code,
		"error", err,
	)
	c.hub.publish(Notification{Kind: NotifyWarning, PlaylistID: id, Message: err.Error()})
}

// liveViews returns the registered views, ascending by id.
func (c *Controller) liveViews() []*View {
	byID := make(map[int64]*View, c.views.Size())
	c.views.Range(func(id int64, v *View) bool {
		if v.State() != StateDisposed {
			byID[id] = v
		}
		return true
	})
	out := make([]*View, 0, len(byID))
	for _, id := range sortedKeys(byID) {
		out = append(out, byID[id])
	}
	return out
}
