package engine

import (
	"sync"
	"time"
)

// RateLimitConfig tunes the adaptive rate limiter.
type RateLimitConfig struct {
	// EventsMax is the number of events between throttle checks (K).
	// Zero or negative disables throttling.
	EventsMax int

	// Interval is the minimum wall time K events may take before the
	// limiter throttles.
	Interval time.Duration

	// CPUMax is the fraction of wall time that servicing events may use.
	CPUMax float64

	// RefreshTicks is the number of throttled ticks between settle passes
	// (R). It doubles when a settle pass is slow.
	RefreshTicks int

	// TickPeriod is the throttled-mode tick period.
	TickPeriod time.Duration
}

// DefaultRateLimitConfig returns K=5, a 1s interval, 10% CPU and a settle
// pass every 5 one-second ticks.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		EventsMax:    5,
		Interval:     time.Second,
		CPUMax:       0.10,
		RefreshTicks: 5,
		TickPeriod:   time.Second,
	}
}

// TickResult tells the caller what a throttled tick decided.
type TickResult struct {
	// Settle is set when a settle pass (refresh of every live playlist)
	// must run now.
	Settle bool

	// Exited is set when the limiter left throttled mode on this tick.
	Exited bool

	// Deferred holds the actions coalesced by Execute since the previous
	// settle pass, in first-deferred order. Only set when Settle is.
	Deferred []func()
}

// RateLimiter detects mutation storms and switches the controller from
// per-event point checks to periodic settle passes.
//
// Every EventsMax events it compares the wall time since the previous check
// and the CPU time spent servicing those events against Interval and
// CPUMax. Too fast or too expensive enters throttled mode, where events are
// skipped and the controller ticks every TickPeriod. A tick that sees fewer
// than EventsMax new events leaves throttled mode. Leaving, or every
// RefreshTicks-th throttled tick, triggers a settle pass.
//
// The limiter owns no timers and no goroutines; the controller drives it
// from its dispatch loop. The mutex only makes Throttled safe to read from
// other goroutines.
type RateLimiter struct {
	mu  sync.Mutex
	cfg RateLimitConfig
	now func() time.Time

	events    int
	lastCheck time.Time
	cpu       time.Duration

	throttled      bool
	throttledTicks int
	refreshTicks   int

	deferred map[string]func()
	order    []string
}

// NewRateLimiter creates a limiter. A nil now uses time.Now.
func NewRateLimiter(cfg RateLimitConfig, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	if cfg.RefreshTicks <= 0 {
		cfg.RefreshTicks = 1
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = cfg.Interval
	}
	return &RateLimiter{
		cfg:          cfg,
		now:          now,
		refreshTicks: cfg.RefreshTicks,
		deferred:     make(map[string]func()),
	}
}

// RecordEvent counts one event and reports whether the caller must skip
// the immediate work for it.
func (l *RateLimiter) RecordEvent() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.EventsMax <= 0 {
		return false
	}

	l.events++
	if l.throttled {
		return true
	}
	if l.events < l.cfg.EventsMax {
		return false
	}

	now := l.now()
	delta := now.Sub(l.lastCheck)
	throttle := delta < l.cfg.Interval || float64(l.cpu) > l.cfg.CPUMax*float64(delta)

	l.events = 0
	l.lastCheck = now
	l.cpu = 0

	if throttle {
		l.throttled = true
		l.throttledTicks = 0
		return true
	}
	return false
}

// AddCPU accumulates time spent servicing events.
func (l *RateLimiter) AddCPU(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cpu += d
}

// Tick advances throttled mode by one period. Ticks outside throttled mode
// are ignored.
func (l *RateLimiter) Tick() TickResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.throttled {
		return TickResult{}
	}

	l.throttled = l.events >= l.cfg.EventsMax
	l.throttledTicks++

	var res TickResult
	if !l.throttled || l.throttledTicks >= l.refreshTicks {
		l.throttledTicks = 0
		res.Settle = true
		res.Deferred = l.takeDeferredLocked()
	}
	if !l.throttled {
		res.Exited = true
		l.lastCheck = l.now()
	}

	l.cpu = 0
	l.events = 0
	return res
}

// ObserveSettle reports how long a settle pass took. A pass slower than a
// quarter of the settle interval doubles RefreshTicks for the rest of the
// run. It never shrinks again. Returns true when it doubled.
func (l *RateLimiter) ObserveSettle(elapsed time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	budget := time.Duration(0.25 * float64(l.refreshTicks) * float64(l.cfg.TickPeriod))
	if elapsed > budget {
		l.refreshTicks *= 2
		return true
	}
	return false
}

// Execute runs action now, or, while throttled, defers it into the next
// settle pass. Deferred actions with the same key are coalesced: the last
// action wins and keeps the first one's position. Returns true if the
// action ran.
func (l *RateLimiter) Execute(key string, action func()) bool {
	l.mu.Lock()
	if l.throttled {
		if _, ok := l.deferred[key]; !ok {
			l.order = append(l.order, key)
		}
		l.deferred[key] = action
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	action()
	return true
}

// Release leaves throttled mode immediately and returns the deferred
// actions. The caller must run a settle pass. Used when the controller
// drains synchronously or shuts down.
func (l *RateLimiter) Release() (deferred []func(), wasThrottled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	wasThrottled = l.throttled
	l.throttled = false
	l.throttledTicks = 0
	l.events = 0
	l.cpu = 0
	l.lastCheck = l.now()
	return l.takeDeferredLocked(), wasThrottled
}

func (l *RateLimiter) takeDeferredLocked() []func() {
	if len(l.order) == 0 {
		return nil
	}
	out := make([]func(), 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.deferred[key])
	}
	l.order = nil
	l.deferred = make(map[string]func())
	return out
}

// Throttled reports whether the limiter is in throttled mode.
func (l *RateLimiter) Throttled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.throttled
}

// RefreshTicks returns the current number of throttled ticks between
// settle passes.
func (l *RateLimiter) RefreshTicks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshTicks
}

// Period returns the throttled-mode tick period.
func (l *RateLimiter) Period() time.Duration {
	return l.cfg.TickPeriod
}
