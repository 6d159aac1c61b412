package engine

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultTimeRefresh refreshes time-dependent playlists every minute.
const DefaultTimeRefresh = "* * * * *"

// timeSchedule computes when time-dependent playlists are next refreshed.
type timeSchedule struct {
	expr string
}

// newTimeSchedule parses a cron expression. An expression with no
// occurrence is rejected.
func newTimeSchedule(expr string) (*timeSchedule, error) {
	if expr == "" {
		expr = DefaultTimeRefresh
	}
	if _, err := gronx.NextTickAfter(expr, time.Now(), false); err != nil {
		return nil, fmt.Errorf("invalid time refresh schedule %q: %w", expr, err)
	}
	return &timeSchedule{expr: expr}, nil
}

// next returns the first occurrence strictly after t.
func (s *timeSchedule) next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// delay returns how long to wait from now until the next occurrence.
func (s *timeSchedule) delay(now time.Time) time.Duration {
	next, err := s.next(now)
	if err != nil {
		return time.Minute
	}
	return max(next.Sub(now), 0)
}

// timeRefresh is the cron timer of the dispatch loop. It is armed only
// while at least one live playlist depends on the current time.
type timeRefresh struct {
	schedule *timeSchedule
	timer    *time.Timer
}

// C returns the timer channel, or nil while disarmed so a select on it
// blocks forever.
func (r *timeRefresh) C() <-chan time.Time {
	if r.timer == nil {
		return nil
	}
	return r.timer.C
}

// Armed reports whether the timer is running.
func (r *timeRefresh) Armed() bool {
	return r.timer != nil
}

// sync arms or disarms the timer. It reports whether the state changed.
func (r *timeRefresh) sync(active bool, now time.Time) bool {
	switch {
	case active && r.timer == nil:
		r.timer = time.NewTimer(r.schedule.delay(now))
		return true
	case !active && r.timer != nil:
		r.timer.Stop()
		r.timer = nil
		return true
	}
	return false
}

// rearm schedules the next occurrence after a fire.
func (r *timeRefresh) rearm(now time.Time) {
	if r.timer != nil {
		r.timer.Reset(r.schedule.delay(now))
	}
}

func (r *timeRefresh) stop() {
	r.sync(false, time.Time{})
}
