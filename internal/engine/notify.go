package engine

import (
	"context"
	"errors"
	"sync"
)

// NotificationKind classifies a notification.
type NotificationKind string

const (
	// NotifyUpdated reports a committed membership change. A refresh always
	// emits one, even when nothing changed.
	NotifyUpdated NotificationKind = "updated"

	// NotifyCreated reports a new smart playlist.
	NotifyCreated NotificationKind = "created"

	// NotifyRemoved reports a deleted smart playlist.
	NotifyRemoved NotificationKind = "removed"

	// NotifyWarning reports a recovered failure, e.g. a failed commit or a
	// definition skipped on load.
	NotifyWarning NotificationKind = "warning"
)

// Notification is delivered to subscribers after each committed change.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	PlaylistID int64            `json:"playlist_id"`
	BatchID    string           `json:"batch_id"`
	Seq        int64            `json:"seq"`
	Added      []int64          `json:"added,omitempty"`
	Removed    []int64          `json:"removed,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// ErrSubscriptionClosed is returned by Next once a subscription is closed
// and drained.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription is an ordered, unbounded stream of notifications.
// Publishing never blocks on a slow subscriber.
type Subscription struct {
	id  int
	q   *queue[Notification]
	hub *hub
}

// Next blocks until a notification is available, the subscription is
// closed, or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Notification, error) {
	for {
		if n, ok := s.q.TryDequeue(); ok {
			return n, nil
		}
		if s.q.Closed() {
			return Notification{}, ErrSubscriptionClosed
		}
		select {
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		case <-s.q.Wait():
		}
	}
}

// TryNext returns the next notification without blocking.
func (s *Subscription) TryNext() (Notification, bool) {
	return s.q.TryDequeue()
}

// Pending returns the number of undelivered notifications.
func (s *Subscription) Pending() int {
	return s.q.Len()
}

// Close detaches the subscription. Notifications already queued can still
// be read.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.q.Close()
}

// hub fans notifications out to subscriptions. Seq and BatchID are
// stamped under the hub lock so every subscriber sees the same order.
type hub struct {
	mu    sync.Mutex
	subs  map[int]*Subscription
	next  int
	clock *Clock
	ids   IDGenerator
}

func newHub(clock *Clock, ids IDGenerator) *hub {
	return &hub{subs: make(map[int]*Subscription), clock: clock, ids: ids}
}

func (h *hub) subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	s := &Subscription{id: h.next, q: newQueue[Notification](), hub: h}
	h.subs[s.id] = s
	return s
}

func (h *hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *hub) publish(n Notification) Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	n.Seq = h.clock.Next()
	if n.BatchID == "" {
		n.BatchID = h.ids.Generate()
	}
	for _, id := range sortedKeys(h.subs) {
		h.subs[id].q.Enqueue(n)
	}
	return n
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*Subscription)
	h.mu.Unlock()

	for _, s := range subs {
		s.q.Close()
	}
}
