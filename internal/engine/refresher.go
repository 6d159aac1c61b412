package engine

import (
	"context"
	"sync"
)

type refreshState int

const (
	refreshQueued refreshState = iota + 1
	refreshRunning
	refreshAgain // running, and requested again meanwhile
)

// Refresher runs full refreshes on a bounded pool of background workers.
//
// Requests are coalesced per playlist id: a request for an id that is
// already queued is dropped, and a request for an id that is refreshing
// runs it once more afterwards. Refreshes of one id never overlap.
type Refresher struct {
	fn      func(ctx context.Context, id int64)
	workers int
	q       *queue[int64]

	mu      sync.Mutex
	state   map[int64]refreshState
	pending int
	idle    *sync.Cond

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewRefresher creates a refresher that calls fn with up to workers
// refreshes in flight.
func NewRefresher(workers int, fn func(ctx context.Context, id int64)) *Refresher {
	if workers < 1 {
		workers = 1
	}
	r := &Refresher{
		fn:      fn,
		workers: workers,
		q:       newQueue[int64](),
		state:   make(map[int64]refreshState),
	}
	r.idle = sync.NewCond(&r.mu)
	return r
}

// Start launches the workers. Later calls are no-ops.
func (r *Refresher) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go r.work(ctx)
		}
	})
}

// Request schedules a refresh of id. Returns false once stopped.
func (r *Refresher) Request(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state[id] {
	case refreshQueued, refreshAgain:
		return true
	case refreshRunning:
		r.state[id] = refreshAgain
		return true
	}

	if !r.q.Enqueue(id) {
		return false
	}
	r.state[id] = refreshQueued
	r.pending++
	return true
}

// Pending returns the number of playlists queued or refreshing.
func (r *Refresher) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// WaitIdle blocks until nothing is queued or refreshing. The workers must
// have been started.
func (r *Refresher) WaitIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.pending > 0 {
		r.idle.Wait()
	}
}

// Stop stops accepting requests, lets the workers drain what is queued,
// and waits for them to exit.
func (r *Refresher) Stop() {
	r.q.Close()
	r.wg.Wait()
}

func (r *Refresher) work(ctx context.Context) {
	defer r.wg.Done()

	for {
		id, ok := r.q.TryDequeue()
		if !ok {
			if r.q.Closed() {
				return
			}
			select {
			case <-ctx.Done():
				r.abandon()
				return
			case <-r.q.Wait():
			}
			continue
		}

		r.mu.Lock()
		r.state[id] = refreshRunning
		r.mu.Unlock()

		r.fn(ctx, id)

		r.mu.Lock()
		if r.state[id] == refreshAgain && r.q.Enqueue(id) {
			r.state[id] = refreshQueued
		} else {
			delete(r.state, id)
			r.pending--
			if r.pending == 0 {
				r.idle.Broadcast()
			}
		}
		r.mu.Unlock()
	}
}

// abandon forgets queued requests after cancellation so WaitIdle returns.
func (r *Refresher) abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		id, ok := r.q.TryDequeue()
		if !ok {
			break
		}
		if r.state[id] == refreshQueued {
			delete(r.state, id)
			r.pending--
		}
	}
	if r.pending == 0 {
		r.idle.Broadcast()
	}
}
