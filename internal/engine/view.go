package engine

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
	"github.com/roach88/smartview/internal/querysql"
)

// ViewState is the lifecycle state of a view.
type ViewState int

const (
	// StateLoading is a view whose first refresh has not committed yet.
	StateLoading ViewState = iota
	// StateActive is a live view.
	StateActive
	// StateDisposed is a removed view. Stale references ignore it.
	StateDisposed
)

func (s ViewState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// View is the materialized membership of one smart playlist.
//
// Two locks guard it. run serializes recomputation (check and refresh) of
// this playlist and the publication of its deltas. mu guards the in-memory definition and member set and is
// only held for in-memory reads and swaps, never across a store round trip.
type View struct {
	run sync.Mutex

	// stale is set when a commit failed and the committed or in-memory set
	// may be wrong. A successful refresh clears it.
	stale atomic.Bool

	mu          sync.RWMutex
	def         queryir.Definition
	fingerprint string
	state       ViewState
	members     []int64 // in query order
	set         map[int64]struct{}
	hash        string
}

func newView(def queryir.Definition, fingerprint string) *View {
	return &View{
		def:         def,
		fingerprint: fingerprint,
		set:         make(map[int64]struct{}),
		hash:        ir.MembershipHash(nil),
	}
}

// Definition returns the current definition.
func (v *View) Definition() queryir.Definition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.def
}

// State returns the lifecycle state.
func (v *View) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Members returns a copy of the member ids in query order (ascending id for
// unordered playlists).
func (v *View) Members() []int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.members)
}

// Count returns the number of members.
func (v *View) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.members)
}

// Contains reports whether id is a member.
func (v *View) Contains(id int64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.set[id]
	return ok
}

// Hash returns the membership hash of the current member set.
func (v *View) Hash() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.hash
}

func (v *View) snapshot() (queryir.Definition, map[int64]struct{}) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.def, maps.Clone(v.set)
}

// swap installs a committed member list.
func (v *View) swap(members []int64) {
	set := make(map[int64]struct{}, len(members))
	for _, id := range members {
		set[id] = struct{}{}
	}
	hash := ir.MembershipHash(members)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.members = members
	v.set = set
	v.hash = hash
	if v.state == StateLoading {
		v.state = StateActive
	}
}

func (v *View) setDefinition(def queryir.Definition, fingerprint string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.def = def
	v.fingerprint = fingerprint
}

func (v *View) dispose() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = StateDisposed
}

// Delta is a committed membership change.
type Delta struct {
	Added   []int64
	Removed []int64
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// evaluator recomputes view membership against the store and commits it.
type evaluator struct {
	store  Store
	policy *LimitPolicy
	now    func() time.Time
	logger *slog.Logger
}

// refresh recomputes the whole membership of v and commits it wholesale.
// On a store failure the in-memory set is left untouched. The caller holds
// v.run.
func (e *evaluator) refresh(ctx context.Context, v *View) (Delta, error) {
	def, old := v.snapshot()
	if v.State() == StateDisposed {
		return Delta{}, nil
	}

	cands, err := e.store.Candidates(ctx, def.Query, e.now(), nil)
	if err != nil {
		return Delta{}, storeUnavailable(def.ID, "evaluate candidates", err)
	}
	members := e.members(def, cands)

	if err := e.store.ReplaceMembership(ctx, def.ID, members); err != nil {
		return Delta{}, storeUnavailable(def.ID, "commit membership", err)
	}

	v.swap(members)
	return diff(old, members), nil
}

// check re-evaluates the given items against v and commits the change
// incrementally. reconcile is set when the result may be inexact because
// a limit's frontier moved; the caller should schedule a refresh.
func (e *evaluator) check(ctx context.Context, v *View, itemIDs []int64) (delta Delta, reconcile bool, err error) {
	def, old := v.snapshot()
	if len(itemIDs) == 0 || v.State() == StateDisposed {
		return Delta{}, false, nil
	}

	if !def.Query.Ordered() {
		delta, err = e.checkUnordered(ctx, v, def, old, itemIDs)
		return delta, false, err
	}
	return e.checkOrdered(ctx, v, def, old, itemIDs)
}

func (e *evaluator) checkUnordered(ctx context.Context, v *View, def queryir.Definition, old map[int64]struct{}, itemIDs []int64) (Delta, error) {
	now := e.now()
	var delta Delta
	for _, id := range itemIDs {
		matched, err := e.store.MatchItem(ctx, def.Query.Filter, now, id)
		if err != nil {
			return Delta{}, storeUnavailable(def.ID, "match item", err)
		}
		_, member := old[id]
		switch {
		case matched && !member:
			delta.Added = append(delta.Added, id)
		case !matched && member:
			delta.Removed = append(delta.Removed, id)
		}
	}
	if delta.Empty() {
		return delta, nil
	}

	if err := e.store.PatchMembership(ctx, def.ID, delta.Added, delta.Removed); err != nil {
		return Delta{}, storeUnavailable(def.ID, "commit membership", err)
	}

	next := make(map[int64]struct{}, len(old)+len(delta.Added))
	for id := range old {
		next[id] = struct{}{}
	}
	for _, id := range delta.Removed {
		delete(next, id)
	}
	for _, id := range delta.Added {
		next[id] = struct{}{}
	}
	v.swap(sortedKeys(next))
	return delta, nil
}

// checkOrdered evaluates the query restricted to the current members plus
// the mutated items. Members missing from the result no longer match and
// are evicted; the limit is re-applied so new items may displace the tail.
func (e *evaluator) checkOrdered(ctx context.Context, v *View, def queryir.Definition, old map[int64]struct{}, itemIDs []int64) (Delta, bool, error) {
	r := &querysql.Restriction{Playlist: def.ID, Include: itemIDs}
	cands, err := e.store.Candidates(ctx, def.Query, e.now(), r)
	if err != nil {
		return Delta{}, false, storeUnavailable(def.ID, "evaluate candidates", err)
	}
	members := e.members(def, cands)
	delta := diff(old, members)

	touchedMember := false
	for _, id := range itemIDs {
		if _, ok := old[id]; ok {
			touchedMember = true
			break
		}
	}
	_, limited := def.Query.EffectiveLimit()
	reconcile := limited && (len(delta.Removed) > 0 || touchedMember)

	if !delta.Empty() {
		if err := e.store.PatchMembership(ctx, def.ID, delta.Added, delta.Removed); err != nil {
			return Delta{}, false, storeUnavailable(def.ID, "commit membership", err)
		}
	}
	// Order may change without a membership change, so always swap.
	v.swap(members)
	return delta, reconcile, nil
}

// evict removes deleted items from v. No query is needed: a deleted item
// matches nothing.
func (e *evaluator) evict(ctx context.Context, v *View, itemIDs []int64) (Delta, error) {
	def, old := v.snapshot()
	var delta Delta
	for _, id := range itemIDs {
		if _, ok := old[id]; ok {
			delta.Removed = append(delta.Removed, id)
		}
	}
	if delta.Empty() {
		return delta, nil
	}
	if err := e.store.PatchMembership(ctx, def.ID, nil, delta.Removed); err != nil {
		return Delta{}, storeUnavailable(def.ID, "commit eviction", err)
	}

	gone := make(map[int64]struct{}, len(delta.Removed))
	for _, id := range delta.Removed {
		gone[id] = struct{}{}
	}
	members := make([]int64, 0, v.Count())
	for _, id := range v.Members() {
		if _, ok := gone[id]; !ok {
			members = append(members, id)
		}
	}
	v.swap(members)
	return delta, nil
}

// members applies the limit policy and projects candidates to ids.
func (e *evaluator) members(def queryir.Definition, cands []ir.Candidate) []int64 {
	kept := cands
	if def.Query.Ordered() {
		kept = e.policy.Apply(def.ID, def.Query, cands)
	}
	ids := make([]int64, len(kept))
	for i, c := range kept {
		ids[i] = c.ID
	}
	if !def.Query.Ordered() {
		slices.Sort(ids)
	}
	return ids
}

// diff returns the ids added to and removed from old by next, each sorted
// ascending.
func diff(old map[int64]struct{}, next []int64) Delta {
	var d Delta
	seen := make(map[int64]struct{}, len(next))
	for _, id := range next {
		seen[id] = struct{}{}
		if _, ok := old[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}
	for id := range old {
		if _, ok := seen[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	slices.Sort(d.Added)
	slices.Sort(d.Removed)
	return d
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
