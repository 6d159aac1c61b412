package engine

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
)

// DependencyTracker records which smart playlists read which playlists.
//
// Edges are derived structurally from InPlaylist nodes of a definition's
// predicate. When a referenced playlist gains or loses items, its
// dependents re-check the affected items.
//
// Thread-safety: safe for concurrent use.
type DependencyTracker struct {
	mu         sync.RWMutex
	refs       map[int64][]ir.PlaylistRef           // dependent -> referenced
	dependents map[ir.PlaylistRef]map[int64]struct{} // referenced -> dependents
}

// NewDependencyTracker creates an empty tracker.
func NewDependencyTracker() *DependencyTracker {
	return &DependencyTracker{
		refs:       make(map[int64][]ir.PlaylistRef),
		dependents: make(map[ir.PlaylistRef]map[int64]struct{}),
	}
}

// Resubscribe drops every edge of def's playlist, then rebuilds them from
// its current predicate.
func (t *DependencyTracker) Resubscribe(def queryir.Definition) {
	refs := queryir.References(def.Query.Filter)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropLocked(def.ID)
	if len(refs) == 0 {
		return
	}
	t.refs[def.ID] = refs
	for _, ref := range refs {
		deps, ok := t.dependents[ref]
		if !ok {
			deps = make(map[int64]struct{})
			t.dependents[ref] = deps
		}
		deps[def.ID] = struct{}{}
	}
}

// Drop removes every edge of playlist id.
func (t *DependencyTracker) Drop(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked(id)
}

func (t *DependencyTracker) dropLocked(id int64) {
	for _, ref := range t.refs[id] {
		deps := t.dependents[ref]
		delete(deps, id)
		if len(deps) == 0 {
			delete(t.dependents, ref)
		}
	}
	delete(t.refs, id)
}

// Dependents returns the smart playlists that read ref, ascending.
func (t *DependencyTracker) Dependents(ref ir.PlaylistRef) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.dependents[ref])
}

// References returns the playlists that id reads.
func (t *DependencyTracker) References(id int64) []ir.PlaylistRef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.refs[id])
}

// CheckCycle reports a DEPENDENCY_CYCLE error if def, with its edges
// replacing the playlist's current ones, would read itself through smart
// playlist references.
func (t *DependencyTracker) CheckCycle(def queryir.Definition) error {
	t.mu.RLock()
	graph := make(dependencyGraph, len(t.refs)+1)
	for id, refs := range t.refs {
		graph[id] = smartTargets(refs)
	}
	t.mu.RUnlock()

	graph[def.ID] = smartTargets(queryir.References(def.Query.Filter))

	for _, scc := range tarjanSCC(graph) {
		if !slices.Contains(scc, def.ID) {
			continue
		}
		if len(scc) > 1 || hasSelfLoop(def.ID, graph) {
			w := cycleSCCToWarning(scc, graph)
			return &Error{
				Code:       CodeDependencyCycle,
				PlaylistID: def.ID,
				Message:    w.Message,
			}
		}
	}
	return nil
}

// Levels groups ids so that every playlist comes after the playlists it
// reads. Playlists within a level are independent and may be refreshed in
// parallel. The graph must be acyclic.
func (t *DependencyTracker) Levels(ids []int64) [][]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	live := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		live[id] = struct{}{}
	}

	depth := make(map[int64]int, len(ids))
	var visit func(id int64, seen map[int64]bool) int
	visit = func(id int64, seen map[int64]bool) int {
		if d, ok := depth[id]; ok {
			return d
		}
		if seen[id] {
			return 0 // cycle guard; definitions with cycles are never registered
		}
		seen[id] = true
		d := 0
		for _, ref := range t.refs[id] {
			if _, ok := live[ref.ID]; !ref.Smart || !ok {
				continue
			}
			d = max(d, visit(ref.ID, seen)+1)
		}
		depth[id] = d
		return d
	}

	var levels [][]int64
	for _, id := range sortedKeys(live) {
		d := visit(id, map[int64]bool{})
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)
	}
	return levels
}

func smartTargets(refs []ir.PlaylistRef) []int64 {
	var out []int64
	for _, r := range refs {
		if r.Smart {
			out = append(out, r.ID)
		}
	}
	return out
}

// CycleWarning describes a smart playlist reference cycle.
type CycleWarning struct {
	Path    []int64 `json:"path"`    // Cycle path: [1, 2, 1]
	Message string  `json:"message"` // Human-readable description
}

// AnalyzeCycles performs static cycle analysis on a set of definitions.
//
// It builds the smart playlist reference graph and finds strongly
// connected components with Tarjan's algorithm. Every component with more
// than one playlist, or a playlist that reads itself, is reported. Static
// playlist references never form cycles.
//
// An acyclic set returns an empty list.
func AnalyzeCycles(defs []queryir.Definition) []CycleWarning {
	graph := make(dependencyGraph, len(defs))
	for _, def := range defs {
		graph[def.ID] = smartTargets(queryir.References(def.Query.Filter))
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps a smart playlist id to the smart playlists it reads.
type dependencyGraph map[int64][]int64

func hasSelfLoop(node int64, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in ascending id order so the result is deterministic.
func tarjanSCC(graph dependencyGraph) [][]int64 {
	var (
		index   = 0
		stack   []int64
		indices = make(map[int64]int)
		lowlink = make(map[int64]int)
		onStack = make(map[int64]bool)
		sccs    [][]int64
	)

	var strongConnect func(int64)
	strongConnect = func(v int64) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component
		if lowlink[v] == indices[v] {
			var scc []int64
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range sortedKeys(graph) {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning with a path through
// the cycle.
func cycleSCCToWarning(scc []int64, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []int64{id, id},
			Message: fmt.Sprintf("smart playlist %d reads itself", id),
		}
	}

	path := reconstructCyclePath(scc, graph)
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = ir.SmartRef(id).String()
	}
	return CycleWarning{
		Path:    path,
		Message: "reference cycle: " + strings.Join(parts, " -> "),
	}
}

// reconstructCyclePath starts at the smallest member of the SCC and follows
// edges to other members until it returns to the start.
func reconstructCyclePath(scc []int64, graph dependencyGraph) []int64 {
	if len(scc) == 0 {
		return []int64{}
	}

	member := make(map[int64]bool, len(scc))
	for _, id := range scc {
		member[id] = true
	}

	start := scc[0]
	current := start
	path := []int64{current}
	visited := make(map[int64]bool)

	for {
		visited[current] = true

		next, found := int64(0), false
		for _, neighbor := range graph[current] {
			if member[neighbor] && (!visited[neighbor] || neighbor == start) {
				next, found = neighbor, true
				break
			}
		}
		if !found {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
