package queryir

import (
	"sort"

	"github.com/roach88/smartview/internal/ir"
)

// References returns the playlists a predicate reads, deduplicated and
// sorted (static before smart, then by id).
func References(p Predicate) []ir.PlaylistRef {
	seen := map[ir.PlaylistRef]bool{}
	walk(p, func(node Predicate) {
		if in, ok := node.(InPlaylist); ok {
			seen[in.Playlist] = true
		}
	})

	refs := make([]ir.PlaylistRef, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Smart != refs[j].Smart {
			return !refs[i].Smart
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}

// TimeDependent reports whether membership drifts as the clock advances: the
// filter contains a Within node or the order sorts by a time field.
func TimeDependent(q Query) bool {
	found := false
	walk(q.Filter, func(node Predicate) {
		if _, ok := node.(Within); ok {
			found = true
		}
	})
	if found {
		return true
	}
	if q.Order != nil {
		if f, ok := LookupField(q.Order.Field); ok && f.Kind == KindTime {
			return true
		}
	}
	return false
}

// walk visits every node of the predicate tree in pre-order.
func walk(p Predicate, visit func(Predicate)) {
	if p == nil {
		return
	}
	visit(p)
	switch pred := p.(type) {
	case And:
		for _, sub := range pred.Predicates {
			walk(sub, visit)
		}
	case Or:
		for _, sub := range pred.Predicates {
			walk(sub, visit)
		}
	case Not:
		walk(pred.Predicate, visit)
	}
}
