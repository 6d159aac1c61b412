// Package queryir provides the typed intermediate representation of a
// smart playlist definition: a filter predicate, an optional order and an
// optional limit.
//
// ARCHITECTURE:
//
// Definitions are authored as JSON (CLI), CUE (import) or YAML (harness
// scenarios) and all converge on the same tree:
//
//	[JSON / CUE / YAML] → [queryir.Query] → [querysql] → SQLite
//	                                      → [engine]   (limit policy, dependencies)
//
// The predicate is persisted as its canonical JSON (see ir.MarshalCanonical)
// so a definition round-trips byte-for-byte through the store.
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only
// types in this package implement it, which keeps type switches in the SQL
// compiler and the inspection walkers exhaustive:
//
//	switch p := pred.(type) {
//	case Compare:
//	case And, Or, Not:
//	case InPlaylist:
//	case Within:
//	}
//
// STRUCTURAL INSPECTION:
//
// Two facts about a definition drive the engine and are derived from the
// tree, never from text matching:
//
//   - References: the playlists a predicate reads (InPlaylist nodes). The
//     dependency tracker subscribes to exactly these.
//   - TimeDependent: whether membership drifts with the clock (a Within node,
//     or ordering by a time field). Such playlists are refreshed on a
//     schedule.
//
// LIMITS:
//
// A limit only applies to an ordered playlist. Without an order the limit is
// ignored, and a limit whose number is empty or zero is degenerate. Count
// limits are pushed into SQL; cumulative limits (minutes, hours, megabytes)
// are walked in memory by the engine.
package queryir
