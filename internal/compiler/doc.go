// Package compiler turns smart playlist definitions authored in CUE into
// queryir definitions.
//
// A definitions file declares playlists under a top-level "playlist"
// struct, keyed by name:
//
//	playlist: "Short Jazz": {
//		id:    3 // optional, needed when other playlists reference this one
//		where: {op: "eq", field: "genre", value: "Jazz"}
//		order: "duration asc"
//		limit: "10 minutes"
//	}
//
// "where" uses the predicate encoding of package queryir. A list of
// predicates is shorthand for their conjunction. "limit" may be a bare
// integer, meaning a count of items.
package compiler
