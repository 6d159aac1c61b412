// Package engine keeps smart playlist memberships current as the library
// mutates.
//
// ARCHITECTURE:
//
// Single dispatch loop:
// Library mutations arrive as ir.Event values on an unbounded FIFO queue.
// Controller.Run consumes them on one goroutine. For each event the
// dispatch path decides between an incremental check and a deferred full
// refresh:
//
//  1. items_added / items_changed: every playlist point-checks the items
//  2. items_removed: every playlist evicts the items (never rate limited)
//  3. playlist_items_*: playlists that read the playlist re-check the items
//  4. playlist_created / playlist_deleted: dependents resubscribe and refresh
//  5. library_reloaded: every playlist refreshes
//
// Rate limiting:
// The RateLimiter watches event rate and service cost. During a storm the
// dispatch path stops point-checking and the controller runs periodic
// settle passes instead. Leaving throttled mode always settles, so nothing
// is lost. Slow settle passes stretch the interval between them.
//
// Views:
// Each View holds one playlist's member set. A recompute lock serializes
// check and refresh of a playlist; a separate read-write lock guards the
// in-memory set and is never held across a store round trip. The store is
// committed first and memory swapped second, so a failed commit leaves the
// last-known membership in place.
//
// Limits:
// Ordered playlists may be limited by item count, minutes, hours or
// megabytes (LimitPolicy). An incremental check of a limited playlist is
// exact unless the limit's frontier moved; then a background refresh is
// requested to make it exact again.
//
// Dependencies:
// A playlist may read other playlists (InPlaylist predicates). The
// DependencyTracker maps each playlist to its readers. A committed change
// to a smart playlist is re-enqueued as a playlist_items_* event so
// propagation goes through the same dispatch path. Reference cycles are
// rejected.
//
// Ordering:
// Events and notifications are stamped with a monotonic logical Clock.
// Registry iteration is by ascending playlist id.
package engine
