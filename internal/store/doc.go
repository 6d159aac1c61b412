// Package store provides SQLite-backed storage for the library collection,
// static playlists, smart playlist definitions and their materialized
// membership.
//
// Tables:
//   - items: the collection
//   - playlists, playlist_entries: static (hand-made) playlists
//   - smart_playlists: definitions (canonical JSON predicate, order, limit)
//   - smart_playlist_entries: committed materialized membership
//
// # Critical Patterns
//
// Membership commits are transactional and scoped to one playlist: a full
// refresh deletes and reinserts the playlist's rows, a point check patches
// them. Readers never observe a half-written membership.
//
// Candidate queries are compiled by querysql and always end in
// ORDER BY ..., id ASC, so identical inputs produce identical sequences.
//
// Text attributes are NFC normalized on write so they compare equal to the
// normalized literals stored in predicates.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
