// Package harness runs smart playlist scenarios against a real controller.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: jazz_retag
//	description: "A retagged track leaves the Jazz playlist"
//	now: 2024-06-01T12:00:00Z
//	definitions:
//	  - playlists.cue
//	setup:
//	  items:
//	    - {id: 1, title: So What, genre: Jazz, duration: 9m22s}
//	  playlists:
//	    - {id: 10, name: Favourites, items: [1]}
//	  smart:
//	    - id: 1
//	      name: Jazz
//	      where: {op: eq, field: genre, value: Jazz}
//	steps:
//	  - name: retag
//	    update_items:
//	      - {id: 1, title: So What, genre: Rock, duration: 9m22s}
//	assertions:
//	  - type: members
//	    playlist: 1
//	    expect: []
//	  - type: notified
//	    playlist: 1
//	    kind: updated
//	    step: retag
//	  - type: consistent
//
// # Assertion Types
//
//   - members: the playlist's members, in query order
//   - count: the playlist's member count
//   - notified: notifications of a kind for a playlist, optionally per step
//     and with an exact count
//   - consistent: committed membership equals the in-memory set for every
//     live playlist
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory database with a fixed
// evaluation time and sequential batch ids (testutil.SequenceIDGenerator).
// The controller is flushed after each step instead of running its event
// loop, so the rate limiter never engages and every step ends with exact
// views. The resulting traces are stable enough for golden comparison.
package harness
