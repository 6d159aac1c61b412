// Package ir provides the foundational types shared by every smartview
// package: literal values, library items, mutation events and the
// canonical JSON encoding used for persisted definitions.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - no float values: fractional limits are carried as strings
//   - all JSON tags use snake_case
//   - events carry a logical sequence number, never a wall-clock stamp
package ir
