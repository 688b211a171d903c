// Package ir provides the data model shared by every stage of the proof pipeline.
//
// This package contains type definitions and canonical hashing only. All other
// internal packages import ir; ir imports nothing internal. This keeps the data
// model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Requirements are immutable once loaded and are tracked by ID, never by position
//   - A Signature's requires/ensures clauses never change after type-checking succeeds
//   - Trail events are append-only and ordered by a logical seq, never wall-clock time
//   - All JSON tags use snake_case
package ir
