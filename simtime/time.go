// Package simtime defines the federation's logical time type — a simple
// float64 seconds value, matching the value semantics of HELICS's Time (the
// system this core is distilled from represents time as a fixed-point
// integer internally, but the externally visible arithmetic is ordinary
// real-number comparison/addition, which float64 gives us directly; nothing
// in the pack ships a fixed-point duration type worth borrowing for this).
package simtime

import "math"

// Time is a point (or duration) in federation logical time, in seconds.
type Time float64

const (
	// Zero is the time every federate starts at on entering execution.
	Zero Time = 0

	// MaxTime is the largest representable time. A TIME_GRANT at MaxTime is
	// treated as a disconnect by the action-message predicate in §4.1/§4.4.
	MaxTime Time = Time(math.MaxFloat64)

	// Epsilon is a small time separation constant. The grant rule in
	// timecoord (§4.4: equality is only allowed when the dependency is still
	// requesting) compares times exactly and does not use it.
	Epsilon Time = 1e-9
)

// Min returns the smaller of a and b.
func Min(a, b Time) Time {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Time) Time {
	if a > b {
		return a
	}
	return b
}

// IsDisconnectTime reports whether t signals "this participant will never
// produce another event" (spec §4.4: MaxTime is treated as a disconnect).
func IsDisconnectTime(t Time) bool {
	return t >= MaxTime
}
