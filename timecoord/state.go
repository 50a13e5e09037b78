// Package timecoord implements the dependency record and TimeCoordinator
// described in spec §3 and §4.4: per-peer time state tracking and the grant
// computation that lets a federate (or, in forwarding mode, a broker/core)
// safely advance logical time.
//
// Two usage modes share one Coordinator type, mirroring the spec's
// "federate coordinator" (computes its own grant) and "forwarding
// coordinator" (relays, used by brokers and cores) — both manipulate the
// same dependency-record bookkeeping, differing only in whether the
// coordinator has a time request of its own to gate on.
package timecoord

import "github.com/cosimrt/corekit/ids"

// TimeState is a dependency's (or, in federate mode, this participant's own)
// position in the exec-entry/time-request protocol (spec §3).
type TimeState uint8

const (
	StateInitialized TimeState = iota
	StateExecRequested
	StateExecRequestedIterative
	StateTimeRequested
	StateTimeRequestedIterative
	StateTimeGranted
)

func (s TimeState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateExecRequested:
		return "exec_requested"
	case StateExecRequestedIterative:
		return "exec_requested_iterative"
	case StateTimeRequested:
		return "time_requested"
	case StateTimeRequestedIterative:
		return "time_requested_iterative"
	case StateTimeGranted:
		return "time_granted"
	default:
		return "unknown"
	}
}

// IsIterative reports whether s is one of the two iterative-request states.
func (s TimeState) IsIterative() bool {
	return s == StateExecRequestedIterative || s == StateTimeRequestedIterative
}

// AtLeastExecRequested reports whether s has progressed past "initialized" —
// used by the exec-entry admission rule in §4.4 ("every dependency's state
// is >= exec_requested").
func (s TimeState) AtLeastExecRequested() bool {
	return s != StateInitialized
}

// Mode selects whether a Coordinator computes its own grant (federate) or
// purely relays dependency state between its children and its parent
// (forwarding — used by Brokers and Cores).
type Mode uint8

const (
	ModeFederate Mode = iota
	ModeForwarding
)

// minFederateTiebreak is a stable tiebreak used when multiple dependencies
// share the same constraining Tnext — the lowest global id "wins" as the
// reported constraining peer, purely for diagnostics/queries.
func minFederateTiebreak(a, b ids.GlobalFederateID) ids.GlobalFederateID {
	if a < b {
		return a
	}
	return b
}
