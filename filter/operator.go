// Package filter implements the source/destination/clone filter pipeline
// (spec §4.7): ordering a federate's source-filter chain, applying cloning
// vs. non-cloning semantics, and the cross-core SEND_FOR_FILTER protocol
// plus destination time-blocking.
package filter

import (
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

// Operator is a user-supplied message transform, installed via the Core's
// airlock (spec §4.5 "setFilterOperator") and invoked by the processing
// thread only. A non-cloning operator's return value replaces the message;
// returning keep=false drops it. A cloning operator's Apply result becomes
// the payload of each forked copy (keep=false produces no copies) and the
// original message is left untouched — see ApplyChain.
type Operator interface {
	Apply(payload []byte) (out []byte, keep bool)
}

// OperatorFunc adapts a plain function to Operator.
type OperatorFunc func(payload []byte) ([]byte, bool)

func (f OperatorFunc) Apply(payload []byte) ([]byte, bool) { return f(payload) }

// TimedOperator is an optional extension to Operator for filters that also
// shift a message's action time (spec §8 scenario (d): "a destination
// filter... adds a 0.5s delay"). The destination-filter call path tries this
// interface first and falls back to plain Apply, leaving the action time
// untouched, for filters that don't implement it.
type TimedOperator interface {
	Operator
	ApplyAt(payload []byte, t simtime.Time) (out []byte, newTime simtime.Time, keep bool)
}

// Record is one filter's registration metadata plus its installed operator
// (spec §3 "handle metadata", kind=filter).
type Record struct {
	Handle ids.InterfaceHandle
	Owner  ids.LocalFederateID

	Cloning    bool
	InputType  string
	OutputType string

	// DeliveryTargets lists the endpoints a cloning filter forks a copy to;
	// ignored for non-cloning filters, which simply replace the message.
	DeliveryTargets []ids.GlobalHandle

	// Remote names the filter's owning interface when the filter lives on a
	// different core (spec §4.7's SEND_FOR_FILTER round trip); Op stays nil
	// for a remote record since the operator runs where it was installed.
	Remote ids.GlobalHandle

	Op Operator
}

// IsRemote reports whether this record stands in for a filter owned by a
// different core, reached via the SEND_FOR_FILTER protocol rather than a
// local Op call.
func (r *Record) IsRemote() bool {
	return r.Op == nil && r.Remote.Valid()
}
