// Package transport defines the contract a concrete transport must satisfy
// to carry ActionMessages between participants (spec §6: "Transport
// contract (consumed)"). The core never depends on a concrete transport —
// only on this interface — matching the spec's explicit framing of
// transports as an external collaborator.
package transport

import (
	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/ids"
)

// RouteInfo describes where a route leads, opaque beyond what a transport
// needs to dial or address it (e.g. "tcp://host:port", a NATS subject, an
// in-process peer handle).
type RouteInfo struct {
	Target string
}

// Inbound is the callback a Transport invokes for every ActionMessage it
// receives, delivering it onto the owning participant's action queue
// (spec §5: "Transports own their own receive threads and deposit incoming
// bytes as ActionMessages onto the same queue").
type Inbound func(msg action.ActionMessage)

// Transport is the contract consumed by a Core or Broker (spec §6): three
// primitives — transmit, addRoute, and an inbound callback registered once
// at construction — plus a distinguished parent route (RouteID 0).
type Transport interface {
	// Transmit sends msg on routeID. RouteID 0 always denotes the parent
	// route.
	Transmit(routeID ids.RouteID, msg action.ActionMessage) error

	// AddRoute registers routeID as reachable at info, to be resolved by a
	// later Transmit call.
	AddRoute(routeID ids.RouteID, info RouteInfo) error

	// RemoveRoute withdraws a previously added route.
	RemoveRoute(routeID ids.RouteID) error

	// SetInbound installs the callback invoked for every ActionMessage this
	// transport receives. Called once during setup, before Start.
	SetInbound(cb Inbound)

	// Start begins receiving. Transmit/AddRoute may be called before Start;
	// delivery of inbound messages only begins afterward.
	Start() error

	// Close tears the transport down, including its control route (spec
	// §6: "a distinguished 'control route' carries protocol commands...
	// between the participant and its own transport").
	Close() error
}
