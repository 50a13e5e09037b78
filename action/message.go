// Package action implements the universal command record that every Broker
// and Core routes, dispatches, and serializes: the ActionMessage (spec §3,
// §4.1). Dispatch throughout the core switches on MessageKind; nothing here
// uses Go type assertions to recover "the real" message type.
package action

import (
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

// ActionMessage is the fixed-header-plus-payload command record described in
// spec §3. The header fields are kept as plain struct fields (not a packed
// byte array) for ordinary Go ergonomics; ToBytes/FromBytes below produce the
// compact, host-stable wire form the spec calls for.
type ActionMessage struct {
	Action MessageKind

	// MessageID is a sequence number, or an echo of the triggering message's
	// sequence number for *_ACK / *_REPLY commands.
	MessageID int32

	SourceID     ids.GlobalFederateID
	SourceHandle ids.InterfaceHandle
	DestID       ids.GlobalFederateID
	DestHandle   ids.InterfaceHandle

	// Counter multiplexes "iteration number" (exec/time requests) and
	// "filter chain position" (SEND_FOR_FILTER family) depending on Action.
	Counter uint16

	Flags Flags

	// SequenceID orders messages from the same source independent of
	// MessageID's echo/sequence dual use.
	SequenceID uint32

	ActionTime simtime.Time
	Te         simtime.Time // next event time of the source
	Tdemin     simtime.Time // minimum of dependents' event times
	Tso        simtime.Time // second-order minimum, used by forwarding coordinators

	// Payload is the opaque value/message body (publication bytes, endpoint
	// message bytes, filter-transformed bytes, ...).
	Payload []byte

	// StringData carries the variable-length string vector (names, keys,
	// query strings, JSON replies, ...). The bare protocol, ping and tick
	// commands are encoded without it — see hasStringData in codec.go.
	StringData []string

	// RouteHint is not part of the wire format: a Transport stamps it on
	// every inbound message with the RouteID it arrived on (from the
	// receiver's own route table), so a Broker/Core dispatching the message
	// knows which child/peer route to reply on without a separate lookup
	// (spec §4.3's routing table is keyed by global id once known, but
	// registration acks must reach a child before it has one).
	RouteHint ids.RouteID
}

// New builds a zero-valued ActionMessage of the given kind with both global
// ids defaulted to invalid, matching the teacher's constructor-function style
// (network/msg.go's NewTXPack/NewReplicatedTXPack) rather than a bare struct
// literal at every call site.
func New(kind MessageKind) ActionMessage {
	return ActionMessage{
		Action:    kind,
		SourceID:  ids.InvalidGlobalFedID,
		DestID:    ids.InvalidGlobalFedID,
		RouteHint: ids.InvalidRouteID,
	}
}

// Less orders messages by ActionTime, for use in time-sorted future queues
// (spec §4.1: "Comparison < is by actionTime").
func (m ActionMessage) Less(other ActionMessage) bool {
	return m.ActionTime < other.ActionTime
}

// WithPayload returns a copy of m carrying payload as its Payload.
func (m ActionMessage) WithPayload(payload []byte) ActionMessage {
	m.Payload = payload
	return m
}

// WithStrings returns a copy of m carrying the given string-data vector.
func (m ActionMessage) WithStrings(s ...string) ActionMessage {
	m.StringData = s
	return m
}
