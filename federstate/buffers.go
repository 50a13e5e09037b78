package federstate

import (
	"bytes"

	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

// InputBuffer holds what has most recently been published to one input
// handle, plus (optionally) the retained history of prior values — spec §3:
// "per-input value buffer (latest + optional history)".
type InputBuffer struct {
	Handle ids.InterfaceHandle

	// OnlyUpdateOnChange mirrors the federate flag of the same name
	// (spec §6): a new value that binary-equals the latest is dropped
	// rather than replacing it (spec §4.6 "change detection").
	OnlyUpdateOnChange bool
	KeepHistory        bool

	latest  []byte
	hasLast bool
	history [][]byte
}

// NewInputBuffer creates an empty buffer for handle.
func NewInputBuffer(handle ids.InterfaceHandle) *InputBuffer {
	return &InputBuffer{Handle: handle}
}

// Update deposits a newly received value. It reports whether the value was
// actually stored (false when change-detection dropped a repeat).
func (b *InputBuffer) Update(value []byte) bool {
	if b.OnlyUpdateOnChange && b.hasLast && bytes.Equal(b.latest, value) {
		return false
	}
	b.latest = value
	b.hasLast = true
	if b.KeepHistory {
		b.history = append(b.history, value)
	}
	return true
}

// Latest returns the most recently stored value, if any.
func (b *InputBuffer) Latest() ([]byte, bool) {
	return b.latest, b.hasLast
}

// History returns every retained value in arrival order (empty unless
// KeepHistory is set).
func (b *InputBuffer) History() [][]byte {
	return b.history
}

// EndpointQueue is the per-endpoint FIFO of messages deposited by delivery,
// holding both the payload and its originating action time (spec §3:
// "per-endpoint message queue").
type EndpointQueue struct {
	Handle ids.InterfaceHandle

	items []EndpointMessage
}

// EndpointMessage is one message delivered to an endpoint.
type EndpointMessage struct {
	Source  ids.GlobalHandle
	Time    simtime.Time
	Payload []byte
}

// NewEndpointQueue creates an empty queue for handle.
func NewEndpointQueue(handle ids.InterfaceHandle) *EndpointQueue {
	return &EndpointQueue{Handle: handle}
}

// Push appends m to the tail of the queue, preserving per-(source,
// destination) FIFO order (spec §8 invariant 5).
func (q *EndpointQueue) Push(m EndpointMessage) {
	q.items = append(q.items, m)
}

// Pop removes and returns the oldest message, if any.
func (q *EndpointQueue) Pop() (EndpointMessage, bool) {
	if len(q.items) == 0 {
		return EndpointMessage{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

// Len reports how many messages are currently queued.
func (q *EndpointQueue) Len() int {
	return len(q.items)
}
