package filter

import (
	"sync"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/ids"
)

// Blocker tracks in-flight destination-filter round trips, implementing
// spec §4.7's time-blocking protocol: a receiver's time is blocked via
// CMD_TIME_BLOCK(messageId=M) and released via CMD_TIME_UNBLOCK(M) once
// either CMD_DEST_FILTER_RESULT or CMD_NULL_DEST_MESSAGE arrives for M.
type Blocker struct {
	mu      sync.Mutex
	pending map[int32]struct{}
}

// NewBlocker creates an empty Blocker.
func NewBlocker() *Blocker {
	return &Blocker{pending: make(map[int32]struct{})}
}

// Block records messageID as outstanding and returns the CMD_TIME_BLOCK
// message to send to the owning federate's Core.
func (b *Blocker) Block(dest ids.GlobalFederateID, messageID int32) action.ActionMessage {
	b.mu.Lock()
	b.pending[messageID] = struct{}{}
	b.mu.Unlock()

	m := action.New(action.CmdTimeBlock)
	m.DestID = dest
	m.MessageID = messageID
	return m
}

// Release clears messageID and returns the CMD_TIME_UNBLOCK message to
// send, along with ok=false if messageID was not (or no longer) pending —
// e.g. a duplicate DEST_FILTER_RESULT arriving after TERMINATE_IMMEDIATELY.
func (b *Blocker) Release(dest ids.GlobalFederateID, messageID int32) (action.ActionMessage, bool) {
	b.mu.Lock()
	_, ok := b.pending[messageID]
	delete(b.pending, messageID)
	b.mu.Unlock()
	if !ok {
		return action.ActionMessage{}, false
	}
	m := action.New(action.CmdTimeUnblock)
	m.DestID = dest
	m.MessageID = messageID
	return m, true
}

// Pending reports how many destination-filter round trips are currently
// outstanding, for diagnostics and tests.
func (b *Blocker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// BuildSendForFilter constructs the cross-core filter request named in
// spec §4.7: CMD_SEND_FOR_FILTER carries counter = chain position; the
// final stage is CMD_SEND_FOR_FILTER_AND_RETURN so the owning core can
// reply without both sides needing to track "is this the last hop" out of
// band, and CMD_SEND_FOR_DEST_FILTER_AND_RETURN marks a destination-filter
// round trip specifically.
func BuildSendForFilter(dest ids.GlobalFederateID, destHandle ids.InterfaceHandle, payload []byte, counter uint16, last, destination bool) action.ActionMessage {
	kind := action.CmdSendForFilter
	switch {
	case last && destination:
		kind = action.CmdSendForDestFilterAndReturn
	case last:
		kind = action.CmdSendForFilterAndReturn
	}
	m := action.New(kind)
	m.DestID = dest
	m.DestHandle = destHandle
	m.Counter = counter
	m.Payload = payload
	return m
}
