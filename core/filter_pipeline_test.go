package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/federstate"
	"github.com/cosimrt/corekit/filter"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/transport/inproc"
)

// upperOperator is a non-cloning filter.Operator that upper-cases its
// payload, standing in for a user-supplied transform installed via
// SetFilterOperator.
type upperOperator struct{}

func (upperOperator) Apply(payload []byte) ([]byte, bool) {
	return []byte(strings.ToUpper(string(payload))), true
}

// TestHandleSendMessageAppliesDestinationFilter is spec §4.7's destination
// filter chain: a non-cloning filter attached via AddDestinationFilter must
// transform CMD_SEND_MESSAGE's payload before it reaches the endpoint queue.
func TestHandleSendMessageAppliesDestinationFilter(t *testing.T) {
	hub := inproc.NewHub()
	leaf := inproc.New(hub, "leaf")
	require.NoError(t, leaf.Start())
	defer leaf.Close()

	c := New("leaf", leaf)
	fed := federstate.New("receiver", 1)
	fed.Global = ids.GlobalFederateID(9)
	c.federates[1] = fed

	c.destFilters[4] = []*filter.Record{{Op: upperOperator{}}}

	m := action.New(action.CmdSendMessage)
	m.Flags = m.Flags.Set(action.FlagFilterProcessed)
	m.SourceID = ids.GlobalFederateID(2)
	m.SourceHandle = 3
	m.DestID = ids.GlobalFederateID(9)
	m.DestHandle = 4
	m.Payload = []byte("ping")
	c.dispatch(m)

	q, ok := fed.Endpoints[4]
	require.True(t, ok)
	require.Equal(t, 1, q.Len())
	msg, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, []byte("PING"), msg.Payload)
}

// TestHandleSendMessageAppliesCloningFilter is spec §4.7's cloning-filter
// behavior: a copy is forked to each of the filter's delivery targets while
// the original message still reaches its nominal destination untouched.
func TestHandleSendMessageAppliesCloningFilter(t *testing.T) {
	hub := inproc.NewHub()
	leaf := inproc.New(hub, "leaf")
	require.NoError(t, leaf.Start())
	defer leaf.Close()

	c := New("leaf", leaf)
	owner := federstate.New("owner", 1)
	owner.Global = ids.GlobalFederateID(9)
	recvA := federstate.New("receiverA", 2)
	recvA.Global = ids.GlobalFederateID(10)
	recvB := federstate.New("receiverB", 3)
	recvB.Global = ids.GlobalFederateID(11)
	c.federates[1] = owner
	c.federates[2] = recvA
	c.federates[3] = recvB

	targetA := ids.GlobalHandle{Federate: ids.GlobalFederateID(10), Handle: 4}
	targetB := ids.GlobalHandle{Federate: ids.GlobalFederateID(11), Handle: 5}
	c.destFilters[6] = []*filter.Record{{
		Cloning:         true,
		Op:              filter.OperatorFunc(func(payload []byte) ([]byte, bool) { return payload, true }),
		DeliveryTargets: []ids.GlobalHandle{targetA, targetB},
	}}

	m := action.New(action.CmdSendMessage)
	m.Flags = m.Flags.Set(action.FlagFilterProcessed)
	m.SourceID = ids.GlobalFederateID(2)
	m.SourceHandle = 3
	m.DestID = ids.GlobalFederateID(9)
	m.DestHandle = 6
	m.Payload = []byte("fanout")
	c.dispatch(m)

	qOwner, ok := owner.Endpoints[6]
	require.True(t, ok)
	require.Equal(t, 1, qOwner.Len())

	qa, ok := recvA.Endpoints[4]
	require.True(t, ok)
	require.Equal(t, 1, qa.Len())

	qb, ok := recvB.Endpoints[5]
	require.True(t, ok)
	require.Equal(t, 1, qb.Len())
}
