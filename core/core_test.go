package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/federstate"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/transport"
	"github.com/cosimrt/corekit/transport/inproc"
)

func TestRegisterFederateBlocksUntilFedAck(t *testing.T) {
	hub := inproc.NewHub()
	parent := inproc.New(hub, "parent")
	leaf := inproc.New(hub, "leaf")
	require.NoError(t, leaf.AddRoute(ids.ParentRouteID, transport.RouteInfo{Target: "parent"}))
	require.NoError(t, parent.AddRoute(1, transport.RouteInfo{Target: "leaf"}))
	require.NoError(t, parent.Start())
	require.NoError(t, leaf.Start())
	defer parent.Close()
	defer leaf.Close()

	c := New("leaf", leaf)
	go c.Run()
	defer c.Stop()

	parent.SetInbound(func(m action.ActionMessage) {
		if m.Action == action.CmdRegFed {
			ack := action.New(action.CmdFedAck)
			ack.DestID = ids.GlobalFederateID(42)
			ack.StringData = []string{m.StringData[0]}
			_ = parent.Transmit(1, ack)
		}
	})

	local, err := c.RegisterFederate("fedA")
	require.NoError(t, err)
	require.Equal(t, ids.LocalFederateID(1), local)

	c.mu.Lock()
	fed, ok := c.byName["fedA"]
	c.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, ids.GlobalFederateID(42), fed.Global)
	require.Equal(t, federstate.StatusConnected, fed.Status())
}

func TestRegisterFederateRejectsDuplicateName(t *testing.T) {
	hub := inproc.NewHub()
	leaf := inproc.New(hub, "solo")
	require.NoError(t, leaf.Start())
	defer leaf.Close()

	c := New("solo", leaf)
	go c.Run()
	defer c.Stop()

	c.mu.Lock()
	c.byName["dup"] = federstate.New("dup", 1)
	c.mu.Unlock()

	_, err := c.RegisterFederate("dup")
	require.Error(t, err)
}

func TestHandlePubDeliversToSubscribedInput(t *testing.T) {
	hub := inproc.NewHub()
	leaf := inproc.New(hub, "leaf")
	require.NoError(t, leaf.Start())
	defer leaf.Close()

	c := New("leaf", leaf)
	fed := federstate.New("consumer", 1)
	fed.Global = ids.GlobalFederateID(5)
	c.federates[1] = fed
	c.byName["consumer"] = fed

	m := action.New(action.CmdPub)
	m.SourceID = ids.GlobalFederateID(1)
	m.DestID = ids.GlobalFederateID(5)
	m.DestHandle = 7
	m.Payload = []byte("42")
	c.dispatch(m)

	buf, ok := fed.Inputs[7]
	require.True(t, ok)
	latest, hasLatest := buf.Latest()
	require.True(t, hasLatest)
	require.Equal(t, []byte("42"), latest)
}

func TestHandleSendMessageDeliversToEndpointQueue(t *testing.T) {
	hub := inproc.NewHub()
	leaf := inproc.New(hub, "leaf")
	require.NoError(t, leaf.Start())
	defer leaf.Close()

	c := New("leaf", leaf)
	fed := federstate.New("receiver", 1)
	fed.Global = ids.GlobalFederateID(9)
	c.federates[1] = fed

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
}

func TestHandleErrorFailsTargetedFederate(t *testing.T) {
	hub := inproc.NewHub()
	leaf := inproc.New(hub, "leaf")
	require.NoError(t, leaf.Start())
	defer leaf.Close()

	c := New("leaf", leaf)
	fed := federstate.New("victim", 1)
	fed.Global = ids.GlobalFederateID(3)
	c.federates[1] = fed

	m := action.New(action.CmdError)
	m.DestID = ids.GlobalFederateID(3)
	m.StringData = []string{"boom"}
	c.dispatch(m)

	require.Equal(t, federstate.StatusError, fed.Status())
}

func TestQueryResolvesOnReply(t *testing.T) {
	hub := inproc.NewHub()
	leaf := inproc.New(hub, "leaf")
	require.NoError(t, leaf.AddRoute(ids.ParentRouteID, transport.RouteInfo{Target: "parent"}))
	require.NoError(t, leaf.Start())
	defer leaf.Close()

	c := New("leaf", leaf)
	go c.Run()
	defer c.Stop()

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.queries.Fulfill(1, `"answer"`)
	}()

	result, err := c.Query(ids.GlobalFederateID(0), "federate_map")
	require.NoError(t, err)
	require.Equal(t, `"answer"`, result)
}
