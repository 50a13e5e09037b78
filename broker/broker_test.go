package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/transport"
	"github.com/cosimrt/corekit/transport/inproc"
)

// fakeChild wires an inproc endpoint posing as a registered child and
// collects everything the broker sends it.
type fakeChild struct {
	tport *inproc.Transport
	recv  chan action.ActionMessage
}

func newFakeChild(t *testing.T, hub *inproc.Hub, name string) *fakeChild {
	fc := &fakeChild{
		tport: inproc.New(hub, name),
		recv:  make(chan action.ActionMessage, 64),
	}
	require.NoError(t, fc.tport.AddRoute(ids.ParentRouteID, transport.RouteInfo{Target: "root"}))
	fc.tport.SetInbound(func(m action.ActionMessage) { fc.recv <- m })
	require.NoError(t, fc.tport.Start())
	return fc
}

func (fc *fakeChild) send(t *testing.T, m action.ActionMessage) {
	require.NoError(t, fc.tport.Transmit(ids.ParentRouteID, m))
}

func (fc *fakeChild) expect(t *testing.T, kind action.MessageKind) action.ActionMessage {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case m := <-fc.recv:
			if m.Action == kind {
				return m
			}
		case <-deadline:
			t.Fatalf("never received action %d", kind)
		}
	}
}

func startRoot(t *testing.T, hub *inproc.Hub, childNames ...string) (*Broker, []*fakeChild) {
	rootT := inproc.New(hub, "root")
	children := make([]*fakeChild, 0, len(childNames))
	for i, name := range childNames {
		require.NoError(t, rootT.AddRoute(ids.RouteID(i+1), transport.RouteInfo{Target: name}))
		children = append(children, newFakeChild(t, hub, name))
	}
	root := NewRoot("root", rootT)
	require.NoError(t, rootT.Start())
	go root.Run()
	t.Cleanup(root.Stop)
	return root, children
}

func TestRegistrationAssignsDistinctGlobalIDs(t *testing.T) {
	hub := inproc.NewHub()
	root, children := startRoot(t, hub, "coreA", "coreB")

	reg := action.New(action.CmdRegBroker)
	reg.StringData = []string{"coreA"}
	children[0].send(t, reg)
	ackA := children[0].expect(t, action.CmdBrokerAck)

	reg.StringData = []string{"coreB"}
	children[1].send(t, reg)
	ackB := children[1].expect(t, action.CmdBrokerAck)

	require.True(t, ackA.DestID.IsBroker())
	require.True(t, ackB.DestID.IsBroker())
	require.NotEqual(t, ackA.DestID, ackB.DestID)
	require.NotEqual(t, root.Self(), ackA.DestID)
	require.NotEqual(t, root.Self(), ackB.DestID)
}

func TestDuplicateChildNameGetsErrorAck(t *testing.T) {
	hub := inproc.NewHub()
	_, children := startRoot(t, hub, "coreA", "coreB")

	reg := action.New(action.CmdRegBroker)
	reg.StringData = []string{"twin"}
	children[0].send(t, reg)
	first := children[0].expect(t, action.CmdBrokerAck)
	require.False(t, first.Flags.Has(action.FlagErrorFlag))

	children[1].send(t, reg)
	second := children[1].expect(t, action.CmdBrokerAck)
	require.True(t, second.Flags.Has(action.FlagErrorFlag))
}

func TestFederateRegistrationRoutesByAssignedID(t *testing.T) {
	hub := inproc.NewHub()
	_, children := startRoot(t, hub, "coreA")
	child := children[0]

	reg := action.New(action.CmdRegFed)
	reg.StringData = []string{"fed1"}
	child.send(t, reg)
	ack := child.expect(t, action.CmdFedAck)
	require.True(t, ack.DestID.IsFederate())

	// A message addressed to the new federate must come back down the
	// child's route rather than being dropped at the root.
	probe := action.New(action.CmdPub)
	probe.DestID = ack.DestID
	probe.DestHandle = 1
	probe.Payload = []byte("x")
	child.send(t, probe)
	got := child.expect(t, action.CmdPub)
	require.Equal(t, []byte("x"), got.Payload)
}

func TestPingGetsPingReply(t *testing.T) {
	hub := inproc.NewHub()
	_, children := startRoot(t, hub, "coreA")
	child := children[0]

	ping := action.New(action.CmdPing)
	child.send(t, ping)
	child.expect(t, action.CmdPingReply)
}

func TestNamedSendResolvesThroughEndpointTable(t *testing.T) {
	hub := inproc.NewHub()
	_, children := startRoot(t, hub, "coreA", "coreB")

	regFed := action.New(action.CmdRegFed)
	regFed.StringData = []string{"receiver"}
	children[1].send(t, regFed)
	ack := children[1].expect(t, action.CmdFedAck)

	regEP := action.New(action.CmdRegEndpoint)
	regEP.SourceID = ack.DestID
	regEP.SourceHandle = 7
	regEP.StringData = []string{"recv/in", ""}
	children[1].send(t, regEP)

	// Give the registration a moment to land before the named send.
	time.Sleep(10 * time.Millisecond)

	send := action.New(action.CmdSendMessage)
	send.StringData = []string{"recv/in"}
	send.Payload = []byte("hello")
	children[0].send(t, send)

	got := children[1].expect(t, action.CmdSendMessage)
	require.Equal(t, ack.DestID, got.DestID)
	require.Equal(t, ids.InterfaceHandle(7), got.DestHandle)
	require.Equal(t, []byte("hello"), got.Payload)
}

func TestRequiredTargetMissingEmitsRegistrationFailure(t *testing.T) {
	hub := inproc.NewHub()
	_, children := startRoot(t, hub, "coreA")
	child := children[0]

	regFed := action.New(action.CmdRegFed)
	regFed.StringData = []string{"needy"}
	child.send(t, regFed)
	ack := child.expect(t, action.CmdFedAck)

	want := action.New(action.CmdAddNamedInput)
	want.SourceID = ack.DestID
	want.SourceHandle = 3
	want.Flags = want.Flags.Set(action.FlagRequired)
	want.StringData = []string{"never-registered"}
	child.send(t, want)

	child.send(t, action.New(action.CmdInit))

	errMsg := child.expect(t, action.CmdError)
	require.Equal(t, ack.DestID, errMsg.DestID)
	require.Contains(t, errMsg.StringData[0], "never-registered")

	// INIT_GRANT still goes out; the failure is surfaced to the requester,
	// not the whole federation.
	child.expect(t, action.CmdInitGrant)
}

func TestDisconnectFromAllRoutesBroadcastsStop(t *testing.T) {
	hub := inproc.NewHub()
	_, children := startRoot(t, hub, "coreA")
	child := children[0]

	reg := action.New(action.CmdRegBroker)
	reg.StringData = []string{"coreA"}
	child.send(t, reg)
	child.expect(t, action.CmdBrokerAck)

	child.send(t, action.New(action.CmdDisconnect))
	child.expect(t, action.CmdStop)

	// A second DISCONNECT after the first is absorbed without another STOP
	// storm or a panic (spec §8 invariant 7).
	child.send(t, action.New(action.CmdDisconnect))
	time.Sleep(20 * time.Millisecond)
}
