package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/broker"
	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/federstate"
	"github.com/cosimrt/corekit/handles"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/transport"
	"github.com/cosimrt/corekit/transport/inproc"
)

// startFederation brings up a root broker plus one core per name, each
// registered upward, all sharing one in-process hub — the root+leaves
// topology every §8 scenario runs on.
func startFederation(t *testing.T, names ...string) (*broker.Broker, []*Core) {
	t.Helper()
	hub := inproc.NewHub()
	rootT := inproc.New(hub, "root")

	cores := make([]*Core, 0, len(names))
	for i, name := range names {
		require.NoError(t, rootT.AddRoute(ids.RouteID(i+1), transport.RouteInfo{Target: name}))
		leafT := inproc.New(hub, name)
		require.NoError(t, leafT.AddRoute(ids.ParentRouteID, transport.RouteInfo{Target: "root"}))
		cores = append(cores, New(name, leafT))
	}

	root := broker.NewRoot("root", rootT)
	require.NoError(t, rootT.Start())
	go root.Run()
	t.Cleanup(root.Stop)

	for i, c := range cores {
		hubT := c.tport.(*inproc.Transport)
		require.NoError(t, hubT.Start())
		go c.Run()
		t.Cleanup(c.Stop)
		require.NoError(t, c.RegisterUpward(), "core %s", names[i])
	}
	return root, cores
}

// TestRequiredSubscriptionMissingFailsExecEntry is spec §8 scenario c: an
// input flagged required with no matching publication anywhere in the
// federation must surface a registration failure from enterExecutingMode.
func TestRequiredSubscriptionMissingFailsExecEntry(t *testing.T) {
	_, cores := startFederation(t, "solo")
	c := cores[0]

	local, err := c.RegisterFederate("needy")
	require.NoError(t, err)
	input, err := c.RegisterInput(local, "needy-input", "double", "")
	require.NoError(t, err)
	require.NoError(t, c.SetHandleOption(input, handles.FlagRequired, true))
	c.AddDestinationTarget(input, "missing")

	fed := c.Federate(local)
	_, execErr := c.EnterExecutingMode(fed)
	require.Error(t, execErr)

	var coreErr *cfg.CoreError
	require.True(t, errors.As(execErr, &coreErr))
	require.Equal(t, cfg.ErrRegistrationFailure, coreErr.Kind)
	require.Equal(t, federstate.StatusError, fed.Status())
}

// TestDisconnectIsIdempotent is spec §8 invariant 7: the first Disconnect
// tears the (single-core) federation down; any number of repeats after it
// have no further observable effect.
func TestDisconnectIsIdempotent(t *testing.T) {
	_, cores := startFederation(t, "solo")
	c := cores[0]

	local, err := c.RegisterFederate("fedA")
	require.NoError(t, err)
	fed := c.Federate(local)

	c.Disconnect()

	waitDone := make(chan struct{})
	go func() {
		c.WaitForDisconnect()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("core never stopped after disconnect")
	}
	require.Equal(t, federstate.StatusTerminated, fed.Status())

	c.Disconnect()
	c.Disconnect()
	require.Equal(t, federstate.StatusTerminated, fed.Status())
}

// TestTimeoutMonitorSurvivesWithLiveParentThenEscalates exercises spec §5's
// timeout monitor both ways: a responsive root keeps the core alive; once
// the root stops answering pings the core escalates to disconnect.
func TestTimeoutMonitorSurvivesWithLiveParentThenEscalates(t *testing.T) {
	root, cores := startFederation(t, "solo")
	c := cores[0]

	c.StartTimeoutMonitor(10*time.Millisecond, 80*time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	select {
	case <-c.done:
		t.Fatal("core stopped despite a responsive parent")
	default:
	}

	root.Stop()

	waitDone := make(chan struct{})
	go func() {
		c.WaitForDisconnect()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("core never escalated after parent went silent")
	}
}

// TestTimeBlockDefersTimeGrant is the timing half of spec §8 scenario d: a
// TIME_BLOCK against a federate holds its pending TIME_REQUEST until the
// matching TIME_UNBLOCK releases it.
func TestTimeBlockDefersTimeGrant(t *testing.T) {
	hub := inproc.NewHub()
	leafT := inproc.New(hub, "leaf")
	require.NoError(t, leafT.Start())
	defer leafT.Close()

	c := New("leaf", leafT)
	go c.Run()
	defer c.Stop()

	fed := federstate.New("blocked", 1)
	fed.Global = ids.GlobalFederateIDFromLocal(0)
	c.federates[1] = fed

	block := action.New(action.CmdTimeBlock)
	block.DestID = fed.Global
	block.MessageID = 9
	c.enqueue(block)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.timeBlocks[fed.Global]) > 0
	}, time.Second, time.Millisecond)

	granted := make(chan struct{})
	go func() {
		_, _ = c.TimeRequest(fed, 1.0, 1.0, false)
		close(granted)
	}()

	select {
	case <-granted:
		t.Fatal("time granted while a TIME_BLOCK was outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	unblock := action.New(action.CmdTimeUnblock)
	unblock.DestID = fed.Global
	unblock.MessageID = 9
	c.enqueue(unblock)

	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("time never granted after TIME_UNBLOCK")
	}
}

// TestFederateMapQueryEnumeratesParticipants is spec §8 scenario f: a
// "federate_map" query answered by the root names every participant with
// its global id and parent exactly once.
func TestFederateMapQueryEnumeratesParticipants(t *testing.T) {
	_, cores := startFederation(t, "solo")
	c := cores[0]

	_, err := c.RegisterFederate("mapped")
	require.NoError(t, err)

	result, err := c.Query(ids.RootBrokerID, "federate_map")
	require.NoError(t, err)
	require.Contains(t, result, `"root"`)
	require.Contains(t, result, `"solo"`)
	require.Contains(t, result, `"mapped"`)
}

// TestChangeDetectionSuppressesRepeatPublish covers the
// only_transmit_on_change option of spec §4.5/§6: a payload binary-equal
// to the previous publish never becomes a CMD_PUB.
func TestChangeDetectionSuppressesRepeatPublish(t *testing.T) {
	hub := inproc.NewHub()
	parentT := inproc.New(hub, "parent")
	leafT := inproc.New(hub, "leaf")
	require.NoError(t, leafT.AddRoute(ids.ParentRouteID, transport.RouteInfo{Target: "parent"}))
	require.NoError(t, parentT.AddRoute(1, transport.RouteInfo{Target: "leaf"}))

	pubs := make(chan action.ActionMessage, 16)
	parentT.SetInbound(func(m action.ActionMessage) {
		if m.Action == action.CmdPub {
			pubs <- m
		}
	})
	require.NoError(t, parentT.Start())
	require.NoError(t, leafT.Start())
	defer parentT.Close()
	defer leafT.Close()

	c := New("leaf", leafT)
	fed := federstate.New("publisher", 1)
	fed.Global = ids.GlobalFederateIDFromLocal(0)
	c.federates[1] = fed
	c.byName["publisher"] = fed

	// Seeded before the processing loop starts, so the registry, its view,
	// and the subscriber table have single-threaded setup.
	rec, err := c.handleReg.AddHandle(1, fed.Global, handles.KindPublication, "x", "double", "")
	require.NoError(t, err)
	h := rec.Global.Handle
	require.NoError(t, c.handleReg.SetOption(h, handles.FlagOnlyTransmitOnChange, true))
	c.handleView.Sync(c.handleReg)
	c.publishers[h] = []ids.GlobalHandle{{Federate: ids.GlobalFederateIDFromLocal(1), Handle: 2}}

	go c.Run()
	defer c.Stop()

	require.NoError(t, c.SetValue(fed, h, []byte("1.0")))
	require.NoError(t, c.SetValue(fed, h, []byte("1.0"))) // repeat, suppressed
	require.NoError(t, c.SetValue(fed, h, []byte("2.0")))

	got := 0
	timeout := time.After(500 * time.Millisecond)
drain:
	for {
		select {
		case <-pubs:
			got++
		case <-timeout:
			break drain
		}
	}
	require.Equal(t, 2, got)
}

// TestResendReplaysJournaledTransmits covers spec §6's RESEND protocol
// command against the core's parent-route journal.
func TestResendReplaysJournaledTransmits(t *testing.T) {
	hub := inproc.NewHub()
	parentT := inproc.New(hub, "parent")
	leafT := inproc.New(hub, "leaf")
	require.NoError(t, leafT.AddRoute(ids.ParentRouteID, transport.RouteInfo{Target: "parent"}))
	require.NoError(t, parentT.AddRoute(1, transport.RouteInfo{Target: "leaf"}))

	recv := make(chan action.ActionMessage, 16)
	parentT.SetInbound(func(m action.ActionMessage) { recv <- m })
	require.NoError(t, parentT.Start())
	require.NoError(t, leafT.Start())
	defer parentT.Close()
	defer leafT.Close()

	c := New("leaf", leafT)
	c.EnableJournal(t.TempDir())

	first := action.New(action.CmdPub).WithPayload([]byte("one"))
	second := action.New(action.CmdPub).WithPayload([]byte("two"))
	c.transmitToParent(first)
	c.transmitToParent(second)

	// Drain the live transmissions.
	for i := 0; i < 2; i++ {
		select {
		case <-recv:
		case <-time.After(time.Second):
			t.Fatal("original transmission never arrived")
		}
	}

	req := action.New(action.CmdResend)
	req.SequenceID = 1
	c.handleResend(req)

	var replayed []action.ActionMessage
	timeout := time.After(time.Second)
	for len(replayed) < 2 {
		select {
		case m := <-recv:
			replayed = append(replayed, m)
		case <-timeout:
			t.Fatalf("only %d of 2 journaled messages replayed", len(replayed))
		}
	}
	require.Equal(t, []byte("one"), replayed[0].Payload)
	require.Equal(t, []byte("two"), replayed[1].Payload)
}
