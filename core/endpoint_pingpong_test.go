package core

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/broker"
	"github.com/cosimrt/corekit/simtime"
	"github.com/cosimrt/corekit/transport"
	"github.com/cosimrt/corekit/transport/inproc"
)

// TestEndpointPingPong is the two-core round trip spec §8 scenario b
// describes, modeled on HELICS's EchoMessage benchmark: a ping federate
// sends one message to a pong federate's endpoint, named-resolved through a
// root broker (spec §4.6), and the pong federate echoes it straight back to
// the message's originating endpoint.
func TestEndpointPingPong(t *testing.T) {
	hub := inproc.NewHub()

	rootT := inproc.New(hub, "root")
	pingT := inproc.New(hub, "ping")
	pongT := inproc.New(hub, "pong")

	require.NoError(t, rootT.AddRoute(1, transport.RouteInfo{Target: "ping"}))
	require.NoError(t, rootT.AddRoute(2, transport.RouteInfo{Target: "pong"}))
	require.NoError(t, pingT.AddRoute(0, transport.RouteInfo{Target: "root"}))
	require.NoError(t, pongT.AddRoute(0, transport.RouteInfo{Target: "root"}))

	root := broker.NewRoot("root", rootT)
	pingCore := New("ping", pingT)
	pongCore := New("pong", pongT)

	require.NoError(t, rootT.Start())
	require.NoError(t, pingT.Start())
	require.NoError(t, pongT.Start())
	go root.Run()
	go pingCore.Run()
	go pongCore.Run()
	defer root.Stop()
	defer pingCore.Stop()
	defer pongCore.Stop()

	require.NoError(t, pingCore.RegisterUpward())
	require.NoError(t, pongCore.RegisterUpward())

	pingLocal, err := pingCore.RegisterFederate("pingFed")
	require.NoError(t, err)
	pongLocal, err := pongCore.RegisterFederate("pongFed")
	require.NoError(t, err)

	pingEP, err := pingCore.RegisterEndpoint(pingLocal, "ping/out", "")
	require.NoError(t, err)
	pongEP, err := pongCore.RegisterEndpoint(pongLocal, "pong/echo", "")
	require.NoError(t, err)

	// Each side names the other: the root broker resolves both names and
	// wires ADD_SUBSCRIBER/ADD_PUBLISHER back down once they're both known.
	pingCore.AddSourceTarget(pingEP, "pong/echo")
	pongCore.AddSourceTarget(pongEP, "ping/out")

	require.Eventually(t, func() bool {
		return len(pingCore.PublisherTargets(pingEP)) > 0 &&
			len(pongCore.PublisherTargets(pongEP)) > 0
	}, time.Second, time.Millisecond)

	pingFed := pingCore.Federate(pingLocal)
	pongFed := pongCore.Federate(pongLocal)

	pongRec, ok := pongCore.handleView.ByHandle(pongEP)
	require.True(t, ok)

	pingCore.SendMessage(pingFed, pingEP, pongRec.Global, []byte("ping"), simtime.Zero)

	require.Eventually(t, func() bool {
		q, ok := pongFed.Endpoints[pongEP]
		return ok && q.Len() == 1
	}, time.Second, time.Millisecond)

	msg, ok := pongFed.Endpoints[pongEP].Pop()
	require.True(t, ok)
	require.Equal(t, []byte("ping"), msg.Payload)

	pongCore.SendMessage(pongFed, pongEP, msg.Source, []byte("pong"), simtime.Zero)

	require.Eventually(t, func() bool {
		q, ok := pingFed.Endpoints[pingEP]
		return ok && q.Len() == 1
	}, time.Second, time.Millisecond)

	reply, ok := pingFed.Endpoints[pingEP].Pop()
	require.True(t, ok)
	require.Equal(t, []byte("pong"), reply.Payload)
}

// TestPingPongHundredRounds is the full spec §8 scenario b: a 110-byte
// payload round-trips 100 times between two federates on separate cores,
// with both sides' granted times strictly increasing round over round.
// Each side disconnects when its rounds are done, which is what releases
// the peer's final equal-time grant (spec §4.4 cancellation).
func TestPingPongHundredRounds(t *testing.T) {
	const rounds = 100

	hub := inproc.NewHub()
	rootT := inproc.New(hub, "root")
	pingT := inproc.New(hub, "ping")
	pongT := inproc.New(hub, "pong")

	require.NoError(t, rootT.AddRoute(1, transport.RouteInfo{Target: "ping"}))
	require.NoError(t, rootT.AddRoute(2, transport.RouteInfo{Target: "pong"}))
	require.NoError(t, pingT.AddRoute(0, transport.RouteInfo{Target: "root"}))
	require.NoError(t, pongT.AddRoute(0, transport.RouteInfo{Target: "root"}))

	root := broker.NewRoot("root", rootT)
	pingCore := New("ping", pingT)
	pongCore := New("pong", pongT)

	require.NoError(t, rootT.Start())
	require.NoError(t, pingT.Start())
	require.NoError(t, pongT.Start())
	go root.Run()
	go pingCore.Run()
	go pongCore.Run()
	defer root.Stop()
	defer pingCore.Stop()
	defer pongCore.Stop()

	require.NoError(t, pingCore.RegisterUpward())
	require.NoError(t, pongCore.RegisterUpward())

	pingLocal, err := pingCore.RegisterFederate("pingFed")
	require.NoError(t, err)
	pongLocal, err := pongCore.RegisterFederate("pongFed")
	require.NoError(t, err)

	pingEP, err := pingCore.RegisterEndpoint(pingLocal, "ping/out", "")
	require.NoError(t, err)
	pongEP, err := pongCore.RegisterEndpoint(pongLocal, "pong/echo", "")
	require.NoError(t, err)

	pingCore.AddSourceTarget(pingEP, "pong/echo")
	pongCore.AddSourceTarget(pongEP, "ping/out")

	pingFed := pingCore.Federate(pingLocal)
	pongFed := pongCore.Federate(pongLocal)

	require.Eventually(t, func() bool {
		return len(pingFed.Coordinator.Dependencies()) == 1 &&
			len(pongFed.Coordinator.Dependencies()) == 1
	}, time.Second, time.Millisecond)

	pongRec, ok := pongCore.handleView.ByHandle(pongEP)
	require.True(t, ok)

	payload := make([]byte, 110)
	for i := range payload {
		payload[i] = byte(i)
	}

	pingErr := make(chan error, 1)
	pongErr := make(chan error, 1)

	go func() {
		defer pingCore.Disconnect()
		if _, err := pingCore.EnterExecutingMode(pingFed); err != nil {
			pingErr <- err
			return
		}
		prev := simtime.Zero
		for i := 1; i <= rounds; i++ {
			pingCore.SendMessage(pingFed, pingEP, pongRec.Global, payload, prev)
			granted, err := pingCore.TimeRequest(pingFed, simtime.Time(i), simtime.Time(i), false)
			if err != nil {
				pingErr <- err
				return
			}
			if granted <= prev {
				pingErr <- fmt.Errorf("ping grant %v not after %v", granted, prev)
				return
			}
			prev = granted
		}
		pingErr <- nil
	}()

	go func() {
		defer pongCore.Disconnect()
		if _, err := pongCore.EnterExecutingMode(pongFed); err != nil {
			pongErr <- err
			return
		}
		prev := simtime.Time(-1)
		received := 0
		for i := 1; i <= rounds; i++ {
			granted, err := pongCore.TimeRequest(pongFed, simtime.Time(i), simtime.Time(i), false)
			if err != nil {
				pongErr <- err
				return
			}
			if granted <= prev {
				pongErr <- fmt.Errorf("pong grant %v not after %v", granted, prev)
				return
			}
			prev = granted
			q, exists := pongFed.Endpoints[pongEP]
			if !exists {
				continue
			}
			for {
				msg, ok := q.Pop()
				if !ok {
					break
				}
				if !bytes.Equal(msg.Payload, payload) {
					pongErr <- fmt.Errorf("round %d payload corrupted", i)
					return
				}
				received++
				pongCore.SendMessage(pongFed, pongEP, msg.Source, msg.Payload, granted)
			}
		}
		if received < rounds-1 {
			pongErr <- fmt.Errorf("only %d of %d messages arrived in time", received, rounds)
			return
		}
		pongErr <- nil
	}()

	select {
	case err := <-pingErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("ping side never finished")
	}
	select {
	case err := <-pongErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("pong side never finished")
	}

	// Every echo eventually lands back on the ping endpoint byte-identical.
	require.Eventually(t, func() bool {
		q, ok := pingFed.Endpoints[pingEP]
		return ok && q.Len() >= rounds-1
	}, 5*time.Second, 5*time.Millisecond)
	echo, ok := pingFed.Endpoints[pingEP].Pop()
	require.True(t, ok)
	require.Equal(t, payload, echo.Payload)
}
