package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/broker"
	"github.com/cosimrt/corekit/transport"
	"github.com/cosimrt/corekit/transport/inproc"
)

// TestPublicationResolvesAcrossCores is spec §8 scenario a: a publisher on
// one core and a subscribing input on another, wired together purely by
// name through a root broker (spec §4.6), with a published value actually
// reaching the subscriber's InputBuffer.
func TestPublicationResolvesAcrossCores(t *testing.T) {
	hub := inproc.NewHub()

	rootT := inproc.New(hub, "root")
	srcT := inproc.New(hub, "producer")
	dstT := inproc.New(hub, "consumer")

	require.NoError(t, rootT.AddRoute(1, transport.RouteInfo{Target: "producer"}))
	require.NoError(t, rootT.AddRoute(2, transport.RouteInfo{Target: "consumer"}))
	require.NoError(t, srcT.AddRoute(0, transport.RouteInfo{Target: "root"}))
	require.NoError(t, dstT.AddRoute(0, transport.RouteInfo{Target: "root"}))

	root := broker.NewRoot("root", rootT)
	srcCore := New("producer", srcT)
	dstCore := New("consumer", dstT)

	require.NoError(t, rootT.Start())
	require.NoError(t, srcT.Start())
	require.NoError(t, dstT.Start())
	go root.Run()
	go srcCore.Run()
	go dstCore.Run()
	defer root.Stop()
	defer srcCore.Stop()
	defer dstCore.Stop()

	require.NoError(t, srcCore.RegisterUpward())
	require.NoError(t, dstCore.RegisterUpward())

	srcLocal, err := srcCore.RegisterFederate("producerFed")
	require.NoError(t, err)
	dstLocal, err := dstCore.RegisterFederate("consumerFed")
	require.NoError(t, err)

	pub, err := srcCore.RegisterPublication(srcLocal, "temperature", "double", "degC")
	require.NoError(t, err)
	input, err := dstCore.RegisterInput(dstLocal, "localTemp", "double", "degC")
	require.NoError(t, err)

	dstCore.AddDestinationTarget(input, "temperature")

	require.Eventually(t, func() bool {
		return len(srcCore.PublisherTargets(pub)) > 0
	}, time.Second, time.Millisecond)

	srcFed := srcCore.Federate(srcLocal)
	require.NoError(t, srcCore.SetValue(srcFed, pub, []byte("21.5")))

	dstFed := dstCore.Federate(dstLocal)
	require.Eventually(t, func() bool {
		buf, ok := dstFed.Inputs[input]
		if !ok {
			return false
		}
		_, has := buf.Latest()
		return has
	}, time.Second, time.Millisecond)

	latest, has := dstFed.Inputs[input].Latest()
	require.True(t, has)
	require.Equal(t, []byte("21.5"), latest)
}
