package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/federstate"
)

// TestIterativeExecEntryForcesCompletionAtMaxIterations is spec §8
// scenario e: an iterate-if-needed exec entry keeps iterating while new
// data arrives, and is force-completed once maxIterationCount is reached.
func TestIterativeExecEntryForcesCompletionAtMaxIterations(t *testing.T) {
	_, cores := startFederation(t, "solo")
	c := cores[0]
	c.SetMaxIterations(3)

	producerLocal, err := c.RegisterFederate("producer")
	require.NoError(t, err)
	consumerLocal, err := c.RegisterFederate("consumer")
	require.NoError(t, err)

	pub, err := c.RegisterPublication(producerLocal, "signal", "double", "")
	require.NoError(t, err)
	input, err := c.RegisterInput(consumerLocal, "signal-in", "double", "")
	require.NoError(t, err)
	c.AddDestinationTarget(input, "signal")

	producer := c.Federate(producerLocal)
	consumer := c.Federate(consumerLocal)

	require.Eventually(t, func() bool {
		return len(c.PublisherTargets(pub)) > 0
	}, time.Second, time.Millisecond)

	feed := func(round int) {
		require.NoError(t, c.SetValue(producer, pub, []byte(fmt.Sprintf("v%d", round))))
		require.Eventually(t, func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.gotNewData[consumer.Global]
		}, time.Second, time.Millisecond)
	}

	// The producer enters first so the consumer's dependency is satisfied
	// and the only thing gating the consumer is its own iteration loop.
	execDone := make(chan error, 1)
	go func() {
		_, err := c.EnterExecutingMode(producer)
		execDone <- err
	}()
	require.NoError(t, <-execDone)

	iterations := 0
	for round := 1; ; round++ {
		feed(round)
		_, res, err := c.EnterExecutingModeIterative(consumer)
		require.NoError(t, err)
		if res == federstate.IterationNextStep {
			break
		}
		require.Equal(t, federstate.IterationIterating, res)
		iterations++
		require.Less(t, iterations, 10, "iteration never converged")
	}

	// maxIterationCount=3: two Iterating grants, then the third request is
	// force-completed even though fresh data had arrived.
	require.Equal(t, 2, iterations)
	c.mu.Lock()
	finalCount := c.execIter[consumer.Global]
	c.mu.Unlock()
	require.Equal(t, uint16(3), finalCount)
	require.Equal(t, federstate.StatusOperating, consumer.Status())
}

// TestIterativeTimeRequestGrantsNextStep covers requestTimeIterative's
// unconstrained path: with no dependencies pending, the grant lands at the
// requested time with a next-step disposition.
func TestIterativeTimeRequestGrantsNextStep(t *testing.T) {
	_, cores := startFederation(t, "solo")
	c := cores[0]

	local, err := c.RegisterFederate("stepper")
	require.NoError(t, err)
	fed := c.Federate(local)

	_, err = c.EnterExecutingMode(fed)
	require.NoError(t, err)

	granted, res, err := c.RequestTimeIterative(fed, 1.0, 1.0)
	require.NoError(t, err)
	require.Equal(t, federstate.IterationNextStep, res)
	require.Equal(t, 1.0, float64(granted))
}
