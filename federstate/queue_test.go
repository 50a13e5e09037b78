package federstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/action"
)

func TestQueuePrefersPriorityOverFIFOOrder(t *testing.T) {
	q := NewQueue()
	q.Push(action.New(action.CmdPub))
	q.Push(action.New(action.CmdTimeRequest))
	q.Push(action.New(action.CmdBrokerAck)) // priority

	first, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, action.CmdBrokerAck, first.Action)

	second, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, action.CmdPub, second.Action)

	third, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, action.CmdTimeRequest, third.Action)
}

func TestQueueTryPopEmpty(t *testing.T) {
	q := NewQueue()
	_, ok := q.TryPop()
	require.False(t, ok)
}

func TestQueueCloseUnblocksPop(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	go func() {
		_, ok := q.Pop()
		require.False(t, ok)
		close(done)
	}()
	q.Close()
	<-done
}
