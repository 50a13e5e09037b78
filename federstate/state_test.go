package federstate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

func TestAdvanceEnforcesMonotonicProgression(t *testing.T) {
	f := New("fedA", 1)
	require.NoError(t, f.Advance(StatusInitialized))
	require.NoError(t, f.Advance(StatusConnecting))
	require.Error(t, f.Advance(StatusCreated))
	require.Equal(t, StatusConnecting, f.Status())
}

func TestAdvanceToErrorAlwaysAllowed(t *testing.T) {
	f := New("fedA", 1)
	require.NoError(t, f.Advance(StatusOperating))
	require.NoError(t, f.Advance(StatusError))
	require.Error(t, f.Advance(StatusOperating))
}

func TestWaitForAckUnblocksOnSetGlobal(t *testing.T) {
	f := New("fedA", 1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.SetGlobal(77)
	}()
	id, err := f.WaitForAck()
	require.NoError(t, err)
	require.Equal(t, ids.GlobalFederateID(77), id)
}

func TestWaitForGrantUnblocksOnFail(t *testing.T) {
	f := New("fedA", 1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Fail(errors.New("federate errored"))
	}()
	_, err := f.WaitForGrant()
	require.Error(t, err)
	require.Equal(t, StatusError, f.Status())
}

func TestGrantDeliversTime(t *testing.T) {
	f := New("fedA", 1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Grant(simtime.Time(3.5))
	}()
	got, err := f.WaitForGrant()
	require.NoError(t, err)
	require.Equal(t, simtime.Time(3.5), got)
}
