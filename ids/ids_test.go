package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGlobalIDClassification(t *testing.T) {
	require.True(t, RootBrokerID.IsBroker())
	require.False(t, RootBrokerID.IsFederate())

	fed := GlobalFederateIDFromLocal(0)
	require.True(t, fed.IsFederate())
	require.False(t, fed.IsBroker())

	require.False(t, InvalidGlobalFedID.IsValid())
	require.False(t, InvalidGlobalFedID.IsFederate())
	require.False(t, ParentGlobalFedID.IsBroker())
}

func TestBrokerIDsNeverCollideWithRoot(t *testing.T) {
	seen := map[GlobalFederateID]bool{RootBrokerID: true}
	for i := LocalBrokerID(0); i < 64; i++ {
		id := GlobalBrokerIDFromLocal(i)
		require.False(t, seen[id], "broker index %d collides", i)
		seen[id] = true
	}
}

func TestFederateAndBrokerRangesAreDisjoint(t *testing.T) {
	for i := LocalFederateID(0); i < 64; i++ {
		fed := GlobalFederateIDFromLocal(i)
		require.True(t, fed < BrokerIDShift)
		require.True(t, fed >= FederateIDShift)
	}
}

func TestGlobalHandleValidity(t *testing.T) {
	require.False(t, GlobalHandle{}.Valid())
	require.False(t, GlobalHandle{Federate: GlobalFederateIDFromLocal(1)}.Valid())
	require.True(t, GlobalHandle{Federate: GlobalFederateIDFromLocal(1), Handle: 3}.Valid())
}
