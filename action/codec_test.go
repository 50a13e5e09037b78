package action

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/magiconair/properties/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

func sampleMessage() ActionMessage {
	m := New(CmdTimeRequest)
	m.SourceID = 42
	m.SourceHandle = 3
	m.DestID = ids.BrokerIDShift + 7
	m.DestHandle = 9
	m.Counter = 2
	m.Flags = FlagRequired | FlagCloning
	m.SequenceID = 123456
	m.ActionTime = simtime.Time(1.5)
	m.Te = simtime.Time(2.25)
	m.Tdemin = simtime.Time(3.75)
	m.Tso = simtime.Time(4.125)
	m.Payload = []byte{0x01, 0x02, 0x03, 0xff}
	m.StringData = []string{"alpha", "beta", ""}
	return m
}

func TestRoundTripBinary(t *testing.T) {
	m := sampleMessage()
	encoded := ToBytes(m)
	decoded, err := FromBytes(encoded)
	require.NoError(t, err)
	if diff := cmp.Diff(m, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripNoStringData(t *testing.T) {
	m := New(CmdPing)
	m.SourceID = 1
	encoded := ToBytes(m)
	decoded, err := FromBytes(encoded)
	require.NoError(t, err)
	require.Nil(t, decoded.StringData)
	assert.Equal(t, decoded.Action, CmdPing)
}

func TestPacketizeDepacketize(t *testing.T) {
	m := sampleMessage()
	var buf bytes.Buffer
	buf.Write(Packetize(m))
	buf.Write(Packetize(New(CmdStop)))

	first, err := Depacketize(&buf)
	require.NoError(t, err)
	require.Equal(t, m, first)

	second, err := Depacketize(&buf)
	require.NoError(t, err)
	require.Equal(t, CmdStop, second.Action)
}

func TestRoundTripJSON(t *testing.T) {
	m := sampleMessage()
	encoded, err := ToJSON(m)
	require.NoError(t, err)
	decoded, err := FromJSON(encoded)
	require.NoError(t, err)

	withoutPayload := m
	withoutPayload.Payload = nil
	if diff := cmp.Diff(withoutPayload, decoded); diff != "" {
		t.Fatalf("JSON round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLessByActionTime(t *testing.T) {
	a := New(CmdTimeRequest)
	a.ActionTime = 1.0
	b := New(CmdTimeRequest)
	b.ActionTime = 2.0
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}

func TestPredicateClassification(t *testing.T) {
	require.True(t, New(CmdBrokerAck).IsPriorityCommand())
	require.False(t, New(CmdStop).IsPriorityCommand())
	require.True(t, New(CmdTimeRequest).IsTimingCommand())
	require.True(t, New(CmdAddDependency).IsDependencyCommand())
	require.True(t, New(CmdRegFed).IsInterfaceRegistrationCommand())
	require.True(t, New(CmdSendMessage).IsMessageDeliveryCommand())
	require.True(t, New(CmdSendForFilter).IsFilterCommand())
	require.True(t, New(CmdDisconnect).IsDisconnectCommand())
	require.True(t, New(CmdDisconnect).IsIgnorable())
	require.True(t, New(CmdError).IsErrorCommand())
	require.True(t, New(CmdQuery).IsQueryCommand())
	require.True(t, New(CmdPing).IsProtocolCommand())
}

func TestSignalsDisconnectOnMaxTimeGrant(t *testing.T) {
	m := New(CmdTimeGrant)
	m.ActionTime = simtime.MaxTime
	require.True(t, m.SignalsDisconnect())

	m2 := New(CmdTimeGrant)
	m2.ActionTime = 5
	require.False(t, m2.SignalsDisconnect())
}
