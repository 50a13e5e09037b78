package action

// MessageKind is the tag carried in every ActionMessage header. Dispatch
// throughout the core is a switch on this value — never on a Go type
// assertion — per the design note in spec §9 ("dynamic dispatch via action
// tags, not class hierarchies").
type MessageKind int16

// Priority commands are negative; everything else is processed after the
// priority queue has drained (§4.1, §5). Only the bare protocol, ping
// and tick commands omit the string-data section on the wire (see
// hasStringData in codec.go).
const (
	// --- priority commands (< 0) ---
	CmdPriorityAck       MessageKind = -10
	CmdBrokerAck         MessageKind = -11
	CmdFedAck            MessageKind = -12
	CmdQuery             MessageKind = -13
	CmdQueryReply         MessageKind = -14
	CmdBrokerQuery       MessageKind = -15

	// --- informational / no-payload commands ---
	CmdNullInfoCommand MessageKind = 0
	CmdPing            MessageKind = 1
	CmdPingReply       MessageKind = 2
	CmdTick            MessageKind = 3
	CmdProtocol        MessageKind = 4
	CmdProtocolPriority MessageKind = 5
	CmdProtocolBig     MessageKind = 6
	CmdSetGlobal       MessageKind = 7

	// --- registration family ---
	CmdRegBroker    MessageKind = 20
	CmdRegFed       MessageKind = 21
	CmdRegPub       MessageKind = 22
	CmdRegInput     MessageKind = 23
	CmdRegEndpoint  MessageKind = 24
	CmdRegFilter    MessageKind = 25
	CmdFedAckReply  MessageKind = 26
	CmdAddNamedPublication MessageKind = 27
	CmdAddNamedInput       MessageKind = 28
	CmdAddNamedEndpoint    MessageKind = 29
	CmdAddNamedFilter      MessageKind = 30
	CmdRemoveNamedPublication MessageKind = 31
	CmdRemoveNamedInput       MessageKind = 32
	CmdRemoveNamedEndpoint    MessageKind = 33
	CmdAddSubscriber   MessageKind = 34
	CmdAddPublisher    MessageKind = 35
	CmdAddFilteredEndpoint MessageKind = 36
	CmdAddSrcFilter        MessageKind = 37
	CmdAddDestFilter       MessageKind = 38
	CmdAddDeliveryTarget   MessageKind = 39
	CmdSetOption           MessageKind = 40

	// --- timing family ---
	CmdInit            MessageKind = 50
	CmdInitGrant       MessageKind = 51
	CmdInitNotReady    MessageKind = 52
	CmdExecRequest     MessageKind = 53
	CmdExecGrant       MessageKind = 54
	CmdExecCheck       MessageKind = 55
	CmdTimeRequest     MessageKind = 56
	CmdTimeGrant       MessageKind = 57
	CmdTimeCheck       MessageKind = 58
	CmdTimeBlock       MessageKind = 59
	CmdTimeUnblock     MessageKind = 60

	// --- dependency family ---
	CmdAddDependency        MessageKind = 70
	CmdRemoveDependency     MessageKind = 71
	CmdAddDependent         MessageKind = 72
	CmdRemoveDependent      MessageKind = 73
	CmdAddInterdependency   MessageKind = 74
	CmdRemoveInterdependency MessageKind = 75
	CmdSearchDependency     MessageKind = 76

	// --- delivery family ---
	CmdPub                         MessageKind = 90
	CmdSendMessage                 MessageKind = 91
	CmdSendForFilter               MessageKind = 92
	CmdSendForFilterAndReturn       MessageKind = 93
	CmdSendForDestFilterAndReturn   MessageKind = 94
	CmdFilterResult                MessageKind = 95
	CmdDestFilterResult             MessageKind = 96
	CmdNullMessage                  MessageKind = 97
	CmdNullDestMessage              MessageKind = 98

	// --- lifecycle family ---
	CmdDisconnect            MessageKind = 110
	CmdDisconnectName        MessageKind = 111
	CmdDisconnectCheck       MessageKind = 112
	CmdDisconnectBroker      MessageKind = 113
	CmdDisconnectBrokerAck   MessageKind = 114
	CmdDisconnectCore        MessageKind = 115
	CmdDisconnectCoreAck     MessageKind = 116
	CmdDisconnectFed         MessageKind = 117
	CmdDisconnectFedAck      MessageKind = 118
	CmdStop                  MessageKind = 119
	CmdTerminateImmediately  MessageKind = 120

	// --- protocol/meta family ---
	CmdResend  MessageKind = 130
	CmdLog     MessageKind = 131
	CmdWarning MessageKind = 132

	// --- error family ---
	CmdError       MessageKind = 140
	CmdLocalError  MessageKind = 141
	CmdGlobalError MessageKind = 142
)

// Flags is the 16-bit bitfield carried in the ActionMessage header (§3).
type Flags uint16

const (
	FlagRequired Flags = 1 << iota
	FlagOptional
	FlagCloning
	FlagHasSourceFilter
	FlagHasDestFilter
	FlagDisconnected
	FlagUsed
	FlagIterationRequested
	FlagIterationComplete
	FlagObserver
	FlagSourceOnly
	FlagErrorFlag
	FlagDelayInitEntry
	// FlagFilterProcessed marks a SEND_MESSAGE whose source filter chain
	// has already run; a core dispatching one delivers it instead of
	// running the sender-side chain again.
	FlagFilterProcessed
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }
func (f Flags) Set(bit Flags) Flags { return f | bit }
func (f Flags) Clear(bit Flags) Flags { return f &^ bit }
