package action

import "github.com/cosimrt/corekit/simtime"

// IsPriorityCommand reports whether m must be dequeued ahead of any
// non-priority command already queued (spec §3, §5).
func (m ActionMessage) IsPriorityCommand() bool {
	return m.Action < CmdNullInfoCommand
}

// IsTimingCommand reports whether m belongs to the timing family (§6).
func (m ActionMessage) IsTimingCommand() bool {
	return m.Action >= CmdInit && m.Action <= CmdTimeUnblock
}

// IsDependencyCommand reports whether m belongs to the dependency family (§6).
func (m ActionMessage) IsDependencyCommand() bool {
	return m.Action >= CmdAddDependency && m.Action <= CmdSearchDependency
}

// IsInterfaceRegistrationCommand reports whether m belongs to the
// registration family (§6).
func (m ActionMessage) IsInterfaceRegistrationCommand() bool {
	return m.Action >= CmdRegBroker && m.Action <= CmdSetOption
}

// IsMessageDeliveryCommand reports whether m belongs to the delivery family
// (publications and endpoint messages, §6).
func (m ActionMessage) IsMessageDeliveryCommand() bool {
	return m.Action >= CmdPub && m.Action <= CmdNullDestMessage
}

// IsFilterCommand reports whether m is part of the cross-core filter
// request/response protocol (§4.7).
func (m ActionMessage) IsFilterCommand() bool {
	switch m.Action {
	case CmdSendForFilter, CmdSendForFilterAndReturn, CmdSendForDestFilterAndReturn,
		CmdFilterResult, CmdDestFilterResult, CmdNullMessage, CmdNullDestMessage:
		return true
	default:
		return false
	}
}

// IsDisconnectCommand reports whether m is part of the lifecycle/disconnect
// family (§6).
func (m ActionMessage) IsDisconnectCommand() bool {
	return m.Action >= CmdDisconnect && m.Action <= CmdTerminateImmediately
}

// IsErrorCommand reports whether m carries an error (§7).
func (m ActionMessage) IsErrorCommand() bool {
	return m.Action == CmdError || m.Action == CmdLocalError || m.Action == CmdGlobalError
}

// IsQueryCommand reports whether m is part of the query subsystem (§4.8).
func (m ActionMessage) IsQueryCommand() bool {
	switch m.Action {
	case CmdQuery, CmdQueryReply, CmdBrokerQuery:
		return true
	default:
		return false
	}
}

// IsProtocolCommand reports whether m is meta/protocol traffic that every
// participant handles the same way regardless of routing state (§6).
func (m ActionMessage) IsProtocolCommand() bool {
	switch m.Action {
	case CmdProtocol, CmdProtocolPriority, CmdProtocolBig, CmdPing, CmdPingReply, CmdTick, CmdResend, CmdSetGlobal:
		return true
	default:
		return false
	}
}

// IsIgnorable reports whether an unresolved route for m should be silently
// dropped rather than logged (spec §7: "Unknown routes for ignorable
// commands (disconnect, error, log, time-request to a departed peer) are
// silently dropped").
func (m ActionMessage) IsIgnorable() bool {
	if m.IsDisconnectCommand() || m.IsErrorCommand() {
		return true
	}
	switch m.Action {
	case CmdLog, CmdWarning, CmdTimeRequest, CmdTimeCheck:
		return true
	default:
		return false
	}
}

// IsValid reports whether m carries a recognized action code (used to
// reject garbage off the wire rather than crash the dispatch switch).
// CmdNullInfoCommand itself is valid: it is the no-op marker.
func (m ActionMessage) IsValid() bool {
	return (m.Action >= CmdBrokerQuery && m.Action <= CmdPriorityAck) ||
		(m.Action >= CmdNullInfoCommand && m.Action <= CmdGlobalError)
}

// SignalsDisconnect reports whether m is a TIME_GRANT whose action time is
// the maximum representable time — treated as an implicit disconnect per
// §4.4: "TIME_GRANT with action-time equal to the maximum representable time
// is also treated as a disconnect by this predicate."
func (m ActionMessage) SignalsDisconnect() bool {
	if m.IsDisconnectCommand() {
		return true
	}
	return m.Action == CmdTimeGrant && simtime.IsDisconnectTime(m.ActionTime)
}
