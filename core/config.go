package core

import (
	"bytes"
	"fmt"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/federstate"
	"github.com/cosimrt/corekit/filter"
	"github.com/cosimrt/corekit/handles"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

// opResult is what a configuration command enqueued by the public API
// reports back through the ops future table: the allocated handle for the
// register* family, or the failure.
type opResult struct {
	handle ids.InterfaceHandle
	err    error
}

// handleLocalRegister services a register-interface request enqueued by
// the public API (spec §4.2: the processing loop is the registry's only
// writer; the API-thread copy is refreshed by Sync). Counter carries the
// owning local federate id; the string vector carries key, type, units,
// and — for filters — the declared output type.
func (c *Core) handleLocalRegister(m action.ActionMessage, kind handles.Kind, regKind action.MessageKind) {
	if len(m.StringData) < 3 {
		c.ops.Fulfill(m.MessageID, opResult{err: fmt.Errorf("core: malformed registration request")})
		return
	}
	key, typ, units := m.StringData[0], m.StringData[1], m.StringData[2]

	owner := ids.LocalFederateID(m.Counter)
	c.mu.Lock()
	fed, ok := c.federates[owner]
	c.mu.Unlock()
	if !ok {
		c.ops.Fulfill(m.MessageID, opResult{err: fmt.Errorf("core: unknown local federate %d", owner)})
		return
	}

	rec, err := c.handleReg.AddHandle(owner, fed.Global, kind, key, typ, units)
	if err != nil {
		c.ops.Fulfill(m.MessageID, opResult{err: err})
		return
	}
	c.handleView.Sync(c.handleReg)

	if kind == handles.KindFilter {
		outputType := ""
		if len(m.StringData) > 3 {
			outputType = m.StringData[3]
		}
		c.mu.Lock()
		c.localFilterRecords[rec.Global.Handle] = &filter.Record{
			Handle:     rec.Global.Handle,
			Owner:      owner,
			InputType:  typ,
			OutputType: outputType,
			Cloning:    m.Flags.Has(action.FlagCloning),
		}
		c.mu.Unlock()
	}

	up := action.New(regKind)
	up.SourceID = fed.Global
	up.SourceHandle = rec.Global.Handle
	up.StringData = []string{key, typ, units}
	c.transmitToParent(up)

	c.ops.Fulfill(m.MessageID, opResult{handle: rec.Global.Handle})
}

// handleSetOption applies a setOption request (spec §4.5): Counter carries
// the flag bits, SequenceID 1/0 selects set/clear.
func (c *Core) handleSetOption(m action.ActionMessage) {
	err := c.handleReg.SetOption(m.SourceHandle, handles.Flags(m.Counter), m.SequenceID == 1)
	c.handleView.Sync(c.handleReg)
	c.ops.Fulfill(m.MessageID, opResult{err: err})
}

// handleAttachFilter appends a locally registered filter (SourceHandle) to
// the target interface's source or destination chain (spec §4.7).
func (c *Core) handleAttachFilter(m action.ActionMessage, dest bool) {
	c.mu.Lock()
	rec, ok := c.localFilterRecords[m.SourceHandle]
	if ok {
		if dest {
			c.destFilters[m.DestHandle] = append(c.destFilters[m.DestHandle], rec)
		} else {
			c.sourceFilters[m.DestHandle] = append(c.sourceFilters[m.DestHandle], rec)
		}
	}
	c.mu.Unlock()
	if !ok {
		c.ops.Fulfill(m.MessageID, opResult{err: fmt.Errorf("core: unknown local filter %d", m.SourceHandle)})
		return
	}
	optFlag := handles.FlagHasSourceFilter
	if dest {
		optFlag = handles.FlagHasDestFilter
	}
	_ = c.handleReg.SetOption(m.DestHandle, optFlag, true)
	c.handleView.Sync(c.handleReg)
	c.ops.Fulfill(m.MessageID, opResult{})
}

// handleAddDeliveryTarget records one more endpoint a cloning filter forks
// a copy to (spec §4.7).
func (c *Core) handleAddDeliveryTarget(m action.ActionMessage) {
	c.mu.Lock()
	rec, ok := c.localFilterRecords[m.SourceHandle]
	if ok {
		rec.DeliveryTargets = append(rec.DeliveryTargets, ids.GlobalHandle{Federate: m.DestID, Handle: m.DestHandle})
	}
	c.mu.Unlock()
	if !ok {
		c.ops.Fulfill(m.MessageID, opResult{err: fmt.Errorf("core: unknown local filter %d", m.SourceHandle)})
		return
	}
	c.ops.Fulfill(m.MessageID, opResult{})
}

// handleLocalPublish services a SetValue request (spec §4.5, §4.6): mark
// the handle used, apply change detection, and fan one CMD_PUB per
// resolved subscriber at the owning federate's nextAllowedSendTime.
func (c *Core) handleLocalPublish(m action.ActionMessage) {
	rec, ok := c.handleReg.ByHandle(m.SourceHandle)
	if !ok {
		return
	}
	if !rec.Flags.Has(handles.FlagUsed) {
		_ = c.handleReg.MarkUsed(m.SourceHandle)
		c.handleView.Sync(c.handleReg)
	}

	fed, _ := c.federateByGlobal(m.SourceID)
	suppress := rec.Flags.Has(handles.FlagOnlyTransmitOnChange)
	if fed != nil && fed.Flags.OnlyTransmitOnChange {
		suppress = true
	}
	if suppress {
		if prev, had := c.lastPublished[m.SourceHandle]; had && bytes.Equal(prev, m.Payload) {
			return
		}
	}
	c.lastPublished[m.SourceHandle] = append([]byte(nil), m.Payload...)

	sendTime := m.ActionTime
	if fed != nil {
		sendTime = simtime.Max(sendTime, fed.Coordinator.Tnext)
	}
	for _, target := range c.PublisherTargets(m.SourceHandle) {
		out := action.New(action.CmdPub)
		out.SourceID = m.SourceID
		out.SourceHandle = m.SourceHandle
		out.DestID = target.Federate
		out.DestHandle = target.Handle
		out.ActionTime = sendTime
		out.Payload = m.Payload
		c.transmitToParent(out)
	}
}

// handleOutboundSend services a SendMessage request: the source endpoint's
// filter chain runs here, on the processing thread, before anything is
// transmitted (spec §4.5, §4.7). A destination-less request carries the
// target endpoint's name for the parent broker to resolve.
func (c *Core) handleOutboundSend(m action.ActionMessage) {
	t := m.ActionTime
	if fed, ok := c.federateByGlobal(m.SourceID); ok {
		t = simtime.Max(t, fed.Coordinator.Tnext)
	}
	ps := &pendingFilterSend{
		srcGlobal:  m.SourceID,
		srcHandle:  m.SourceHandle,
		dst:        ids.GlobalHandle{Federate: m.DestID, Handle: m.DestHandle},
		chain:      c.sourceChain(m.SourceHandle),
		payload:    m.Payload,
		actionTime: t,
	}
	if !m.DestID.IsValid() && len(m.StringData) > 0 {
		ps.destName = m.StringData[0]
	}
	c.runSourceChain(ps)
}

// handleExecCheck services an enterExecutingMode request from the public
// API (spec §4.4): record the federate's own request state, then attempt
// the grant; retries happen as dependency updates arrive.
func (c *Core) handleExecCheck(m action.ActionMessage) {
	fed, ok := c.federateByGlobal(m.DestID)
	if !ok {
		return
	}
	fed.Coordinator.EnterExecutingModeRequest(m.Flags.Has(action.FlagIterationRequested))
	if fed.Status() < federstate.StatusInitializing {
		_ = fed.Advance(federstate.StatusInitializing)
	}
	c.tryGrantExec(fed)
}

// handleTimeCheck services a timeRequest from the public API: record the
// request, broadcast TIME_REQUEST to dependents via the parent — unless
// the federate still has outgoing messages being processed by a remote
// filter, in which case the broadcast is stashed until the filter return
// arrives (spec §4.5) — then attempt the grant.
func (c *Core) handleTimeCheck(m action.ActionMessage) {
	fed, ok := c.federateByGlobal(m.DestID)
	if !ok {
		return
	}
	iterative := m.Flags.Has(action.FlagIterationRequested)
	fed.Coordinator.RequestTime(m.ActionTime, m.Te, iterative)

	req := action.New(action.CmdTimeRequest)
	req.SourceID = fed.Global
	req.ActionTime = m.ActionTime
	req.Te = m.Te
	req.Tdemin = fed.Coordinator.Tdemin
	if iterative {
		req.Flags = req.Flags.Set(action.FlagIterationRequested)
	}

	c.mu.Lock()
	stall := c.ongoingFilters[fed.Global] > 0
	if stall {
		c.delayedTiming[fed.Global] = append(c.delayedTiming[fed.Global], req)
	}
	c.mu.Unlock()
	if stall {
		return
	}
	c.transmitToParent(req)
	c.tryGrantTime(fed)
}
