package core

import (
	"fmt"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/federstate"
	"github.com/cosimrt/corekit/filter"
	"github.com/cosimrt/corekit/handles"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

// The public API below is called from federate threads. Per spec §5/§4.2,
// none of it touches the processing loop's state directly: reads go
// through the synchronized handleView snapshot, and every mutation is an
// ActionMessage enqueued for the single dispatch goroutine, with calls
// that need a result blocking on an ops future until the handler fulfils
// it.

// RegisterFederate blocks until FED_ACK round-trips, per spec §4.5. The
// returned id is the newly assigned LocalFederateID.
func (c *Core) RegisterFederate(name string) (ids.LocalFederateID, error) {
	return c.RegisterFederateWithFlags(name, cfg.FederateFlags{})
}

// RegisterFederateWithFlags is RegisterFederate carrying the per-federate
// behavioral flags of spec §6 (observer, source_only, ...); the observer
// and source-only bits ride the registration message so the broker can
// apply its dependency promotions (spec §4.4).
func (c *Core) RegisterFederateWithFlags(name string, flags cfg.FederateFlags) (ids.LocalFederateID, error) {
	c.mu.Lock()
	if _, exists := c.byName[name]; exists {
		c.mu.Unlock()
		return 0, fmt.Errorf("core: duplicate federate name %q", name)
	}
	local := c.nextLocal
	c.nextLocal++
	fed := federstate.New(name, local)
	fed.Flags = flags
	c.federates[local] = fed
	c.byName[name] = fed
	c.mu.Unlock()

	m := action.New(action.CmdRegFed)
	m.SourceID = c.self
	m.StringData = []string{name}
	if flags.Observer {
		m.Flags = m.Flags.Set(action.FlagObserver)
	}
	if flags.SourceOnly {
		m.Flags = m.Flags.Set(action.FlagSourceOnly)
	}
	c.transmitToParent(m)

	if _, err := fed.WaitForAck(); err != nil {
		return 0, err
	}
	return local, nil
}

// RegisterPublication creates a local publication handle and advertises it
// upward for name resolution (spec §4.5).
func (c *Core) RegisterPublication(owner ids.LocalFederateID, key, typ, units string) (ids.InterfaceHandle, error) {
	return c.registerInterface(owner, key, typ, units, "", false, action.CmdRegPub)
}

// RegisterInput creates a local input handle.
func (c *Core) RegisterInput(owner ids.LocalFederateID, key, typ, units string) (ids.InterfaceHandle, error) {
	return c.registerInterface(owner, key, typ, units, "", false, action.CmdRegInput)
}

// RegisterEndpoint creates a local endpoint handle.
func (c *Core) RegisterEndpoint(owner ids.LocalFederateID, key, typ string) (ids.InterfaceHandle, error) {
	return c.registerInterface(owner, key, typ, "", "", false, action.CmdRegEndpoint)
}

// RegisterFilter creates a local filter handle, recorded by the processing
// loop until an attach call adds it to an interface's chain (spec §4.5
// "registerFilter").
func (c *Core) RegisterFilter(owner ids.LocalFederateID, key, inputType, outputType string, cloning bool) (ids.InterfaceHandle, error) {
	return c.registerInterface(owner, key, inputType, "", outputType, cloning, action.CmdRegFilter)
}

// registerInterface enqueues the registration for the processing loop and
// blocks on the allocated handle (spec §4.2: "cross-thread publication
// happens by queuing a registration command, never by shared mutation").
func (c *Core) registerInterface(owner ids.LocalFederateID, key, typ, units, outputType string, cloning bool, regKind action.MessageKind) (ids.InterfaceHandle, error) {
	id := c.ops.NewRequest()
	m := action.New(regKind)
	m.MessageID = id
	m.Counter = uint16(owner)
	m.StringData = []string{key, typ, units, outputType}
	if cloning {
		m.Flags = m.Flags.Set(action.FlagCloning)
	}
	c.enqueue(m)

	res, ok := c.ops.Wait(id)
	if !ok {
		return 0, fmt.Errorf("core: registration of %q never completed", key)
	}
	return res.handle, res.err
}

// AddSourceFilter attaches a registered filter to a source interface's
// (publication/endpoint) outgoing chain, run before each message is
// transmitted (spec §4.7). Both the filter and the interface it attaches
// to must be local to this core; use AddSourceFilterByName to attach a
// filter another core registered.
func (c *Core) AddSourceFilter(filterHandle, sourceHandle ids.InterfaceHandle) error {
	return c.attachFilter(filterHandle, sourceHandle, action.CmdAddSrcFilter)
}

// AddDestinationFilter attaches a registered filter to a destination
// endpoint's chain, run on delivery (spec §4.7).
func (c *Core) AddDestinationFilter(filterHandle, destHandle ids.InterfaceHandle) error {
	return c.attachFilter(filterHandle, destHandle, action.CmdAddDestFilter)
}

func (c *Core) attachFilter(filterHandle, target ids.InterfaceHandle, kind action.MessageKind) error {
	id := c.ops.NewRequest()
	m := action.New(kind)
	m.MessageID = id
	m.SourceHandle = filterHandle
	m.DestHandle = target
	c.enqueue(m)

	res, ok := c.ops.Wait(id)
	if !ok {
		return fmt.Errorf("core: filter attach never completed")
	}
	return res.err
}

// AddSourceFilterByName attaches the filter registered federation-wide
// under filterName to sourceHandle's outgoing chain, resolving ownership
// through the parent broker (spec §4.6, §4.7): the broker answers with
// ADD_FILTERED_ENDPOINT naming the filter's global handle, and the chain
// entry becomes either a local record or a remote SEND_FOR_FILTER stub.
func (c *Core) AddSourceFilterByName(sourceHandle ids.InterfaceHandle, filterName string) {
	c.requestNamedFilter(sourceHandle, filterName, false)
}

// AddDestinationFilterByName is AddSourceFilterByName for a destination
// endpoint's chain; a resolved remote filter triggers the TIME_BLOCK
// round trip on every delivery (spec §4.7).
func (c *Core) AddDestinationFilterByName(destHandle ids.InterfaceHandle, filterName string) {
	c.requestNamedFilter(destHandle, filterName, true)
}

func (c *Core) requestNamedFilter(handle ids.InterfaceHandle, filterName string, dest bool) {
	rec, ok := c.handleView.ByHandle(handle)
	if !ok {
		return
	}
	m := action.New(action.CmdAddNamedFilter)
	m.SourceID = rec.Global.Federate
	m.SourceHandle = handle
	m.StringData = []string{filterName}
	if dest {
		m.Flags = m.Flags.Set(action.FlagHasDestFilter)
	}
	c.transmitToParent(m)
}

// AddFilterDeliveryTarget records one more endpoint a cloning filter forks a
// copy to (spec §4.7's Record.DeliveryTargets); ignored by non-cloning
// filters.
func (c *Core) AddFilterDeliveryTarget(filterHandle ids.InterfaceHandle, target ids.GlobalHandle) error {
	id := c.ops.NewRequest()
	m := action.New(action.CmdAddDeliveryTarget)
	m.MessageID = id
	m.SourceHandle = filterHandle
	m.DestID = target.Federate
	m.DestHandle = target.Handle
	c.enqueue(m)

	res, ok := c.ops.Wait(id)
	if !ok {
		return fmt.Errorf("core: delivery-target add never completed")
	}
	return res.err
}

// SetHandleOption sets or clears one of the interface-level option flags
// (required, only_transmit_on_change, ...) on a handle this core owns
// (spec §4.5 "setOption").
func (c *Core) SetHandleOption(handle ids.InterfaceHandle, flag handles.Flags, on bool) error {
	id := c.ops.NewRequest()
	m := action.New(action.CmdSetOption)
	m.MessageID = id
	m.SourceHandle = handle
	m.Counter = uint16(flag)
	if on {
		m.SequenceID = 1
	}
	c.enqueue(m)

	res, ok := c.ops.Wait(id)
	if !ok {
		return fmt.Errorf("core: option set never completed")
	}
	return res.err
}

// AddDestinationTarget wires a consumer (input or endpoint) to a named
// source by emitting ADD_NAMED_INPUT upward for resolution (spec §4.6): the
// parent broker resolves targetName against its registered-interface table
// (or queues the request until a matching name registers) and, once
// resolved, sends ADD_SUBSCRIBER/ADD_PUBLISHER to the two sides. The
// handle's required flag rides along so the root can fail init if the name
// never resolves (spec §8 scenario c).
func (c *Core) AddDestinationTarget(handle ids.InterfaceHandle, targetName string) {
	c.addNamedTarget(handle, targetName, action.CmdAddNamedInput)
}

// AddSourceTarget wires a producer (publication or endpoint) to a named
// destination by emitting ADD_NAMED_PUBLICATION upward, resolved the same
// way as AddDestinationTarget but from the producer's side.
func (c *Core) AddSourceTarget(handle ids.InterfaceHandle, targetName string) {
	c.addNamedTarget(handle, targetName, action.CmdAddNamedPublication)
}

func (c *Core) addNamedTarget(handle ids.InterfaceHandle, targetName string, kind action.MessageKind) {
	rec, ok := c.handleView.ByHandle(handle)
	if !ok {
		return
	}
	m := action.New(kind)
	m.SourceID = rec.Global.Federate
	m.SourceHandle = handle
	m.StringData = []string{targetName}
	if rec.Flags.Has(handles.FlagRequired) {
		m.Flags = m.Flags.Set(action.FlagRequired)
	}
	c.transmitToParent(m)
}

// RemoveTarget withdraws an earlier AddDestinationTarget/AddSourceTarget
// request by name (spec §4.5 "removeTarget").
func (c *Core) RemoveTarget(handle ids.InterfaceHandle, targetName string) {
	rec, ok := c.handleView.ByHandle(handle)
	if !ok {
		return
	}
	kind := action.CmdRemoveNamedInput
	if rec.Kind == handles.KindPublication {
		kind = action.CmdRemoveNamedPublication
	}
	m := action.New(kind)
	m.SourceID = rec.Global.Federate
	m.SourceHandle = handle
	m.StringData = []string{targetName}
	c.transmitToParent(m)
}

// SetValue publishes bytes on handle (spec §4.5, §4.6): the request is
// enqueued and the processing loop marks the handle used, applies the
// only_transmit_on_change check, and fans one CMD_PUB per resolved
// subscriber at the owning federate's nextAllowedSendTime.
func (c *Core) SetValue(owner *federstate.FederateState, handle ids.InterfaceHandle, value []byte) error {
	if _, ok := c.handleView.ByHandle(handle); !ok {
		return fmt.Errorf("core: unknown handle %d", handle)
	}
	m := action.New(action.CmdPub)
	m.SourceID = owner.Global
	m.SourceHandle = handle
	m.Payload = value
	c.enqueue(m)
	return nil
}

// SendMessage builds CMD_SEND_MESSAGE to dst at max(requested,
// nextAllowedSendTime) (spec §4.5). The request is enqueued; the source
// endpoint's filter chain runs on the processing thread (spec §4.7), with
// remote stages round-tripping to the owning core and holding the sending
// federate's time advance until they return.
func (c *Core) SendMessage(owner *federstate.FederateState, handle ids.InterfaceHandle, dst ids.GlobalHandle, payload []byte, requested simtime.Time) {
	m := action.New(action.CmdSendMessage)
	m.SourceID = owner.Global
	m.SourceHandle = handle
	m.DestID = dst.Federate
	m.DestHandle = dst.Handle
	m.ActionTime = requested
	m.Payload = payload
	c.enqueue(m)
}

// SendMessageToName is SendMessage addressed by endpoint name instead of a
// resolved handle (spec §4.5 "send is point-to-point by endpoint name"): a
// locally registered endpoint short-circuits; anything else is emitted
// destination-less for the parent broker's fillMessageRouteInformation to
// resolve (spec §4.3, §4.6).
func (c *Core) SendMessageToName(owner *federstate.FederateState, handle ids.InterfaceHandle, destName string, payload []byte, requested simtime.Time) {
	if rec, ok := c.handleView.Find(handles.KindEndpoint, destName); ok {
		c.SendMessage(owner, handle, rec.Global, payload, requested)
		return
	}
	m := action.New(action.CmdSendMessage)
	m.SourceID = owner.Global
	m.SourceHandle = handle
	m.ActionTime = requested
	m.Payload = payload
	m.StringData = []string{destName}
	c.enqueue(m)
}

// Ready announces that this core has nothing left to register, sending
// CMD_INIT up the tree exactly once (spec §4.3's init handshake). Called
// implicitly by the first EnterExecutingMode.
func (c *Core) Ready() {
	c.readyOnce.Do(func() {
		m := action.New(action.CmdInit)
		m.SourceID = c.self
		c.transmitToParent(m)
	})
}

// EnterExecutingMode emits EXEC_REQUEST and blocks the caller until the
// federate's coordinator is granted (spec §4.5).
func (c *Core) EnterExecutingMode(fed *federstate.FederateState) (simtime.Time, error) {
	t, _, err := c.enterExecuting(fed, false)
	return t, err
}

// EnterExecutingModeIterative is the iterate-if-needed form of exec-mode
// entry (spec §4.4, §8 scenario e): the grant reports whether the federate
// should iterate again at time zero or proceed; the request that brings
// the count to maxIterationCount forces entry, and the announced
// EXEC_GRANT carries the iteration-complete flag.
func (c *Core) EnterExecutingModeIterative(fed *federstate.FederateState) (simtime.Time, federstate.IterationResult, error) {
	return c.enterExecuting(fed, true)
}

func (c *Core) enterExecuting(fed *federstate.FederateState, iterative bool) (simtime.Time, federstate.IterationResult, error) {
	c.Ready()

	c.mu.Lock()
	c.pendingExec[fed.Global] = true
	counter := c.execIter[fed.Global]
	c.mu.Unlock()

	m := action.New(action.CmdExecRequest)
	m.SourceID = fed.Global
	if iterative {
		m.Flags = m.Flags.Set(action.FlagIterationRequested)
		m.Counter = counter
	}
	c.transmitToParent(m)

	chk := action.New(action.CmdExecCheck)
	chk.DestID = fed.Global
	if iterative {
		chk.Flags = chk.Flags.Set(action.FlagIterationRequested)
	}
	c.enqueue(chk)
	return fed.WaitForGrantIterative()
}

// TimeRequest emits TIME_REQUEST for (t, te) and blocks until granted
// (spec §4.5 "timeRequest"). The request is recorded and broadcast by the
// processing loop; while the federate has outgoing messages still being
// processed by a remote filter, the broadcast is stashed and re-issued
// once the filter return arrives, so the federate never advances past a
// time at which one of its messages is still in flight.
func (c *Core) TimeRequest(fed *federstate.FederateState, t, te simtime.Time, iterative bool) (simtime.Time, error) {
	c.enqueueTimeCheck(fed, t, te, iterative)
	return fed.WaitForGrant()
}

// RequestTimeIterative is TimeRequest's iterative form, additionally
// reporting the iteration disposition of the grant.
func (c *Core) RequestTimeIterative(fed *federstate.FederateState, t, te simtime.Time) (simtime.Time, federstate.IterationResult, error) {
	c.enqueueTimeCheck(fed, t, te, true)
	return fed.WaitForGrantIterative()
}

func (c *Core) enqueueTimeCheck(fed *federstate.FederateState, t, te simtime.Time, iterative bool) {
	m := action.New(action.CmdTimeCheck)
	m.DestID = fed.Global
	m.ActionTime = t
	m.Te = te
	if iterative {
		m.Flags = m.Flags.Set(action.FlagIterationRequested)
	}
	c.enqueue(m)
}

// Query issues (target, queryStr) and blocks on the reply future (spec
// §4.8).
func (c *Core) Query(target ids.GlobalFederateID, queryStr string) (string, error) {
	id := c.queries.NewRequest()
	m := action.New(action.CmdQuery)
	m.SourceID = c.self
	m.DestID = target
	m.MessageID = id
	m.StringData = []string{queryStr}
	c.transmitToParent(m)

	result, ok := c.queries.Wait(id)
	if !ok {
		return "", fmt.Errorf("core: query %q never answered", queryStr)
	}
	return result, nil
}

// SetFilterOperator installs op via the airlock (spec §4.5, §9): the
// caller (an API-thread goroutine) stores the callback and enqueues a
// configuration command carrying the slot index; the processing thread
// later reads it via the CmdSetGlobal-class dispatch path.
func (c *Core) SetFilterOperator(filterHandle ids.InterfaceHandle, op filter.Operator) {
	idx := c.airlock.Store(op)
	m := action.New(action.CmdSetGlobal)
	m.SourceHandle = filterHandle
	m.Counter = uint16(idx)
	c.enqueue(m)
}

func (c *Core) transmitToParent(m action.ActionMessage) {
	if err := c.tport.Transmit(ids.ParentRouteID, m); err != nil {
		c.enqueue(action.New(action.CmdLocalError).WithStrings(err.Error()))
		return
	}
	if log := c.parentJournal(); log != nil {
		if err := log.Append(m); err != nil {
			cfg.Warnf("core %s: journal append: %v", c.name, err)
		}
	}
}
