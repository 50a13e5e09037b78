// Package core implements the Core leaf runtime (spec §4.5): a single
// processing thread owning local federates' interface handles, queues, and
// time coordination, exposing a blocking API to federate-thread callers
// and dispatching inbound ActionMessages by command kind. Structurally
// grounded on teacher's network/participant.Manager (one owning struct,
// one map-of-maps per concern, public methods that translate a caller's
// intent into a message enqueued for the single mutator goroutine to
// process) from _examples/postgres-postgres/oltp_clients.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/federstate"
	"github.com/cosimrt/corekit/filter"
	"github.com/cosimrt/corekit/handles"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/journal"
	"github.com/cosimrt/corekit/query"
	"github.com/cosimrt/corekit/simtime"
	"github.com/cosimrt/corekit/timecoord"
	"github.com/cosimrt/corekit/transport"
)

// defaultMaxIterations bounds how many times an iterative exec-entry can
// loop before the Core forces completion (spec §8 scenario e's
// maxIterationCount, defaulted generously).
const defaultMaxIterations = 50

// Core is the leaf runtime hosting one or more federates in-process (spec
// §2 "Cores as the leaves of the broker tree").
type Core struct {
	name  string
	tport transport.Transport

	mu        sync.Mutex
	self      ids.GlobalFederateID // set once the parent broker acks registration
	nextLocal ids.LocalFederateID
	federates map[ids.LocalFederateID]*federstate.FederateState
	byName    map[string]*federstate.FederateState

	handleReg  *handles.Registry
	handleView *handles.ReadView

	// routing for SEND_MESSAGE/PUB destined off-core; filled by ADD_SUBSCRIBER
	// /ADD_PUBLISHER/ADD_FILTERED_ENDPOINT as names resolve (spec §4.6).
	subscribers map[ids.InterfaceHandle][]ids.GlobalHandle
	publishers  map[ids.InterfaceHandle][]ids.GlobalHandle

	// lastPublished retains the most recent payload per publication handle,
	// consulted when the only_transmit_on_change option is set (spec §4.5
	// "checks change-detection threshold").
	lastPublished map[ids.InterfaceHandle][]byte

	// localFilterRecords holds every filter this core has registered, keyed
	// by the filter's own handle (spec §4.5 "registerFilter"). sourceFilters
	// and destFilters are the chains actually walked at send/delivery time,
	// keyed by the interface handle a filter has been attached to; a chain
	// entry is either a local record (Op installed here) or a remote stub
	// reached via the SEND_FOR_FILTER protocol (spec §4.7).
	localFilterRecords map[ids.InterfaceHandle]*filter.Record
	sourceFilters      map[ids.InterfaceHandle][]*filter.Record
	destFilters        map[ids.InterfaceHandle][]*filter.Record
	blocker            *filter.Blocker
	airlock            *filter.Airlock

	// Cross-core filter bookkeeping (spec §4.5, §4.7): in-flight source
	// chain walks suspended on a remote stage, in-flight deliveries
	// suspended on a remote destination filter, the per-federate count of
	// outstanding source round trips, the timing commands stashed while
	// that count is nonzero, and the per-federate TIME_BLOCK set.
	pendingSends      map[int32]*pendingFilterSend
	pendingDeliveries map[int32]*pendingDelivery
	ongoingFilters    map[ids.GlobalFederateID]int
	delayedTiming     map[ids.GlobalFederateID][]action.ActionMessage
	timeBlocks        map[ids.GlobalFederateID]map[int32]struct{}

	// Iterative exec-entry bookkeeping (spec §4.4, §8 scenario e).
	maxIterations uint16
	execIter      map[ids.GlobalFederateID]uint16
	pendingExec   map[ids.GlobalFederateID]bool
	gotNewData    map[ids.GlobalFederateID]bool

	queries *query.DelayedObjects[string]

	// ops carries the results of configuration commands the public API
	// enqueues for the processing thread (spec §4.2/§5: cross-thread
	// publication happens by queuing a command, never by shared mutation):
	// the API call installs a future, enqueues, and blocks until the
	// dispatch goroutine fulfils it.
	ops *query.DelayedObjects[opResult]

	queue *federstate.Queue

	operating bool

	nextMsgID atomic.Int32

	journalDir string
	routeLog   *journal.RouteLog

	monitor *timeoutMonitor

	readyOnce      sync.Once
	disconnectOnce sync.Once
	stopOnce       sync.Once
	done           chan struct{}

	ackCh chan ids.GlobalFederateID
	errCh chan error
}

// New creates a Core named name, transmitting via tport. self starts
// invalid and is assigned once REG_BROKER's reply comes back from the
// parent (mirrors spec §4.3's "delay-transmit queue for messages issued
// before the local global id is assigned").
func New(name string, tport transport.Transport) *Core {
	c := &Core{
		name:      name,
		tport:     tport,
		self:      ids.InvalidGlobalFedID,
		nextLocal: 1,
		federates: make(map[ids.LocalFederateID]*federstate.FederateState),
		byName:    make(map[string]*federstate.FederateState),

		handleReg:  handles.New(ids.InvalidGlobalFedID),
		handleView: handles.NewReadView(),

		subscribers:   make(map[ids.InterfaceHandle][]ids.GlobalHandle),
		publishers:    make(map[ids.InterfaceHandle][]ids.GlobalHandle),
		lastPublished: make(map[ids.InterfaceHandle][]byte),

		localFilterRecords: make(map[ids.InterfaceHandle]*filter.Record),
		sourceFilters:      make(map[ids.InterfaceHandle][]*filter.Record),
		destFilters:        make(map[ids.InterfaceHandle][]*filter.Record),
		blocker:            filter.NewBlocker(),
		airlock:            filter.NewAirlock(),

		pendingSends:      make(map[int32]*pendingFilterSend),
		pendingDeliveries: make(map[int32]*pendingDelivery),
		ongoingFilters:    make(map[ids.GlobalFederateID]int),
		delayedTiming:     make(map[ids.GlobalFederateID][]action.ActionMessage),
		timeBlocks:        make(map[ids.GlobalFederateID]map[int32]struct{}),

		maxIterations: defaultMaxIterations,
		execIter:      make(map[ids.GlobalFederateID]uint16),
		pendingExec:   make(map[ids.GlobalFederateID]bool),
		gotNewData:    make(map[ids.GlobalFederateID]bool),

		queries: query.NewDelayedObjects[string](),
		ops:     query.NewDelayedObjects[opResult](),
		queue:   federstate.NewQueue(),

		done:  make(chan struct{}),
		ackCh: make(chan ids.GlobalFederateID, 1),
		errCh: make(chan error, 1),
	}
	tport.SetInbound(c.enqueue)
	return c
}

// SetMaxIterations bounds iterative exec-mode entry (spec §8 scenario e's
// maxIterationCount): the iterative request that brings a federate's
// request count to n is force-completed with the iteration-complete flag,
// so at most n-1 Iterating grants precede it.
func (c *Core) SetMaxIterations(n uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.maxIterations = n
	}
}

// EnableJournal turns on the parent-route resend journal rooted at dir
// (spec §6's RESEND command).
func (c *Core) EnableJournal(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journalDir = dir
}

// RegisterUpward emits REG_BROKER on the parent route and blocks until
// BROKER_ACK assigns this core's own global id (spec §4.3's registration
// paragraph makes no distinction between a broker and a core registering
// with their parent). Callers run this once, before registering any
// federates, so every handle and message this core originates afterward
// carries a valid global id for reply routing.
func (c *Core) RegisterUpward() error {
	m := action.New(action.CmdRegBroker)
	m.StringData = []string{c.name}
	if err := c.tport.Transmit(ids.ParentRouteID, m); err != nil {
		return err
	}
	select {
	case id := <-c.ackCh:
		c.mu.Lock()
		c.self = id
		c.mu.Unlock()
		return nil
	case err := <-c.errCh:
		return err
	}
}

func (c *Core) handleBrokerAck(m action.ActionMessage) {
	if m.Flags.Has(action.FlagErrorFlag) {
		select {
		case c.errCh <- fmt.Errorf("core: registration of %q rejected", c.name):
		default:
		}
		return
	}
	c.handleReg.SetSelf(m.DestID)
	select {
	case c.ackCh <- m.DestID:
	default:
	}
}

// enqueue is the Transport inbound callback: every message arriving off
// the wire lands on the same priority-aware queue as locally issued
// commands (spec §5).
func (c *Core) enqueue(m action.ActionMessage) {
	c.queue.Push(m)
}

// Run is the Core's single processing-thread loop (spec §5): it drains the
// priority-aware queue and dispatches by action kind until Stop closes the
// queue. Callers run this in its own goroutine.
func (c *Core) Run() {
	for {
		m, ok := c.queue.Pop()
		if !ok {
			return
		}
		c.dispatch(m)
	}
}

// Stop closes the processing queue, causing a blocked Run to return once
// drained. Safe to call more than once.
func (c *Core) Stop() {
	c.stopOnce.Do(func() {
		if c.monitor != nil {
			c.monitor.stop()
		}
		c.queue.Close()
		close(c.done)
	})
}

// WaitForDisconnect blocks until this Core has stopped, whether by a local
// Disconnect, an inbound STOP from the parent, or a timeout-monitor
// escalation (spec §5's waitForDisconnect suspension point).
func (c *Core) WaitForDisconnect() {
	<-c.done
}

func (c *Core) dispatch(m action.ActionMessage) {
	switch {
	case m.Action == action.CmdBrokerAck:
		c.handleBrokerAck(m)
	case m.Action == action.CmdFedAck:
		c.handleFedAck(m)
	case m.Action == action.CmdInitGrant:
		c.handleInitGrant(m)
	case m.Action == action.CmdAddDependency:
		c.handleAddDependency(m)
	case m.Action == action.CmdAddDependent:
		c.handleAddDependent(m)
	case m.Action == action.CmdRemoveDependency:
		c.handleRemoveDependency(m)
	case m.Action == action.CmdRemoveDependent:
		c.handleRemoveDependent(m)
	case m.Action == action.CmdAddInterdependency:
		c.handleAddDependency(m)
		c.handleAddDependent(m)
	case m.Action == action.CmdRemoveInterdependency:
		c.handleRemoveDependency(m)
		c.handleRemoveDependent(m)
	case m.Action == action.CmdExecRequest:
		c.handlePeerRequest(m, timecoord.StateExecRequested, timecoord.StateExecRequestedIterative)
	case m.Action == action.CmdTimeRequest:
		c.handlePeerRequest(m, timecoord.StateTimeRequested, timecoord.StateTimeRequestedIterative)
	case m.Action == action.CmdExecGrant, m.Action == action.CmdTimeGrant:
		c.handlePeerGranted(m)
	case m.Action == action.CmdTimeBlock:
		c.handleTimeBlock(m)
	case m.Action == action.CmdTimeUnblock:
		c.handleTimeUnblock(m)
	case m.Action == action.CmdSetGlobal:
		c.handleSetGlobal(m)
	case m.Action == action.CmdRegPub:
		c.handleLocalRegister(m, handles.KindPublication, action.CmdRegPub)
	case m.Action == action.CmdRegInput:
		c.handleLocalRegister(m, handles.KindInput, action.CmdRegInput)
	case m.Action == action.CmdRegEndpoint:
		c.handleLocalRegister(m, handles.KindEndpoint, action.CmdRegEndpoint)
	case m.Action == action.CmdRegFilter:
		c.handleLocalRegister(m, handles.KindFilter, action.CmdRegFilter)
	case m.Action == action.CmdAddSrcFilter:
		c.handleAttachFilter(m, false)
	case m.Action == action.CmdAddDestFilter:
		c.handleAttachFilter(m, true)
	case m.Action == action.CmdAddDeliveryTarget:
		c.handleAddDeliveryTarget(m)
	case m.Action == action.CmdSetOption:
		c.handleSetOption(m)
	case m.Action == action.CmdExecCheck:
		c.handleExecCheck(m)
	case m.Action == action.CmdTimeCheck:
		c.handleTimeCheck(m)
	case m.Action == action.CmdPub && !m.DestID.IsValid():
		c.handleLocalPublish(m)
	case m.Action == action.CmdPub:
		c.handlePub(m)
	case m.Action == action.CmdSendMessage && !m.Flags.Has(action.FlagFilterProcessed):
		c.handleOutboundSend(m)
	case m.Action == action.CmdSendMessage:
		c.handleSendMessage(m)
	case m.Action == action.CmdSendForFilter:
		c.handleSendForFilter(m, false, false)
	case m.Action == action.CmdSendForFilterAndReturn:
		c.handleSendForFilter(m, true, false)
	case m.Action == action.CmdSendForDestFilterAndReturn:
		c.handleSendForFilter(m, true, true)
	case m.Action == action.CmdFilterResult:
		c.handleFilterResult(m)
	case m.Action == action.CmdNullMessage:
		c.handleNullFilterResult(m)
	case m.Action == action.CmdDestFilterResult:
		c.handleDestFilterResult(m)
	case m.Action == action.CmdNullDestMessage:
		c.handleNullDestResult(m)
	case m.Action == action.CmdAddSubscriber:
		c.addSubscriber(m)
	case m.Action == action.CmdAddPublisher:
		c.addPublisher(m)
	case m.Action == action.CmdAddFilteredEndpoint:
		c.handleAddFilteredEndpoint(m)
	case m.Action == action.CmdQueryReply:
		c.queries.Fulfill(m.MessageID, string(m.Payload))
	case m.Action == action.CmdQuery:
		c.handleQuery(m)
	case m.Action == action.CmdPing:
		c.handlePing(m)
	case m.Action == action.CmdPingReply:
		if c.monitor != nil {
			c.monitor.replyReceived()
		}
	case m.Action == action.CmdResend:
		c.handleResend(m)
	case m.Action == action.CmdLog, m.Action == action.CmdWarning:
		cfg.Logf("core %s: remote log from %s: %s", c.name, m.SourceID, errString(m))
	case m.Action == action.CmdStop, m.Action == action.CmdTerminateImmediately:
		c.Stop()
	case m.IsErrorCommand():
		c.handleError(m)
	case m.IsDisconnectCommand():
		c.handleDisconnect(m)
	default:
		if !m.IsIgnorable() {
			cfg.Warnf("core %s: unhandled action %d from %d", c.name, m.Action, m.SourceID)
		}
	}
}

// Federate returns the FederateState registered under local, or nil if no
// such federate exists. Callers outside this package use it to get back the
// handle RegisterFederate's LocalFederateID refers to, since the state
// itself (needed by SetValue/SendMessage/TimeRequest) is only ever handed
// out at registration time otherwise.
func (c *Core) Federate(local ids.LocalFederateID) *federstate.FederateState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.federates[local]
}

func (c *Core) federateByGlobal(id ids.GlobalFederateID) (*federstate.FederateState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.federates {
		if f.Global == id {
			return f, true
		}
	}
	return nil, false
}

func (c *Core) handleFedAck(m action.ActionMessage) {
	// Resolved by name: FED_ACK's string-data carries the federate name it
	// answers, since DestID isn't assigned until this message arrives.
	if len(m.StringData) == 0 {
		return
	}
	name := m.StringData[0]
	c.mu.Lock()
	fed, ok := c.byName[name]
	c.mu.Unlock()
	if !ok {
		return
	}
	if m.Flags.Has(action.FlagErrorFlag) {
		fed.Fail(fmt.Errorf("core: registration of federate %q rejected", name))
		return
	}
	fed.SetGlobal(m.DestID)
	fed.Coordinator = timecoord.New(m.DestID, timecoord.ModeFederate)
	_ = fed.Advance(federstate.StatusConnected)
}

// handleInitGrant applies INIT_GRANT (spec §4.3, §4.7): order every source
// filter chain by organizeFilterOperations, flip this core to operating,
// and retry every federate whose EXEC_REQUEST was waiting on the grant.
func (c *Core) handleInitGrant(m action.ActionMessage) {
	c.mu.Lock()
	for h, chain := range c.sourceFilters {
		endpointType := ""
		if rec, ok := c.handleReg.ByHandle(h); ok {
			endpointType = rec.Type
		}
		c.sourceFilters[h] = filter.OrganizeSourceChain(chain, endpointType)
	}
	c.operating = true
	waiting := make([]ids.GlobalFederateID, 0, len(c.pendingExec))
	for id := range c.pendingExec {
		waiting = append(waiting, id)
	}
	c.mu.Unlock()
	for _, id := range waiting {
		if fed, ok := c.federateByGlobal(id); ok {
			c.tryGrantExec(fed)
		}
	}
}

func (c *Core) isOperating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operating
}

// handleAddDependency and handleAddDependent apply the broker's ADD_DEPENDENCY
// /ADD_DEPENDENT relay (spec §4.4, emitted by broker.wireLink) to the named
// local federate's TimeCoordinator, the only place these edges are recorded
// outside of tests.
func (c *Core) handleAddDependency(m action.ActionMessage) {
	fed, ok := c.federateByGlobal(m.DestID)
	if !ok {
		return
	}
	fed.Coordinator.AddDependency(m.SourceID)
}

func (c *Core) handleAddDependent(m action.ActionMessage) {
	fed, ok := c.federateByGlobal(m.DestID)
	if !ok {
		return
	}
	fed.Coordinator.AddDependent(m.SourceID)
}

func (c *Core) handleRemoveDependency(m action.ActionMessage) {
	fed, ok := c.federateByGlobal(m.DestID)
	if !ok {
		return
	}
	fed.Coordinator.RemoveDependency(m.SourceID)
	c.retryGrant(fed)
}

func (c *Core) handleRemoveDependent(m action.ActionMessage) {
	fed, ok := c.federateByGlobal(m.DestID)
	if !ok {
		return
	}
	fed.Coordinator.RemoveDependent(m.SourceID)
}

// handlePeerRequest applies an inbound EXEC_REQUEST/TIME_REQUEST relayed by
// the broker from one of the destination federate's dependencies (spec
// §4.4) to that dependency's record, then retries the federate's own
// pending request since a dependency it was waiting on just changed state.
func (c *Core) handlePeerRequest(m action.ActionMessage, state, iterativeState timecoord.TimeState) {
	fed, ok := c.federateByGlobal(m.DestID)
	if !ok {
		return
	}
	s := state
	if m.Flags.Has(action.FlagIterationRequested) {
		s = iterativeState
	}
	fed.Coordinator.ProcessDependencyUpdate(m.SourceID, s, m.ActionTime, m.Te, m.Tdemin)
	c.retryGrant(fed)
}

// handlePeerGranted applies an inbound EXEC_GRANT/TIME_GRANT relayed by the
// broker from one of the destination federate's dependencies, then retries
// the federate's own pending request.
func (c *Core) handlePeerGranted(m action.ActionMessage) {
	fed, ok := c.federateByGlobal(m.DestID)
	if !ok {
		return
	}
	if m.SignalsDisconnect() {
		fed.Coordinator.Disconnect(m.SourceID)
		c.retryGrant(fed)
		return
	}
	fed.Coordinator.ProcessDependencyUpdate(m.SourceID, timecoord.StateTimeGranted, m.ActionTime, m.ActionTime, m.ActionTime)
	c.retryGrant(fed)
}

// retryGrant re-runs the admission check for fed's own outstanding
// EXEC_REQUEST/TIME_REQUEST now that one of its dependencies has changed
// state (spec §4.4): CanGrant/CanGrantExec is consulted on every dependency
// update, not only once at request time, so a grant that was blocked can be
// released the moment the blocking peer catches up.
func (c *Core) retryGrant(fed *federstate.FederateState) {
	switch fed.Coordinator.OwnState() {
	case timecoord.StateExecRequested, timecoord.StateExecRequestedIterative:
		c.tryGrantExec(fed)
	case timecoord.StateTimeRequested, timecoord.StateTimeRequestedIterative:
		c.tryGrantTime(fed)
	}
}

// timeAdvanceBlocked reports whether fed's time advance is currently held
// back by in-flight filter work (spec §4.5): an outstanding TIME_BLOCK from
// a destination-filter round trip, or an outgoing message still being
// processed by a remote source filter.
func (c *Core) timeAdvanceBlocked(fed *federstate.FederateState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timeBlocks[fed.Global]) > 0 {
		return true
	}
	return c.ongoingFilters[fed.Global] > 0
}

// tryGrantExec grants fed's pending EXEC_REQUEST the moment every dependency
// has reached at least exec_requested (spec §4.4's CanGrantExec rule),
// whether that's immediately (no dependencies) or after a later
// handlePeerRequest/handlePeerGranted call retries it. A successful grant is
// announced upward unaddressed so the broker can fan it out to this
// federate's own dependents (spec §4.4, §4.3's wireLink/handleTimeStateUpdate).
//
// Iterative entry (spec §4.4, §8 scenario e): an iterate-if-needed request
// loops back to the caller with IterationIterating while new data has
// arrived and the iteration cap hasn't been hit; once the cap is reached
// entry is forced and the announced EXEC_GRANT carries the
// iteration-complete flag.
func (c *Core) tryGrantExec(fed *federstate.FederateState) {
	c.mu.Lock()
	pending := c.pendingExec[fed.Global]
	c.mu.Unlock()
	if !pending || !c.isOperating() {
		return
	}
	if fed.Status() == federstate.StatusError {
		c.mu.Lock()
		delete(c.pendingExec, fed.Global)
		c.mu.Unlock()
		return
	}
	if !fed.Coordinator.CanGrantExec() {
		return
	}

	iterative := fed.Coordinator.OwnState() == timecoord.StateExecRequestedIterative
	forced := false
	if iterative {
		c.mu.Lock()
		n := c.execIter[fed.Global] + 1
		c.execIter[fed.Global] = n
		fresh := c.gotNewData[fed.Global]
		c.gotNewData[fed.Global] = false
		forced = n >= c.maxIterations
		c.mu.Unlock()

		if fresh && !forced {
			c.mu.Lock()
			delete(c.pendingExec, fed.Global)
			c.mu.Unlock()
			fed.GrantIterative(simtime.Zero, federstate.IterationIterating)
			return
		}
	}

	c.mu.Lock()
	delete(c.pendingExec, fed.Global)
	c.mu.Unlock()

	fed.Coordinator.GrantExec()
	_ = fed.Advance(federstate.StatusOperating)
	fed.GrantIterative(simtime.Zero, federstate.IterationNextStep)

	announce := action.New(action.CmdExecGrant)
	announce.SourceID = fed.Global
	if iterative && forced {
		announce.Flags = announce.Flags.Set(action.FlagIterationComplete)
	}
	c.transmitToParent(announce)
}

// tryGrantTime grants fed's pending TIME_REQUEST the moment CanGrant(Tnext)
// holds against every dependency and no filter work is outstanding,
// announcing the grant upward the same way tryGrantExec does.
func (c *Core) tryGrantTime(fed *federstate.FederateState) {
	if c.timeAdvanceBlocked(fed) {
		return
	}
	t := fed.Coordinator.Tnext
	if !fed.Coordinator.CanGrant(t) {
		return
	}
	granted := fed.Coordinator.Grant()
	fed.Grant(granted)

	announce := action.New(action.CmdTimeGrant)
	announce.SourceID = fed.Global
	announce.ActionTime = granted
	announce.Te = fed.Coordinator.Te
	announce.Tdemin = fed.Coordinator.Tdemin
	c.transmitToParent(announce)
}

func (c *Core) handleSetGlobal(m action.ActionMessage) {
	op, ok := c.airlock.Take(int(m.Counter))
	if !ok {
		return
	}
	c.mu.Lock()
	if rec, ok := c.localFilterRecords[m.SourceHandle]; ok {
		rec.Op = op
	}
	c.mu.Unlock()
}

// handlePub delivers a CMD_PUB to the already-resolved consumer input named
// in m.DestID/m.DestHandle (spec §4.6: SetValue resolves every subscriber's
// global handle before sending, so the destination here is never a local
// lookup — it may belong to a different core entirely).
func (c *Core) handlePub(m action.ActionMessage) {
	fed, ok := c.federateByGlobal(m.DestID)
	if !ok {
		return
	}
	buf, ok := fed.Inputs[m.DestHandle]
	if !ok {
		buf = federstate.NewInputBuffer(m.DestHandle)
		buf.OnlyUpdateOnChange = fed.Flags.OnlyUpdateOnChange
		fed.Inputs[m.DestHandle] = buf
	}
	if buf.Update(m.Payload) {
		c.noteNewData(fed.Global)
	}
	fed.Coordinator.NotifyMessageArrival(m.SourceID, m.ActionTime)
}

func (c *Core) noteNewData(fed ids.GlobalFederateID) {
	c.mu.Lock()
	c.gotNewData[fed] = true
	c.mu.Unlock()
}

func (c *Core) deliverToEndpoint(dest, source ids.GlobalHandle, t simtime.Time, payload []byte) {
	fed, ok := c.federateByGlobal(dest.Federate)
	if !ok {
		return
	}
	q, ok := fed.Endpoints[dest.Handle]
	if !ok {
		q = federstate.NewEndpointQueue(dest.Handle)
		fed.Endpoints[dest.Handle] = q
	}
	q.Push(federstate.EndpointMessage{
		Source:  source,
		Time:    t,
		Payload: payload,
	})
	c.noteNewData(dest.Federate)
	fed.Coordinator.NotifyMessageArrival(source.Federate, t)
}

// addSubscriber records that an input now has a resolved producer, mirroring
// addPublisher's bookkeeping but on the consumer side: delivery itself
// doesn't need it (a CMD_PUB already carries its own resolved destination),
// but InputSources exposes it for diagnostics/queries the same way
// broker/query.go exposes the dependency graph.
func (c *Core) addSubscriber(m action.ActionMessage) {
	target := ids.GlobalHandle{Federate: m.SourceID, Handle: m.SourceHandle}
	c.mu.Lock()
	c.subscribers[m.DestHandle] = append(c.subscribers[m.DestHandle], target)
	c.mu.Unlock()
}

// InputSources reports the producers resolved against handle so far, for
// diagnostics.
func (c *Core) InputSources(handle ids.InterfaceHandle) []ids.GlobalHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ids.GlobalHandle(nil), c.subscribers[handle]...)
}

func (c *Core) addPublisher(m action.ActionMessage) {
	target := ids.GlobalHandle{Federate: m.SourceID, Handle: m.SourceHandle}
	c.mu.Lock()
	c.publishers[m.DestHandle] = append(c.publishers[m.DestHandle], target)
	c.mu.Unlock()
}

// PublisherTargets reports the consumers resolved against a publication or
// sending endpoint so far, for diagnostics; callers outside the processing
// goroutine use this rather than the map itself.
func (c *Core) PublisherTargets(handle ids.InterfaceHandle) []ids.GlobalHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ids.GlobalHandle(nil), c.publishers[handle]...)
}

// SourceFilterCount and DestFilterCount report how many filter stages are
// attached to an interface's chains, for diagnostics.
func (c *Core) SourceFilterCount(handle ids.InterfaceHandle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sourceFilters[handle])
}

func (c *Core) DestFilterCount(handle ids.InterfaceHandle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.destFilters[handle])
}

// FilterOperatorInstalled reports whether the filter registered under
// handle has had its operator delivered through the airlock yet.
func (c *Core) FilterOperatorInstalled(handle ids.InterfaceHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.localFilterRecords[handle]
	return ok && rec.Op != nil
}

// sourceChain and destFilterChain snapshot an interface's filter chain for
// a walk that may suspend on a remote stage; appends only ever extend the
// live chain, so positions recorded at suspension time stay valid.
func (c *Core) sourceChain(handle ids.InterfaceHandle) []*filter.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*filter.Record(nil), c.sourceFilters[handle]...)
}

func (c *Core) destFilterChain(handle ids.InterfaceHandle) []*filter.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*filter.Record(nil), c.destFilters[handle]...)
}

// handleAddFilteredEndpoint applies the broker's answer to an
// ADD_NAMED_FILTER request (spec §4.7): the named filter resolved to
// SourceID/SourceHandle, to be attached to this core's interface
// DestHandle. A filter this core itself registered is attached by its
// local record (operator runs in-process); anything else becomes a remote
// stub reached through the SEND_FOR_FILTER protocol.
func (c *Core) handleAddFilteredEndpoint(m action.ActionMessage) {
	local := c.ownsFederate(m.SourceID)
	c.mu.Lock()
	rec, ok := c.localFilterRecords[m.SourceHandle]
	if !ok || !local {
		rec = &filter.Record{
			Remote:  ids.GlobalHandle{Federate: m.SourceID, Handle: m.SourceHandle},
			Cloning: m.Flags.Has(action.FlagCloning),
		}
	}
	if m.Flags.Has(action.FlagHasDestFilter) {
		c.destFilters[m.DestHandle] = append(c.destFilters[m.DestHandle], rec)
	} else {
		c.sourceFilters[m.DestHandle] = append(c.sourceFilters[m.DestHandle], rec)
	}
	c.mu.Unlock()
	optFlag := handles.FlagHasSourceFilter
	if m.Flags.Has(action.FlagHasDestFilter) {
		optFlag = handles.FlagHasDestFilter
	}
	_ = c.handleReg.SetOption(m.DestHandle, optFlag, true)
	c.handleView.Sync(c.handleReg)
}

func (c *Core) ownsFederate(id ids.GlobalFederateID) bool {
	_, ok := c.federateByGlobal(id)
	return ok
}

// handlePing answers a keepalive probe from the parent (spec §5).
func (c *Core) handlePing(m action.ActionMessage) {
	reply := action.New(action.CmdPingReply)
	reply.SourceID = c.self
	reply.DestID = m.SourceID
	_ = c.tport.Transmit(m.RouteHint, reply)
}

// handleResend replays this core's retained parent-route transmissions
// from the requested sequence index (spec §6's RESEND).
func (c *Core) handleResend(m action.ActionMessage) {
	log := c.parentJournal()
	if log == nil {
		cfg.Warnf("core %s: RESEND requested but journaling is off", c.name)
		return
	}
	msgs, err := log.Resend(uint64(m.SequenceID))
	if err != nil {
		cfg.Warnf("core %s: RESEND replay failed: %v", c.name, err)
		return
	}
	for _, old := range msgs {
		_ = c.tport.Transmit(ids.ParentRouteID, old)
	}
}

func (c *Core) parentJournal() *journal.RouteLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.routeLog != nil {
		return c.routeLog
	}
	if c.journalDir == "" {
		return nil
	}
	log, err := journal.Open(c.journalDir, ids.ParentRouteID)
	if err != nil {
		cfg.Warnf("core %s: opening journal: %v", c.name, err)
		c.journalDir = ""
		return nil
	}
	c.routeLog = log
	return log
}

func (c *Core) handleError(m action.ActionMessage) {
	if fed, ok := c.federateByGlobal(m.DestID); ok {
		fed.Fail(cfg.NewError(cfg.ErrorKind(m.MessageID), "%s", errString(m)))
		return
	}
	if m.Action == action.CmdGlobalError {
		c.mu.Lock()
		feds := make([]*federstate.FederateState, 0, len(c.federates))
		for _, f := range c.federates {
			feds = append(feds, f)
		}
		c.mu.Unlock()
		for _, f := range feds {
			f.Fail(cfg.NewError(cfg.ErrorKind(m.MessageID), "%s", errString(m)))
		}
	}
}

func errString(m action.ActionMessage) string {
	if len(m.StringData) > 0 {
		return m.StringData[0]
	}
	return "unspecified error"
}

// handleDisconnect applies a peer's DISCONNECT (spec §4.4 "Cancellation/
// termination"): the departing peer's dependency record in every local
// federate's coordinator flips to "never blocks again" and any pending
// grants are retried; a disconnect naming a local federate terminates it.
func (c *Core) handleDisconnect(m action.ActionMessage) {
	c.mu.Lock()
	feds := make([]*federstate.FederateState, 0, len(c.federates))
	for _, f := range c.federates {
		feds = append(feds, f)
	}
	c.mu.Unlock()
	for _, f := range feds {
		if f.Global == m.SourceID {
			if f.Status() != federstate.StatusTerminated && f.Status() != federstate.StatusError {
				_ = f.Advance(federstate.StatusTerminated)
			}
			continue
		}
		f.Coordinator.Disconnect(m.SourceID)
		c.retryGrant(f)
	}
}

// StartTimeoutMonitor begins pinging the parent broker every interval; a
// reply gap longer than deadline transitions this core to errored,
// broadcasts ERROR to its federates, and initiates disconnect (spec §5
// "Cancellation and timeouts").
func (c *Core) StartTimeoutMonitor(interval, deadline time.Duration) {
	c.monitor = newTimeoutMonitor(interval, deadline, c.pingParent, c.parentLost)
	c.monitor.start()
}

func (c *Core) pingParent() {
	m := action.New(action.CmdPing)
	m.SourceID = c.self
	_ = c.tport.Transmit(ids.ParentRouteID, m)
}

func (c *Core) parentLost() {
	cfg.Warnf("core %s: parent broker unresponsive past deadline, disconnecting", c.name)
	errMsg := action.New(action.CmdGlobalError)
	errMsg.SourceID = c.self
	errMsg.MessageID = int32(cfg.ErrConnectionFailure)
	errMsg.StringData = []string{"parent broker unresponsive"}
	c.enqueue(errMsg)
	c.Disconnect()
	c.Stop()
}

// Disconnect begins an orderly shutdown: every hosted federate is moved to
// terminating, one DISCONNECT is announced upward, and the federates are
// finalized. Calling it again after the first has no further effect (spec
// §8 invariant 7).
func (c *Core) Disconnect() {
	c.disconnectOnce.Do(func() {
		c.mu.Lock()
		feds := make([]*federstate.FederateState, 0, len(c.federates))
		for _, f := range c.federates {
			feds = append(feds, f)
		}
		c.mu.Unlock()
		for _, f := range feds {
			if f.Status() < federstate.StatusTerminating {
				_ = f.Advance(federstate.StatusTerminating)
			}
			if f.Global.IsValid() {
				fm := action.New(action.CmdDisconnectFed)
				fm.SourceID = f.Global
				_ = c.tport.Transmit(ids.ParentRouteID, fm)
			}
		}
		m := action.New(action.CmdDisconnect)
		m.SourceID = c.self
		_ = c.tport.Transmit(ids.ParentRouteID, m)
		for _, f := range feds {
			if f.Status() < federstate.StatusTerminated {
				_ = f.Advance(federstate.StatusTerminated)
			}
		}
	})
}
