// Package broker implements the routing/coordination runtime (spec §4.3):
// registration handshakes, command routing by destination id or
// name-qualified target, the init handshake that flips children to
// operating, and disconnect propagation toward STOP. Structurally grounded
// on _examples/postgres-postgres/oltp_clients's network/coordinator.Manager
// (one owning struct holding a child/routing table and a log, a single
// dispatch entry point fed by a connection-accept loop) and its fc.go
// commit-phase broadcast/collect shape, generalized from "collect 2PC votes
// from participants" to "collect CMD_INIT/DISCONNECT from children".
package broker

import (
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/federstate"
	"github.com/cosimrt/corekit/handles"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/journal"
	"github.com/cosimrt/corekit/timecoord"
	"github.com/cosimrt/corekit/transport"
)

// ChildKind distinguishes the two kinds of registrant a Broker tracks.
type ChildKind uint8

const (
	ChildBroker ChildKind = iota
	ChildFederate
)

// child is a Broker's record of one registered broker or federate beneath
// it in the tree (spec §4.3 "name-table").
type child struct {
	name       string
	kind       ChildKind
	route      ids.RouteID
	global     ids.GlobalFederateID
	flags      action.Flags // observer/source_only, carried on REG_FED
	localReady bool
}

// pendingTarget is one queued ADD_NAMED_* request awaiting the registration
// of the name it references — the "unknown-target queue" of spec §3. The
// required flag is remembered so the root can fail the requester at init
// time if the name never shows up (spec §8 scenario c).
type pendingTarget struct {
	handle   ids.GlobalHandle
	required bool
}

// Broker routes ActionMessages between a parent route and a set of child
// routes, and coordinates the init/disconnect handshakes shared by every
// level of the federation tree (spec §4.3).
type Broker struct {
	name   string
	tport  transport.Transport
	isRoot bool

	mu          sync.Mutex
	self        ids.GlobalFederateID
	nextBrokerIdx ids.LocalBrokerID
	nextFedIdx    ids.LocalFederateID
	children    map[string]*child
	byRoute     map[ids.RouteID]*child
	localReady  bool
	initGranted bool

	ackCh   chan ids.GlobalFederateID
	errCh   chan error
	delayed []action.ActionMessage // held until self is assigned (spec §4.3)

	Coordinator *timecoord.Coordinator // forwarding-mode; simplification candidate (spec §4.4)

	queue *federstate.Queue

	// Named-interface resolution table (spec §4.6): sources (publications,
	// and endpoints acting as a send source) and destinations (inputs, and
	// endpoints acting as a receive target), keyed by the name advertised at
	// REG_PUB/REG_INPUT/REG_ENDPOINT time. pendingDest/pendingSrc/
	// pendingFilter hold ADD_NAMED_* requests that arrived before the name
	// they reference was registered, resolved the moment a matching REG_*
	// arrives.
	sources       map[string]ids.GlobalHandle
	destinations  map[string]ids.GlobalHandle
	filters       map[string]ids.GlobalHandle
	pendingDest   map[string][]pendingTarget
	pendingSrc    map[string][]pendingTarget
	pendingFilter map[string][]action.ActionMessage

	// disconnectedRoutes tracks which child routes have sent DISCONNECT
	// (spec §4.3): membership, not ordering, is what handleDisconnect needs,
	// so a set rather than a second bool field on child.
	disconnectedRoutes mapset.Set

	// dependentsOf records, for a producer/source federate, which consumer
	// federates wireLink has wired to it (spec §4.4): the fan-out list
	// handleTimeStateUpdate walks to relay an EXEC_REQUEST/EXEC_GRANT/
	// TIME_REQUEST/TIME_GRANT on to every federate that depends on its
	// source.
	dependentsOf map[ids.GlobalFederateID][]ids.GlobalFederateID

	// journals, when enabled, retain a trailing window of everything
	// transmitted per route so a peer that detected a gap can CMD_RESEND it
	// (spec §6). Nil until EnableJournal.
	journalDir string
	journals   map[ids.RouteID]*journal.RouteLog

	monitor *timeoutMonitor

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a non-root Broker named name that will register upward
// through tport. Call Start to emit REG_BROKER and begin processing.
//
// A bare broker hosts no interfaces of its own, so its local-ready flag
// starts true: the init handshake waits only on its children.
func New(name string, tport transport.Transport) *Broker {
	b := &Broker{
		name:       name,
		tport:      tport,
		self:       ids.InvalidGlobalFedID,
		children:   make(map[string]*child),
		byRoute:    make(map[ids.RouteID]*child),
		localReady: true,
		ackCh:      make(chan ids.GlobalFederateID, 1),
		errCh:      make(chan error, 1),
		queue:      federstate.NewQueue(),

		sources:       make(map[string]ids.GlobalHandle),
		destinations:  make(map[string]ids.GlobalHandle),
		filters:       make(map[string]ids.GlobalHandle),
		pendingDest:   make(map[string][]pendingTarget),
		pendingSrc:    make(map[string][]pendingTarget),
		pendingFilter: make(map[string][]action.ActionMessage),

		disconnectedRoutes: mapset.NewSet(),
		dependentsOf:       make(map[ids.GlobalFederateID][]ids.GlobalFederateID),

		done: make(chan struct{}),
	}
	tport.SetInbound(b.enqueue)
	return b
}

// NewRoot creates the root Broker: it never registers upward and assigns
// its own global id immediately (spec §4.3 "if it is the root").
func NewRoot(name string, tport transport.Transport) *Broker {
	b := New(name, tport)
	b.isRoot = true
	b.self = ids.RootBrokerID
	b.Coordinator = timecoord.New(b.self, timecoord.ModeForwarding)
	return b
}

// EnableJournal turns on the per-route resend journal rooted at dir (spec
// §6's RESEND command): every transmitted message is appended to its
// route's log, and an inbound CMD_RESEND replays the retained window.
func (b *Broker) EnableJournal(dir string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journalDir = dir
	b.journals = make(map[ids.RouteID]*journal.RouteLog)
}

func (b *Broker) enqueue(m action.ActionMessage) {
	b.queue.Push(m)
}

// Run drains the priority-aware queue and dispatches by action kind until
// Stop closes it. Callers run this in its own goroutine.
func (b *Broker) Run() {
	for {
		m, ok := b.queue.Pop()
		if !ok {
			return
		}
		b.dispatch(m)
	}
}

// Stop closes the processing queue and stops the timeout monitor. Safe to
// call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		if b.monitor != nil {
			b.monitor.stop()
		}
		b.queue.Close()
		close(b.done)
	})
}

// WaitForDisconnect blocks until Stop has run, whether triggered locally or
// by an inbound STOP from the parent.
func (b *Broker) WaitForDisconnect() {
	<-b.done
}

// RegisterUpward emits REG_BROKER on the parent route and blocks until
// BROKER_ACK assigns this broker's global id, flushing anything queued
// while unregistered (spec §4.3 first paragraph).
func (b *Broker) RegisterUpward() error {
	if b.isRoot {
		return nil
	}
	m := action.New(action.CmdRegBroker)
	m.StringData = []string{b.name}
	if err := b.tport.Transmit(ids.ParentRouteID, m); err != nil {
		return err
	}
	select {
	case id := <-b.ackCh:
		b.mu.Lock()
		b.self = id
		b.Coordinator = timecoord.New(b.self, timecoord.ModeForwarding)
		delayed := b.delayed
		b.delayed = nil
		b.mu.Unlock()
		for _, dm := range delayed {
			b.dispatch(dm)
		}
		return nil
	case err := <-b.errCh:
		return err
	}
}

func (b *Broker) dispatch(m action.ActionMessage) {
	if !b.self.IsValid() && !b.isRoot {
		// Nothing can be routed before our own id is known; REG_BROKER and
		// BROKER_ACK themselves are exempt since they establish it.
		switch m.Action {
		case action.CmdBrokerAck, action.CmdRegBroker, action.CmdRegFed:
		default:
			b.mu.Lock()
			b.delayed = append(b.delayed, m)
			b.mu.Unlock()
			return
		}
	}
	switch {
	case m.Action == action.CmdBrokerAck:
		if len(m.StringData) > 0 && m.StringData[0] != b.name {
			b.relayAck(m)
			return
		}
		b.handleBrokerAck(m)
	case m.Action == action.CmdFedAck:
		b.relayAck(m)
	case m.Action == action.CmdRegBroker:
		b.handleRegisterChild(m, ChildBroker)
	case m.Action == action.CmdRegFed:
		b.handleRegisterChild(m, ChildFederate)
	case m.Action == action.CmdRegPub:
		b.handleRegInterface(m, handles.KindPublication)
	case m.Action == action.CmdRegInput:
		b.handleRegInterface(m, handles.KindInput)
	case m.Action == action.CmdRegEndpoint:
		b.handleRegInterface(m, handles.KindEndpoint)
	case m.Action == action.CmdRegFilter:
		b.handleRegInterface(m, handles.KindFilter)
	case m.Action == action.CmdAddNamedInput:
		b.handleAddNamedSource(m)
	case m.Action == action.CmdAddNamedPublication:
		b.handleAddNamedDest(m)
	case m.Action == action.CmdAddNamedFilter:
		b.handleAddNamedFilter(m)
	case m.Action == action.CmdInit:
		b.handleInit(m)
	case m.Action == action.CmdInitGrant:
		b.handleInitGrant(m)
	case m.Action == action.CmdQuery, m.Action == action.CmdBrokerQuery:
		b.handleQuery(m)
	case m.Action == action.CmdPing:
		b.handlePing(m)
	case m.Action == action.CmdPingReply:
		if b.monitor != nil {
			b.monitor.replyReceived()
		}
	case m.Action == action.CmdResend:
		b.handleResend(m)
	case m.Action == action.CmdStop:
		b.broadcastStop()
		b.Stop()
	case m.Action == action.CmdSendMessage && !m.DestID.IsValid():
		b.handleNamedSend(m)
	case m.Action == action.CmdExecRequest,
		m.Action == action.CmdExecGrant,
		m.Action == action.CmdTimeRequest,
		m.Action == action.CmdTimeGrant:
		b.handleTimeStateUpdate(m)
	case m.Action == action.CmdLog, m.Action == action.CmdWarning:
		cfg.Logf("broker %s: remote log from %s: %s", b.name, m.SourceID, firstString(m))
	case m.IsDisconnectCommand():
		b.handleDisconnect(m)
	default:
		b.route(m)
	}
}

func firstString(m action.ActionMessage) string {
	if len(m.StringData) > 0 {
		return m.StringData[0]
	}
	return ""
}

func (b *Broker) handleBrokerAck(m action.ActionMessage) {
	if m.Flags.Has(action.FlagErrorFlag) {
		select {
		case b.errCh <- fmt.Errorf("broker: registration of %q rejected", b.name):
		default:
		}
		return
	}
	select {
	case b.ackCh <- m.DestID:
	default:
	}
}

// handleRegisterChild implements spec §4.3's registration paragraph: assign
// a local index, insert the name-table entry, and either assign the global
// id directly (root) or forward upward and wait for the root's ack. Brokers
// and federates draw from separate index counters so their id ranges (spec
// §3's broker-shift/federate-shift split) never interleave.
func (b *Broker) handleRegisterChild(m action.ActionMessage, kind ChildKind) {
	if len(m.StringData) == 0 {
		return
	}
	name := m.StringData[0]

	b.mu.Lock()
	if _, dup := b.children[name]; dup {
		b.mu.Unlock()
		b.ackChildError(m, kind, name, "duplicate name")
		return
	}
	if b.initGranted {
		b.mu.Unlock()
		b.ackChildError(m, kind, name, "late registration after operating")
		return
	}
	route := m.RouteHint
	rec := &child{name: name, kind: kind, route: route, flags: m.Flags}
	var global ids.GlobalFederateID
	if b.isRoot {
		if kind == ChildBroker {
			global = ids.GlobalBrokerIDFromLocal(b.nextBrokerIdx)
			b.nextBrokerIdx++
		} else {
			global = ids.GlobalFederateIDFromLocal(b.nextFedIdx)
			b.nextFedIdx++
		}
		rec.global = global
	}
	b.children[name] = rec
	b.byRoute[route] = rec
	b.mu.Unlock()

	if b.isRoot {
		b.ackChild(rec, kind, route)
		return
	}

	// Non-root: forward the registration upward with our own id as source
	// and relay whatever ack the root eventually sends back down this route.
	fwd := m
	fwd.SourceID = b.self
	_ = b.transmit(ids.ParentRouteID, fwd)
}

func (b *Broker) ackChild(rec *child, kind ChildKind, route ids.RouteID) {
	ackKind := action.CmdBrokerAck
	if kind == ChildFederate {
		ackKind = action.CmdFedAck
	}
	ack := action.New(ackKind)
	ack.DestID = rec.global
	ack.StringData = []string{rec.name}
	_ = b.transmit(route, ack)
}

func (b *Broker) ackChildError(m action.ActionMessage, kind ChildKind, name, reason string) {
	ackKind := action.CmdBrokerAck
	if kind == ChildFederate {
		ackKind = action.CmdFedAck
	}
	ack := action.New(ackKind)
	ack.Flags = ack.Flags.Set(action.FlagErrorFlag)
	ack.MessageID = int32(cfg.ErrRegistrationFailure)
	ack.StringData = []string{name, reason}
	_ = b.transmit(m.RouteHint, ack)
}

// handleRegInterface implements the REG_PUB/REG_INPUT/REG_ENDPOINT/REG_FILTER
// half of spec §4.6's name resolution: record the advertised name against
// the registering handle, then resolve any ADD_NAMED_* requests that were
// already queued waiting for exactly this name.
func (b *Broker) handleRegInterface(m action.ActionMessage, kind handles.Kind) {
	if len(m.StringData) == 0 {
		return
	}
	name := m.StringData[0]
	gh := ids.GlobalHandle{Federate: m.SourceID, Handle: m.SourceHandle}

	b.mu.Lock()
	switch kind {
	case handles.KindPublication:
		b.sources[name] = gh
	case handles.KindInput:
		b.destinations[name] = gh
	case handles.KindEndpoint:
		b.sources[name] = gh
		b.destinations[name] = gh
	case handles.KindFilter:
		b.filters[name] = gh
	}
	waitingConsumers := b.pendingDest[name]
	delete(b.pendingDest, name)
	waitingProducers := b.pendingSrc[name]
	delete(b.pendingSrc, name)
	var waitingFilters []action.ActionMessage
	if kind == handles.KindFilter {
		waitingFilters = b.pendingFilter[name]
		delete(b.pendingFilter, name)
	}
	b.mu.Unlock()

	for _, consumer := range waitingConsumers {
		b.wireLink(gh, consumer.handle)
	}
	for _, producer := range waitingProducers {
		b.wireLink(producer.handle, gh)
	}
	for _, req := range waitingFilters {
		b.wireFilter(gh, req)
	}
}

// handleAddNamedSource implements ADD_NAMED_INPUT (spec §4.6): the
// registering side is a consumer (input or endpoint) naming the source it
// wants. Resolved immediately if that source is already known, else queued
// until a matching REG_PUB/REG_ENDPOINT arrives.
func (b *Broker) handleAddNamedSource(m action.ActionMessage) {
	if len(m.StringData) == 0 {
		return
	}
	name := m.StringData[0]
	consumer := ids.GlobalHandle{Federate: m.SourceID, Handle: m.SourceHandle}

	b.mu.Lock()
	src, ok := b.sources[name]
	if !ok {
		b.pendingDest[name] = append(b.pendingDest[name], pendingTarget{
			handle:   consumer,
			required: m.Flags.Has(action.FlagRequired),
		})
	}
	b.mu.Unlock()
	if ok {
		b.wireLink(src, consumer)
	}
}

// handleAddNamedDest implements ADD_NAMED_PUBLICATION (spec §4.6): the
// registering side is a producer (publication or endpoint) naming the
// destination it wants.
func (b *Broker) handleAddNamedDest(m action.ActionMessage) {
	if len(m.StringData) == 0 {
		return
	}
	name := m.StringData[0]
	producer := ids.GlobalHandle{Federate: m.SourceID, Handle: m.SourceHandle}

	b.mu.Lock()
	dst, ok := b.destinations[name]
	if !ok {
		b.pendingSrc[name] = append(b.pendingSrc[name], pendingTarget{
			handle:   producer,
			required: m.Flags.Has(action.FlagRequired),
		})
	}
	b.mu.Unlock()
	if ok {
		b.wireLink(producer, dst)
	}
}

// handleAddNamedFilter implements ADD_NAMED_FILTER: a core asks for the
// filter registered under the given name to be attached to one of its
// interfaces (spec §4.7). Once the filter name resolves, the requesting
// core is told the filter's global handle via ADD_FILTERED_ENDPOINT; the
// FlagHasDestFilter bit on the request distinguishes a destination
// attachment from a source one and is echoed back on the reply.
func (b *Broker) handleAddNamedFilter(m action.ActionMessage) {
	if len(m.StringData) == 0 {
		return
	}
	name := m.StringData[0]

	b.mu.Lock()
	gh, ok := b.filters[name]
	if !ok {
		b.pendingFilter[name] = append(b.pendingFilter[name], m)
	}
	b.mu.Unlock()
	if ok {
		b.wireFilter(gh, m)
	}
}

// wireFilter answers a resolved ADD_NAMED_FILTER request: the requesting
// core learns the filter's global handle and attaches it (locally if it
// owns the filter, as a remote record otherwise).
func (b *Broker) wireFilter(filterHandle ids.GlobalHandle, req action.ActionMessage) {
	reply := action.New(action.CmdAddFilteredEndpoint)
	reply.SourceID = filterHandle.Federate
	reply.SourceHandle = filterHandle.Handle
	reply.DestID = req.SourceID
	reply.DestHandle = req.SourceHandle
	reply.Flags = req.Flags
	b.route(reply)
}

// wireLink tells the consumer's core who its source is (ADD_SUBSCRIBER) and
// the producer's core who its destination is (ADD_PUBLISHER), each routed
// by the standard destination-id routing path so a multi-level tree
// resolves correctly even when producer and consumer hang off different
// children. It also records the spec §4.4 dependency edge this link implies
// (the consumer federate depends on the producer federate's time state) and
// relays ADD_DEPENDENCY/ADD_DEPENDENT so each side's TimeCoordinator learns
// about the other.
//
// Observer and source-only promotion (spec §4.4): an observer federate
// never originates events, so it is wired as a pure dependent (no one
// depends on it); a source-only federate never receives events, so it is
// wired as a pure dependency.
func (b *Broker) wireLink(producer, consumer ids.GlobalHandle) {
	sub := action.New(action.CmdAddSubscriber)
	sub.SourceID = producer.Federate
	sub.SourceHandle = producer.Handle
	sub.DestID = consumer.Federate
	sub.DestHandle = consumer.Handle
	b.route(sub)

	pub := action.New(action.CmdAddPublisher)
	pub.SourceID = consumer.Federate
	pub.SourceHandle = consumer.Handle
	pub.DestID = producer.Federate
	pub.DestHandle = producer.Handle
	b.route(pub)

	if producer.Federate == consumer.Federate {
		return
	}
	if b.childFlags(producer.Federate).Has(action.FlagObserver) {
		return
	}

	b.mu.Lock()
	b.dependentsOf[producer.Federate] = append(b.dependentsOf[producer.Federate], consumer.Federate)
	b.mu.Unlock()

	dep := action.New(action.CmdAddDependency)
	dep.SourceID = producer.Federate
	dep.DestID = consumer.Federate
	b.route(dep)

	if b.childFlags(consumer.Federate).Has(action.FlagSourceOnly) {
		return
	}
	dependent := action.New(action.CmdAddDependent)
	dependent.SourceID = consumer.Federate
	dependent.DestID = producer.Federate
	b.route(dependent)
}

func (b *Broker) childFlags(id ids.GlobalFederateID) action.Flags {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range b.children {
		if rec.global == id {
			return rec.flags
		}
	}
	return 0
}

// handleTimeStateUpdate implements the broker's half of spec §4.4's
// exec/time-coordination protocol. A Core decides its own federates' grants
// locally (see core.tryGrantExec/tryGrantTime) and only sends these four
// action kinds upward to announce a state change; the broker's job is
// purely to fan that announcement out to every dependent this federate has
// (recorded by wireLink) and, in a multi-level tree, keep relaying the
// unaddressed original toward the root so a higher broker can fan it out to
// dependents registered elsewhere.
//
// An already-addressed copy (DestID valid — one this function, or an
// ancestor broker, stamped for a specific dependent) is handled by the
// ordinary routing table instead: that's enough to reach the dependent
// whether it hangs off this broker directly or several levels further down.
func (b *Broker) handleTimeStateUpdate(m action.ActionMessage) {
	if m.DestID.IsValid() {
		b.route(m)
		return
	}

	b.mu.Lock()
	dependents := append([]ids.GlobalFederateID(nil), b.dependentsOf[m.SourceID]...)
	b.mu.Unlock()
	for _, dep := range dependents {
		fwd := m
		fwd.DestID = dep
		b.route(fwd)
	}

	if !b.isRoot {
		_ = b.transmit(ids.ParentRouteID, m)
	}
}

// route implements spec §4.3's routing paragraph: a known child via the
// routing table is reached on its route; everything else — an unset
// destination, the parent sentinel, an id nothing beneath this broker
// answers to — goes up the parent route. The root has no parent: what it
// cannot place is dropped, silently for ignorable commands, logged
// otherwise (spec §7).
func (b *Broker) route(m action.ActionMessage) {
	dest := m.DestID
	if dest.IsValid() && dest != ids.ParentGlobalFedID {
		if route, ok := b.routeFor(dest); ok {
			_ = b.transmit(route, m)
			return
		}
	}
	b.forwardToParent(m)
}

func (b *Broker) routeFor(dest ids.GlobalFederateID) (ids.RouteID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range b.children {
		if rec.global == dest {
			return rec.route, true
		}
	}
	return 0, false
}

func (b *Broker) forwardToParent(m action.ActionMessage) {
	if b.isRoot {
		if !m.IsIgnorable() {
			cfg.Warnf("broker %s: no route for %d to %s, dropping", b.name, m.Action, m.DestID)
		}
		return
	}
	_ = b.transmit(ids.ParentRouteID, m)
}

// transmit sends m on route, appending it to the route's resend journal
// when journaling is enabled.
func (b *Broker) transmit(route ids.RouteID, m action.ActionMessage) error {
	if err := b.tport.Transmit(route, m); err != nil {
		return err
	}
	if log := b.journalFor(route); log != nil {
		if err := log.Append(m); err != nil {
			cfg.Warnf("broker %s: journal append on route %d: %v", b.name, route, err)
		}
	}
	return nil
}

func (b *Broker) journalFor(route ids.RouteID) *journal.RouteLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.journals == nil {
		return nil
	}
	if log, ok := b.journals[route]; ok {
		return log
	}
	log, err := journal.Open(b.journalDir, route)
	if err != nil {
		cfg.Warnf("broker %s: opening journal for route %d: %v", b.name, route, err)
		return nil
	}
	b.journals[route] = log
	return log
}

// handleResend replays the retained transmit window for the requesting
// route, starting at the sequence index the requester carries in
// SequenceID (spec §6's RESEND protocol command). Without a journal this
// is a no-op: the requester's gap is unrecoverable and the usual timeout
// path will take the federation down.
func (b *Broker) handleResend(m action.ActionMessage) {
	log := b.journalFor(m.RouteHint)
	if log == nil {
		cfg.Warnf("broker %s: RESEND requested on route %d but journaling is off", b.name, m.RouteHint)
		return
	}
	msgs, err := log.Resend(uint64(m.SequenceID))
	if err != nil {
		cfg.Warnf("broker %s: RESEND replay failed: %v", b.name, err)
		return
	}
	for _, old := range msgs {
		_ = b.tport.Transmit(m.RouteHint, old)
	}
}

// relayAck forwards a registration ack produced by the root toward the
// child it answers, matched by the name the ack echoes (the child's global
// id was only just assigned, so the routing table can't place it yet). The
// child record learns its global id here, which is what makes the routing
// table work for grandchildren in a multi-level tree (spec §4.3).
func (b *Broker) relayAck(m action.ActionMessage) {
	if len(m.StringData) == 0 {
		return
	}
	name := m.StringData[0]
	b.mu.Lock()
	rec, ok := b.children[name]
	if ok {
		rec.global = m.DestID
	}
	b.mu.Unlock()
	if ok {
		_ = b.transmit(rec.route, m)
		return
	}
	b.route(m)
}

// handleNamedSend resolves a destination-less SEND_MESSAGE addressed by
// endpoint name (spec §4.3's fillMessageRouteInformation): the local
// destination table, else forward toward the root, which holds every
// registered name. The root drops an unknown name with a warning.
func (b *Broker) handleNamedSend(m action.ActionMessage) {
	if len(m.StringData) == 0 {
		return
	}
	name := m.StringData[0]
	b.mu.Lock()
	gh, ok := b.destinations[name]
	b.mu.Unlock()
	if !ok {
		if b.isRoot {
			cfg.Warnf("broker %s: SEND_MESSAGE to unknown endpoint %q, dropping", b.name, name)
			return
		}
		_ = b.transmit(ids.ParentRouteID, m)
		return
	}
	m.DestID = gh.Federate
	m.DestHandle = gh.Handle
	b.route(m)
}

// handlePing answers a child's or parent's keepalive probe (spec §5's
// timeout monitor) on the route it arrived from.
func (b *Broker) handlePing(m action.ActionMessage) {
	reply := action.New(action.CmdPingReply)
	reply.DestID = m.SourceID
	reply.SourceID = b.self
	_ = b.tport.Transmit(m.RouteHint, reply)
}

// FillMessageRouteInformation resolves a name-qualified target (spec §4.6
// "fillMessageRouteInformation"): the local endpoint table, else the
// known-external table; when neither knows the name it returns ok=false
// and sends nothing itself. localLookup and
// externalLookup are supplied by the caller (Core/Broker-specific tables).
func (b *Broker) FillMessageRouteInformation(name string, localLookup, externalLookup func(string) (ids.GlobalHandle, bool)) (ids.GlobalHandle, bool) {
	if h, ok := localLookup(name); ok {
		return h, true
	}
	if h, ok := externalLookup(name); ok {
		return h, true
	}
	return ids.GlobalHandle{}, false
}

// handleInit implements spec §4.3's init handshake: once every child has
// sent CMD_INIT and this broker's own local-ready flag is set, it checks
// time-dependency simplifications and forwards CMD_INIT upward (or, at the
// root, grants directly). A core aggregates its own federates' readiness
// before sending CMD_INIT, so one CMD_INIT per route marks every child
// registered over that route as ready.
func (b *Broker) handleInit(m action.ActionMessage) {
	b.mu.Lock()
	for _, rec := range b.children {
		if rec.route == m.RouteHint {
			rec.localReady = true
		}
	}
	allReady := b.localReady && len(b.children) > 0
	if allReady {
		for _, rec := range b.children {
			if !rec.localReady {
				allReady = false
				break
			}
		}
	}
	b.mu.Unlock()
	if !allReady {
		return
	}

	if b.Coordinator != nil {
		if peer, ok := b.Coordinator.Simplify(); ok {
			cfg.Tracef("broker %s: simplified dependency %s out of time graph", b.name, peer)
		}
	}

	if b.isRoot {
		b.checkRequiredTargets()
		b.broadcastInitGrant()
		return
	}
	up := action.New(action.CmdInit)
	up.SourceID = b.self
	_ = b.transmit(ids.ParentRouteID, up)
}

// checkRequiredTargets runs at the root just before INIT_GRANT (spec §7,
// §8 scenario c): any still-unresolved ADD_NAMED_* request that carried
// the required flag is a registration failure, surfaced as an ERROR
// addressed to the requesting interface's federate so its blocked
// enterExecutingMode call returns the failure.
func (b *Broker) checkRequiredTargets() {
	b.mu.Lock()
	type miss struct {
		name   string
		target pendingTarget
	}
	var missing []miss
	for name, waiters := range b.pendingDest {
		for _, w := range waiters {
			if w.required {
				missing = append(missing, miss{name, w})
			}
		}
	}
	for name, waiters := range b.pendingSrc {
		for _, w := range waiters {
			if w.required {
				missing = append(missing, miss{name, w})
			}
		}
	}
	b.mu.Unlock()

	for _, ms := range missing {
		errMsg := action.New(action.CmdError)
		errMsg.SourceID = b.self
		errMsg.DestID = ms.target.handle.Federate
		errMsg.DestHandle = ms.target.handle.Handle
		errMsg.MessageID = int32(cfg.ErrRegistrationFailure)
		errMsg.StringData = []string{fmt.Sprintf("required target %q was never registered", ms.name)}
		b.route(errMsg)
	}
}

// handleInitGrant propagates INIT_GRANT downward (spec §4.3): each receiver
// orders its filters, flips to operating, and passes it to all children.
// Filter ordering itself belongs to the Core hosting the endpoints; a bare
// Broker has none and only relays.
func (b *Broker) handleInitGrant(m action.ActionMessage) {
	b.broadcastInitGrant()
}

func (b *Broker) broadcastInitGrant() {
	b.mu.Lock()
	b.initGranted = true
	routes := make([]ids.RouteID, 0, len(b.children))
	seen := make(map[ids.RouteID]bool)
	for _, rec := range b.children {
		if !seen[rec.route] {
			seen[rec.route] = true
			routes = append(routes, rec.route)
		}
	}
	b.mu.Unlock()
	for _, r := range routes {
		_ = b.transmit(r, action.New(action.CmdInitGrant))
	}
}

// SetLocalReady marks this broker's own interfaces/handles as ready and
// re-evaluates the init handshake (a Core calls this once it has nothing
// left to register).
func (b *Broker) SetLocalReady() {
	b.mu.Lock()
	b.localReady = true
	b.mu.Unlock()
	b.handleInit(action.New(action.CmdInit))
}

// handleDisconnect implements spec §4.3's disconnect paragraph: a child's
// DISCONNECT marks its record disconnected; once every child is
// disconnected the broker propagates upward and issues a local STOP (the
// root converts "all disconnected" directly into STOP). Repeat DISCONNECTs
// from the same route are absorbed by the set, keeping disconnect
// idempotent (spec §8 invariant 7).
func (b *Broker) handleDisconnect(m action.ActionMessage) {
	// A federate-level disconnect (DISCONNECT_FED) unblocks the departed
	// federate's dependents (spec §4.4: its Tnext goes to +infinity in
	// every coordinator that waited on it) without touching the route
	// bookkeeping — the hosting core is still alive.
	if m.Action == action.CmdDisconnectFed {
		if m.DestID.IsValid() {
			b.route(m)
			return
		}
		b.mu.Lock()
		dependents := append([]ids.GlobalFederateID(nil), b.dependentsOf[m.SourceID]...)
		b.mu.Unlock()
		for _, dep := range dependents {
			fwd := m
			fwd.DestID = dep
			b.route(fwd)
		}
		if !b.isRoot {
			_ = b.transmit(ids.ParentRouteID, m)
		}
		return
	}
	b.mu.Lock()
	routeCount := make(map[ids.RouteID]bool)
	for _, rec := range b.children {
		routeCount[rec.route] = true
	}
	if _, ok := b.byRoute[m.RouteHint]; ok {
		b.disconnectedRoutes.Add(m.RouteHint)
	}
	allGone := len(routeCount) > 0 && b.disconnectedRoutes.Cardinality() >= len(routeCount)
	b.mu.Unlock()
	if !allGone {
		return
	}
	if !b.isRoot {
		up := action.New(action.CmdDisconnect)
		up.SourceID = b.self
		_ = b.transmit(ids.ParentRouteID, up)
	}
	b.broadcastStop()
	if b.isRoot {
		b.Stop()
	}
}

func (b *Broker) broadcastStop() {
	b.mu.Lock()
	routes := make([]ids.RouteID, 0, len(b.children))
	seen := make(map[ids.RouteID]bool)
	for _, rec := range b.children {
		if !seen[rec.route] {
			seen[rec.route] = true
			routes = append(routes, rec.route)
		}
	}
	b.mu.Unlock()
	for _, r := range routes {
		_ = b.tport.Transmit(r, action.New(action.CmdStop))
	}
}

// Self reports this broker's global id (invalid until registration
// completes, except for the root which self-assigns at construction).
func (b *Broker) Self() ids.GlobalFederateID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.self
}

// StartTimeoutMonitor begins pinging the parent every interval and treats
// a reply gap longer than deadline as a lost parent (spec §5): the broker
// logs the failure, tells its children to stop, and shuts down. The root
// has no parent to ping and ignores the call.
func (b *Broker) StartTimeoutMonitor(interval, deadline time.Duration) {
	if b.isRoot {
		return
	}
	b.monitor = newTimeoutMonitor(interval, deadline, b.pingParent, b.parentLost)
	b.monitor.start()
}

func (b *Broker) pingParent() {
	m := action.New(action.CmdPing)
	m.SourceID = b.self
	_ = b.tport.Transmit(ids.ParentRouteID, m)
}

func (b *Broker) parentLost() {
	cfg.Warnf("broker %s: parent unresponsive past deadline, disconnecting", b.name)
	errMsg := action.New(action.CmdGlobalError)
	errMsg.SourceID = b.self
	errMsg.MessageID = int32(cfg.ErrConnectionFailure)
	errMsg.StringData = []string{"parent broker unresponsive"}
	b.mu.Lock()
	routes := make([]ids.RouteID, 0, len(b.children))
	seen := make(map[ids.RouteID]bool)
	for _, rec := range b.children {
		if !seen[rec.route] {
			seen[rec.route] = true
			routes = append(routes, rec.route)
		}
	}
	b.mu.Unlock()
	for _, r := range routes {
		_ = b.tport.Transmit(r, errMsg)
	}
	b.broadcastStop()
	b.Stop()
}
