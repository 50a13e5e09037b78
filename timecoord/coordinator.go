package timecoord

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

// Coordinator tracks the time-advancement state of one participant (a
// federate computing its own grant, or a broker/core relaying its
// children's state toward a parent) against the set of peers it directly
// depends on, per spec §3/§4.4.
type Coordinator struct {
	mode Mode
	self ids.GlobalFederateID

	deps       map[ids.GlobalFederateID]*DependencyInfo
	dependents mapset.Set

	ownState TimeState

	Tnext        simtime.Time
	Te           simtime.Time
	Tdemin       simtime.Time
	forwardEvent simtime.Time

	simplifiedCount int
}

// New creates a Coordinator for participant self, operating in the given
// mode (ModeFederate computes its own grant; ModeForwarding only relays).
func New(self ids.GlobalFederateID, mode Mode) *Coordinator {
	return &Coordinator{
		mode:         mode,
		self:         self,
		deps:         make(map[ids.GlobalFederateID]*DependencyInfo),
		dependents:   mapset.NewSet(),
		ownState:     StateInitialized,
		Tnext:        simtime.Zero,
		Te:           simtime.Zero,
		Tdemin:       simtime.Zero,
		forwardEvent: simtime.MaxTime,
	}
}

// AddDependency registers peer as a participant this coordinator must wait
// on before granting time. A no-op if peer is already a dependency.
func (c *Coordinator) AddDependency(peer ids.GlobalFederateID) {
	if _, ok := c.deps[peer]; ok {
		return
	}
	c.deps[peer] = newDependencyInfo(peer)
}

// RemoveDependency drops peer from the dependency set, e.g. after a
// disconnect has fully propagated or a dependency-simplification pass
// determined the edge is no longer needed.
func (c *Coordinator) RemoveDependency(peer ids.GlobalFederateID) {
	delete(c.deps, peer)
}

// AddDependent records that peer depends on this coordinator's grants.
func (c *Coordinator) AddDependent(peer ids.GlobalFederateID) {
	c.dependents.Add(peer)
}

// RemoveDependent drops peer from the dependent set.
func (c *Coordinator) RemoveDependent(peer ids.GlobalFederateID) {
	c.dependents.Remove(peer)
}

// Dependents returns the current set of dependent peers.
func (c *Coordinator) Dependents() []ids.GlobalFederateID {
	out := make([]ids.GlobalFederateID, 0, c.dependents.Cardinality())
	for v := range c.dependents.Iter() {
		out = append(out, v.(ids.GlobalFederateID))
	}
	return out
}

// Dependencies returns the current set of peers this coordinator depends on.
func (c *Coordinator) Dependencies() []ids.GlobalFederateID {
	out := make([]ids.GlobalFederateID, 0, len(c.deps))
	for p := range c.deps {
		out = append(out, p)
	}
	return out
}

// DependencyCount reports how many peers this coordinator currently depends
// on; used by Simplify to decide whether a broker/core has become a pure
// pass-through.
func (c *Coordinator) DependencyCount() int {
	return len(c.deps)
}

// EnterExecutingModeRequest records this participant's own request to enter
// executing mode (§4.4). iterative selects the iterative-convergence
// variant of the state.
func (c *Coordinator) EnterExecutingModeRequest(iterative bool) {
	if iterative {
		c.ownState = StateExecRequestedIterative
	} else {
		c.ownState = StateExecRequested
	}
	for _, d := range c.deps {
		d.resetForExecEntry()
	}
}

// CanGrantExec reports whether every dependency has progressed at least to
// exec_requested, the admission rule for granting this participant's own
// entry into executing mode (§4.4).
func (c *Coordinator) CanGrantExec() bool {
	for _, d := range c.deps {
		if !d.State.AtLeastExecRequested() {
			return false
		}
	}
	return true
}

// GrantExec transitions this participant's own state to time_granted at
// time zero, the result of a successful exec-mode entry.
func (c *Coordinator) GrantExec() {
	c.ownState = StateTimeGranted
	c.Tnext = simtime.Zero
}

// RequestTime records a request to advance this participant's own time to
// t, with earliest-event-time estimate te. iterative selects the
// iterative-convergence variant. Tdemin is recomputed as min(Te,
// forwardEvent) (§4.4) so every grant announced downstream carries the
// tightest bound this participant can promise, including any in-flight
// message observed since the last reset.
func (c *Coordinator) RequestTime(t, te simtime.Time, iterative bool) {
	c.Tnext = t
	c.Te = te
	c.Tdemin = simtime.Min(te, c.forwardEvent)
	if iterative {
		c.ownState = StateTimeRequestedIterative
	} else {
		c.ownState = StateTimeRequested
	}
}

// ProcessDependencyUpdate applies an inbound state report from peer — the
// effect of a received EXEC_REQUEST[_ITERATIVE], EXEC_GRANT, TIME_REQUEST,
// or TIME_GRANT action message.
func (c *Coordinator) ProcessDependencyUpdate(peer ids.GlobalFederateID, state TimeState, tnext, te, tdemin simtime.Time) {
	d, ok := c.deps[peer]
	if !ok {
		d = newDependencyInfo(peer)
		c.deps[peer] = d
	}
	d.State = state
	d.Tnext = tnext
	d.Te = te
	d.Tdemin = tdemin
}

// Disconnect marks peer as permanently departed: its Tnext is set to
// +infinity and its state to time_granted so it can never again block a
// grant (§4.4).
func (c *Coordinator) Disconnect(peer ids.GlobalFederateID) {
	d, ok := c.deps[peer]
	if !ok {
		d = newDependencyInfo(peer)
		c.deps[peer] = d
	}
	d.disconnect()
	c.dependents.Remove(peer)
}

// CanGrant reports whether this participant (or, in forwarding mode, the
// aggregate of its children) may be granted time T, per the rule in
// spec §4.4: for every dependency d, d.Tnext > T OR (d.Tnext == T AND
// d.state != time_granted) must hold — i.e. no dependency blocks it.
func (c *Coordinator) CanGrant(t simtime.Time) bool {
	for _, d := range c.deps {
		if d.blocksGrantAt(t) {
			return false
		}
	}
	return true
}

// ConstrainingPeer returns the dependency that currently limits a grant at
// t, if any — the one with the lowest Tnext among those blocking, with
// minFederateTiebreak breaking ties. Used only for diagnostics/queries.
func (c *Coordinator) ConstrainingPeer(t simtime.Time) (ids.GlobalFederateID, bool) {
	var (
		found   bool
		winner  ids.GlobalFederateID
		winTime simtime.Time
	)
	for _, d := range c.deps {
		if !d.blocksGrantAt(t) {
			continue
		}
		if !found || d.Tnext < winTime {
			found = true
			winner = d.Peer
			winTime = d.Tnext
		} else if d.Tnext == winTime {
			winner = minFederateTiebreak(winner, d.Peer)
		}
	}
	return winner, found
}

// Grant transitions this participant's own state to time_granted at its
// currently requested Tnext, returning the granted time.
func (c *Coordinator) Grant() simtime.Time {
	c.ownState = StateTimeGranted
	return c.Tnext
}

// OwnState reports this participant's current position in the
// exec-entry/time-request protocol.
func (c *Coordinator) OwnState() TimeState {
	return c.ownState
}

// NotifyMessageArrival records that a message timestamped at t arrived from
// peer (spec §4.4, "message arrival during timing"): the coordinator's own
// forward-event time is lowered to t if t is earlier. If peer is presently
// mid-request and t is earlier than its claimed Te, the dependency's Te and
// Tdemin are pulled in to match. The peer's State is never changed, and a
// peer already in time_granted keeps its Te and Tdemin.
func (c *Coordinator) NotifyMessageArrival(peer ids.GlobalFederateID, t simtime.Time) {
	if t < c.forwardEvent {
		c.forwardEvent = t
	}
	d, ok := c.deps[peer]
	if !ok {
		return
	}
	if d.State == StateTimeRequested || d.State == StateTimeRequestedIterative {
		if t < d.Te {
			d.Te = t
			if t < d.Tdemin {
				d.Tdemin = t
			}
		}
	}
}

// ForwardEvent reports the earliest in-flight message time this coordinator
// has observed since the last reset, or simtime.MaxTime if none.
func (c *Coordinator) ForwardEvent() simtime.Time {
	return c.forwardEvent
}

// ResetForwardEvent clears the tracked forward-event time, called once it
// has been folded into an outbound grant computation.
func (c *Coordinator) ResetForwardEvent() {
	c.forwardEvent = simtime.MaxTime
}

// Simplify looks for dependencies that can be dropped without affecting
// correctness: in forwarding mode, a peer that is both this coordinator's
// only dependency and its only dependent can be elided, letting its two
// neighbors depend on each other directly instead of routing through this
// participant (spec §4.4's dependency-graph simplification, applicable to
// brokers/cores with exactly one local federate and no active filters).
// It returns the peer that should be spliced out, if any, and the caller is
// responsible for emitting the corresponding ADD_DEPENDENCY/REMOVE_DEPENDENCY
// protocol messages to the remaining neighbors.
func (c *Coordinator) Simplify() (ids.GlobalFederateID, bool) {
	if c.mode != ModeForwarding {
		return 0, false
	}
	if len(c.deps) != 1 || c.dependents.Cardinality() != 1 {
		return 0, false
	}
	var only ids.GlobalFederateID
	for p := range c.deps {
		only = p
	}
	dependent := c.dependents.ToSlice()[0].(ids.GlobalFederateID)
	if only == dependent {
		return 0, false
	}
	c.simplifiedCount++
	return only, true
}

// SimplifiedCount reports how many times Simplify has successfully spliced
// a dependency out of the graph, for diagnostics and tests.
func (c *Coordinator) SimplifiedCount() int {
	return c.simplifiedCount
}
