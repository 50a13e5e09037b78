package timecoord

import (
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

// DependencyInfo is the per-peer record described in spec §3: the evolving
// time state of one participant this coordinator depends on (directly
// constraining how far this participant may advance).
type DependencyInfo struct {
	Peer ids.GlobalFederateID

	State TimeState

	// Tnext is the time this peer is either requesting or has been granted.
	Tnext simtime.Time
	// Te is the peer's own earliest-possible-event time.
	Te simtime.Time
	// Tdemin is the minimum of the peer's dependents' event times.
	Tdemin simtime.Time
	// ForwardEvent is set to MaxTime on creation and on exec entry. Message
	// arrivals are recorded in the Coordinator's own forward-event time
	// (see Coordinator.NotifyMessageArrival), not in this field.
	ForwardEvent simtime.Time
}

func newDependencyInfo(peer ids.GlobalFederateID) *DependencyInfo {
	return &DependencyInfo{
		Peer:         peer,
		State:        StateInitialized,
		Tnext:        simtime.Zero,
		Te:           simtime.Zero,
		Tdemin:       simtime.Zero,
		ForwardEvent: simtime.MaxTime,
	}
}

// resetForExecEntry zeroes every time field on entry to executing mode
// (§4.4: "On entry all Tnext, Te, Tdemin reset to time zero").
func (d *DependencyInfo) resetForExecEntry() {
	d.Tnext = simtime.Zero
	d.Te = simtime.Zero
	d.Tdemin = simtime.Zero
	d.ForwardEvent = simtime.MaxTime
}

// blocksGrantAt reports whether this dependency currently prevents a grant
// at time t, per the rule in spec §4.4:
//
//	a grant at T requires, for every dependency d:
//	  d.Tnext > T OR (d.Tnext == T AND d.state != time_granted)
//
// i.e. it returns true (blocks) when neither disjunct holds.
func (d *DependencyInfo) blocksGrantAt(t simtime.Time) bool {
	if d.Tnext > t {
		return false
	}
	if d.Tnext == t && d.State != StateTimeGranted {
		return false
	}
	return true
}

// disconnect marks d as permanently out of the time graph (§4.4:
// "DISCONNECT from a dependency sets its Tnext to +infinity and state to
// time_granted; this unblocks pending grants").
func (d *DependencyInfo) disconnect() {
	d.Tnext = simtime.MaxTime
	d.Te = simtime.MaxTime
	d.Tdemin = simtime.MaxTime
	d.State = StateTimeGranted
}
