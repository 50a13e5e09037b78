// Package federstate implements FederateState (spec §3, §4.5): the
// per-federate record a Core maintains — its identity, lifecycle state
// machine, pending-action queue, value/message buffers, and the
// TimeCoordinator instance governing its dependencies.
package federstate

import (
	"fmt"
	"sync"

	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
	"github.com/cosimrt/corekit/timecoord"
)

// Status is a federate's position in the lifecycle named in spec §3:
// created → initialized → connecting → connected → initializing →
// operating → terminating → terminated, strictly monotonic except for the
// error escape hatch reachable from any state.
type Status uint8

const (
	StatusCreated Status = iota
	StatusInitialized
	StatusConnecting
	StatusConnected
	StatusInitializing
	StatusOperating
	StatusTerminating
	StatusTerminated
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusInitialized:
		return "initialized"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusInitializing:
		return "initializing"
	case StatusOperating:
		return "operating"
	case StatusTerminating:
		return "terminating"
	case StatusTerminated:
		return "terminated"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// order gives each non-error status its position in the monotonic
// progression; StatusError has no position and is handled separately.
var order = map[Status]int{
	StatusCreated:       0,
	StatusInitialized:   1,
	StatusConnecting:    2,
	StatusConnected:     3,
	StatusInitializing:  4,
	StatusOperating:     5,
	StatusTerminating:   6,
	StatusTerminated:    7,
}

// IterationResult is what a granted enterExecutingMode/requestTimeIterative
// call reports alongside the granted time (spec §4.4): whether the grant
// advanced to the next step, asks the federate to iterate again at the
// same time, or was cut short.
type IterationResult uint8

const (
	IterationNextStep IterationResult = iota
	IterationIterating
	IterationHalted
	IterationError
)

func (r IterationResult) String() string {
	switch r {
	case IterationNextStep:
		return "next_step"
	case IterationIterating:
		return "iterating"
	case IterationHalted:
		return "halted"
	case IterationError:
		return "error"
	default:
		return "unknown"
	}
}

// GrantResult is the value delivered to a blocked timing call: the granted
// time plus the iteration disposition.
type GrantResult struct {
	Time      simtime.Time
	Iteration IterationResult
}

// FederateState is the Core's per-federate record (spec §3 "FederateState").
type FederateState struct {
	Name   string
	Local  ids.LocalFederateID
	Global ids.GlobalFederateID // set on FED_ACK

	// Flags carries the per-federate behavioral flags (observer,
	// source_only, ...) declared at registration (spec §6).
	Flags cfg.FederateFlags

	mu     sync.Mutex
	status Status

	Queue *Queue

	Inputs    map[ids.InterfaceHandle]*InputBuffer
	Endpoints map[ids.InterfaceHandle]*EndpointQueue

	// EventHandles lists the input/endpoint handles updated at the most
	// recently granted time, exposed for the federate API to poll without
	// re-scanning every interface.
	EventHandles []ids.InterfaceHandle

	Coordinator *timecoord.Coordinator

	// grantCh/ackCh/errCh are the suspension points named in spec §5:
	// registerFederate blocks on ackCh, the timing calls block on grantCh,
	// and an error reaching this federate while either is pending is
	// delivered on errCh instead.
	grantCh chan GrantResult
	ackCh   chan ids.GlobalFederateID
	errCh   chan error
}

// New creates a FederateState for a newly created (not yet registered)
// federate, with its own TimeCoordinator in federate mode.
func New(name string, local ids.LocalFederateID) *FederateState {
	return &FederateState{
		Name:        name,
		Local:       local,
		Global:      ids.InvalidGlobalFedID,
		status:      StatusCreated,
		Queue:       NewQueue(),
		Inputs:      make(map[ids.InterfaceHandle]*InputBuffer),
		Endpoints:   make(map[ids.InterfaceHandle]*EndpointQueue),
		Coordinator: timecoord.New(ids.InvalidGlobalFedID, timecoord.ModeFederate),
		grantCh:     make(chan GrantResult, 1),
		ackCh:       make(chan ids.GlobalFederateID, 1),
		errCh:       make(chan error, 1),
	}
}

// Status reports the federate's current lifecycle state.
func (f *FederateState) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Advance moves the federate to next, enforcing the strictly monotonic
// progression (reverse transitions are a programming error and return one
// instead of silently corrupting state); StatusError is always accepted.
func (f *FederateState) Advance(next Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if next == StatusError {
		f.status = StatusError
		return nil
	}
	if f.status == StatusError {
		return fmt.Errorf("federstate: federate %s already errored", f.Name)
	}
	if order[next] <= order[f.status] {
		return fmt.Errorf("federstate: illegal transition %s -> %s", f.status, next)
	}
	f.status = next
	return nil
}

// SetGlobal assigns the global id received in a FED_ACK and wakes a blocked
// registerFederate caller.
func (f *FederateState) SetGlobal(id ids.GlobalFederateID) {
	f.mu.Lock()
	f.Global = id
	f.mu.Unlock()
	select {
	case f.ackCh <- id:
	default:
	}
}

// WaitForAck blocks until SetGlobal or Fail is called, implementing
// registerFederate's suspension point (spec §5).
func (f *FederateState) WaitForAck() (ids.GlobalFederateID, error) {
	select {
	case id := <-f.ackCh:
		return id, nil
	case err := <-f.errCh:
		return ids.InvalidGlobalFedID, err
	}
}

// Grant wakes a blocked timeRequest/enterExecutingMode caller with the
// granted time, advancing to the next step.
func (f *FederateState) Grant(t simtime.Time) {
	f.GrantIterative(t, IterationNextStep)
}

// GrantIterative wakes a blocked timing caller with both the granted time
// and the iteration disposition (spec §4.4's iterative entry/advance).
func (f *FederateState) GrantIterative(t simtime.Time, res IterationResult) {
	select {
	case f.grantCh <- GrantResult{Time: t, Iteration: res}:
	default:
	}
}

// WaitForGrant blocks until Grant or Fail is called, implementing the
// timeRequest/enterExecutingMode suspension points (spec §5).
func (f *FederateState) WaitForGrant() (simtime.Time, error) {
	t, _, err := f.WaitForGrantIterative()
	return t, err
}

// WaitForGrantIterative is WaitForGrant for the iterative call forms,
// additionally reporting the iteration disposition. An error delivered
// while waiting surfaces as IterationError (spec §7: "a federate that
// raises an error while another awaits its time grant causes that wait to
// return with an error iteration result").
func (f *FederateState) WaitForGrantIterative() (simtime.Time, IterationResult, error) {
	select {
	case g := <-f.grantCh:
		return g.Time, g.Iteration, nil
	case err := <-f.errCh:
		return simtime.Zero, IterationError, err
	}
}

// Fail delivers err to whichever suspension point is currently blocked,
// per spec §7: "a federate that raises an error while another awaits its
// time grant causes that wait to return with an error iteration result."
func (f *FederateState) Fail(err error) {
	_ = f.Advance(StatusError)
	select {
	case f.errCh <- err:
	default:
	}
}
