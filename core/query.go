package core

import (
	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/federstate"
	"github.com/cosimrt/corekit/handles"
	"github.com/cosimrt/corekit/query"
)

// querySource adapts a Core to query.Source, answering the well-known
// single-participant query strings of spec §4.8. The registry is read on
// the processing loop (handleQuery runs in dispatch); the federate tables,
// shared with the registration API, are read under the core mutex.
type querySource struct{ c *Core }

func (s querySource) Name() string { return s.c.name }

// Address reports the transport address this Core was reached at; Core
// itself is transport-agnostic (spec §1 non-goal), so it reports its own
// participant name, which is what every built-in Transport keys routes by.
func (s querySource) Address() string { return s.c.name }

func (s querySource) IsInit() bool { return s.c.isOperating() }

func (s querySource) Federates() []string {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	out := make([]string, 0, len(s.c.byName))
	for name := range s.c.byName {
		out = append(out, name)
	}
	return out
}

// Brokers reports nothing: a Core hosts federates, not child brokers.
func (s querySource) Brokers() []string { return nil }

func (s querySource) Publications() []string { return s.c.handlesOfKind(handles.KindPublication) }
func (s querySource) Endpoints() []string    { return s.c.handlesOfKind(handles.KindEndpoint) }

// DependsOn/Dependents/Dependencies report the union, across every hosted
// federate's TimeCoordinator, of the peers it waits on / is waited on by.
func (s querySource) DependsOn() []string     { return s.c.coordinatorPeers(false) }
func (s querySource) Dependents() []string    { return s.c.coordinatorPeers(true) }
func (s querySource) Dependencies() []string  { return s.c.coordinatorPeers(false) }

func (c *Core) handlesOfKind(kind handles.Kind) []string {
	var out []string
	for _, rec := range c.handleReg.All() {
		if rec.Kind == kind {
			out = append(out, rec.Key)
		}
	}
	return out
}

func (c *Core) coordinatorPeers(dependents bool) []string {
	c.mu.Lock()
	feds := make([]*federstate.FederateState, 0, len(c.federates))
	for _, fed := range c.federates {
		feds = append(feds, fed)
	}
	c.mu.Unlock()
	var out []string
	for _, fed := range feds {
		if fed.Coordinator == nil {
			continue
		}
		if dependents {
			for _, p := range fed.Coordinator.Dependents() {
				out = append(out, p.String())
			}
			continue
		}
		for _, p := range fed.Coordinator.Dependencies() {
			out = append(out, p.String())
		}
	}
	return out
}

// handleQuery answers an inbound CMD_QUERY addressed to this Core (spec
// §4.8): well-known single-participant strings are answered locally and
// immediately; anything else (an aggregate query, or a string this Core
// doesn't recognize) is forwarded to the parent broker, which is where
// federate_map/dependency_graph are actually assembled.
func (c *Core) handleQuery(m action.ActionMessage) {
	if len(m.StringData) == 0 {
		return
	}
	queryStr := m.StringData[0]
	if result, ok := query.Dispatch(querySource{c}, queryStr); ok {
		reply := action.New(action.CmdQueryReply)
		reply.MessageID = m.MessageID
		reply.DestID = m.SourceID
		reply.Payload = []byte(result)
		_ = c.tport.Transmit(m.RouteHint, reply)
		return
	}
	fwd := m
	fwd.SourceID = c.self
	c.transmitToParent(fwd)
}
