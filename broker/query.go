package broker

import (
	json "github.com/goccy/go-json"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/query"
)

// querySource adapts a Broker to query.Source for the well-known
// single-participant query strings of spec §4.8.
type querySource struct{ b *Broker }

func (s querySource) Name() string    { return s.b.name }
func (s querySource) Address() string { return s.b.name }
func (s querySource) IsInit() bool    { return s.b.initGranted }

func (s querySource) Federates() []string { return s.b.namesOfKind(ChildFederate) }
func (s querySource) Brokers() []string   { return s.b.namesOfKind(ChildBroker) }

// Publications/Endpoints are empty: a bare Broker hosts no interfaces of
// its own, only routes between the Cores that do.
func (s querySource) Publications() []string { return nil }
func (s querySource) Endpoints() []string    { return nil }

func (s querySource) DependsOn() []string {
	if s.b.Coordinator == nil {
		return nil
	}
	out := make([]string, 0)
	for _, p := range s.b.Coordinator.Dependencies() {
		out = append(out, p.String())
	}
	return out
}

func (s querySource) Dependents() []string {
	if s.b.Coordinator == nil {
		return nil
	}
	out := make([]string, 0)
	for _, p := range s.b.Coordinator.Dependents() {
		out = append(out, p.String())
	}
	return out
}

func (s querySource) Dependencies() []string { return s.DependsOn() }

func (b *Broker) namesOfKind(kind ChildKind) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.children))
	for name, rec := range b.children {
		if rec.kind == kind {
			out = append(out, name)
		}
	}
	return out
}

// federateMapEntry is one row of the "federate_map" aggregate query (spec
// §4.8, §8 scenario f): "enumerating every participant's name, global id,
// and parent id exactly once".
type federateMapEntry struct {
	Name     string `json:"name"`
	GlobalID int64  `json:"global_id"`
	ParentID int64  `json:"parent_id"`
}

// buildFederateMap answers "federate_map" from this broker's own vantage
// point: itself plus every direct child, by name. A deeper federation tree
// would fan this query out to every child broker and fuse the replies with
// a query.MapBuilder keyed by child name — the single-level form here
// covers the root+cores topology this package's tests exercise; see
// DESIGN.md for the open-question decision to scope it at one level rather
// than build the full recursive fan-out for a core package this spec
// doesn't otherwise require to nest brokers.
func (b *Broker) buildFederateMap() string {
	b.mu.Lock()
	entries := []federateMapEntry{
		{Name: b.name, GlobalID: int64(b.self), ParentID: -1},
	}
	for name, rec := range b.children {
		entries = append(entries, federateMapEntry{
			Name:     name,
			GlobalID: int64(rec.global),
			ParentID: int64(b.self),
		})
	}
	b.mu.Unlock()
	out, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(out)
}

// dependencyGraphNode is one entry of the "dependency_graph" aggregate
// query (spec §4.8): this participant's name, global id, and the peers its
// own TimeCoordinator currently depends on / is depended on by.
type dependencyGraphNode struct {
	Name         string   `json:"name"`
	GlobalID     int64    `json:"global_id"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// buildDependencyGraph answers "dependency_graph" from this broker's own
// vantage point, the same single-level scope as buildFederateMap: itself,
// with its own Coordinator's dependency/dependent sets, plus one entry per
// direct child named but not recursively expanded (a child Core or Broker's
// own dependency edges aren't visible from here without a further
// query.MapBuilder fan-out this package's tests don't exercise — see
// DESIGN.md).
func (b *Broker) buildDependencyGraph() string {
	self := dependencyGraphNode{
		Name:         b.name,
		GlobalID:     int64(b.self),
		Dependencies: querySource{b}.DependsOn(),
		Dependents:   querySource{b}.Dependents(),
	}
	b.mu.Lock()
	nodes := []dependencyGraphNode{self}
	for name, rec := range b.children {
		nodes = append(nodes, dependencyGraphNode{Name: name, GlobalID: int64(rec.global)})
	}
	b.mu.Unlock()
	out, err := json.Marshal(nodes)
	if err != nil {
		return "[]"
	}
	return string(out)
}

// handleQuery answers an inbound CMD_QUERY (spec §4.8): well-known
// single-participant strings, "federate_map", and "dependency_graph" are
// answered locally; anything else is forwarded toward the parent (or
// dropped at the root, where there is nowhere further to forward).
func (b *Broker) handleQuery(m action.ActionMessage) {
	if len(m.StringData) == 0 {
		return
	}
	queryStr := m.StringData[0]

	var result string
	var ok bool
	switch queryStr {
	case "federate_map":
		result, ok = b.buildFederateMap(), true
	case "dependency_graph":
		result, ok = b.buildDependencyGraph(), true
	default:
		result, ok = query.Dispatch(querySource{b}, queryStr)
	}
	if ok {
		reply := action.New(action.CmdQueryReply)
		reply.MessageID = m.MessageID
		reply.DestID = m.SourceID
		reply.Payload = []byte(result)
		_ = b.tport.Transmit(m.RouteHint, reply)
		return
	}
	if b.isRoot {
		return
	}
	fwd := m
	fwd.SourceID = b.self
	_ = b.tport.Transmit(ids.ParentRouteID, fwd)
}
