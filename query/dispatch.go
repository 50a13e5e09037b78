package query

import (
	json "github.com/goccy/go-json"
)

// Source is implemented by whatever owns the participant state a
// well-known query string reads (a Core or a Broker). Every method
// returns data already shaped for direct JSON marshaling.
type Source interface {
	Name() string
	Address() string
	IsInit() bool
	Federates() []string
	Brokers() []string
	Publications() []string
	Endpoints() []string
	DependsOn() []string
	Dependents() []string
	Dependencies() []string
}

// WellKnown is the set of query strings every participant serves locally
// without forwarding (spec §4.8).
var WellKnown = map[string]bool{
	"name": true, "address": true, "isinit": true,
	"federates": true, "brokers": true,
	"publications": true, "endpoints": true,
	"dependson": true, "dependents": true, "dependencies": true,
	"federate_map": true, "dependency_graph": true,
}

// Dispatch answers a well-known query string against src, returning its
// JSON-encoded result and ok=false if queryStr names an aggregate query
// ("federate_map"/"dependency_graph", handled by MapBuilder instead) or an
// unrecognized string (the caller should forward it instead).
func Dispatch(src Source, queryStr string) (string, bool) {
	switch queryStr {
	case "name":
		return marshal(src.Name())
	case "address":
		return marshal(src.Address())
	case "isinit":
		return marshal(src.IsInit())
	case "federates":
		return marshal(src.Federates())
	case "brokers":
		return marshal(src.Brokers())
	case "publications":
		return marshal(src.Publications())
	case "endpoints":
		return marshal(src.Endpoints())
	case "dependson":
		return marshal(src.DependsOn())
	case "dependents":
		return marshal(src.Dependents())
	case "dependencies":
		return marshal(src.Dependencies())
	default:
		return "", false
	}
}

func marshal(v interface{}) (string, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}
