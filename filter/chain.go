package filter

import (
	"sort"

	"github.com/cosimrt/corekit/cfg"
)

// OrganizeSourceChain implements organizeFilterOperations from spec §4.7:
// run on INIT_GRANT, it stable-sorts filters so that cloning filters come
// first, then non-cloning filters are chained by type compatibility
// starting from the endpoint's declared type. A filter whose InputType
// doesn't match the running type is left in its current position (a
// warning is logged) rather than dropped — §4.7: "they still execute in
// insertion order."
//
// Mirrors the teacher's TX.Optimize (network/coordinator/optimize.go):
// a small in-place stable reordering pass run once before execution, not a
// general-purpose sort.
func OrganizeSourceChain(chain []*Record, endpointType string) []*Record {
	ordered := make([]*Record, len(chain))
	copy(ordered, chain)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Cloning && !ordered[j].Cloning
	})

	running := endpointType
	cloningCount := 0
	for _, r := range ordered {
		if r.Cloning {
			cloningCount++
		}
	}

	for i := cloningCount; i < len(ordered); i++ {
		// find, among the remaining tail, a filter whose InputType matches
		// the currently running type; swap it into position i.
		match := -1
		for j := i; j < len(ordered); j++ {
			if ordered[j].InputType == "" || ordered[j].InputType == running {
				match = j
				break
			}
		}
		if match == -1 {
			cfg.Warnf("filter: no type-compatible filter found after %q in chain starting from %q", running, endpointType)
			continue
		}
		if match != i {
			ordered[i], ordered[match] = ordered[match], ordered[i]
		}
		if ordered[i].OutputType != "" {
			running = ordered[i].OutputType
		}
	}

	return ordered
}
