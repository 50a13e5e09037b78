package filter

// Clone is one forked copy produced by a cloning filter, destined for one
// of the filter's configured delivery targets (spec §4.7: "A cloning
// filter forks a copy to its delivery endpoints and leaves the original
// untouched").
type Clone struct {
	Record  *Record // the cloning filter that produced this copy
	Target  int     // index into Record.DeliveryTargets
	Payload []byte
}

// ApplyChain runs payload through an ordered source-filter chain (the
// result of OrganizeSourceChain). It returns the possibly-transformed
// payload to continue delivering to the original destination (keep=false
// if a non-cloning filter dropped it), plus any clones produced along the
// way by cloning filters.
func ApplyChain(chain []*Record, payload []byte) (out []byte, keep bool, clones []Clone) {
	out = payload
	keep = true
	for _, r := range chain {
		if r.Cloning {
			forked, ok := r.Op.Apply(out)
			if !ok {
				continue
			}
			for i := range r.DeliveryTargets {
				clones = append(clones, Clone{Record: r, Target: i, Payload: forked})
			}
			continue
		}
		if !keep {
			continue
		}
		transformed, ok := r.Op.Apply(out)
		if !ok {
			keep = false
			continue
		}
		out = transformed
	}
	return out, keep, clones
}
