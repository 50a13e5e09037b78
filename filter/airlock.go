package filter

import "sync/atomic"

// airlockSlots is the fixed slot count named in spec §9: "a bound of 4 is
// sufficient because the processing thread empties slots during its next
// dispatch."
const airlockSlots = 4

// Airlock is the lock-free handoff arena described in spec §5/§9: the API
// thread stores a non-POD callback (a filter Operator, here) into a slot
// and enqueues a configuration command carrying the slot index; the
// processing thread later reads and empties that slot. No lock is held
// across the user callback itself.
type Airlock struct {
	next   uint32
	filled [airlockSlots]atomic.Bool
	slots  [airlockSlots]atomic.Value // holds Operator
}

// NewAirlock creates an empty Airlock.
func NewAirlock() *Airlock {
	return &Airlock{}
}

// Store places op into the next slot (round-robin) and returns its index,
// to be carried on the configuration command the caller enqueues.
func (a *Airlock) Store(op Operator) int {
	idx := int(atomic.AddUint32(&a.next, 1)-1) % airlockSlots
	a.slots[idx].Store(&op)
	a.filled[idx].Store(true)
	return idx
}

// Take reads and clears the operator at idx, called from the processing
// thread while handling the configuration command. ok is false if the slot
// was never populated (a bug in the caller, not a legitimate race — a
// publisher must never overwrite an unread slot per spec §9).
func (a *Airlock) Take(idx int) (Operator, bool) {
	if !a.filled[idx].CompareAndSwap(true, false) {
		return nil, false
	}
	v := a.slots[idx].Load()
	return *(v.(*Operator)), true
}
