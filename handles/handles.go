// Package handles implements the per-participant interface handle registry
// (spec §4.2): the table mapping local, densely allocated InterfaceHandle
// values to the metadata of a publication, input, endpoint, or filter.
//
// The Core keeps two copies of this registry: the Registry type below is the
// one owned exclusively by the processing loop (no locking needed — single
// writer, single reader) and ReadView is the reader/writer-guarded copy
// handed to API-thread callers. Cross-thread publication happens by the
// processing loop calling ReadView.Sync after each mutation — never by
// sharing the Registry itself — matching the "queue a registration command,
// never shared mutation" discipline spec §4.2 requires.
package handles

import (
	"fmt"

	lock "github.com/viney-shih/go-lock"

	"github.com/cosimrt/corekit/ids"
)

// Kind distinguishes the four interface kinds a handle can name.
type Kind uint8

const (
	KindPublication Kind = iota
	KindInput
	KindEndpoint
	KindFilter
)

func (k Kind) String() string {
	switch k {
	case KindPublication:
		return "publication"
	case KindInput:
		return "input"
	case KindEndpoint:
		return "endpoint"
	case KindFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// Flags mirrors the subset of handle-level flags named in spec §3: required,
// optional, cloning, has-source-filter, has-dest-filter, disconnected, used.
type Flags uint16

const (
	FlagRequired Flags = 1 << iota
	FlagOptional
	FlagCloning
	FlagHasSourceFilter
	FlagHasDestFilter
	FlagDisconnected
	FlagUsed
	FlagOnlyTransmitOnChange
	FlagOnlyUpdateOnChange
)

func (f Flags) Has(bit Flags) bool   { return f&bit != 0 }
func (f *Flags) Set(bit Flags)       { *f |= bit }
func (f *Flags) Clear(bit Flags)     { *f &^= bit }

// Record is one entry in the registry: the immutable identity of a handle
// (Global, Owner, Kind, Key — set once at creation and never changed) plus
// its mutable metadata and flags.
type Record struct {
	Global ids.GlobalHandle
	Owner  ids.LocalFederateID
	Kind   Kind

	Key        string
	Type       string
	Units      string
	OutputType string // filters only

	Flags Flags
}

type key struct {
	kind Kind
	name string
}

// Registry is the processing-loop-owned copy: allocation is dense per
// participant and handle identity (kind, owner) is immutable once assigned.
type Registry struct {
	self    ids.GlobalFederateID
	next    ids.InterfaceHandle
	byName  map[key]*Record
	byGlobal map[ids.InterfaceHandle]*Record
}

// New creates an empty registry for the participant identified by self (a
// core or federate's own global id). Handles are stamped with the
// ownerGlobal passed to AddHandle, not with self.
func New(self ids.GlobalFederateID) *Registry {
	return &Registry{
		self:     self,
		next:     1, // 0 is InvalidInterfaceHandle
		byName:   make(map[key]*Record),
		byGlobal: make(map[ids.InterfaceHandle]*Record),
	}
}

// SetSelf updates the participant id the registry records for itself. A
// Core constructs its registry before it has registered upward and learns
// its own global id only once BROKER_ACK returns it. The id is not stamped
// onto handles: AddHandle uses the ownerGlobal it is given, so no handle's
// Global field changes with SetSelf.
func (r *Registry) SetSelf(self ids.GlobalFederateID) {
	r.self = self
}

// AddHandle allocates a new handle for owner (a core may host several
// federates, so ownerGlobal — not the registry-wide self — is what gets
// stamped onto the handle's Global field; ownerGlobal is the owning
// federate's own global id, assigned once its FED_ACK returns). Handle ids
// are never reused within a participant (spec §4.2): the allocation
// counter only ever increments.
func (r *Registry) AddHandle(owner ids.LocalFederateID, ownerGlobal ids.GlobalFederateID, kind Kind, keyName, typ, units string) (*Record, error) {
	k := key{kind, keyName}
	if _, exists := r.byName[k]; exists {
		return nil, fmt.Errorf("handles: duplicate %s name %q", kind, keyName)
	}
	h := r.next
	r.next++
	rec := &Record{
		Global: ids.GlobalHandle{Federate: ownerGlobal, Handle: h},
		Owner:  owner,
		Kind:   kind,
		Key:    keyName,
		Type:   typ,
		Units:  units,
	}
	r.byName[k] = rec
	r.byGlobal[h] = rec
	return rec, nil
}

// Find looks up a local handle by (kind, name).
func (r *Registry) Find(kind Kind, name string) (*Record, bool) {
	rec, ok := r.byName[key{kind, name}]
	return rec, ok
}

// ByHandle looks up a local handle by its InterfaceHandle value.
func (r *Registry) ByHandle(h ids.InterfaceHandle) (*Record, bool) {
	rec, ok := r.byGlobal[h]
	return rec, ok
}

// SetOption sets or clears a flag bit on the handle identified by h.
func (r *Registry) SetOption(h ids.InterfaceHandle, flag Flags, on bool) error {
	rec, ok := r.byGlobal[h]
	if !ok {
		return fmt.Errorf("handles: unknown handle %d", h)
	}
	if on {
		rec.Flags.Set(flag)
	} else {
		rec.Flags.Clear(flag)
	}
	return nil
}

// MarkUsed flags h as having been resolved against a peer at least once.
func (r *Registry) MarkUsed(h ids.InterfaceHandle) error {
	return r.SetOption(h, FlagUsed, true)
}

// MarkDisconnected flags h as disconnected. Idempotent per spec §4.2.
func (r *Registry) MarkDisconnected(h ids.InterfaceHandle) error {
	rec, ok := r.byGlobal[h]
	if !ok {
		return fmt.Errorf("handles: unknown handle %d", h)
	}
	rec.Flags.Set(FlagDisconnected)
	return nil
}

// All returns every record currently in the registry, in allocation order.
// Used by Sync and by query handlers enumerating interfaces.
func (r *Registry) All() []*Record {
	out := make([]*Record, 0, len(r.byGlobal))
	for h := ids.InterfaceHandle(1); h < r.next; h++ {
		if rec, ok := r.byGlobal[h]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// ReadView is the reader/writer-guarded copy of the registry contents handed
// to API-thread callers (spec §4.2). It never mutates independently — the
// processing loop calls Sync after every Registry change.
type ReadView struct {
	mu   lock.RWMutex
	byName map[key]Record
	byGlobal map[ids.InterfaceHandle]Record
}

// NewReadView creates an empty read view.
func NewReadView() *ReadView {
	return &ReadView{
		mu:       lock.NewCASMutex(),
		byName:   make(map[key]Record),
		byGlobal: make(map[ids.InterfaceHandle]Record),
	}
}

// Sync copies the current contents of r into v, replacing whatever was there
// before. Called from the processing loop only.
func (v *ReadView) Sync(r *Registry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byName = make(map[key]Record, len(r.byName))
	v.byGlobal = make(map[ids.InterfaceHandle]Record, len(r.byGlobal))
	for k, rec := range r.byName {
		v.byName[k] = *rec
	}
	for h, rec := range r.byGlobal {
		v.byGlobal[h] = *rec
	}
}

// Find looks up a handle by (kind, name) from an API-thread caller.
func (v *ReadView) Find(kind Kind, name string) (Record, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.byName[key{kind, name}]
	return rec, ok
}

// ByHandle looks up a handle by value from an API-thread caller.
func (v *ReadView) ByHandle(h ids.InterfaceHandle) (Record, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.byGlobal[h]
	return rec, ok
}
