package query

import (
	"fmt"
	"strings"
	"sync"
)

// MapBuilder incrementally assembles an aggregate JSON object as child
// replies arrive for a fanned-out query like "federate_map" or
// "dependency_graph" (spec §4.8). Grounded on HELICS's JsonMapBuilder of
// the same name: a fixed set of placeholder keys is registered up front
// (one per child the query was sent to), each is filled in as its reply
// arrives, and the fused object is emitted only once every placeholder has
// been filled.
type MapBuilder struct {
	mu          sync.Mutex
	order       []string
	values      map[string]string
	outstanding int
}

// NewMapBuilder creates a builder with one placeholder per key in keys,
// preserving key order in the final emitted object.
func NewMapBuilder(keys []string) *MapBuilder {
	b := &MapBuilder{
		order:  append([]string(nil), keys...),
		values: make(map[string]string, len(keys)),
	}
	b.outstanding = len(keys)
	return b
}

// Fill records the raw JSON fragment for key, arriving from that child's
// reply. Filling an unknown key is a no-op (a stray/duplicate reply).
func (b *MapBuilder) Fill(key, rawJSON string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, known := indexOf(b.order, key); !known {
		return
	}
	if _, already := b.values[key]; !already {
		b.outstanding--
	}
	b.values[key] = rawJSON
}

// Complete reports whether every placeholder has been filled.
func (b *MapBuilder) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstanding <= 0
}

// Build emits the fused JSON object. Calling it before Complete is true
// still produces valid JSON, with any still-missing keys mapped to null —
// used only for diagnostics (e.g. a timeout partial dump), never as the
// actual query reply.
func (b *MapBuilder) Build() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range b.order {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%q:", k)
		if v, ok := b.values[k]; ok {
			sb.WriteString(v)
		} else {
			sb.WriteString("null")
		}
	}
	sb.WriteByte('}')
	return sb.String()
}

func indexOf(keys []string, k string) (int, bool) {
	for i, candidate := range keys {
		if candidate == k {
			return i, true
		}
	}
	return -1, false
}
