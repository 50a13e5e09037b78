// Package journal implements the bounded per-route resend log backing the
// CMD_RESEND protocol command (spec §6): each Core/Broker keeps a short
// trailing window of the ActionMessages it has transmitted on a route, so
// a peer that detects a gap (a transport reconnect, a dropped frame) can
// ask for a replay instead of the whole session being torn down.
package journal

import (
	"fmt"
	"sync"

	"github.com/tidwall/wal"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/ids"
)

// defaultWindow bounds how many trailing messages are retained per route;
// older entries are truncated off the front as new ones are appended.
const defaultWindow = 4096

// RouteLog is the resend journal for a single route.
type RouteLog struct {
	mu     sync.Mutex
	route  ids.RouteID
	log    *wal.Log
	window int
}

// Open creates or reopens the resend journal for route, rooted at dir
// (one wal.Log per route, matching the teacher's one-log-per-shard
// layout in `storage/log_manager.go`/`network/coordinator/log_manager.go`).
func Open(dir string, route ids.RouteID) (*RouteLog, error) {
	l, err := wal.Open(fmt.Sprintf("%s/route-%d", dir, route), nil)
	if err != nil {
		return nil, fmt.Errorf("journal: open route %d: %w", route, err)
	}
	return &RouteLog{route: route, log: l, window: defaultWindow}, nil
}

// Append records msg as the next entry transmitted on this route, using
// its binary wire encoding so a resend replays byte-identical frames.
func (r *RouteLog) Append(msg action.ActionMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, err := r.log.LastIndex()
	if err != nil {
		return err
	}
	idx := last + 1
	if err := r.log.Write(idx, action.ToBytes(msg)); err != nil {
		return err
	}
	if int(idx) > r.window {
		if err := r.log.TruncateFront(idx - uint64(r.window) + 1); err != nil {
			cfg.Warnf("journal: truncate route %d failed: %v", r.route, err)
		}
	}
	return nil
}

// Resend returns every retained message transmitted at index >= from,
// oldest first — the reply to a CMD_RESEND request.
func (r *RouteLog) Resend(from uint64) ([]action.ActionMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	first, err := r.log.FirstIndex()
	if err != nil {
		return nil, err
	}
	last, err := r.log.LastIndex()
	if err != nil {
		return nil, err
	}
	if first == 0 || last == 0 {
		return nil, nil
	}
	if from < first {
		from = first
	}
	out := make([]action.ActionMessage, 0, last-from+1)
	for idx := from; idx <= last; idx++ {
		raw, err := r.log.Read(idx)
		if err != nil {
			return nil, fmt.Errorf("journal: read route %d index %d: %w", r.route, idx, err)
		}
		m, err := action.FromBytes(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// LastIndex reports the most recently appended sequence number, used to
// populate an outbound CMD_RESEND request's own starting point.
func (r *RouteLog) LastIndex() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.LastIndex()
}

// Close releases the underlying log file.
func (r *RouteLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Close()
}
