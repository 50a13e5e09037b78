// Package inproc implements an in-process Transport backed by Go
// channels — the equivalent of HELICS's TestComms/InprocComms, used for
// single-process federations and tests, and structurally grounded on the
// teacher's accept-loop shape in network/participant/conn.go (a listener
// goroutine reading framed input and handing it to the owning
// participant) minus any actual socket.
package inproc

import (
	"fmt"
	"sync"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/transport"
)

// Hub is the process-wide switchboard: every inproc Transport registers
// itself under a name, and routes are resolved against other registered
// names, exactly playing the role that a real network's addressing would.
type Hub struct {
	mu      sync.Mutex
	members map[string]*Transport
}

// NewHub creates an empty switchboard.
func NewHub() *Hub {
	return &Hub{members: make(map[string]*Transport)}
}

func (h *Hub) register(name string, t *Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members[name] = t
}

func (h *Hub) lookup(name string) (*Transport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.members[name]
	return t, ok
}

// Transport is a transport.Transport that delivers messages by direct
// channel send to another Transport registered on the same Hub.
type Transport struct {
	hub  *Hub
	name string

	mu     sync.Mutex
	routes map[ids.RouteID]string

	inbound transport.Inbound
	inCh    chan action.ActionMessage
	done    chan struct{}
	closeOnce sync.Once
}

// New creates a Transport named name, registered on hub.
func New(hub *Hub, name string) *Transport {
	t := &Transport{
		hub:    hub,
		name:   name,
		routes: make(map[ids.RouteID]string),
		inCh:   make(chan action.ActionMessage, 256),
		done:   make(chan struct{}),
	}
	hub.register(name, t)
	return t
}

// AddRoute records that routeID leads to the peer named info.Target.
func (t *Transport) AddRoute(routeID ids.RouteID, info transport.RouteInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[routeID] = info.Target
	return nil
}

// routeTo returns the RouteID under which peerName is reachable from this
// Transport, or InvalidRouteID if no such route has been added yet (the
// bootstrap case: a child's first registration message arrives before the
// parent has gotten around to naming a route back to it, which a real
// transport would instead resolve from the accepted connection itself).
func (t *Transport) routeTo(peerName string) ids.RouteID {
	t.mu.Lock()
	defer t.mu.Unlock()
	for rid, name := range t.routes {
		if name == peerName {
			return rid
		}
	}
	return ids.InvalidRouteID
}

// RemoveRoute withdraws routeID.
func (t *Transport) RemoveRoute(routeID ids.RouteID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, routeID)
	return nil
}

// SetInbound installs the delivery callback.
func (t *Transport) SetInbound(cb transport.Inbound) {
	t.inbound = cb
}

// Transmit resolves routeID to a peer name and delivers msg directly onto
// that peer's inbound channel.
func (t *Transport) Transmit(routeID ids.RouteID, msg action.ActionMessage) error {
	t.mu.Lock()
	target, ok := t.routes[routeID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("inproc: unknown route %d from %q", routeID, t.name)
	}
	peer, ok := t.hub.lookup(target)
	if !ok {
		return fmt.Errorf("inproc: unknown peer %q", target)
	}
	msg.RouteHint = peer.routeTo(t.name)
	select {
	case peer.inCh <- msg:
		return nil
	case <-peer.done:
		return fmt.Errorf("inproc: peer %q closed", target)
	}
}

// Start begins the delivery loop, invoking the installed Inbound callback
// for every message that arrives on this Transport's channel.
func (t *Transport) Start() error {
	go func() {
		for {
			select {
			case m := <-t.inCh:
				if t.inbound != nil {
					t.inbound(m)
				}
			case <-t.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the delivery loop.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
