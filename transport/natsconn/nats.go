// Package natsconn implements a Transport over NATS core pub/sub —
// grounded on WAN-Ninjas-AmityVox's internal/events.Bus (github.com/nats-io/
// nats.go: nats.Connect, conn.Publish, conn.Subscribe with a msg-handler
// callback). Each route maps to one subject; AddRoute subscribes when the
// route is also a source of inbound traffic, matching the Bus's "publish
// to a subject / subscribe to a subject" split rather than modeling
// per-route connections directly.
package natsconn

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/cosimrt/corekit/action"
	"github.com/cosimrt/corekit/cfg"
	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/transport"
)

// SubjectPrefix namespaces every subject this transport publishes to or
// subscribes on, mirroring the "amityvox.<category>.<action>" convention.
const SubjectPrefix = "corekit.route."

// Transport is a transport.Transport backed by a single NATS connection.
type Transport struct {
	conn *nats.Conn

	mu      sync.Mutex
	subjects map[ids.RouteID]string
	subs     map[ids.RouteID]*nats.Subscription

	inbound transport.Inbound
}

// Dial connects to the given NATS URL, matching the Bus constructor's
// single-URL connect-with-options call.
func Dial(natsURL string) (*Transport, error) {
	conn, err := nats.Connect(natsURL,
		nats.ReconnectWait(0),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("natsconn: connect %q: %w", natsURL, err)
	}
	return &Transport{
		conn:     conn,
		subjects: make(map[ids.RouteID]string),
		subs:     make(map[ids.RouteID]*nats.Subscription),
	}, nil
}

func subjectFor(info transport.RouteInfo) string {
	if info.Target != "" {
		return SubjectPrefix + info.Target
	}
	return SubjectPrefix + "parent"
}

// AddRoute maps routeID to a subject and begins subscribing to it so
// inbound traffic from that peer is delivered to this participant.
func (t *Transport) AddRoute(routeID ids.RouteID, info transport.RouteInfo) error {
	subject := subjectFor(info)
	t.mu.Lock()
	t.subjects[routeID] = subject
	t.mu.Unlock()

	sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
		m, err := action.FromBytes(msg.Data)
		if err != nil {
			cfg.Warnf("natsconn: dropping malformed message on %q: %v", subject, err)
			return
		}
		m.RouteHint = routeID
		if t.inbound != nil {
			t.inbound(m)
		}
	})
	if err != nil {
		return fmt.Errorf("natsconn: subscribe %q: %w", subject, err)
	}
	t.mu.Lock()
	t.subs[routeID] = sub
	t.mu.Unlock()
	return nil
}

// RemoveRoute unsubscribes and forgets routeID.
func (t *Transport) RemoveRoute(routeID ids.RouteID) error {
	t.mu.Lock()
	sub := t.subs[routeID]
	delete(t.subs, routeID)
	delete(t.subjects, routeID)
	t.mu.Unlock()
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

// SetInbound installs the delivery callback.
func (t *Transport) SetInbound(cb transport.Inbound) {
	t.inbound = cb
}

// Transmit publishes msg's binary encoding to routeID's subject.
func (t *Transport) Transmit(routeID ids.RouteID, msg action.ActionMessage) error {
	t.mu.Lock()
	subject, ok := t.subjects[routeID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("natsconn: unknown route %d", routeID)
	}
	return t.conn.Publish(subject, action.ToBytes(msg))
}

// Start flushes the connection, ensuring every AddRoute subscription
// registered so far is active with the NATS server before returning.
func (t *Transport) Start() error {
	return t.conn.Flush()
}

// Close drains subscriptions and closes the underlying NATS connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	subs := make([]*nats.Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	t.conn.Close()
	return nil
}
