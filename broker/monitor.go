package broker

import (
	"sync"
	"time"
)

// timeoutMonitor is the ticking keepalive described in spec §5: on every
// tick it pings the parent route; if no PING_REPLY arrives within the
// deadline the participant treats the parent as lost. Grounded on HELICS's
// TimeoutMonitor (a periodic tick escalating to ERROR + disconnect),
// realized as a plain ticker goroutine in the teacher's
// detector-loop style.
type timeoutMonitor struct {
	interval time.Duration
	deadline time.Duration

	ping func()
	lost func()

	mu        sync.Mutex
	lastReply time.Time

	stopOnce sync.Once
	done     chan struct{}
}

func newTimeoutMonitor(interval, deadline time.Duration, ping, lost func()) *timeoutMonitor {
	return &timeoutMonitor{
		interval:  interval,
		deadline:  deadline,
		ping:      ping,
		lost:      lost,
		lastReply: time.Now(),
		done:      make(chan struct{}),
	}
}

func (t *timeoutMonitor) start() {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.ping()
				t.mu.Lock()
				overdue := time.Since(t.lastReply) > t.deadline
				t.mu.Unlock()
				if overdue {
					t.lost()
					return
				}
			case <-t.done:
				return
			}
		}
	}()
}

func (t *timeoutMonitor) replyReceived() {
	t.mu.Lock()
	t.lastReply = time.Now()
	t.mu.Unlock()
}

func (t *timeoutMonitor) stop() {
	t.stopOnce.Do(func() { close(t.done) })
}
