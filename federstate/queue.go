package federstate

import (
	"container/list"
	"sync"

	"github.com/cosimrt/corekit/action"
)

// Queue is the priority-aware blocking queue described in spec §5: priority
// commands (negative action codes) are always dequeued before any
// non-priority command already queued; within a class, FIFO. Every public
// Core/Broker API method serializes through a Queue like this one by
// pushing an ActionMessage and returning immediately (spec §4.5, §5).
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	priority *list.List
	normal   *list.List
	closed   bool
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	q := &Queue{
		priority: list.New(),
		normal:   list.New(),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push enqueues m, routing it to the priority list if its action code is a
// priority command (spec §4.1: action codes < 0).
func (q *Queue) Push(m action.ActionMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if m.IsPriorityCommand() {
		q.priority.PushBack(m)
	} else {
		q.normal.PushBack(m)
	}
	q.notEmpty.Signal()
}

// Pop blocks until a message is available (or the queue is closed) and
// returns it, always preferring the priority list.
func (q *Queue) Pop() (action.ActionMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.priority.Len() == 0 && q.normal.Len() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if e := q.priority.Front(); e != nil {
		q.priority.Remove(e)
		return e.Value.(action.ActionMessage), true
	}
	if e := q.normal.Front(); e != nil {
		q.normal.Remove(e)
		return e.Value.(action.ActionMessage), true
	}
	return action.ActionMessage{}, false
}

// TryPop returns immediately: the next message if one is queued, or
// ok=false if the queue is currently empty. Like Pop, it prefers the
// priority list.
func (q *Queue) TryPop() (action.ActionMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e := q.priority.Front(); e != nil {
		q.priority.Remove(e)
		return e.Value.(action.ActionMessage), true
	}
	if e := q.normal.Front(); e != nil {
		q.normal.Remove(e)
		return e.Value.(action.ActionMessage), true
	}
	return action.ActionMessage{}, false
}

// Len reports the total number of queued messages across both lists.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.priority.Len() + q.normal.Len()
}

// Close unblocks any pending Pop and causes future Pop calls to return
// immediately with ok=false once drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}
