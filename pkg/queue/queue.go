// Package queue holds the FIFO of timed packets waiting to be paced out to
// the board.
package queue

import (
	"sync"

	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/protocol"
)

// DefaultCapacity bounds the queue when no size is configured.
const DefaultCapacity = 4096

// Queue is a bounded FIFO of MoveCommands. It is safe for concurrent use:
// features are enqueued from API goroutines while the pacer drains it.
type Queue struct {
	mu    sync.Mutex
	items []protocol.MoveCommand
	head  int
	cap   int
}

// New returns an empty queue holding at most capacity packets. A capacity
// below one selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{cap: capacity}
}

func (q *Queue) lenLocked() int {
	return len(q.items) - q.head
}

// Push appends one packet.
func (q *Queue) Push(cmd protocol.MoveCommand) error {
	return q.PushAll([]protocol.MoveCommand{cmd})
}

// PushAll appends cmds in order, or none of them if they do not all fit.
func (q *Queue) PushAll(cmds []protocol.MoveCommand) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	free := q.cap - q.lenLocked()
	if len(cmds) > free {
		return errors.QueueFullError(len(cmds), free)
	}
	// reclaim the consumed prefix before growing
	if q.head > 0 && len(q.items)+len(cmds) > cap(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	q.items = append(q.items, cmds...)
	return nil
}

// Front returns the oldest packet without removing it.
func (q *Queue) Front() (protocol.MoveCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		return protocol.MoveCommand{}, false
	}
	return q.items[q.head], true
}

// PopFront removes and returns the oldest packet.
func (q *Queue) PopFront() (protocol.MoveCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		return protocol.MoveCommand{}, false
	}
	cmd := q.items[q.head]
	q.items[q.head] = protocol.MoveCommand{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return cmd, true
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Cap returns the maximum number of packets.
func (q *Queue) Cap() int {
	return q.cap
}

// Free returns the number of packets that can still be pushed.
func (q *Queue) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cap - q.lenLocked()
}

// Clear drops every queued packet and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.lenLocked()
	q.items = nil
	q.head = 0
	return n
}

// Snapshot copies the queued packets, oldest first.
func (q *Queue) Snapshot() []protocol.MoveCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]protocol.MoveCommand, q.lenLocked())
	copy(out, q.items[q.head:])
	return out
}

// Pending sums the durations of all queued packets.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, c := range q.items[q.head:] {
		total += c.DurationMillis
	}
	return total
}
