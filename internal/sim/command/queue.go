package command

import (
	"sync"

	"github.com/larksoftware/xstaradventures/internal/protocol"
)

// Queue is the ordered hand-off between command producers and the world
// loop. Commands are drained in submission order at the next tick boundary.
type Queue struct {
	mu    sync.Mutex
	items []Command
	limit int
	seq   uint64
}

func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{limit: limit}
}

// Push appends c and stamps it with the next sequence number.
func (q *Queue) Push(c Command) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.limit {
		return 0, reject(protocol.ErrQueueFull, "command queue full (%d)", q.limit)
	}
	q.seq++
	c.Seq = q.seq
	q.items = append(q.items, c)
	return c.Seq, nil
}

// Drain removes and returns every queued command.
func (q *Queue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Seq is the last sequence number handed out.
func (q *Queue) Seq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}

// Resume sets the sequence counter after a load so numbering continues.
func (q *Queue) Resume(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if seq > q.seq {
		q.seq = seq
	}
}
