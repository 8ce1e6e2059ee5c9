package indexdb

import (
	"sync"
	"sync/atomic"
)

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     tickRows
	snapshot SnapshotRow
}

// queue hands rows to a single writer goroutine. Producers never block.
type queue struct {
	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

func newQueue(size int) *queue { return &queue{ch: make(chan req, size)} }

func (q *queue) start(loop func(<-chan req)) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		loop(q.ch)
	}()
}

func (q *queue) push(r req) {
	if q.closed.Load() {
		return
	}
	select {
	case q.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		q.dropped.Add(1)
	}
}

// stop closes the queue and waits for the writer to drain it. Only the
// first call does anything.
func (q *queue) stop(after func() error) error {
	var err error
	q.once.Do(func() {
		q.closed.Store(true)
		close(q.ch)
		q.wg.Wait()
		if after != nil {
			err = after()
		}
	})
	return err
}
