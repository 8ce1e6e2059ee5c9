package world

import (
	"sync"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
)

// problemRing keeps the most recent problems for the presentation feed.
type problemRing struct {
	mu    sync.Mutex
	buf   []model.Problem
	next  int
	full  bool
	total uint64
}

func newProblemRing(n int) *problemRing {
	return &problemRing{buf: make([]model.Problem, n)}
}

func (r *problemRing) add(ps ...model.Problem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range ps {
		r.buf[r.next] = p
		r.next++
		r.total++
		if r.next == len(r.buf) {
			r.next = 0
			r.full = true
		}
	}
}

// list returns up to limit problems, oldest first.
func (r *problemRing) list(limit int) []model.Problem {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Problem
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	out = append(out, r.buf[:r.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Problems returns the most recent problems, oldest first. limit <= 0 returns
// everything kept.
func (w *World) Problems(limit int) []model.Problem { return w.problems.list(limit) }

func (w *World) ProblemsTotal() uint64 {
	w.problems.mu.Lock()
	defer w.problems.mu.Unlock()
	return w.problems.total
}
