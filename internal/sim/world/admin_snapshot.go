package world

import (
	"context"
	"errors"
)

var (
	ErrNoSnapshotSink = errors.New("world: snapshot sink not configured")
	ErrSnapshotBusy   = errors.New("world: snapshot sink full")
	ErrNotRunning     = errors.New("world: not running")
)

// snapshotReq is an on-demand snapshot, served after the next commit so the
// exported state always sits on a tick boundary.
type snapshotReq struct {
	reply chan snapshotReply
}

type snapshotReply struct {
	tick uint64
	err  error
}

// RequestSnapshot asks the run loop for a snapshot at the next tick boundary
// and returns the committed tick it was taken at. Safe from any goroutine.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	if w == nil || w.snapReqs == nil {
		return 0, ErrNotRunning
	}
	reply := make(chan snapshotReply, 1)
	select {
	case w.snapReqs <- snapshotReq{reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.tick, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// offerSnapshot hands the committed state to the sink without blocking.
func (w *World) offerSnapshot() error {
	if w.snapshotSink == nil {
		return ErrNoSnapshotSink
	}
	select {
	case w.snapshotSink <- w.ExportSnapshot():
		return nil
	default:
		return ErrSnapshotBusy
	}
}

func (w *World) serveSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	// One export covers every request that arrived during the tick.
	r := snapshotReply{tick: w.tick.Load(), err: w.offerSnapshot()}
	for _, req := range reqs {
		select {
		case req.reply <- r:
		default:
		}
	}
}
