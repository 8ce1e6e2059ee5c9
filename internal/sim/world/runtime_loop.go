package world

import (
	"context"
	"time"

	"github.com/larksoftware/xstaradventures/internal/sim/command"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.tun.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []snapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.snapReqs:
			pending = append(pending, req)
		case <-ticker.C:
			w.stepInternal(w.queue.Drain())
			w.serveSnapshotRequests(pending)
			pending = pending[:0]
		}
	}
}

func (w *World) Stop() { w.once.Do(func() { close(w.stop) }) }

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic replays/tests. Commands are
// applied in the order given; queued commands are not drained.
func (w *World) StepOnce(cmds []command.Command) (tick uint64, digest string) {
	tick = w.tick.Load()
	digest = w.stepInternal(cmds)
	if digest == "" {
		digest = w.stateDigest()
	}
	return tick, digest
}

// stepInternal steps, then feeds the tick log, snapshot sink and frame
// subscribers. It returns the digest when one was computed.
func (w *World) stepInternal(cmds []command.Command) string {
	nowTick := w.tick.Load()
	rep := w.step(cmds)

	digest := ""
	if w.tickLogger != nil || w.hasSubscribers() {
		digest = w.stateDigest()
	}
	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(TickLogEntry{
			Tick:     nowTick,
			Commands: rep.accepted,
			Rejected: rep.rejected,
			Terminal: rep.terminal,
			Problems: rep.problems,
			Digest:   digest,
		}); err != nil {
			w.logf("tick log: %v", err)
		}
	}

	every := uint64(w.tun.SnapshotEveryTicks)
	if w.snapshotSink != nil && every > 0 && (nowTick+1)%every == 0 {
		if err := w.offerSnapshot(); err != nil {
			w.logf("tick %d: periodic snapshot skipped: %v", nowTick, err)
		}
	}

	w.broadcastFrame(digest, rep.problems)
	return digest
}
