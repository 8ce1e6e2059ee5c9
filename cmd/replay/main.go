package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "github.com/larksoftware/xstaradventures/internal/persistence/log"
	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst to start from (default: tick 0 of -sector)")
		ticksDir   = flag.String("ticks", "", "dir containing ticks-*.jsonl.zst (default: <data>/worlds/<id>/ticks)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		configDir  = flag.String("configs", "./configs", "config directory")
		sectorPath = flag.String("sector", "", "path to sector.yaml (default: <configs>/sector.yaml)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fatalf("load tuning: %v", err)
		}
		tune = tuning.Defaults()
	}

	var w *world.World
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fatalf("read snapshot: %v", err)
		}
		fmt.Printf("snapshot v%d scenario=%s tick=%d seed=%d zones=%d stations=%d fleets=%d crises=%d\n",
			snap.Header.Version, snap.Header.ScenarioID, snap.Header.Tick, snap.Seed,
			len(snap.Zones), len(snap.Stations), len(snap.Fleets), len(snap.Crises))
		w, err = world.NewFromSnapshot(replayConfig(snap.Header.ScenarioID, snap.Seed), snap, tune)
		if err != nil {
			fatalf("import snapshot: %v", err)
		}
	} else {
		sp := strings.TrimSpace(*sectorPath)
		if sp == "" {
			sp = filepath.Join(*configDir, "sector.yaml")
		}
		sc, err := sector.LoadScenario(sp)
		if err != nil {
			fatalf("load sector: %v", err)
		}
		w, err = world.New(replayConfig(sc.ID, sc.Seed), sc, tune)
		if err != nil {
			fatalf("world: %v", err)
		}
		fmt.Printf("fresh scenario=%s seed=%d zones=%d\n", sc.ID, sc.Seed, len(sc.Zones))
	}

	dir := strings.TrimSpace(*ticksDir)
	if dir == "" {
		dir = persistlog.TickDir(filepath.Join(*dataDir, "worlds", w.ID()))
	}

	start := w.CurrentTick()
	res, err := replay(w, dir, *fromTick, *toTick)
	if err != nil {
		var mm *MismatchError
		if errors.As(err, &mm) {
			fmt.Fprintf(os.Stderr, "replay diverged after %d verified ticks: %v\n", res.Checked, err)
			os.Exit(3)
		}
		fatalf("replay: %v", err)
	}
	fmt.Printf("replay ok: checked=%d stepped=%d (from tick=%d, now tick=%d)\n", res.Checked, res.Stepped, start, w.CurrentTick())
}

// replayConfig accepts debug commands: anything in the log was already
// admitted by the live server.
func replayConfig(id string, seed int64) world.WorldConfig {
	return world.WorldConfig{ID: id, Seed: seed, Debug: true}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// MismatchError reports the first tick whose recomputed digest differs from
// the logged one.
type MismatchError struct {
	Tick uint64
	Got  string
	Want string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch at tick %d: got=%s want=%s", e.Tick, e.Got, e.Want)
}

type result struct {
	Stepped uint64
	Checked uint64
}

// replay re-steps every logged tick from w's current tick onwards and
// compares digests from verifyFrom on. toTick of 0 means no upper bound.
func replay(w *world.World, dir string, verifyFrom, toTick uint64) (result, error) {
	var res result
	start := w.CurrentTick()
	if verifyFrom < start {
		verifyFrom = start
	}
	err := persistlog.ReadTicks(dir, func(e world.TickLogEntry) error {
		if e.Tick < start {
			return nil
		}
		if toTick != 0 && e.Tick > toTick {
			return persistlog.ErrStop
		}
		if e.Tick != w.CurrentTick() {
			return fmt.Errorf("tick gap: want=%d got=%d", w.CurrentTick(), e.Tick)
		}

		tick, digest := w.StepOnce(logCommands(e))
		res.Stepped++
		if tick != e.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tick, e.Tick)
		}
		if tick < verifyFrom || e.Digest == "" {
			return nil
		}
		res.Checked++
		if digest != e.Digest {
			return &MismatchError{Tick: tick, Got: digest, Want: e.Digest}
		}
		return nil
	})
	if err == nil && res.Stepped == 0 {
		err = fmt.Errorf("no ticks at or after %d in %s", start, dir)
	}
	return res, err
}

// logCommands rebuilds the boundary input of a logged tick. Rejected
// commands go back in too; they were drained from the queue and rejecting
// them again leaves the same trail.
func logCommands(e world.TickLogEntry) []command.Command {
	cmds := make([]command.Command, 0, len(e.Commands)+len(e.Rejected))
	cmds = append(cmds, e.Commands...)
	for _, r := range e.Rejected {
		cmds = append(cmds, r.Command)
	}
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Seq < cmds[j].Seq })
	return cmds
}
