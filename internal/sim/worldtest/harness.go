package worldtest

import (
	"path/filepath"
	"testing"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	world "github.com/larksoftware/xstaradventures/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Step()/StepFor() advance via StepOnce() with an explicit command list
// - Submit() goes through the same validation as the HTTP and websocket paths
// - Snapshot()/Reload() exercise the save file format end to end
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T   *testing.T
	Tun tuning.Tuning
	Cfg world.WorldConfig
	W   *world.World

	Digests []string
}

func NewHarness(t *testing.T, cfg world.WorldConfig, sc sector.Scenario, tun tuning.Tuning) *Harness {
	t.Helper()
	w, err := world.New(cfg, sc, tun)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return &Harness{T: t, Tun: tun, Cfg: cfg, W: w}
}

// Frontier is a four-zone line: home with a fuel depot, an ore-rich mining
// zone, an empty buffer zone and a pirate base at the far end.
func Frontier() sector.Scenario {
	return sector.Scenario{
		ID:         "frontier-test",
		Seed:       42,
		PlayerZone: 1,
		PlayerOre:  100,
		Zones: []sector.ZoneSpec{
			{ID: 1, Name: "Anchor", X: 0, Y: 0},
			{ID: 2, Name: "Vein", X: 120, Y: 0, OreFields: 3, Modifier: string(sector.ModRichOreVeins)},
			{ID: 3, Name: "Drift", X: 240, Y: 0},
			{ID: 4, Name: "Maw", X: 360, Y: 0},
		},
		Routes: []sector.RouteSpec{
			{From: 1, To: 2},
			{From: 2, To: 3, Risk: 0.2},
			{From: 3, To: 4, Risk: 0.4},
		},
		PirateBases: []sector.BaseSpec{{Zone: 4, Tier: 1, Radius: 1}},
		Stations: []sector.StationSpec{
			{Kind: "FuelDepot", Zone: 1, Operational: true},
			{Kind: "MiningOutpost", Zone: 2, Operational: true},
		},
		Fleets: []sector.FleetSpec{
			{Role: "Scout", Home: 1},
			{Role: "Mining", Home: 1},
			{Role: "Security", Home: 1, Autonomy: "Autonomous", RiskTolerance: "Balanced"},
		},
	}
}

// Step advances one tick with cmds applied at its boundary.
func (h *Harness) Step(cmds ...command.Command) string {
	h.T.Helper()
	_, d := h.W.StepOnce(cmds)
	h.Digests = append(h.Digests, d)
	return d
}

// StepFor advances n ticks without commands.
func (h *Harness) StepFor(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Step()
	}
}

// RunUntilMs steps until the world clock reaches ms.
func (h *Harness) RunUntilMs(ms int64) {
	h.T.Helper()
	for h.W.View().NowMs() < ms {
		h.Step()
	}
}

// Submit validates c against the current view and fails the test on
// rejection. The command still has to be stepped in with Step.
func (h *Harness) Submit(c command.Command) {
	h.T.Helper()
	if _, err := h.W.Submit(c); err != nil {
		h.T.Fatalf("submit %s: %v", c.Type, err)
	}
}

// Reject submits c and returns the rejection code.
func (h *Harness) Reject(c command.Command) string {
	h.T.Helper()
	_, err := h.W.Submit(c)
	if err == nil {
		h.T.Fatalf("submit %s: accepted, want rejection", c.Type)
	}
	return command.AsRejection(err).Code
}

func (h *Harness) Station(id string) model.Station {
	h.T.Helper()
	s, ok := h.W.View().Station(id)
	if !ok {
		h.T.Fatalf("unknown station %s", id)
	}
	return s
}

func (h *Harness) Fleet(id string) model.Fleet {
	h.T.Helper()
	f, ok := h.W.View().Fleet(id)
	if !ok {
		h.T.Fatalf("unknown fleet %s", id)
	}
	return f
}

func (h *Harness) Snapshot() snapshot.SnapshotV1 {
	return h.W.ExportSnapshot()
}

// Reload writes a snapshot to dir/name, reads it back and swaps the harness
// onto a world built from it.
func (h *Harness) Reload(dir, name string) {
	h.T.Helper()
	path := filepath.Join(dir, name)
	if err := snapshot.WriteSnapshot(path, h.Snapshot()); err != nil {
		h.T.Fatalf("write snapshot: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		h.T.Fatalf("read snapshot: %v", err)
	}
	w, err := world.NewFromSnapshot(h.Cfg, snap, h.Tun)
	if err != nil {
		h.T.Fatalf("NewFromSnapshot: %v", err)
	}
	h.W = w
}
