package worldtest

import (
	"bytes"
	"testing"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	world "github.com/larksoftware/xstaradventures/internal/sim/world"
)

// script is a fixed command stream keyed by tick.
func script() map[int][]command.Command {
	return map[int][]command.Command{
		0: {
			{Type: command.ChangeIntent, FleetID: "F000001", Task: "Survey", Zone: 3},
			{Type: command.ChangeIntent, FleetID: "F000002", Task: "Mine", Zone: 2},
		},
		5: {
			{Type: command.BuildStation, Zone: 2, Kind: "SensorStation"},
		},
		40: {
			{Type: command.MovePlayer, Zone: 2},
			{Type: command.DebugSpawn, Zone: 2, Kind: "Raider", Strength: 4},
		},
		120: {
			{Type: command.ChangeIntent, FleetID: "F000003", Task: "Patrol", Zone: 2},
		},
	}
}

func runScript(h *Harness, from, to int) {
	s := script()
	for i := from; i < to; i++ {
		h.Step(s[i]...)
	}
}

func encode(t *testing.T, snap snapshot.SnapshotV1) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, snap, false); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestDeterminism_FixedCommandsSameDigest(t *testing.T) {
	cfg := world.WorldConfig{ID: "test", Debug: true}
	h1 := NewHarness(t, cfg, Frontier(), tuning.Defaults())
	h2 := NewHarness(t, cfg, Frontier(), tuning.Defaults())

	runScript(h1, 0, 600)
	runScript(h2, 0, 600)

	for i := range h1.Digests {
		if h1.Digests[i] != h2.Digests[i] {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", i, h1.Digests[i], h2.Digests[i])
		}
	}
	if !bytes.Equal(encode(t, h1.Snapshot()), encode(t, h2.Snapshot())) {
		t.Fatalf("snapshot bytes differ after identical runs")
	}
}

func TestDeterminism_CommandChangesDigest(t *testing.T) {
	cfg := world.WorldConfig{ID: "test", Debug: true}
	h1 := NewHarness(t, cfg, Frontier(), tuning.Defaults())
	h2 := NewHarness(t, cfg, Frontier(), tuning.Defaults())

	h1.Step()
	h2.Step(command.Command{Type: command.MovePlayer, Zone: 2})
	if h1.Digests[0] == h2.Digests[0] {
		t.Fatalf("digest unchanged by accepted command")
	}
}

func TestDeterminism_SaveLoadContinuesIdentically(t *testing.T) {
	for _, name := range []string{"mid.json", "mid.snap.zst"} {
		t.Run(name, func(t *testing.T) {
			cfg := world.WorldConfig{ID: "test", Debug: true}
			straight := NewHarness(t, cfg, Frontier(), tuning.Defaults())
			runScript(straight, 0, 400)

			reloaded := NewHarness(t, cfg, Frontier(), tuning.Defaults())
			runScript(reloaded, 0, 200)
			before := reloaded.W.Digest()
			reloaded.Reload(t.TempDir(), name)
			if got := reloaded.W.CurrentTick(); got != 200 {
				t.Fatalf("tick after load=%d want 200", got)
			}
			if got := reloaded.W.Digest(); got != before {
				t.Fatalf("digest changed by save/load: %s vs %s", got, before)
			}
			runScript(reloaded, 200, 400)

			for i := 200; i < 400; i++ {
				if straight.Digests[i] != reloaded.Digests[i] {
					t.Fatalf("diverged at tick %d", i)
				}
			}
		})
	}
}

func TestSnapshotRejectsTickRateMismatch(t *testing.T) {
	h := NewHarness(t, world.WorldConfig{}, Frontier(), tuning.Defaults())
	h.StepFor(3)
	tun := tuning.Defaults()
	tun.TickRateHz = 20
	if _, err := world.NewFromSnapshot(world.WorldConfig{}, h.Snapshot(), tun); err == nil {
		t.Fatalf("expected error for mismatched tick rate")
	}
}
