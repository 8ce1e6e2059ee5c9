package pirate

import (
	"math"
	"testing"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

func testInput(t *testing.T) (Input, *Engine) {
	t.Helper()
	sec, err := sector.New(
		[]sector.Zone{{ID: 1, X: 0}, {ID: 2, X: 120}, {ID: 3, X: 240}, {ID: 4, X: 360}},
		[]sector.Route{{From: 1, To: 2}, {From: 2, To: 3}, {From: 3, To: 4}},
	)
	if err != nil {
		t.Fatalf("sector.New: %v", err)
	}
	eng := NewEngine(tuning.Defaults().Pirates)
	st := model.NewPirateState()
	b, k := eng.NewBase("B000001", "K000001", 3, 1, 1, 0)
	st.Bases[b.ID] = b
	st.Bosses[k.ID] = k
	return Input{
		Pirates:  st,
		Stations: map[string]model.Station{},
		Fleets:   map[string]model.Fleet{},
		Pressure: pressure.New(tuning.Defaults().Pressure, sec.ZoneIDs()),
		Sector:   sec,
		Player:   model.Player{Zone: 1},
	}, eng
}

type spawn struct {
	atMs int64
	kind model.GroupKind
}

// run steps from tick 0 until untilMs, feeding each result back in.
func run(eng *Engine, in *Input, fromTick uint64, untilMs int64) (uint64, []spawn) {
	var out []spawn
	tick := fromTick
	for int64(tick)*100 < untilMs {
		ctx := model.TickContext{Tick: tick, NowMs: int64(tick+1) * 100, DtMs: 100}
		res := eng.Step(ctx, *in)
		in.Pirates = res.Pirates
		in.NextGroup = res.NextGroup
		for _, g := range res.Spawned {
			out = append(out, spawn{atMs: ctx.NowMs, kind: g.Kind})
		}
		tick++
	}
	return tick, out
}

func TestEpochAndTierAreMonotonic(t *testing.T) {
	_, eng := testInput(t)
	cases := []struct {
		min   float64
		epoch int
	}{{0, 0}, {14.9, 0}, {15, 1}, {39, 1}, {40, 2}, {80, 3}, {500, 3}}
	for _, tc := range cases {
		if got := eng.EpochAt(tuning.Ms(tc.min * 60)); got != tc.epoch {
			t.Fatalf("EpochAt(%v min)=%d want %d", tc.min, got, tc.epoch)
		}
	}
	last := 0
	for ms := int64(0); ms < 3*3600_000; ms += 7_000 {
		tier := eng.Tier(ms)
		if tier < last {
			t.Fatalf("tier regressed at %dms: %d < %d", ms, tier, last)
		}
		last = tier
	}
	if eng.Tier(25*60_000) != 3 {
		t.Fatalf("tier at 25 min=%d want 3", eng.Tier(25*60_000))
	}

	in, _ := testInput(t)
	in.Pirates.Epoch = model.EpochSyndicates
	res := eng.Step(model.TickContext{Tick: 0, NowMs: 100, DtMs: 100}, in)
	if res.Pirates.Epoch != model.EpochSyndicates {
		t.Fatalf("epoch regressed to %s", res.Pirates.Epoch)
	}
}

func TestBossPhaseClock(t *testing.T) {
	in, eng := testInput(t)
	b := in.Pirates.Bases["B000001"]
	b.SpawnBudget = 0
	b.NextRegenMs = math.MaxInt64
	in.Pirates.Bases[b.ID] = b
	in.Player.Zone = 2

	_, spawns := run(eng, &in, 0, 300_000)
	var waveA, waveB, overrun []int64
	for _, s := range spawns {
		switch s.kind {
		case model.GroupWaveA:
			waveA = append(waveA, s.atMs)
		case model.GroupWaveB:
			waveB = append(waveB, s.atMs)
		case model.GroupOverrun:
			overrun = append(overrun, s.atMs)
		default:
			t.Fatalf("unexpected %s spawn at %d", s.kind, s.atMs)
		}
	}
	wantA := []int64{20_000, 40_000, 60_000, 80_000, 100_000, 120_000}
	if !equal(waveA, wantA) {
		t.Fatalf("WaveA at %v want %v", waveA, wantA)
	}
	if !equal(waveB, []int64{120_000, 165_000}) {
		t.Fatalf("WaveB at %v", waveB)
	}
	wantO := []int64{180_000, 220_000, 255_000, 285_000}
	if !equal(overrun, wantO) {
		t.Fatalf("Overrun at %v want %v", overrun, wantO)
	}
	if got := in.Pirates.Bases["B000001"].Encounter.Phase; got != model.PhaseOverrun {
		t.Fatalf("phase=%s", got)
	}
	if !in.Pirates.Bosses["K000001"].Enraged {
		t.Fatalf("boss should be enraged during overrun")
	}
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOverrunIntervalShrinksToFloor(t *testing.T) {
	_, eng := testInput(t)
	want := []int64{40_000, 35_000, 30_000, 25_000, 20_000, 15_000, 10_000, 10_000}
	for i, w := range want {
		if got := eng.OverrunInterval(i + 1); got != w {
			t.Fatalf("interval(%d)=%d want %d", i+1, got, w)
		}
	}
}

func TestRetreatIsASetbackNotALoss(t *testing.T) {
	in, eng := testInput(t)
	in.Player.Zone = 3
	tick, _ := run(eng, &in, 0, 10_000)
	in.Player.Zone = 1
	run(eng, &in, tick, 10_100)

	b := in.Pirates.Bases["B000001"]
	k := in.Pirates.Bosses["K000001"]
	if b.Encounter.Active || b.Cleared {
		t.Fatalf("base=%+v", b)
	}
	if k.Notoriety != 10 || !k.Alive {
		t.Fatalf("boss=%+v want notoriety 10 and alive", k)
	}
	if b.EffectiveRadius(10_100) != 2 {
		t.Fatalf("radius=%d want boosted to 2", b.EffectiveRadius(10_100))
	}
	if b.RadiusBoostUntilMs != 10_100+330_000 {
		t.Fatalf("boost until=%d", b.RadiusBoostUntilMs)
	}
}

// The boost from a retreat reaches the zone the player retreated to. Sitting
// there must not restart the encounter, and the boost running out must not
// count as a second retreat.
func TestIdleAfterRetreatDoesNotRepeatSetback(t *testing.T) {
	in, eng := testInput(t)
	in.Player.Zone = 2
	tick, _ := run(eng, &in, 0, 20_000)
	if !in.Pirates.Bases["B000001"].Encounter.Active {
		t.Fatalf("encounter should be active with the player one hop away")
	}
	in.Player.Zone = 1
	_, spawns := run(eng, &in, tick, 2_000_000)

	b := in.Pirates.Bases["B000001"]
	k := in.Pirates.Bosses["K000001"]
	if k.Notoriety != 10 {
		t.Fatalf("notoriety=%v want 10 after a single retreat", k.Notoriety)
	}
	if b.Encounter.Active {
		t.Fatalf("encounter restarted while the player stayed put: %+v", b.Encounter)
	}
	for _, s := range spawns {
		switch s.kind {
		case model.GroupWaveA, model.GroupWaveB, model.GroupOverrun:
			t.Fatalf("%s wave at %d after the retreat", s.kind, s.atMs)
		}
	}
}

func TestMovingIntoBoostedRadiusStartsEncounter(t *testing.T) {
	in, eng := testInput(t)
	sec, err := sector.New(
		[]sector.Zone{{ID: 1, X: 0}, {ID: 2, X: 120}, {ID: 3, X: 240}, {ID: 4, X: 360}, {ID: 5, X: -120}},
		[]sector.Route{{From: 1, To: 2}, {From: 2, To: 3}, {From: 3, To: 4}, {From: 5, To: 1}},
	)
	if err != nil {
		t.Fatalf("sector.New: %v", err)
	}
	in.Sector = sec
	in.Pressure = pressure.New(tuning.Defaults().Pressure, sec.ZoneIDs())
	in.Player.Zone = 1
	tick, _ := run(eng, &in, 0, 1_000)

	// A boost alone does not pull in a player who stays put.
	b := in.Pirates.Bases["B000001"]
	b.RadiusBoostUntilMs = 100_000
	in.Pirates.Bases[b.ID] = b
	tick, _ = run(eng, &in, tick, 2_000)
	if in.Pirates.Bases["B000001"].Encounter.Active {
		t.Fatalf("boost should not start an encounter around a stationary player")
	}

	in.Player.Zone = 5
	tick, _ = run(eng, &in, tick, 3_000)
	in.Player.Zone = 1
	tick, _ = run(eng, &in, tick, 4_000)
	if !in.Pirates.Bases["B000001"].Encounter.Active {
		t.Fatalf("moving into the boosted radius should start an encounter")
	}

	// The boost lapses with the player still in zone 1.
	run(eng, &in, tick, 100_100)
	b = in.Pirates.Bases["B000001"]
	if b.Encounter.Active {
		t.Fatalf("encounter should end once the boost lapses")
	}
	if k := in.Pirates.Bosses["K000001"]; k.Notoriety != 0 {
		t.Fatalf("notoriety=%v want 0, the player never retreated", k.Notoriety)
	}
}

func TestGroupsCarryRunTier(t *testing.T) {
	in, eng := testInput(t)
	b := in.Pirates.Bases["B000001"]
	b.SpawnBudget = 0
	b.NextRegenMs = math.MaxInt64
	in.Pirates.Bases[b.ID] = b
	in.Player.Zone = 2

	from := uint64(30 * 60_000 / 100)
	_, spawns := run(eng, &in, from, 30*60_000+25_000)
	if len(spawns) == 0 {
		t.Fatalf("expected a wave within 25s of the encounter starting")
	}
	want := eng.Tier(30 * 60_000)
	if want == in.Pirates.Bases["B000001"].Tier {
		t.Fatalf("run tier %d should differ from base tier", want)
	}
	for id, g := range in.Pirates.Groups {
		if g.Tier != want {
			t.Fatalf("group %s tier=%d want run tier %d", id, g.Tier, want)
		}
	}
}

func TestSpawnBudgetCapFollowsBaseTier(t *testing.T) {
	in, eng := testInput(t)
	b := in.Pirates.Bases["B000001"]
	b.SpawnBudget = 0
	b.NextSpawnMs = math.MaxInt64
	in.Pirates.Bases[b.ID] = b

	run(eng, &in, 0, 60*60_000)
	b = in.Pirates.Bases["B000001"]
	if b.SpawnBudget != spawnBudgetCap(b.Tier) {
		t.Fatalf("budget=%d want cap %d for tier %d", b.SpawnBudget, spawnBudgetCap(b.Tier), b.Tier)
	}
	fresh, _ := eng.NewBase("B000002", "K000002", 4, 1, 1, 60*60_000)
	if fresh.SpawnBudget != b.SpawnBudget {
		t.Fatalf("new base budget=%d regen cap=%d", fresh.SpawnBudget, b.SpawnBudget)
	}
}

func TestBossDefeatDisplacesPressure(t *testing.T) {
	in, eng := testInput(t)
	in.Pressure.Apply(0, []pressure.Delta{{Zone: 3, Pirate: 50}})
	ApplyBossDamage(&in.Pirates, model.BossDamage{BaseID: "B000001", Amount: 1000})
	res := eng.Step(model.TickContext{Tick: 0, NowMs: 100, DtMs: 100}, in)

	if res.Pirates.Bosses["K000001"].Alive || !res.Pirates.Bases["B000001"].Cleared {
		t.Fatalf("boss should be dead and base cleared")
	}
	if len(res.Terminal) != 1 || res.Terminal[0].Kind != model.TerminalBase {
		t.Fatalf("terminal=%+v", res.Terminal)
	}
	in.Pressure.Apply(100, res.Deltas)
	if got := in.Pressure.Pirate(3); math.Abs(got-10) > 1e-9 {
		t.Fatalf("base zone pressure=%v want 10", got)
	}
	if got := in.Pressure.Pirate(2); math.Abs(got-10) > 1e-9 {
		t.Fatalf("neighbour pressure=%v want 10", got)
	}
	if !in.Pressure.Suppressed(3, 100) {
		t.Fatalf("base zone should be suppressed")
	}
}

func TestTargetTieBreaksOnLowestID(t *testing.T) {
	in, eng := testInput(t)
	for _, id := range []string{"S000007", "S000003"} {
		in.Stations[id] = model.Station{ID: id, Kind: model.FuelDepot, State: model.Operational, Zone: 2, Integrity: 100, FuelCapacity: 10, Fuel: 10}
	}
	c, ok := eng.SelectTarget(in, 3, model.DoctrineRaider, 0)
	if !ok || c.ID != "S000003" {
		t.Fatalf("target=%+v ok=%v want S000003", c, ok)
	}
}

func TestGroupRaidsAndRoutes(t *testing.T) {
	in, eng := testInput(t)
	in.Stations["S000001"] = model.Station{ID: "S000001", Kind: model.MiningOutpost, State: model.Operational, Zone: 2, Integrity: 100, FuelCapacity: 30, Fuel: 30, LastRaidMs: -1}
	in.Pirates.Groups["G000001"] = model.PirateGroup{ID: "G000001", Kind: model.GroupSkiff, Doctrine: model.DoctrineRaider, BaseDoctrine: model.DoctrineRaider, Strength: 10, Origin: "B000001", Zone: 3, TargetID: "S000001", TargetZone: 2, RaidsLeft: 3}
	in.NextGroup = 1
	b := in.Pirates.Bases["B000001"]
	b.SpawnBudget = 0
	in.Pirates.Bases[b.ID] = b

	var raids []model.Raid
	for tick := uint64(0); tick < 100; tick++ {
		ctx := model.TickContext{Tick: tick, NowMs: int64(tick+1) * 100, DtMs: 100}
		res := eng.Step(ctx, in)
		in.Pirates = res.Pirates
		raids = append(raids, res.Raids...)
	}
	if len(raids) != 1 || raids[0].StationID != "S000001" || raids[0].Damage != 2 {
		t.Fatalf("raids=%+v want one 2-damage raid after a 2s hop", raids)
	}

	ApplyGroupDamage(&in.Pirates, model.GroupDamage{Zone: 2, Amount: 25})
	res := eng.Step(model.TickContext{Tick: 100, NowMs: 10_100, DtMs: 100}, in)
	if _, ok := res.Pirates.Groups["G000001"]; ok {
		t.Fatalf("routed group should be removed")
	}
}
