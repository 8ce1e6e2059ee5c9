package crisis

import (
	"testing"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

func lineInput(t *testing.T, stations ...model.Station) Input {
	t.Helper()
	sec, err := sector.New(
		[]sector.Zone{{ID: 1, X: 0}, {ID: 2, X: 100}, {ID: 3, X: 200}, {ID: 4, X: 300}},
		[]sector.Route{{From: 1, To: 2}, {From: 2, To: 3}, {From: 3, To: 4}},
	)
	if err != nil {
		t.Fatalf("sector.New: %v", err)
	}
	m := map[string]model.Station{}
	for _, s := range stations {
		m[s.ID] = s
	}
	return Input{
		Stations: m,
		Crises:   map[string]model.Crisis{},
		Pressure: pressure.New(tuning.Defaults().Pressure, sec.ZoneIDs()),
		Sector:   sec,
		Pirates:  model.NewPirateState(),
	}
}

func station(id string, zone sector.ZoneID, state model.StationState, causes model.Cause) model.Station {
	return model.Station{ID: id, Kind: model.MiningOutpost, State: state, Zone: zone, Fuel: 10, FuelCapacity: 30, Integrity: 100, Causes: causes, LastRaidMs: -1}
}

var ctx = model.TickContext{Tick: 9, NowMs: 1000, DtMs: 100}

func TestCrisisOpensMirroringStationState(t *testing.T) {
	in := lineInput(t,
		station("S000001", 1, model.Operational, model.CauseLowFuel),
		station("S000002", 2, model.Strained, model.CauseHarassment|model.CauseIntegrity),
	)
	res := NewEngine(tuning.Defaults().Crisis).Step(ctx, in)
	if len(res.Crises) != 3 || res.NextCrisis != 3 {
		t.Fatalf("crises=%d next=%d want 3", len(res.Crises), res.NextCrisis)
	}
	c := res.Crises["C000001"]
	if c.Type != model.FuelShortage || c.Stage != model.StageStable || c.StationID != "S000001" {
		t.Fatalf("first crisis=%+v", c)
	}
	for _, id := range []string{"C000002", "C000003"} {
		if got := res.Crises[id].Stage; got != model.StageStrained {
			t.Fatalf("%s stage=%s want Strained", id, got)
		}
	}
	if res.Crises["C000002"].Type != model.PirateHarassment || res.Crises["C000003"].Type != model.StructuralFailure {
		t.Fatalf("dispatch order wrong: %+v", res.Crises)
	}
}

func TestOneOpenCrisisPerStationAndType(t *testing.T) {
	in := lineInput(t, station("S000001", 1, model.Strained, model.CauseLowFuel))
	eng := NewEngine(tuning.Defaults().Crisis)
	res := eng.Step(ctx, in)
	in.Crises = res.Crises
	in.NextCrisis = res.NextCrisis
	res = eng.Step(model.TickContext{Tick: 10, NowMs: 1100, DtMs: 100}, in)
	if len(res.Crises) != 1 {
		t.Fatalf("crises=%d want 1", len(res.Crises))
	}
}

func TestRecoveryResolvesAndArchives(t *testing.T) {
	in := lineInput(t, station("S000001", 1, model.Operational, model.CauseLowFuel))
	in.Crises["C000001"] = model.Crisis{ID: "C000001", Type: model.FuelShortage, Stage: model.StageStrained, StationID: "S000001", Zone: 1}
	res := NewEngine(tuning.Defaults().Crisis).Step(ctx, in)
	if _, open := res.Crises["C000001"]; open {
		t.Fatalf("crisis still open after recovery")
	}
	if len(res.Archived) != 1 || res.Archived[0].Stage != model.StageResolved {
		t.Fatalf("archived=%+v", res.Archived)
	}
}

func TestFailedStationEmitsOneTerminalEvent(t *testing.T) {
	s := station("S000001", 1, model.Failed, 0)
	s.FailReason = model.FailTimerExpired
	in := lineInput(t, s)
	in.Crises["C000001"] = model.Crisis{ID: "C000001", Type: model.FuelShortage, Stage: model.StageFailing, StationID: "S000001", Zone: 1}
	eng := NewEngine(tuning.Defaults().Crisis)
	res := eng.Step(ctx, in)
	if len(res.Terminal) != 1 {
		t.Fatalf("terminal=%d want 1", len(res.Terminal))
	}
	ev := res.Terminal[0]
	if ev.Outcome != model.OutcomeAbandoned || ev.CrisisID != "C000001" {
		t.Fatalf("event=%+v", ev)
	}
	s.Outcome = ev.Outcome
	in.Stations[s.ID] = s
	in.Crises = res.Crises
	if res = eng.Step(ctx, in); len(res.Terminal) != 0 {
		t.Fatalf("second terminal event for the same station: %+v", res.Terminal)
	}
}

func TestIntegrityFailureOutcomes(t *testing.T) {
	eng := NewEngine(tuning.Defaults().Crisis)
	cases := []struct {
		name    string
		pirate  float64
		faction float64
		base    bool
		want    model.Outcome
	}{
		{"faction dominant", 10, 30, false, model.OutcomeDestroyed},
		{"pirate dominant", 30, 10, false, model.OutcomeCaptured},
		{"pirate heavy", 70, 10, false, model.OutcomeTransformed},
		{"pirate heavy with base", 70, 10, true, model.OutcomeCaptured},
	}
	for _, tc := range cases {
		s := station("S000001", 2, model.Failed, 0)
		s.FailReason = model.FailIntegrityZero
		in := lineInput(t, s)
		in.Pressure.Apply(0, []pressure.Delta{{Zone: 2, Pirate: tc.pirate, Faction: tc.faction}})
		if tc.base {
			in.Pirates.Bases["B000001"] = model.PirateBase{ID: "B000001", Zone: 2, Tier: 1, Radius: 1}
		}
		if got := eng.Outcome(in, s); got != tc.want {
			t.Fatalf("%s: outcome=%s want %s", tc.name, got, tc.want)
		}
	}
}

func TestCascadeFalloffAndIsolation(t *testing.T) {
	cfg := tuning.Defaults().Crisis
	eng := NewEngine(cfg)
	in := lineInput(t,
		station("S000001", 1, model.Failing, model.CauseHarassment),
		station("S000002", 3, model.Operational, 0),
		station("S000003", 4, model.Operational, 0),
	)
	res := eng.Step(ctx, in)
	got := map[sector.ZoneID]float64{}
	for _, d := range res.Deltas {
		got[d.Zone] += d.Pirate
		if d.Faction != 0 {
			t.Fatalf("harassment should not add faction pressure: %+v", d)
		}
	}
	want := map[sector.ZoneID]float64{1: 0.012, 2: 0.0048, 3: 0.00192}
	for z, w := range want {
		if diff := got[z] - w; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("zone %d delta=%v want %v", z, got[z], w)
		}
	}
	if _, ok := got[4]; ok {
		t.Fatalf("cascade reached beyond 2 hops")
	}
	var affected []string
	for _, c := range res.Crises {
		affected = c.Affected
	}
	if len(affected) != 1 || affected[0] != "S000002" {
		t.Fatalf("affected=%v want [S000002]", affected)
	}

	s := in.Stations["S000001"]
	s.Isolated = true
	in.Stations["S000001"] = s
	res = eng.Step(ctx, in)
	for _, d := range res.Deltas {
		if d.Zone != 1 {
			t.Fatalf("isolated station cascaded to zone %d", d.Zone)
		}
	}
}
