package fleet

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

func testInput(t *testing.T, routes []sector.Route, fleets ...model.Fleet) Input {
	t.Helper()
	sec, err := sector.New(
		[]sector.Zone{{ID: 1, X: 0}, {ID: 2, X: 100}, {ID: 3, X: 200}},
		routes,
	)
	if err != nil {
		t.Fatalf("sector.New: %v", err)
	}
	def := tuning.Defaults()
	m := map[string]model.Fleet{}
	for _, f := range fleets {
		m[f.ID] = f
	}
	return Input{
		Fleets:    m,
		Stations:  map[string]model.Station{},
		Crises:    map[string]model.Crisis{},
		Pirates:   model.NewPirateState(),
		Pressure:  pressure.New(def.Pressure, sec.ZoneIDs()),
		Knowledge: knowledge.New(knowledge.ConfigFrom(def.Fog), sec.ZoneIDs()),
		Sector:    sec,
	}
}

var line = []sector.Route{{From: 1, To: 2}, {From: 2, To: 3}}

func scout(id string, intent *model.Intent) model.Fleet {
	f := NewFleet(tuning.Defaults().Fleets, id, model.RoleScout, 1)
	f.Intent = intent
	return f
}

func TestEvaluateRequiresIntent(t *testing.T) {
	eng := NewEngine(tuning.Defaults().Fleets)
	in := testInput(t, line)
	_, err := eng.Evaluate(in, scout("F000001", nil))
	if !errors.Is(err, ErrIntentRequired) {
		t.Fatalf("err=%v want ErrIntentRequired", err)
	}
}

func TestTiesResolveByPrecedence(t *testing.T) {
	costs := map[model.Action]float64{model.ActContinue: 0.5, model.ActDelay: 0.5, model.ActAbort: 0.5}
	for i := 0; i < 50; i++ {
		if got := Choose(costs, model.Actions); got != model.ActContinue {
			t.Fatalf("run %d: chose %s want Continue", i, got)
		}
	}
	if got := Choose(costs, []model.Action{model.ActDelay, model.ActAbort}); got != model.ActDelay {
		t.Fatalf("chose %s want Delay", got)
	}
	w := model.Weights{Safety: 1.0 / 3, Speed: 1.0 / 3, Yield: 1.0 / 3}
	a := Cost(w, model.Balanced, 0.1+0.2, 0, model.ActContinue)
	b := Cost(w, model.Balanced, 0.3, 0, model.ActContinue)
	if a != b {
		t.Fatalf("quantized costs differ: %v vs %v", a, b)
	}
}

func dangerous(autonomy model.Autonomy) model.Fleet {
	f := scout("F000001", &model.Intent{Task: model.TaskSurvey, TargetZone: 2})
	f.Risk = model.Cautious
	f.Autonomy = autonomy
	f.Awareness = model.Awareness{Zone: 2, PiratePressure: 100, Confidence: 1, Known: true}
	return f
}

func TestDecisionRespectsAutonomy(t *testing.T) {
	eng := NewEngine(tuning.Defaults().Fleets)
	cases := []struct {
		autonomy model.Autonomy
		want     model.Action
	}{
		{model.Manual, model.ActDelay},
		{model.Assisted, model.ActRequestSupport},
		{model.Autonomous, model.ActRetreat},
		{model.Strategic, model.ActRetreat},
	}
	for _, tc := range cases {
		f := dangerous(tc.autonomy)
		ev, err := eng.Evaluate(testInput(t, line, f), f)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if diff := ev.Risk.Total - 0.8; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("risk=%v want 0.8", ev.Risk.Total)
		}
		if ev.Chosen != tc.want {
			t.Fatalf("%s: chose %s want %s (costs %v)", tc.autonomy, ev.Chosen, tc.want, ev.Costs)
		}
		if _, ok := ev.Costs[model.ActReroute]; ok {
			t.Fatalf("reroute offered without an alternate path")
		}
	}
}

func TestRerouteNeedsAlternatePath(t *testing.T) {
	eng := NewEngine(tuning.Defaults().Fleets)
	tri := []sector.Route{{From: 1, To: 2, Risk: 0.9}, {From: 1, To: 3}, {From: 3, To: 2}}
	f := dangerous(model.Autonomous)
	ev, err := eng.Evaluate(testInput(t, tri, f), f)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.AltRoute != "R0001" {
		t.Fatalf("alt route=%q want R0001", ev.AltRoute)
	}
	if _, ok := ev.Costs[model.ActReroute]; !ok {
		t.Fatalf("reroute should be costed")
	}
}

func TestAwarenessReusesStaleObservation(t *testing.T) {
	eng := NewEngine(tuning.Defaults().Fleets)
	f := scout("F000001", &model.Intent{Task: model.TaskSurvey, TargetZone: 3})
	f.Awareness = model.Awareness{Zone: 3, PiratePressure: 42, Confidence: 0.9, ObservedMs: 500, Known: true}
	in := testInput(t, line, f)
	in.Pressure.Apply(0, []pressure.Delta{{Zone: 3, Pirate: 80}})
	ctx := model.TickContext{Tick: 20, NowMs: 2100, DtMs: 100}

	a := eng.awareness(ctx, in, f)
	if a.PiratePressure != 42 || a.ObservedMs != 500 {
		t.Fatalf("awareness=%+v want the stale observation", a)
	}
	if err := in.Knowledge.Refresh(3, knowledge.Threats, 2000, knowledge.Auto); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	a = eng.awareness(ctx, in, f)
	if a.PiratePressure != 80 || a.ObservedMs != 2100 {
		t.Fatalf("awareness=%+v want a fresh reading", a)
	}
}

type runner struct {
	eng  *Engine
	in   Input
	tick uint64
}

func (r *runner) step() Result {
	ctx := model.TickContext{Tick: r.tick, NowMs: int64(r.tick+1) * 100, DtMs: 100}
	res := r.eng.Step(ctx, r.in)
	r.in.Fleets = res.Fleets
	r.in.OreNodes = res.OreNodes
	r.tick++
	return res
}

func TestSurveyRunRefreshesEveryLayer(t *testing.T) {
	r := &runner{eng: NewEngine(tuning.Defaults().Fleets)}
	r.in = testInput(t, line, scout("F000001", &model.Intent{Task: model.TaskSurvey, TargetZone: 2}))
	var layers []knowledge.Layer
	for r.tick < 700 {
		for _, req := range r.step().Refreshes {
			if req.Zone == 2 {
				layers = append(layers, req.Layer)
			}
		}
	}
	want := []knowledge.Layer{knowledge.Geography, knowledge.Existence, knowledge.Geography, knowledge.Resources, knowledge.Threats, knowledge.Stability}
	if len(layers) != len(want) {
		t.Fatalf("refreshes=%v want %v", layers, want)
	}
	for i := range want {
		if layers[i] != want[i] {
			t.Fatalf("refreshes=%v want %v", layers, want)
		}
	}
	f := r.in.Fleets["F000001"]
	if f.Intent != nil || f.Zone != 1 {
		t.Fatalf("fleet=%+v want home with no intent", f)
	}
}

func TestResupplyDeliversCargoFuel(t *testing.T) {
	r := &runner{eng: NewEngine(tuning.Defaults().Fleets)}
	r.in = testInput(t, line, scout("F000001", &model.Intent{Task: model.TaskResupply, TargetZone: 2, TargetID: "S000001"}))
	r.in.Stations["S000001"] = model.Station{ID: "S000001", Kind: model.FuelDepot, State: model.Failing, Zone: 2, FuelCapacity: 120}
	var got []model.FuelDelivery
	for r.tick < 100 && len(got) == 0 {
		got = append(got, r.step().Deliveries...)
	}
	if len(got) != 1 || got[0].Amount != tuning.Defaults().Fleets.CargoFuel || got[0].StationID != "S000001" {
		t.Fatalf("deliveries=%+v", got)
	}
}

func TestMineAmountClamps(t *testing.T) {
	cases := []struct{ avail, rate, free, want float64 }{
		{5, 10, 3, 3},
		{5, 10, 10, 5},
		{5, 0.5, 10, 0.5},
		{5, 0, 10, 0},
		{5, 10, 0, 0},
		{0, 1, 10, 0},
	}
	for _, tc := range cases {
		if got := MineAmount(tc.avail, tc.rate, tc.free); got != tc.want {
			t.Fatalf("MineAmount(%v, %v, %v)=%v want %v", tc.avail, tc.rate, tc.free, got, tc.want)
		}
	}
}

func TestMinersShareOneNode(t *testing.T) {
	miner := func(id string) model.Fleet {
		f := NewFleet(tuning.Defaults().Fleets, id, model.RoleMining, 1)
		f.Intent = &model.Intent{Task: model.TaskMine, TargetZone: 2}
		return f
	}
	r := &runner{eng: NewEngine(tuning.Defaults().Fleets)}
	r.in = testInput(t, line, miner("F000001"), miner("F000002"))
	r.in.OreNodes = map[sector.ZoneID]model.OreNode{2: {Zone: 2, Remaining: 1, Capacity: 1}}

	var delivered float64
	exhausted := 0
	for r.tick < 2000 {
		res := r.step()
		delivered += res.OreDelivered
		for _, p := range res.Problems {
			if strings.Contains(p.Text, "ore in zone 2 exhausted") {
				exhausted++
			}
		}
	}
	if n := r.in.OreNodes[2]; n.Remaining != 0 {
		t.Fatalf("node=%+v want empty", n)
	}
	if math.Abs(delivered-1) > 1e-9 {
		t.Fatalf("delivered=%v want exactly the node's 1 ore", delivered)
	}
	if exhausted != 2 {
		t.Fatalf("exhausted reports=%d want one per miner", exhausted)
	}
	for _, id := range []string{"F000001", "F000002"} {
		if f := r.in.Fleets[id]; f.Intent != nil || f.Zone != 1 {
			t.Fatalf("fleet=%+v want home with no intent", f)
		}
	}
}

func TestEmptyTankAwayFromHomeDisablesThenAbandons(t *testing.T) {
	f := scout("F000001", nil)
	f.Zone = 3
	f.Fuel = 0.0001
	r := &runner{eng: NewEngine(tuning.Defaults().Fleets)}
	r.in = testInput(t, line, f)
	r.step()
	got := r.in.Fleets["F000001"]
	if got.State != model.FleetDisabled || got.DisabledAtMs != 100 {
		t.Fatalf("fleet=%+v want Disabled at 100ms", got)
	}
	for r.tick < 2000 {
		res := r.step()
		if len(res.Terminal) == 0 {
			continue
		}
		ev := res.Terminal[0]
		if ev.Kind != model.TerminalFleet || ev.EntityID != "F000001" {
			t.Fatalf("terminal=%+v", ev)
		}
		if now := int64(r.tick) * 100; now != 120_100 {
			t.Fatalf("abandoned at %dms want 120100", now)
		}
		return
	}
	t.Fatalf("fleet was never abandoned")
}

func TestSupportRequestDispatchesIdleSecurity(t *testing.T) {
	req := dangerous(model.Assisted)
	guard := NewFleet(tuning.Defaults().Fleets, "F000002", model.RoleSecurity, 1)
	r := &runner{eng: NewEngine(tuning.Defaults().Fleets)}
	r.in = testInput(t, line, req, guard)
	r.in.Pressure.Apply(0, []pressure.Delta{{Zone: 2, Pirate: 100}})
	_ = r.in.Knowledge.Refresh(2, knowledge.Threats, 0, knowledge.Auto)
	r.step()
	g := r.in.Fleets["F000002"]
	if g.Intent == nil || g.Intent.Task != model.TaskPatrol || g.Intent.TargetZone != 2 {
		t.Fatalf("guard intent=%+v want patrol of zone 2", g.Intent)
	}
}
