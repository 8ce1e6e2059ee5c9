package station

import (
	"errors"
	"testing"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

type harness struct {
	t     *testing.T
	eng   *Engine
	in    Input
	tick  uint64
	dtMs  int64
	trans []Transition
}

func newHarness(t *testing.T, cfg tuning.Stations, stations ...model.Station) *harness {
	t.Helper()
	sec, err := sector.New([]sector.Zone{{ID: 1, X: 0, Y: 0}, {ID: 2, X: 100, Y: 0}}, []sector.Route{{From: 1, To: 2}})
	if err != nil {
		t.Fatalf("sector.New: %v", err)
	}
	m := map[string]model.Station{}
	for _, s := range stations {
		m[s.ID] = s
	}
	return &harness{
		t:    t,
		eng:  NewEngine(cfg),
		dtMs: 100,
		in: Input{
			Stations:   m,
			Pressure:   pressure.New(tuning.Defaults().Pressure, sec.ZoneIDs()),
			Sector:     sec,
			PlayerZone: 2,
		},
	}
}

func (h *harness) step() Result {
	ctx := model.TickContext{Tick: h.tick, NowMs: int64(h.tick+1) * h.dtMs, DtMs: h.dtMs}
	res := h.eng.Step(ctx, h.in)
	h.tick++
	h.in.Stations = res.Stations
	h.trans = append(h.trans, res.Transitions...)
	for _, v := range res.Violations {
		h.t.Fatalf("unexpected violation: %s", v)
	}
	return res
}

func (h *harness) runUntil(ms int64) {
	for int64(h.tick)*h.dtMs < ms {
		h.step()
	}
}

func (h *harness) get(id string) model.Station { return h.in.Stations[id] }

func operational(cfg tuning.Stations, id string, kind model.StationKind, fuel float64) model.Station {
	s := NewStation(cfg, id, kind, 1, 0, 0, fuel, 0)
	MakeOperational(&s, 0)
	return s
}

func TestDeployingBecomesOperational(t *testing.T) {
	cfg := tuning.Defaults().Stations
	h := newHarness(t, cfg, NewStation(cfg, "S000001", model.SensorStation, 1, 0, 0, -1, 0))
	h.runUntil(89_900)
	if got := h.get("S000001").State; got != model.Deploying {
		t.Fatalf("state=%s before build completes", got)
	}
	h.runUntil(90_100)
	if got := h.get("S000001").State; got != model.Operational {
		t.Fatalf("state=%s want Operational after build", got)
	}
}

func TestDeployingWaitsForFuel(t *testing.T) {
	cfg := tuning.Defaults().Stations
	h := newHarness(t, cfg, NewStation(cfg, "S000001", model.SensorStation, 1, 0, 0, 1, 0))
	h.runUntil(120_000)
	if got := h.get("S000001").State; got != model.Deploying {
		t.Fatalf("state=%s want Deploying with fuel below 10%%", got)
	}
}

// Capacity 30, burn 1.0/min: fuel reaches 25% at 22.5 min and the station
// strains once that has held for 60s.
func TestLowFuelStrainsAfterSustainWindow(t *testing.T) {
	cfg := tuning.Defaults().Stations
	cfg.MiningOutpost.FuelCapacity = 30
	cfg.MiningOutpost.BurnPerMin = 1.0
	h := newHarness(t, cfg, operational(cfg, "S000001", model.MiningOutpost, 30))

	h.runUntil(23*60_000 + 24_000)
	if got := h.get("S000001").State; got != model.Operational {
		t.Fatalf("state=%s at 23.4 min, want Operational", got)
	}
	h.runUntil(23*60_000 + 31_000)
	s := h.get("S000001")
	if s.State != model.Strained {
		t.Fatalf("state=%s at 23.5 min, want Strained", s.State)
	}
	if !s.Causes.Has(model.CauseLowFuel) {
		t.Fatalf("causes=%b want low fuel", s.Causes)
	}
}

// Low fuel carried through construction does not count toward the sustain
// window; it starts when the station comes online.
func TestLowFuelWindowStartsAtOperational(t *testing.T) {
	cfg := tuning.Defaults().Stations
	h := newHarness(t, cfg, NewStation(cfg, "S000001", model.SensorStation, 1, 0, 0, 8, 0))
	h.runUntil(90_000)
	s := h.get("S000001")
	if s.State != model.Operational || s.LowFuelMs != 0 {
		t.Fatalf("state=%s low_fuel_ms=%d at build completion", s.State, s.LowFuelMs)
	}
	h.runUntil(149_900)
	if got := h.get("S000001").State; got != model.Operational {
		t.Fatalf("state=%s strained before a full window online", got)
	}
	h.runUntil(150_000)
	if got := h.get("S000001").State; got != model.Strained {
		t.Fatalf("state=%s want Strained 60s after coming online", got)
	}
}

func TestNeverSkipsStates(t *testing.T) {
	cfg := tuning.Defaults().Stations
	s := operational(cfg, "S000001", model.MiningOutpost, 0)
	s.Integrity = 0
	s.LowFuelMs = 10 * 60_000
	s.CriticalFuelMs = 10 * 60_000
	h := newHarness(t, cfg, s)
	h.step()
	if got := h.get("S000001").State; got != model.Strained {
		t.Fatalf("state=%s after one tick, want Strained", got)
	}
	h.runUntil(10 * 60_000)
	seen := map[model.StationState]bool{}
	for _, tr := range h.trans {
		seen[tr.To] = true
		switch {
		case tr.From == model.Operational && tr.To != model.Strained:
			t.Fatalf("illegal transition %s -> %s", tr.From, tr.To)
		case tr.From == model.Strained && tr.To == model.Failed:
			t.Fatalf("illegal transition %s -> %s", tr.From, tr.To)
		}
	}
	if !seen[model.Failing] || !seen[model.Failed] {
		t.Fatalf("transitions=%+v want Failing then Failed", h.trans)
	}
	if got := h.get("S000001").FailReason; got != model.FailIntegrityZero {
		t.Fatalf("fail reason=%s", got)
	}
}

func TestRecoveryNeedsAllConditions(t *testing.T) {
	cfg := tuning.Defaults().Stations
	s := operational(cfg, "S000001", model.MiningOutpost, -1)
	s.State = model.Strained
	s.LastRaidMs = 0
	h := newHarness(t, cfg, s)
	h.runUntil(20_000)
	if got := h.get("S000001").State; got != model.Strained {
		t.Fatalf("state=%s want Strained inside the raid recovery window", got)
	}
	h.runUntil(31_000)
	if got := h.get("S000001").State; got != model.Operational {
		t.Fatalf("state=%s want Operational after recovery window", got)
	}
}

func TestHarassmentStrainsAndSpikeFails(t *testing.T) {
	cfg := tuning.Defaults().Stations
	h := newHarness(t, cfg, operational(cfg, "S000001", model.FuelDepot, -1))
	h.runUntil(5_000)
	for i := 0; i < 3; i++ {
		s := h.get("S000001")
		ApplyRaid(&s, 1, 5_000)
		h.in.Stations["S000001"] = s
	}
	h.runUntil(10_100)
	if got := h.get("S000001").State; got != model.Strained {
		t.Fatalf("state=%s want Strained after a harassed window", got)
	}
	h.runUntil(24_000)
	for i := 0; i < 3; i++ {
		s := h.get("S000001")
		ApplyRaid(&s, 1, 24_000)
		h.in.Stations["S000001"] = s
	}
	h.runUntil(30_100)
	if got := h.get("S000001").State; got != model.Failing {
		t.Fatalf("state=%s want Failing after a raid spike", got)
	}
}

func TestInterventionPullsBackFromFailing(t *testing.T) {
	cfg := tuning.Defaults().Stations
	s := operational(cfg, "S000001", model.FuelDepot, -1)
	s.State = model.Failing
	s.FailingRemainingMs = 5_000
	s.Integrity = 60
	h := newHarness(t, cfg, s)
	h.runUntil(1_000)
	st := h.get("S000001")
	if err := ApplyVerb(cfg, &st, Reinforce, 1_000); err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	h.in.Stations["S000001"] = st
	h.step()
	if got := h.get("S000001").State; got != model.Strained {
		t.Fatalf("state=%s want Strained after intervention", got)
	}
}

func TestPlayerPresenceResetsFailingTimer(t *testing.T) {
	cfg := tuning.Defaults().Stations
	s := operational(cfg, "S000001", model.FuelDepot, -1)
	s.State = model.Failing
	s.Integrity = 20
	s.FailingRemainingMs = 1_000
	h := newHarness(t, cfg, s)
	h.in.PlayerZone = 1
	h.runUntil(60_000)
	st := h.get("S000001")
	if st.State != model.Failing {
		t.Fatalf("state=%s want Failing held by presence", st.State)
	}
	if st.FailingRemainingMs != tuning.Ms(cfg.FailingTimeoutSec) {
		t.Fatalf("timer=%d want reset", st.FailingRemainingMs)
	}
	h.in.PlayerZone = 2
	h.runUntil(60_000 + 181_000)
	st = h.get("S000001")
	if st.State != model.Failed || st.FailReason != model.FailTimerExpired {
		t.Fatalf("state=%s reason=%s want Failed/TimerExpired", st.State, st.FailReason)
	}
}

func TestVerbs(t *testing.T) {
	cfg := tuning.Defaults().Stations
	s := operational(cfg, "S000001", model.MiningOutpost, 3)
	if err := ApplyVerb(cfg, &s, Evacuate, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("evacuate while Operational: err=%v", err)
	}
	if err := ApplyVerb(cfg, &s, Stabilize, 0); err != nil {
		t.Fatalf("Stabilize: %v", err)
	}
	if s.Fuel != 3+0.25*s.FuelCapacity {
		t.Fatalf("fuel=%v", s.Fuel)
	}
	if err := ApplyVerb(cfg, &s, Reinforce, 10_000); !errors.Is(err, ErrVerbCooldown) {
		t.Fatalf("reinforce on cooldown: err=%v", err)
	}
	if err := ApplyVerb(cfg, &s, Downscale, 10_000); err != nil || !s.Downscaled {
		t.Fatalf("Downscale: err=%v downscaled=%v", err, s.Downscaled)
	}
	if _, err := ParseVerb("Explode"); !errors.Is(err, ErrUnknownVerb) {
		t.Fatalf("ParseVerb: err=%v", err)
	}
	d := NewStation(cfg, "S000002", model.FuelDepot, 1, 0, 0, -1, 0)
	if err := ApplyVerb(cfg, &d, Isolate, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("verb on Deploying station: err=%v", err)
	}
}

func TestDepotTransfersAndSensorSweeps(t *testing.T) {
	cfg := tuning.Defaults().Stations
	h := newHarness(t, cfg,
		operational(cfg, "S000001", model.MiningOutpost, 5),
		operational(cfg, "S000002", model.FuelDepot, -1),
		operational(cfg, "S000003", model.SensorStation, -1),
	)
	var sweeps int
	for int64(h.tick)*h.dtMs < 60_000 {
		sweeps += len(h.step().Refreshes)
	}
	if got := h.get("S000001").Fuel; got <= 5 {
		t.Fatalf("outpost fuel=%v want depot transfer", got)
	}
	if sweeps != 4 {
		t.Fatalf("sweep refreshes=%d want 2 sweeps of 2 zones", sweeps)
	}
}

func TestMiningProductionScalesWithRichness(t *testing.T) {
	cfg := tuning.Defaults().Stations
	h := newHarness(t, cfg, operational(cfg, "S000001", model.MiningOutpost, -1))
	rich, err := h.in.Sector.WithModifier(1, sector.ModRichOreVeins)
	if err != nil {
		t.Fatalf("WithModifier: %v", err)
	}
	h.in.Sector = rich
	h.runUntil(41_000)
	if got := h.get("S000001").Ore; got != 5 {
		t.Fatalf("ore=%v want 5 after 40s at high richness", got)
	}
}
