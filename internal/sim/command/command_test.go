package command

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/larksoftware/xstaradventures/internal/protocol"
	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

type fakeView struct {
	now      int64
	sec      *sector.Sector
	player   sector.ZoneID
	ore      float64
	fleets   map[string]model.Fleet
	stations map[string]model.Station
	bases    map[string]model.PirateBase
	control  map[sector.ZoneID]model.Control
	know     *knowledge.Model
}

func (v *fakeView) NowMs() int64              { return v.now }
func (v *fakeView) Sector() *sector.Sector    { return v.sec }
func (v *fakeView) PlayerZone() sector.ZoneID { return v.player }
func (v *fakeView) PlayerOre() float64        { return v.ore }
func (v *fakeView) Fleet(id string) (model.Fleet, bool) {
	f, ok := v.fleets[id]
	return f, ok
}
func (v *fakeView) Station(id string) (model.Station, bool) {
	s, ok := v.stations[id]
	return s, ok
}
func (v *fakeView) StationsIn(z sector.ZoneID) []model.Station {
	var out []model.Station
	for _, id := range model.SortedKeys(v.stations) {
		if s := v.stations[id]; s.Zone == z {
			out = append(out, s)
		}
	}
	return out
}
func (v *fakeView) Base(id string) (model.PirateBase, bool) {
	b, ok := v.bases[id]
	return b, ok
}
func (v *fakeView) BaseInZone(z sector.ZoneID) (model.PirateBase, bool) {
	for _, id := range model.SortedKeys(v.bases) {
		if b := v.bases[id]; b.Zone == z && !b.Cleared {
			return b, true
		}
	}
	return model.PirateBase{}, false
}
func (v *fakeView) Control(z sector.ZoneID) model.Control { return v.control[z] }
func (v *fakeView) CanRefresh(z sector.ZoneID, l knowledge.Layer) error {
	return v.know.CanRefresh(z, l, v.now)
}

func newView(t *testing.T) *fakeView {
	t.Helper()
	sec, err := sector.New(
		[]sector.Zone{{ID: 1, X: 0}, {ID: 2, X: 100, OreFields: 2}, {ID: 3, X: 200}, {ID: 4, X: 300}},
		[]sector.Route{{From: 1, To: 2}, {From: 2, To: 3}},
	)
	if err != nil {
		t.Fatalf("sector.New: %v", err)
	}
	return &fakeView{
		now:    10_000,
		sec:    sec,
		player: 1,
		ore:    25,
		fleets: map[string]model.Fleet{
			"F000001": {ID: "F000001", Role: model.RoleScout, Home: 1, Zone: 1, State: model.FleetIdle},
			"F000002": {ID: "F000002", Role: model.RoleSecurity, Home: 1, Zone: 1, State: model.FleetIdle},
			"F000003": {ID: "F000003", Role: model.RoleMining, Home: 1, Zone: 3, State: model.FleetDisabled},
		},
		stations: map[string]model.Station{
			"S000001": {ID: "S000001", Kind: model.FuelDepot, State: model.Operational, Zone: 1, Fuel: 50, FuelCapacity: 120},
			"S000002": {ID: "S000002", Kind: model.MiningOutpost, State: model.Strained, Zone: 2, VerbReadyMs: 20_000, FleetJob: model.FleetJob{Role: model.RoleScout, RemainingMs: 60_000}},
			"S000003": {ID: "S000003", Kind: model.SensorStation, State: model.Failed, Zone: 3, Outcome: model.OutcomeCaptured},
			"S000004": {ID: "S000004", Kind: model.SensorStation, State: model.Failed, Zone: 2, Outcome: model.OutcomeAbandoned},
		},
		bases:   map[string]model.PirateBase{"B000001": {ID: "B000001", Zone: 3}},
		control: map[sector.ZoneID]model.Control{1: model.ControlPlayer, 2: model.ControlPlayer, 3: model.ControlPirate, 4: model.ControlNone},
		know:    knowledge.New(knowledge.ConfigFrom(tuning.Defaults().Fog), sec.ZoneIDs()),
	}
}

func newValidator(t *testing.T, debug bool) *Validator {
	t.Helper()
	v, err := NewValidator(tuning.Defaults(), debug)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func layer(i int) *int { return &i }

func TestDecodeRejectsMalformedCommands(t *testing.T) {
	v := newValidator(t, false)
	bad := []string{
		`not json`,
		`{}`,
		`{"type":"Teleport"}`,
		`{"type":"ChangeIntent","fleet_id":"F000001"}`,
		`{"type":"SetRiskTolerance","fleet_id":"F000001","risk_tolerance":"Reckless"}`,
		`{"type":"SetPriorityWeights","fleet_id":"F000001","weights":{"safety":-1,"speed":1,"yield":1}}`,
		`{"type":"MovePlayer","zone":2,"extra":true}`,
		`{"type":"RefreshKnowledge","zone":2}`,
	}
	for _, raw := range bad {
		_, err := v.Decode([]byte(raw))
		r := AsRejection(err)
		if r == nil || r.Code != protocol.ErrBadRequest {
			t.Fatalf("%s: err=%v want E_BAD_REQUEST", raw, err)
		}
	}
	c, err := v.Decode([]byte(`{"type":"RefreshKnowledge","zone":2,"layer":3}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.Type != RefreshKnowledge || c.Zone != 2 || c.Layer == nil || *c.Layer != 3 {
		t.Fatalf("decoded %+v", c)
	}
}

func TestCheckRejectionCodes(t *testing.T) {
	view := newView(t)
	if err := view.know.Refresh(2, knowledge.Threats, 5_000, knowledge.Manual); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	v := newValidator(t, false)
	cases := []struct {
		name string
		cmd  Command
		code string
	}{
		{"intent ok", Command{Type: ChangeIntent, FleetID: "F000001", Task: "Survey", Zone: 2}, ""},
		{"hold ok", Command{Type: ChangeIntent, FleetID: "F000001", Task: TaskHold}, ""},
		{"unknown fleet", Command{Type: ChangeIntent, FleetID: "F000099", Task: "Survey", Zone: 2}, protocol.ErrInvalidTarget},
		{"wrong role", Command{Type: ChangeIntent, FleetID: "F000001", Task: "Assault", Zone: 3}, protocol.ErrInvalidTarget},
		{"unreachable", Command{Type: ChangeIntent, FleetID: "F000001", Task: "Survey", Zone: 4}, protocol.ErrInvalidTarget},
		{"disabled", Command{Type: ChangeIntent, FleetID: "F000003", Task: "Mine", Zone: 2}, protocol.ErrInvalidTransition},
		{"assault needs base", Command{Type: ChangeIntent, FleetID: "F000002", Task: "Assault", Zone: 2}, protocol.ErrInvalidTarget},
		{"assault ok", Command{Type: ChangeIntent, FleetID: "F000002", Task: "Assault", Zone: 3}, ""},
		{"resupply dead station", Command{Type: ChangeIntent, FleetID: "F000001", Task: "Resupply", TargetID: "S000003"}, protocol.ErrInvalidTarget},
		{"escort by scout", Command{Type: AssignEscort, FleetID: "F000001", StationID: "S000001"}, protocol.ErrInvalidTarget},
		{"escort ok", Command{Type: AssignEscort, FleetID: "F000002", StationID: "S000001"}, ""},
		{"bad weights", Command{Type: SetPriorityWeights, FleetID: "F000001", Weights: &model.Weights{}}, protocol.ErrBadRequest},
		{"verb cooldown", Command{Type: StationVerb, StationID: "S000002", Verb: "Stabilize"}, protocol.ErrCooldown},
		{"evacuate not failing", Command{Type: StationVerb, StationID: "S000002", Verb: "Evacuate"}, protocol.ErrInvalidTransition},
		{"verb on failed", Command{Type: StationVerb, StationID: "S000003", Verb: "Downscale"}, protocol.ErrInvalidTransition},
		{"downscale ok", Command{Type: StationVerb, StationID: "S000002", Verb: "Downscale"}, ""},
		{"layer out of range", Command{Type: RefreshKnowledge, Zone: 2, Layer: layer(5)}, protocol.ErrInvalidLayer},
		{"refresh cooldown", Command{Type: RefreshKnowledge, Zone: 2, Layer: layer(3)}, protocol.ErrCooldown},
		{"refresh ok", Command{Type: RefreshKnowledge, Zone: 2, Layer: layer(2)}, ""},
		{"debug off", Command{Type: DebugReveal}, protocol.ErrDebugDisabled},
		{"build in pirate zone", Command{Type: BuildStation, Kind: "FuelDepot", Zone: 3}, protocol.ErrInvalidTarget},
		{"build ok", Command{Type: BuildStation, Kind: "FuelDepot", Zone: 4}, ""},
		{"fleet too expensive", Command{Type: BuildFleet, Role: "Scout", Zone: 1}, protocol.ErrNoResource},
		{"fleet without station", Command{Type: BuildFleet, Role: "Scout", Zone: 4}, protocol.ErrInvalidTarget},
		{"shipyard busy", Command{Type: BuildFleet, Role: "Mining", Zone: 2}, protocol.ErrInvalidTransition},
		{"move not adjacent", Command{Type: MovePlayer, Zone: 3}, protocol.ErrInvalidTarget},
		{"move ok", Command{Type: MovePlayer, Zone: 2}, ""},
		{"reclaim captured", Command{Type: ReclaimStation, StationID: "S000003"}, protocol.ErrInvalidTransition},
		{"reclaim ok", Command{Type: ReclaimStation, StationID: "S000004"}, ""},
	}
	for _, tc := range cases {
		err := v.Check(view, tc.cmd)
		if tc.code == "" {
			if err != nil {
				t.Fatalf("%s: unexpected %v", tc.name, err)
			}
			continue
		}
		r := AsRejection(err)
		if r == nil || r.Code != tc.code {
			t.Fatalf("%s: err=%v want %s", tc.name, err, tc.code)
		}
		if !protocol.IsKnownCode(r.Code) {
			t.Fatalf("%s: unknown code %s", tc.name, r.Code)
		}
	}
}

func TestDebugCommandsWhenEnabled(t *testing.T) {
	view := newView(t)
	v := newValidator(t, true)
	ok := []Command{
		{Type: DebugReveal},
		{Type: DebugSpawn, Zone: 2, Kind: "Corvette"},
		{Type: DebugRandomizeModifiers, Seed: 7},
		{Type: DebugDefeatBoss, TargetID: "B000001"},
	}
	for _, c := range ok {
		if err := v.Check(view, c); err != nil {
			t.Fatalf("%s: %v", c.Type, err)
		}
	}
	if err := v.Check(view, Command{Type: DebugSpawn, Zone: 2, Kind: "WaveA"}); AsRejection(err).Code != protocol.ErrBadRequest {
		t.Fatalf("wave kinds are not spawnable: %v", err)
	}
}

func TestQueueKeepsOrderAndLimit(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 3; i++ {
		seq, err := q.Push(Command{Type: MovePlayer, Zone: sector.ZoneID(i + 1)})
		if err != nil || seq != uint64(i+1) {
			t.Fatalf("push %d: seq=%d err=%v", i, seq, err)
		}
	}
	_, err := q.Push(Command{Type: MovePlayer})
	var r *Rejection
	if !errors.As(err, &r) || r.Code != protocol.ErrQueueFull {
		t.Fatalf("err=%v want E_QUEUE_FULL", err)
	}
	got := q.Drain()
	for i, c := range got {
		if c.Zone != sector.ZoneID(i+1) || c.Seq != uint64(i+1) {
			t.Fatalf("drain[%d]=%+v", i, c)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after drain")
	}
}

func TestQueueConcurrentPush(t *testing.T) {
	q := NewQueue(1000)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := q.Push(Command{Type: DebugReveal, TargetID: fmt.Sprintf("%d-%d", g, i)}); err != nil {
					t.Errorf("push: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()
	got := q.Drain()
	if len(got) != 400 {
		t.Fatalf("drained %d want 400", len(got))
	}
	for i, c := range got {
		if c.Seq != uint64(i+1) {
			t.Fatalf("seq gap at %d: %d", i, c.Seq)
		}
	}
}
