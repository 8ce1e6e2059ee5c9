package station

import (
	"errors"
	"strings"
	"testing"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

func TestShipyardPicksLowestFreeStation(t *testing.T) {
	list := []model.Station{
		{ID: "S000001", State: model.Deploying},
		{ID: "S000002", State: model.Operational, FleetJob: model.FleetJob{Role: model.RoleScout, RemainingMs: 1}},
		{ID: "S000003", State: model.Strained},
		{ID: "S000004", State: model.Operational},
	}
	s, err := Shipyard(list)
	if err != nil || s.ID != "S000003" {
		t.Fatalf("shipyard=%s err=%v want S000003", s.ID, err)
	}
	if _, err := Shipyard(list[:2]); !errors.Is(err, ErrShipyardBusy) {
		t.Fatalf("err=%v want ErrShipyardBusy", err)
	}
	if _, err := Shipyard(list[:1]); !errors.Is(err, ErrNoShipyard) {
		t.Fatalf("err=%v want ErrNoShipyard", err)
	}
	busy := list[1]
	if err := StartFleetJob(&busy, model.RoleMining, 1_000); !errors.Is(err, ErrShipyardBusy) {
		t.Fatalf("second job err=%v", err)
	}
}

func TestFleetJobRunsOnlyWhileOperational(t *testing.T) {
	cfg := tuning.Defaults().Stations
	s := operational(cfg, "S000001", model.MiningOutpost, 5)
	s.State = model.Strained
	if err := StartFleetJob(&s, model.RoleScout, 1_000); err != nil {
		t.Fatalf("StartFleetJob: %v", err)
	}
	h := newHarness(t, cfg, s)
	h.runUntil(60_000)
	got := h.get("S000001")
	if got.State != model.Strained || got.FleetJob.RemainingMs != 1_000 {
		t.Fatalf("state=%s job=%+v want paused while Strained", got.State, got.FleetJob)
	}

	// A full tank recovers the station on the next tick and the job resumes.
	got.Fuel = got.FuelCapacity
	h.in.Stations[got.ID] = got
	var launches []Launch
	for i := 0; i < 20; i++ {
		launches = append(launches, h.step().Launches...)
	}
	if len(launches) != 1 {
		t.Fatalf("launches=%+v want one", launches)
	}
	if l := launches[0]; l.StationID != "S000001" || l.Role != model.RoleScout || l.Zone != 1 {
		t.Fatalf("launch=%+v", l)
	}
	if h.get("S000001").FleetJob.Active() {
		t.Fatalf("job should be cleared after launch")
	}
}

func TestFleetJobLostWhenStationFails(t *testing.T) {
	cfg := tuning.Defaults().Stations
	s := operational(cfg, "S000001", model.MiningOutpost, -1)
	s.State = model.Failing
	s.EvacuateOrdered = true
	s.FleetJob = model.FleetJob{Role: model.RoleMining, RemainingMs: 60_000}
	h := newHarness(t, cfg, s)

	lost := false
	for int64(h.tick)*h.dtMs < 20_000 {
		res := h.step()
		if len(res.Launches) > 0 {
			t.Fatalf("failing station launched %+v", res.Launches)
		}
		for _, p := range res.Problems {
			if strings.Contains(p.Text, "under construction at S000001 lost") {
				lost = true
			}
		}
	}
	got := h.get("S000001")
	if got.State != model.Failed || got.FleetJob.Active() || !lost {
		t.Fatalf("state=%s job=%+v lost=%v", got.State, got.FleetJob, lost)
	}
}
