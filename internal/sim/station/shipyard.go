package station

import (
	"errors"
	"fmt"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

var (
	ErrNoShipyard   = errors.New("no operational station to launch from")
	ErrShipyardBusy = errors.New("station already building a fleet")
)

// Launch is a finished fleet job. The world creates the fleet at commit.
type Launch struct {
	StationID string
	Role      model.Role
	Zone      sector.ZoneID
}

// Shipyard picks the station that takes a new fleet job: the lowest id
// Operational or Strained station without one. stations must be ordered by
// id.
func Shipyard(stations []model.Station) (model.Station, error) {
	busy := false
	for _, s := range stations {
		if s.State != model.Operational && s.State != model.Strained {
			continue
		}
		if s.FleetJob.Active() {
			busy = true
			continue
		}
		return s, nil
	}
	if busy {
		return model.Station{}, ErrShipyardBusy
	}
	return model.Station{}, ErrNoShipyard
}

// StartFleetJob queues a fleet of role at s, ready after buildMs of
// Operational time.
func StartFleetJob(s *model.Station, role model.Role, buildMs int64) error {
	if s.FleetJob.Active() {
		return fmt.Errorf("%w: %s", ErrShipyardBusy, s.ID)
	}
	s.FleetJob = model.FleetJob{Role: role, RemainingMs: buildMs}
	return nil
}

// progressJob runs the fleet job clock. It only advances while the station is
// Operational; a Failed station loses the job.
func (e *Engine) progressJob(ctx model.TickContext, s *model.Station, res *Result) {
	j := s.FleetJob
	if !j.Active() {
		return
	}
	switch s.State {
	case model.Operational:
	case model.Failed:
		s.FleetJob = model.FleetJob{}
		res.Problems = append(res.Problems, model.Problem{
			Tick: ctx.Tick, Source: "station", EntityID: s.ID,
			Text: fmt.Sprintf("%s fleet under construction at %s lost", j.Role, s.ID),
		})
		return
	default:
		return
	}
	j.RemainingMs -= ctx.DtMs
	if j.RemainingMs > 0 {
		s.FleetJob = j
		return
	}
	s.FleetJob = model.FleetJob{}
	res.Launches = append(res.Launches, Launch{StationID: s.ID, Role: j.Role, Zone: s.Zone})
}
