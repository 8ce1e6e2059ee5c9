package station

import (
	"errors"
	"fmt"
	"math"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

type Verb string

const (
	Stabilize Verb = "Stabilize"
	Reinforce Verb = "Reinforce"
	Downscale Verb = "Downscale"
	Isolate   Verb = "Isolate"
	Evacuate  Verb = "Evacuate"
)

var (
	ErrInvalidTransition = errors.New("verb not allowed in current state")
	ErrVerbCooldown      = errors.New("station verb on cooldown")
	ErrUnknownVerb       = errors.New("unknown station verb")
)

func ParseVerb(s string) (Verb, error) {
	switch v := Verb(s); v {
	case Stabilize, Reinforce, Downscale, Isolate, Evacuate:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVerb, s)
}

// CanApplyVerb checks a verb against the station without changing it.
func CanApplyVerb(cfg tuning.Stations, s model.Station, v Verb, nowMs int64) error {
	if _, err := ParseVerb(string(v)); err != nil {
		return err
	}
	if !s.Live() || s.State == model.Deploying {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, s.ID, s.State)
	}
	switch v {
	case Stabilize, Reinforce:
		if nowMs < s.VerbReadyMs {
			return fmt.Errorf("%w: %s ready in %dms", ErrVerbCooldown, s.ID, s.VerbReadyMs-nowMs)
		}
	case Evacuate:
		if s.State != model.Failing {
			return fmt.Errorf("%w: evacuate requires Failing, %s is %s", ErrInvalidTransition, s.ID, s.State)
		}
	}
	return nil
}

// ApplyVerb mutates s. Stabilize and Reinforce count as an intervention for a
// Failing station.
func ApplyVerb(cfg tuning.Stations, s *model.Station, v Verb, nowMs int64) error {
	if err := CanApplyVerb(cfg, *s, v, nowMs); err != nil {
		return err
	}
	switch v {
	case Stabilize:
		s.Fuel = math.Min(s.FuelCapacity, s.Fuel+cfg.StabilizeFuelFrac*s.FuelCapacity)
		s.VerbReadyMs = nowMs + tuning.Ms(cfg.VerbCooldownSec)
		s.Intervention = s.State == model.Failing
	case Reinforce:
		s.Integrity = math.Min(100, s.Integrity+cfg.ReinforceIntegrity)
		s.MaintenanceDebt = math.Max(0, s.MaintenanceDebt-cfg.ReinforceDebtRelief)
		s.VerbReadyMs = nowMs + tuning.Ms(cfg.VerbCooldownSec)
		s.Intervention = s.State == model.Failing
	case Downscale:
		s.Downscaled = !s.Downscaled
	case Isolate:
		s.Isolated = !s.Isolated
	case Evacuate:
		s.EvacuateOrdered = true
	}
	return nil
}

// NewStation builds a Deploying station with the kind's capacity. fuel < 0
// means a full tank.
func NewStation(cfg tuning.Stations, id string, kind model.StationKind, zone sector.ZoneID, x, y, fuel float64, nowMs int64) model.Station {
	k := KindConfig(cfg, kind)
	if fuel < 0 || fuel > k.FuelCapacity {
		fuel = k.FuelCapacity
	}
	return model.Station{
		ID:               id,
		Kind:             kind,
		State:            model.Deploying,
		Zone:             zone,
		X:                x,
		Y:                y,
		Fuel:             fuel,
		FuelCapacity:     k.FuelCapacity,
		BuildRemainingMs: tuning.Ms(k.BuildSec),
		Integrity:        100,
		StateSinceMs:     nowMs,
		LastRaidMs:       -1,
	}
}

// MakeOperational skips construction, used for scenario start stations.
func MakeOperational(s *model.Station, nowMs int64) {
	s.State = model.Operational
	s.BuildRemainingMs = 0
	s.StateSinceMs = nowMs
}

// ApplyRaid records one raid and its integrity damage.
func ApplyRaid(s *model.Station, damage float64, nowMs int64) {
	if !s.Live() {
		return
	}
	s.RaidsThisWindow++
	s.LastRaidMs = nowMs
	s.Integrity = math.Max(0, s.Integrity-damage)
}

// ApplyDelivery adds fuel and returns the amount accepted.
func ApplyDelivery(s *model.Station, amount float64) float64 {
	if !s.Live() || amount <= 0 {
		return 0
	}
	amt := math.Min(amount, s.FuelCapacity-s.Fuel)
	if amt <= 0 {
		return 0
	}
	s.Fuel += amt
	if s.State == model.Failing {
		s.Intervention = true
	}
	return amt
}

func ApplyEscort(s *model.Station, fleetID string, untilMs int64) {
	if !s.Live() {
		return
	}
	s.EscortFleetID = fleetID
	if untilMs > s.EscortUntilMs {
		s.EscortUntilMs = untilMs
	}
}
