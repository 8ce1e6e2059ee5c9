package model

import (
	"fmt"

	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

type StationKind string

const (
	MiningOutpost StationKind = "MiningOutpost"
	FuelDepot     StationKind = "FuelDepot"
	SensorStation StationKind = "SensorStation"
)

func ParseStationKind(s string) (StationKind, error) {
	switch k := StationKind(s); k {
	case MiningOutpost, FuelDepot, SensorStation:
		return k, nil
	}
	return "", fmt.Errorf("unknown station kind %q", s)
}

type StationState string

const (
	Deploying   StationState = "Deploying"
	Operational StationState = "Operational"
	Strained    StationState = "Strained"
	Failing     StationState = "Failing"
	Failed      StationState = "Failed"
)

type FailReason string

const (
	FailIntegrityZero FailReason = "IntegrityZero"
	FailTimerExpired  FailReason = "TimerExpired"
	FailEvacuated     FailReason = "Evacuated"
)

type Outcome string

const (
	OutcomeAbandoned   Outcome = "Abandoned"
	OutcomeCaptured    Outcome = "Captured"
	OutcomeDestroyed   Outcome = "Destroyed"
	OutcomeTransformed Outcome = "Transformed"
	OutcomeResolved    Outcome = "Resolved"
)

// Cause is a bit set of the conditions currently straining a station.
type Cause uint8

const (
	CauseLowFuel Cause = 1 << iota
	CauseHarassment
	CauseMaintenance
	CauseIntegrity
)

func (c Cause) Has(x Cause) bool { return c&x != 0 }

type Station struct {
	ID    string        `json:"id"`
	Kind  StationKind   `json:"kind"`
	State StationState  `json:"state"`
	Zone  sector.ZoneID `json:"zone"`
	X     float64       `json:"x"`
	Y     float64       `json:"y"`

	Fuel             float64 `json:"fuel"`
	FuelCapacity     float64 `json:"fuel_capacity"`
	BuildRemainingMs int64   `json:"build_remaining_ms"`
	Integrity        float64 `json:"integrity"`
	Exposure         float64 `json:"pressure_exposure"`
	MaintenanceDebt  float64 `json:"maintenance_debt"`
	Ore              float64 `json:"ore,omitempty"`
	OreProgress      float64 `json:"ore_progress,omitempty"`

	StateSinceMs       int64 `json:"state_since_ms"`
	LowFuelMs          int64 `json:"low_fuel_ms,omitempty"`
	CriticalFuelMs     int64 `json:"critical_fuel_ms,omitempty"`
	FailingRemainingMs int64 `json:"failing_remaining_ms,omitempty"`

	RaidsThisWindow int   `json:"raids_this_window,omitempty"`
	LastWindowRaids int   `json:"last_window_raids,omitempty"`
	HarassedWindows int   `json:"harassed_windows,omitempty"`
	LastRaidMs      int64 `json:"last_raid_ms"`

	Intervention    bool   `json:"intervention,omitempty"`
	EscortFleetID   string `json:"escort_fleet_id,omitempty"`
	EscortUntilMs   int64  `json:"escort_until_ms,omitempty"`
	Downscaled      bool   `json:"downscaled,omitempty"`
	Isolated        bool   `json:"isolated,omitempty"`
	EvacuateOrdered bool   `json:"evacuate_ordered,omitempty"`
	VerbReadyMs     int64  `json:"verb_ready_ms,omitempty"`

	Causes      Cause      `json:"causes,omitempty"`
	FailReason  FailReason `json:"fail_reason,omitempty"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	ReclaimedBy string     `json:"reclaimed_by,omitempty"`

	FleetJob FleetJob `json:"fleet_job"`

	// Save-file mirror of the station's primary open crisis. Filled on export;
	// the crisis list is authoritative.
	CrisisType  CrisisType  `json:"crisis_type,omitempty"`
	CrisisStage CrisisStage `json:"crisis_stage,omitempty"`
}

// FleetJob is a fleet under construction at a station. The zero value is no
// job.
type FleetJob struct {
	Role        Role  `json:"role,omitempty"`
	RemainingMs int64 `json:"remaining_ms,omitempty"`
}

func (j FleetJob) Active() bool { return j.Role != "" }

func (s Station) Live() bool { return s.State != Failed }

func (s Station) FuelFrac() float64 {
	if s.FuelCapacity <= 0 {
		return 0
	}
	return s.Fuel / s.FuelCapacity
}

func (s Station) Escorted(nowMs int64) bool {
	return s.EscortFleetID != "" && s.EscortUntilMs >= nowMs
}
