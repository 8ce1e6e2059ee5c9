package model

import (
	"fmt"

	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

type Control string

const (
	ControlNone      Control = "None"
	ControlPlayer    Control = "Player"
	ControlContested Control = "Contested"
	ControlPirate    Control = "Pirate"
)

type Player struct {
	Zone sector.ZoneID `json:"zone"`
	Ore  float64       `json:"ore"`
}

type TerminalKind string

const (
	TerminalStation TerminalKind = "StationFailed"
	TerminalBase    TerminalKind = "BaseCleared"
	TerminalFleet   TerminalKind = "FleetAbandoned"
)

// TerminalEvent is an irreversible outcome for the consequence stage to apply.
type TerminalEvent struct {
	Kind     TerminalKind  `json:"kind"`
	EntityID string        `json:"entity_id"`
	Zone     sector.ZoneID `json:"zone"`
	Outcome  Outcome       `json:"outcome,omitempty"`
	CrisisID string        `json:"crisis_id,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Violation records a value found outside its invariant range and the value
// it was clamped to.
type Violation struct {
	Subsystem string  `json:"subsystem"`
	EntityID  string  `json:"entity_id"`
	Field     string  `json:"field"`
	Value     float64 `json:"value"`
	Clamped   float64 `json:"clamped"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s.%s=%v clamped to %v", v.Subsystem, v.EntityID, v.Field, v.Value, v.Clamped)
}

// ClampChecked clamps v into [lo,hi] and appends a violation when it had to.
func ClampChecked(out *[]Violation, subsystem, entity, field string, v, lo, hi float64) float64 {
	c := Clamp(v, lo, hi)
	if c != v {
		*out = append(*out, Violation{Subsystem: subsystem, EntityID: entity, Field: field, Value: v, Clamped: c})
	}
	return c
}

// Problem is one line of the human-readable problems feed.
type Problem struct {
	Tick     uint64 `json:"tick"`
	Source   string `json:"source"`
	EntityID string `json:"entity_id,omitempty"`
	Text     string `json:"text"`
}

// Raid is a pirate strike against a station, applied at commit.
type Raid struct {
	StationID string  `json:"station_id"`
	GroupID   string  `json:"group_id"`
	Damage    float64 `json:"damage"`
}

// FuelDelivery moves fuel into a station and counts as an intervention.
type FuelDelivery struct {
	StationID string  `json:"station_id"`
	FleetID   string  `json:"fleet_id"`
	Amount    float64 `json:"amount"`
}

// EscortPresence marks a station as escorted until UntilMs.
type EscortPresence struct {
	StationID string `json:"station_id"`
	FleetID   string `json:"fleet_id"`
	UntilMs   int64  `json:"until_ms"`
}

type BossDamage struct {
	BaseID string  `json:"base_id"`
	Amount float64 `json:"amount"`
}

type GroupDamage struct {
	Zone   sector.ZoneID `json:"zone"`
	Amount float64       `json:"amount"`
}
