package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

type Role string

const (
	RoleScout    Role = "Scout"
	RoleMining   Role = "Mining"
	RoleSecurity Role = "Security"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleScout, RoleMining, RoleSecurity:
		return r, nil
	}
	return "", fmt.Errorf("unknown fleet role %q", s)
}

type Task string

const (
	TaskSurvey   Task = "Survey"
	TaskMine     Task = "Mine"
	TaskEscort   Task = "Escort"
	TaskPatrol   Task = "Patrol"
	TaskAssault  Task = "Assault"
	TaskResupply Task = "Resupply"
)

// Tasks lists every task in a fixed order.
var Tasks = []Task{TaskSurvey, TaskMine, TaskEscort, TaskPatrol, TaskAssault, TaskResupply}

// RoleCanPerform reports which tasks each role may be given.
func RoleCanPerform(r Role, t Task) bool {
	switch r {
	case RoleScout:
		return t == TaskSurvey || t == TaskResupply
	case RoleMining:
		return t == TaskMine || t == TaskResupply
	case RoleSecurity:
		return t == TaskEscort || t == TaskPatrol || t == TaskAssault
	}
	return false
}

type Intent struct {
	Task       Task          `json:"task"`
	TargetZone sector.ZoneID `json:"target_zone"`
	TargetID   string        `json:"target_id,omitempty"`
}

type RiskTolerance string

const (
	Cautious   RiskTolerance = "Cautious"
	Balanced   RiskTolerance = "Balanced"
	Aggressive RiskTolerance = "Aggressive"
	Desperate  RiskTolerance = "Desperate"
)

func ParseRiskTolerance(s string) (RiskTolerance, error) {
	switch r := RiskTolerance(s); r {
	case Cautious, Balanced, Aggressive, Desperate:
		return r, nil
	}
	return "", fmt.Errorf("unknown risk tolerance %q", s)
}

type Autonomy string

const (
	Manual     Autonomy = "Manual"
	Assisted   Autonomy = "Assisted"
	Autonomous Autonomy = "Autonomous"
	Strategic  Autonomy = "Strategic"
)

func ParseAutonomy(s string) (Autonomy, error) {
	switch a := Autonomy(s); a {
	case Manual, Assisted, Autonomous, Strategic:
		return a, nil
	}
	return "", fmt.Errorf("unknown autonomy tier %q", s)
}

type FleetState string

const (
	FleetIdle      FleetState = "Idle"
	FleetInTransit FleetState = "InTransit"
	FleetExecuting FleetState = "Executing"
	FleetReturning FleetState = "Returning"
	FleetRefueling FleetState = "Refueling"
	FleetDamaged   FleetState = "Damaged"
	FleetDisabled  FleetState = "Disabled"
)

// Course is where a fleet is heading, independent of its reported state.
type Course string

const (
	CourseHold      Course = "Hold"
	CourseOutbound  Course = "Outbound"
	CourseHomebound Course = "Homebound"
)

type Action string

const (
	ActContinue       Action = "Continue"
	ActDelay          Action = "Delay"
	ActReroute        Action = "Reroute"
	ActRequestSupport Action = "RequestSupport"
	ActRetreat        Action = "Retreat"
	ActAbort          Action = "Abort"
)

// Actions is the decision set in precedence order; equal-cost ties resolve
// to the earlier entry.
var Actions = []Action{ActContinue, ActDelay, ActReroute, ActRequestSupport, ActRetreat, ActAbort}

func Precedence(a Action) int {
	for i, x := range Actions {
		if x == a {
			return i
		}
	}
	return len(Actions)
}

type Weights struct {
	Safety float64 `json:"safety"`
	Speed  float64 `json:"speed"`
	Yield  float64 `json:"yield"`
}

var ErrBadWeights = errors.New("priority weights must be non-negative with a positive sum")

// Normalize scales the weights so they sum to 1.
func (w Weights) Normalize() (Weights, error) {
	if w.Safety < 0 || w.Speed < 0 || w.Yield < 0 {
		return w, ErrBadWeights
	}
	for _, v := range []float64{w.Safety, w.Speed, w.Yield} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return w, ErrBadWeights
		}
	}
	sum := w.Safety + w.Speed + w.Yield
	if sum <= 0 {
		return w, ErrBadWeights
	}
	return Weights{Safety: w.Safety / sum, Speed: w.Speed / sum, Yield: w.Yield / sum}, nil
}

// Awareness is the fleet's own, possibly stale, picture of its target zone.
type Awareness struct {
	Zone           sector.ZoneID `json:"zone"`
	PiratePressure float64       `json:"pirate_pressure"`
	Confidence     float64       `json:"confidence"`
	ObservedMs     int64         `json:"observed_ms"`
	Known          bool          `json:"known"`
	CrisisStage    CrisisStage   `json:"crisis_stage,omitempty"`
}

type Fleet struct {
	ID       string        `json:"id"`
	Role     Role          `json:"role"`
	Intent   *Intent       `json:"intent,omitempty"`
	Risk     RiskTolerance `json:"risk_tolerance"`
	Weights  Weights       `json:"weights"`
	Autonomy Autonomy      `json:"autonomy"`
	State    FleetState    `json:"state"`

	Home         sector.ZoneID `json:"home"`
	Zone         sector.ZoneID `json:"zone"`
	NextZone     sector.ZoneID `json:"next_zone,omitempty"`
	LegRemaining float64       `json:"leg_remaining,omitempty"`
	Course       Course        `json:"course"`
	AvoidRoute   string        `json:"avoid_route,omitempty"`

	Fuel         float64 `json:"fuel"`
	FuelCapacity float64 `json:"fuel_capacity"`
	Hull         float64 `json:"hull"`
	HullMax      float64 `json:"hull_max"`
	CargoOre     float64 `json:"cargo_ore,omitempty"`
	CargoFuel    float64 `json:"cargo_fuel,omitempty"`

	Awareness Awareness `json:"awareness"`

	ExecMs         int64 `json:"exec_ms,omitempty"`
	SurveyLayer    int   `json:"survey_layer,omitempty"`
	DisabledAtMs   int64 `json:"disabled_at_ms"`
	SupportReadyMs int64 `json:"support_ready_ms,omitempty"`

	LastAction Action `json:"last_action,omitempty"`
	LastReport string `json:"last_report,omitempty"`
}

// Clone copies the fleet including its intent.
func (f Fleet) Clone() Fleet {
	if f.Intent != nil {
		in := *f.Intent
		f.Intent = &in
	}
	return f
}

func (f Fleet) Moving() bool { return f.NextZone != 0 }
