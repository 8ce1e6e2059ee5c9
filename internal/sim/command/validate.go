package command

import (
	"errors"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/larksoftware/xstaradventures/internal/protocol"
	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/station"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

// Lookup is the read-only view commands are checked against.
type Lookup interface {
	NowMs() int64
	Sector() *sector.Sector
	PlayerZone() sector.ZoneID
	PlayerOre() float64
	Fleet(id string) (model.Fleet, bool)
	Station(id string) (model.Station, bool)
	// StationsIn returns the zone's stations ordered by id.
	StationsIn(z sector.ZoneID) []model.Station
	Base(id string) (model.PirateBase, bool)
	BaseInZone(z sector.ZoneID) (model.PirateBase, bool)
	Control(z sector.ZoneID) model.Control
	CanRefresh(z sector.ZoneID, l knowledge.Layer) error
}

type Validator struct {
	schema   *jsonschema.Schema
	stations tuning.Stations
	build    tuning.Build
	debug    bool
}

func NewValidator(t tuning.Tuning, debug bool) (*Validator, error) {
	s, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Validator{schema: s, stations: t.Stations, build: t.Build, debug: debug}, nil
}

func (v *Validator) Debug() bool { return v.debug }

// Check validates c against the view. It returns a *Rejection or nil.
func (v *Validator) Check(l Lookup, c Command) error {
	if c.Type.IsDebug() && !v.debug {
		return reject(protocol.ErrDebugDisabled, "%s requires debug commands", c.Type)
	}
	switch c.Type {
	case ChangeIntent:
		return v.checkIntent(l, c)
	case SetRiskTolerance:
		if _, err := fleetFor(l, c); err != nil {
			return err
		}
		if _, err := model.ParseRiskTolerance(c.Risk); err != nil {
			return reject(protocol.ErrBadRequest, "%v", err)
		}
	case SetPriorityWeights:
		if _, err := fleetFor(l, c); err != nil {
			return err
		}
		if c.Weights == nil {
			return reject(protocol.ErrBadRequest, "weights required")
		}
		if _, err := c.Weights.Normalize(); err != nil {
			return reject(protocol.ErrBadRequest, "%v", err)
		}
	case AssignEscort:
		f, err := fleetFor(l, c)
		if err != nil {
			return err
		}
		if f.Role != model.RoleSecurity {
			return reject(protocol.ErrInvalidTarget, "%s fleet %s cannot escort", f.Role, f.ID)
		}
		if f.State == model.FleetDisabled {
			return reject(protocol.ErrInvalidTransition, "fleet %s is disabled", f.ID)
		}
		if _, err := liveStation(l, c.StationID); err != nil {
			return err
		}
	case SetAutonomyTier:
		if _, err := fleetFor(l, c); err != nil {
			return err
		}
		if _, err := model.ParseAutonomy(c.Autonomy); err != nil {
			return reject(protocol.ErrBadRequest, "%v", err)
		}
	case StationVerb:
		s, ok := l.Station(c.StationID)
		if !ok {
			return reject(protocol.ErrInvalidTarget, "unknown station %s", c.StationID)
		}
		vb, err := station.ParseVerb(c.Verb)
		if err != nil {
			return reject(protocol.ErrBadRequest, "%v", err)
		}
		if err := station.CanApplyVerb(v.stations, s, vb, l.NowMs()); err != nil {
			if errors.Is(err, station.ErrVerbCooldown) {
				return reject(protocol.ErrCooldown, "%v", err)
			}
			return reject(protocol.ErrInvalidTransition, "%v", err)
		}
	case RefreshKnowledge:
		if c.Layer == nil {
			return reject(protocol.ErrInvalidLayer, "layer required")
		}
		layer, err := knowledge.ParseLayer(*c.Layer)
		if err != nil {
			return reject(protocol.ErrInvalidLayer, "%v", err)
		}
		if !l.Sector().HasZone(c.Zone) {
			return reject(protocol.ErrInvalidTarget, "unknown zone %d", c.Zone)
		}
		if err := l.CanRefresh(c.Zone, layer); err != nil {
			if errors.Is(err, knowledge.ErrRefreshCooldown) {
				return reject(protocol.ErrCooldown, "%v", err)
			}
			return reject(protocol.ErrInvalidTarget, "%v", err)
		}
	case DebugSpawn:
		if !l.Sector().HasZone(c.Zone) {
			return reject(protocol.ErrInvalidTarget, "unknown zone %d", c.Zone)
		}
		if c.Kind != "" {
			if _, err := ParseSpawnKind(c.Kind); err != nil {
				return reject(protocol.ErrBadRequest, "%v", err)
			}
		}
	case DebugReveal:
		if c.Zone != 0 && !l.Sector().HasZone(c.Zone) {
			return reject(protocol.ErrInvalidTarget, "unknown zone %d", c.Zone)
		}
	case BuildStation:
		if _, err := model.ParseStationKind(c.Kind); err != nil {
			return reject(protocol.ErrBadRequest, "%v", err)
		}
		if !l.Sector().HasZone(c.Zone) {
			return reject(protocol.ErrInvalidTarget, "unknown zone %d", c.Zone)
		}
		if l.Control(c.Zone) == model.ControlPirate {
			return reject(protocol.ErrInvalidTarget, "zone %d is pirate held", c.Zone)
		}
		return v.afford(l, v.build.StationOre)
	case BuildFleet:
		if _, err := model.ParseRole(c.Role); err != nil {
			return reject(protocol.ErrBadRequest, "%v", err)
		}
		if !l.Sector().HasZone(c.Zone) {
			return reject(protocol.ErrInvalidTarget, "unknown zone %d", c.Zone)
		}
		if _, err := station.Shipyard(l.StationsIn(c.Zone)); err != nil {
			code := protocol.ErrInvalidTarget
			if errors.Is(err, station.ErrShipyardBusy) {
				code = protocol.ErrInvalidTransition
			}
			return reject(code, "zone %d: %v", c.Zone, err)
		}
		return v.afford(l, v.build.FleetOre)
	case MovePlayer:
		sec := l.Sector()
		if !sec.HasZone(c.Zone) {
			return reject(protocol.ErrInvalidTarget, "unknown zone %d", c.Zone)
		}
		if c.Zone != l.PlayerZone() && !sec.Adjacent(l.PlayerZone(), c.Zone) {
			return reject(protocol.ErrInvalidTarget, "zone %d is not adjacent to zone %d", c.Zone, l.PlayerZone())
		}
	case ReclaimStation:
		s, ok := l.Station(c.StationID)
		if !ok {
			return reject(protocol.ErrInvalidTarget, "unknown station %s", c.StationID)
		}
		if s.Live() {
			return reject(protocol.ErrInvalidTransition, "station %s is %s", s.ID, s.State)
		}
		if s.ReclaimedBy != "" {
			return reject(protocol.ErrInvalidTransition, "station %s already reclaimed as %s", s.ID, s.ReclaimedBy)
		}
		if s.Outcome != model.OutcomeAbandoned && s.Outcome != model.OutcomeDestroyed {
			return reject(protocol.ErrInvalidTransition, "station %s was %s and cannot be reclaimed", s.ID, s.Outcome)
		}
		if l.Control(s.Zone) == model.ControlPirate {
			return reject(protocol.ErrInvalidTarget, "zone %d is pirate held", s.Zone)
		}
		return v.afford(l, v.build.ReclaimOre)
	case DebugRandomizeModifiers:
	case DebugDefeatBoss:
		b, ok := l.Base(c.TargetID)
		if !ok || b.Cleared {
			return reject(protocol.ErrInvalidTarget, "no active base %s", c.TargetID)
		}
	default:
		return reject(protocol.ErrBadRequest, "unknown command type %q", c.Type)
	}
	return nil
}

func (v *Validator) checkIntent(l Lookup, c Command) error {
	f, err := fleetFor(l, c)
	if err != nil {
		return err
	}
	if f.State == model.FleetDisabled {
		return reject(protocol.ErrInvalidTransition, "fleet %s is disabled", f.ID)
	}
	if c.Task == TaskHold {
		return nil
	}
	task := model.Task(c.Task)
	if !model.RoleCanPerform(f.Role, task) {
		return reject(protocol.ErrInvalidTarget, "%s fleet cannot %s", f.Role, task)
	}
	switch task {
	case model.TaskEscort, model.TaskResupply:
		_, err := liveStation(l, c.TargetID)
		return err
	}
	sec := l.Sector()
	z, ok := sec.Zone(c.Zone)
	if !ok {
		return reject(protocol.ErrInvalidTarget, "unknown zone %d", c.Zone)
	}
	if sec.HopDistance(f.Home, c.Zone) < 0 {
		return reject(protocol.ErrInvalidTarget, "zone %d unreachable from home %d", c.Zone, f.Home)
	}
	switch task {
	case model.TaskMine:
		if z.OreFields == 0 {
			return reject(protocol.ErrInvalidTarget, "zone %d has no ore fields", c.Zone)
		}
	case model.TaskAssault:
		if _, ok := l.BaseInZone(c.Zone); !ok {
			return reject(protocol.ErrInvalidTarget, "no pirate base in zone %d", c.Zone)
		}
	}
	return nil
}

func (v *Validator) afford(l Lookup, cost float64) error {
	if l.PlayerOre() < cost {
		return reject(protocol.ErrNoResource, "need %.0f ore, have %.0f", cost, l.PlayerOre())
	}
	return nil
}

func fleetFor(l Lookup, c Command) (model.Fleet, error) {
	f, ok := l.Fleet(c.FleetID)
	if !ok {
		return model.Fleet{}, reject(protocol.ErrInvalidTarget, "unknown fleet %s", c.FleetID)
	}
	return f, nil
}

func liveStation(l Lookup, id string) (model.Station, error) {
	s, ok := l.Station(id)
	if !ok || !s.Live() {
		return model.Station{}, reject(protocol.ErrInvalidTarget, "no live station %s", id)
	}
	return s, nil
}

// ParseSpawnKind accepts the regular pirate group kinds.
func ParseSpawnKind(s string) (model.GroupKind, error) {
	switch k := model.GroupKind(s); k {
	case model.GroupSkiff, model.GroupRaider, model.GroupCorvette, model.GroupDreadnought:
		return k, nil
	}
	return "", errors.New("unknown spawn kind " + s)
}
