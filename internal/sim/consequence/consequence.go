// Package consequence applies terminal outcomes to committed state: station
// losses, cleared pirate bases and abandoned fleets. Each entity resolves at
// most once.
package consequence

import (
	"errors"
	"fmt"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pirate"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

var (
	ErrAlreadyResolved = errors.New("entity already resolved")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrBadOutcome      = errors.New("outcome not valid for event")
)

// State is the committed world the resolver writes into. Maps are updated in
// place; Lost and Counters must be read back by the caller.
type State struct {
	Stations map[string]model.Station
	Fleets   map[string]model.Fleet
	Pirates  model.PirateState
	Control  map[sector.ZoneID]model.Control
	// Resolved maps entity ids to the outcome already applied to them.
	Resolved map[string]model.Outcome
	Lost     []model.Fleet
	Counters model.Counters
}

type Refusal struct {
	Event model.TerminalEvent `json:"event"`
	Err   string              `json:"error"`
}

type Result struct {
	Applied  []model.TerminalEvent
	Refused  []Refusal
	Problems []model.Problem
	// NewBases lists bases created by Transformed outcomes.
	NewBases []string
}

type Resolver struct {
	pirates *pirate.Engine
}

func NewResolver(p *pirate.Engine) *Resolver { return &Resolver{pirates: p} }

// Apply resolves events in order. A second event for an entity that already
// has an outcome is refused and reported, never applied.
func (r *Resolver) Apply(ctx model.TickContext, st *State, events []model.TerminalEvent) Result {
	var res Result
	if st.Resolved == nil {
		st.Resolved = map[string]model.Outcome{}
	}
	if st.Control == nil {
		st.Control = map[sector.ZoneID]model.Control{}
	}
	for _, ev := range events {
		var err error
		switch ev.Kind {
		case model.TerminalStation:
			err = r.station(ctx, st, ev, &res)
		case model.TerminalBase:
			err = r.base(st, ev)
		case model.TerminalFleet:
			err = r.fleet(st, ev)
		default:
			err = fmt.Errorf("%w: kind %q", ErrBadOutcome, ev.Kind)
		}
		if err != nil {
			res.Refused = append(res.Refused, Refusal{Event: ev, Err: err.Error()})
			res.Problems = append(res.Problems, problem(ctx, ev.EntityID, "refused %s for %s: %v", ev.Kind, ev.EntityID, err))
			continue
		}
		res.Applied = append(res.Applied, ev)
		res.Problems = append(res.Problems, problem(ctx, ev.EntityID, "%s", describe(ev, st)))
	}
	return res
}

func problem(ctx model.TickContext, id, format string, args ...any) model.Problem {
	return model.Problem{Tick: ctx.Tick, Source: "consequence", EntityID: id, Text: fmt.Sprintf(format, args...)}
}

func describe(ev model.TerminalEvent, st *State) string {
	switch ev.Kind {
	case model.TerminalStation:
		return fmt.Sprintf("station %s lost (%s); zone %d now %s", ev.EntityID, ev.Outcome, ev.Zone, st.Control[ev.Zone])
	case model.TerminalBase:
		return fmt.Sprintf("pirate base %s cleared; zone %d now %s", ev.EntityID, ev.Zone, st.Control[ev.Zone])
	}
	return fmt.Sprintf("fleet %s abandoned in zone %d", ev.EntityID, ev.Zone)
}

func (r *Resolver) station(ctx model.TickContext, st *State, ev model.TerminalEvent, res *Result) error {
	if prev, ok := st.Resolved[ev.EntityID]; ok {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, ev.EntityID, prev)
	}
	s, ok := st.Stations[ev.EntityID]
	if !ok {
		return fmt.Errorf("%w: station %s", ErrUnknownEntity, ev.EntityID)
	}
	if s.Outcome != "" {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, s.ID, s.Outcome)
	}
	switch ev.Outcome {
	case model.OutcomeAbandoned:
		if liveOthers(st, s.Zone, s.ID) {
			st.Control[s.Zone] = model.ControlPlayer
		} else {
			st.Control[s.Zone] = model.ControlNone
		}
	case model.OutcomeCaptured:
		st.Control[s.Zone] = model.ControlPirate
	case model.OutcomeDestroyed:
		st.Control[s.Zone] = model.ControlContested
	case model.OutcomeTransformed:
		st.Control[s.Zone] = model.ControlPirate
		if _, exists := st.Pirates.BaseInZone(s.Zone); !exists {
			tier := r.pirates.Tier(ctx.NowMs)
			b, k := r.pirates.NewBase(st.Counters.Base(), st.Counters.Boss(), s.Zone, tier, 1, ctx.NowMs)
			st.Pirates.Bases[b.ID] = b
			st.Pirates.Bosses[k.ID] = k
			res.NewBases = append(res.NewBases, b.ID)
		}
	default:
		return fmt.Errorf("%w: station outcome %q", ErrBadOutcome, ev.Outcome)
	}
	s.State = model.Failed
	s.Outcome = ev.Outcome
	s.EscortFleetID = ""
	st.Stations[s.ID] = s
	st.Resolved[s.ID] = ev.Outcome
	return nil
}

func (r *Resolver) base(st *State, ev model.TerminalEvent) error {
	if prev, ok := st.Resolved[ev.EntityID]; ok {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, ev.EntityID, prev)
	}
	b, ok := st.Pirates.Bases[ev.EntityID]
	if !ok {
		return fmt.Errorf("%w: base %s", ErrUnknownEntity, ev.EntityID)
	}
	b.Cleared = true
	b.Encounter = model.Encounter{}
	st.Pirates.Bases[b.ID] = b
	if liveOthers(st, b.Zone, "") {
		st.Control[b.Zone] = model.ControlPlayer
	} else {
		st.Control[b.Zone] = model.ControlNone
	}
	st.Resolved[b.ID] = model.OutcomeResolved
	return nil
}

func (r *Resolver) fleet(st *State, ev model.TerminalEvent) error {
	if prev, ok := st.Resolved[ev.EntityID]; ok {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, ev.EntityID, prev)
	}
	f, ok := st.Fleets[ev.EntityID]
	if !ok {
		return fmt.Errorf("%w: fleet %s", ErrUnknownEntity, ev.EntityID)
	}
	delete(st.Fleets, f.ID)
	f.State = model.FleetDisabled
	st.Lost = append(st.Lost, f)
	st.Resolved[f.ID] = model.OutcomeAbandoned
	for _, id := range model.SortedKeys(st.Stations) {
		if s := st.Stations[id]; s.EscortFleetID == f.ID {
			s.EscortFleetID = ""
			s.EscortUntilMs = 0
			st.Stations[id] = s
		}
	}
	return nil
}

// liveOthers reports whether zone z holds a live station other than except.
func liveOthers(st *State, z sector.ZoneID, except string) bool {
	for _, id := range model.SortedKeys(st.Stations) {
		s := st.Stations[id]
		if id != except && s.Zone == z && s.Live() && s.Outcome == "" {
			return true
		}
	}
	return false
}

// Claim marks a zone as player controlled when a station is placed in it and
// nobody holds it yet.
func Claim(st *State, z sector.ZoneID) {
	if st.Control == nil {
		st.Control = map[sector.ZoneID]model.Control{}
	}
	if c := st.Control[z]; c == "" || c == model.ControlNone {
		st.Control[z] = model.ControlPlayer
	}
}

// InitialControl derives control flags from starting stations and bases.
func InitialControl(sec *sector.Sector, stations map[string]model.Station, pirates model.PirateState) map[sector.ZoneID]model.Control {
	out := make(map[sector.ZoneID]model.Control, len(sec.ZoneIDs()))
	for _, z := range sec.ZoneIDs() {
		out[z] = model.ControlNone
	}
	for _, id := range model.SortedKeys(stations) {
		if s := stations[id]; s.Live() {
			out[s.Zone] = model.ControlPlayer
		}
	}
	for _, id := range model.SortedKeys(pirates.Bases) {
		if b := pirates.Bases[id]; !b.Cleared {
			if out[b.Zone] == model.ControlPlayer {
				out[b.Zone] = model.ControlContested
			} else {
				out[b.Zone] = model.ControlPirate
			}
		}
	}
	return out
}
