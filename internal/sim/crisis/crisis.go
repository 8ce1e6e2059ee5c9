package crisis

import (
	"fmt"
	"math"
	"sort"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

// rule maps one crisis type to the station causes that drive it.
type rule struct {
	typ     model.CrisisType
	causes  model.Cause
	faction bool
}

var rules = []rule{
	{typ: model.FuelShortage, causes: model.CauseLowFuel, faction: true},
	{typ: model.PirateHarassment, causes: model.CauseHarassment},
	{typ: model.StructuralFailure, causes: model.CauseMaintenance | model.CauseIntegrity, faction: true},
}

func ruleFor(t model.CrisisType) (rule, bool) {
	for _, r := range rules {
		if r.typ == t {
			return r, true
		}
	}
	return rule{}, false
}

type Input struct {
	Stations   map[string]model.Station
	Crises     map[string]model.Crisis
	Pressure   *pressure.Field
	Sector     *sector.Sector
	Pirates    model.PirateState
	NextCrisis uint64
}

type Result struct {
	// Crises holds every crisis still open after this tick.
	Crises     map[string]model.Crisis
	Archived   []model.Crisis
	Deltas     []pressure.Delta
	Terminal   []model.TerminalEvent
	Problems   []model.Problem
	NextCrisis uint64
}

type Engine struct {
	cfg tuning.Crisis
}

func NewEngine(cfg tuning.Crisis) *Engine { return &Engine{cfg: cfg} }

// Mirror maps a station state to the crisis stage it implies.
func Mirror(s model.StationState) model.CrisisStage {
	switch s {
	case model.Strained:
		return model.StageStrained
	case model.Failing, model.Failed:
		return model.StageFailing
	}
	return model.StageStable
}

func (e *Engine) Step(ctx model.TickContext, in Input) Result {
	res := Result{Crises: make(map[string]model.Crisis, len(in.Crises)), NextCrisis: in.NextCrisis}

	byStation := map[string][]string{}
	for _, id := range model.SortedKeys(in.Crises) {
		c := in.Crises[id]
		byStation[c.StationID] = append(byStation[c.StationID], id)
	}

	for _, sid := range model.SortedKeys(in.Stations) {
		s := in.Stations[sid]
		open := byStation[sid]
		switch {
		case s.State == model.Failed && s.Outcome == "":
			e.fail(ctx, in, s, open, &res)
			continue
		case s.State == model.Failed:
			for _, id := range open {
				c := in.Crises[id]
				c.Outcome = s.Outcome
				c.ClosedMs = ctx.NowMs
				res.Archived = append(res.Archived, c)
			}
			continue
		case s.State == model.Deploying:
			for _, id := range open {
				res.Crises[id] = in.Crises[id]
			}
			continue
		}

		for _, r := range rules {
			active := s.Causes&r.causes != 0
			id, has := findType(in.Crises, open, r.typ)
			if !has {
				if active {
					res.NextCrisis++
					c := model.Crisis{
						ID:           model.FormatID("C", res.NextCrisis),
						Type:         r.typ,
						Stage:        Mirror(s.State),
						StationID:    s.ID,
						Zone:         s.Zone,
						OpenedMs:     ctx.NowMs,
						StageSinceMs: ctx.NowMs,
					}
					res.Crises[c.ID] = c
					res.Problems = append(res.Problems, model.Problem{
						Tick: ctx.Tick, Source: "crisis", EntityID: c.ID,
						Text: fmt.Sprintf("%s opened at %s %s (zone %d), stage %s", c.Type, s.Kind, s.ID, s.Zone, c.Stage),
					})
				}
				continue
			}
			c := in.Crises[id]
			resolve := s.State == model.Operational && (c.Stage != model.StageStable || !active)
			if resolve {
				c.Stage = model.StageResolved
				c.StageSinceMs = ctx.NowMs
				c.Outcome = model.OutcomeResolved
				c.ClosedMs = ctx.NowMs
				res.Archived = append(res.Archived, c)
				res.Problems = append(res.Problems, model.Problem{
					Tick: ctx.Tick, Source: "crisis", EntityID: c.ID,
					Text: fmt.Sprintf("%s at %s resolved", c.Type, s.ID),
				})
				continue
			}
			if st := Mirror(s.State); st != c.Stage {
				if model.StageRank(st) > model.StageRank(c.Stage) {
					res.Problems = append(res.Problems, model.Problem{
						Tick: ctx.Tick, Source: "crisis", EntityID: c.ID,
						Text: fmt.Sprintf("%s at %s escalated to %s", c.Type, s.ID, st),
					})
				}
				c.Stage = st
				c.StageSinceMs = ctx.NowMs
			}
			res.Crises[id] = c
		}

		e.cascade(ctx, in, s, &res)
	}
	return res
}

func findType(all map[string]model.Crisis, ids []string, t model.CrisisType) (string, bool) {
	for _, id := range ids {
		if all[id].Type == t {
			return id, true
		}
	}
	return "", false
}

// fail emits the station's terminal event and closes its crises with the
// outcome.
func (e *Engine) fail(ctx model.TickContext, in Input, s model.Station, open []string, res *Result) {
	outcome := e.Outcome(in, s)
	primary := ""
	best := -1
	for _, id := range open {
		c := in.Crises[id]
		if r := model.StageRank(c.Stage); r > best {
			best = r
			primary = id
		}
		c.Outcome = outcome
		c.ClosedMs = ctx.NowMs
		res.Archived = append(res.Archived, c)
	}
	res.Terminal = append(res.Terminal, model.TerminalEvent{
		Kind:     model.TerminalStation,
		EntityID: s.ID,
		Zone:     s.Zone,
		Outcome:  outcome,
		CrisisID: primary,
		Reason:   string(s.FailReason),
	})
	res.Problems = append(res.Problems, model.Problem{
		Tick: ctx.Tick, Source: "crisis", EntityID: s.ID,
		Text: fmt.Sprintf("%s %s failed (%s): %s", s.Kind, s.ID, s.FailReason, outcome),
	})
}

// Outcome decides what a failed station becomes.
func (e *Engine) Outcome(in Input, s model.Station) model.Outcome {
	if s.FailReason != model.FailIntegrityZero {
		return model.OutcomeAbandoned
	}
	cell := in.Pressure.Get(s.Zone)
	if cell.Dominant() != pressure.SourcePirate {
		return model.OutcomeDestroyed
	}
	if _, hasBase := in.Pirates.BaseInZone(s.Zone); !hasBase && cell.Pirate >= e.cfg.TransformPressure {
		return model.OutcomeTransformed
	}
	return model.OutcomeCaptured
}

// cascade writes a strained or failing station's pressure into its zone and,
// unless isolated, into neighbours with falloff per hop.
func (e *Engine) cascade(ctx model.TickContext, in Input, s model.Station, res *Result) {
	var rate float64
	switch s.State {
	case model.Strained:
		rate = e.cfg.StrainedCascadePerSec
	case model.Failing:
		rate = e.cfg.FailingCascadePerSec
	default:
		return
	}
	faction := false
	for _, c := range res.Crises {
		if c.StationID != s.ID {
			continue
		}
		if r, ok := ruleFor(c.Type); ok && r.faction {
			faction = true
		}
	}

	maxHops := e.cfg.CascadeMaxHops
	if s.Isolated {
		maxHops = 0
	}
	hops := in.Sector.Hops(s.Zone)
	zones := make([]sector.ZoneID, 0, len(hops))
	for z, h := range hops {
		if h <= maxHops {
			zones = append(zones, z)
		}
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i] < zones[j] })
	for _, z := range zones {
		amt := rate * math.Pow(e.cfg.CascadeFalloff, float64(hops[z])) * ctx.Dt()
		d := pressure.Delta{Zone: z, Pirate: amt, Source: "crisis:" + s.ID}
		if faction {
			d.Faction = amt * e.cfg.FactionShare
		}
		res.Deltas = append(res.Deltas, d)
	}

	var affected []string
	for _, oid := range model.SortedKeys(in.Stations) {
		o := in.Stations[oid]
		if oid == s.ID || !o.Live() {
			continue
		}
		if h, ok := hops[o.Zone]; ok && h <= maxHops {
			affected = append(affected, oid)
		}
	}
	for id, c := range res.Crises {
		if c.StationID == s.ID {
			c.Affected = affected
			res.Crises[id] = c
		}
	}
}
