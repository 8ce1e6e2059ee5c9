package fleet

import (
	"fmt"
	"maps"
	"math"

	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

type Input struct {
	Fleets    map[string]model.Fleet
	Stations  map[string]model.Station
	Crises    map[string]model.Crisis
	Pirates   model.PirateState
	Pressure  *pressure.Field
	Knowledge *knowledge.Model
	Sector    *sector.Sector
	OreNodes  map[sector.ZoneID]model.OreNode
}

type Result struct {
	Fleets      map[string]model.Fleet
	Evaluations []Evaluation
	Refreshes   []knowledge.Request
	Deliveries  []model.FuelDelivery
	Escorts     []model.EscortPresence
	BossDamage  []model.BossDamage
	GroupDamage []model.GroupDamage
	Deltas      []pressure.Delta
	Terminal    []model.TerminalEvent
	Problems    []model.Problem
	Violations  []model.Violation
	// OreDelivered is unloaded at home and credited to the player.
	OreDelivered float64
	// OreNodes is Input.OreNodes less what was mined this tick.
	OreNodes map[sector.ZoneID]model.OreNode
}

type Engine struct {
	cfg tuning.Fleets
}

func NewEngine(cfg tuning.Fleets) *Engine { return &Engine{cfg: cfg} }

func (e *Engine) role(r model.Role) tuning.FleetRole {
	return RoleConfig(e.cfg, r)
}

func RoleConfig(cfg tuning.Fleets, r model.Role) tuning.FleetRole {
	switch r {
	case model.RoleMining:
		return cfg.Mining
	case model.RoleSecurity:
		return cfg.Security
	}
	return cfg.Scout
}

// NewFleet builds an idle fleet at home with full fuel and hull.
func NewFleet(cfg tuning.Fleets, id string, role model.Role, home sector.ZoneID) model.Fleet {
	rc := RoleConfig(cfg, role)
	return model.Fleet{
		ID:           id,
		Role:         role,
		Risk:         model.Balanced,
		Weights:      model.Weights{Safety: rc.Weights.Safety, Speed: rc.Weights.Speed, Yield: rc.Weights.Yield},
		Autonomy:     model.Assisted,
		State:        model.FleetIdle,
		Home:         home,
		Zone:         home,
		Course:       model.CourseHold,
		Fuel:         rc.FuelCapacity,
		FuelCapacity: rc.FuelCapacity,
		Hull:         rc.Hull,
		HullMax:      rc.Hull,
		DisabledAtMs: -1,
	}
}

// Step runs Intent, Awareness, Evaluation, Decision and Outcome for every
// fleet against the previous committed state.
func (e *Engine) Step(ctx model.TickContext, in Input) Result {
	res := Result{Fleets: make(map[string]model.Fleet, len(in.Fleets)), OreNodes: maps.Clone(in.OreNodes)}
	var support []sector.ZoneID
	for _, id := range model.SortedKeys(in.Fleets) {
		f := in.Fleets[id].Clone()
		f.Fuel = model.ClampChecked(&res.Violations, "fleet", f.ID, "fuel", f.Fuel, 0, f.FuelCapacity)
		f.Hull = model.ClampChecked(&res.Violations, "fleet", f.ID, "hull", f.Hull, 0, f.HullMax)

		if f.State == model.FleetDisabled {
			if ctx.NowMs-f.DisabledAtMs >= tuning.Ms(e.cfg.DisabledAbandonSec) {
				res.Terminal = append(res.Terminal, model.TerminalEvent{
					Kind: model.TerminalFleet, EntityID: f.ID, Zone: f.Zone, Outcome: model.OutcomeAbandoned, Reason: "disabled",
				})
				res.Problems = append(res.Problems, problem(ctx, f.ID, "%s fleet %s abandoned in zone %d", f.Role, f.ID, f.Zone))
			}
			res.Fleets[id] = f
			continue
		}

		action := model.ActContinue
		if f.Intent != nil {
			e.checkIntent(in, &f)
		}
		if f.Intent != nil {
			f.Awareness = e.awareness(ctx, in, f)
			ev, err := e.Evaluate(in, f)
			if err == nil {
				res.Evaluations = append(res.Evaluations, ev)
				action = ev.Chosen
				if action != f.LastAction && action != model.ActContinue {
					res.Problems = append(res.Problems, problem(ctx, f.ID, "%s fleet %s: %s", f.Role, f.ID, ev))
				}
				f.LastAction = action
				f.LastReport = ev.String()
				if action == model.ActRequestSupport {
					if ctx.NowMs >= f.SupportReadyMs {
						support = append(support, f.Intent.TargetZone)
						f.SupportReadyMs = ctx.NowMs + tuning.Ms(e.cfg.SupportRequestCooldownSec)
					}
				}
				e.decide(ctx, in, &f, ev, &res)
			}
		} else if f.Zone != f.Home {
			f.Course = model.CourseHomebound
		}

		e.outcome(ctx, in, &f, action, &res)
		f.State = e.derive(f)
		res.Fleets[id] = f
	}
	e.dispatchSupport(ctx, support, &res)
	return res
}

func problem(ctx model.TickContext, id, format string, args ...any) model.Problem {
	return model.Problem{Tick: ctx.Tick, Source: "fleet", EntityID: id, Text: fmt.Sprintf(format, args...)}
}

// checkIntent drops intents whose target no longer exists.
func (e *Engine) checkIntent(in Input, f *model.Fleet) {
	it := f.Intent
	switch it.Task {
	case model.TaskEscort, model.TaskResupply:
		if s, ok := in.Stations[it.TargetID]; !ok || !s.Live() {
			f.Intent = nil
		}
	case model.TaskAssault:
		if _, ok := in.Pirates.BaseInZone(it.TargetZone); !ok {
			f.Intent = nil
		}
	}
	if f.Intent == nil {
		f.Course = model.CourseHomebound
	}
}

// decide turns the chosen action into a course.
func (e *Engine) decide(ctx model.TickContext, in Input, f *model.Fleet, ev Evaluation, res *Result) {
	switch ev.Chosen {
	case model.ActContinue, model.ActRequestSupport:
		if f.Course != model.CourseHomebound || f.Zone == f.Home {
			f.Course = model.CourseOutbound
		}
	case model.ActReroute:
		f.AvoidRoute = ev.AltRoute
		f.Course = model.CourseOutbound
	case model.ActRetreat:
		f.Course = model.CourseHomebound
	case model.ActAbort:
		prev := *f.Intent
		f.Intent = nil
		f.Course = model.CourseHomebound
		f.AvoidRoute = ""
		if f.Autonomy == model.Strategic {
			if it, ok := e.propose(in, *f, prev); ok {
				f.Intent = &it
				res.Problems = append(res.Problems, problem(ctx, f.ID, "%s fleet %s re-tasked: %s zone %d", f.Role, f.ID, it.Task, it.TargetZone))
			}
		}
	}
}

// propose finds a safer target for the same task, preferring known-quiet
// zones close to home. Tasks bound to a station or base are not re-proposed.
func (e *Engine) propose(in Input, f model.Fleet, prev model.Intent) (model.Intent, bool) {
	switch prev.Task {
	case model.TaskSurvey, model.TaskMine, model.TaskPatrol:
	default:
		return model.Intent{}, false
	}
	hops := in.Sector.Hops(f.Home)
	best := sector.ZoneID(0)
	bestScore := math.Inf(1)
	for _, z := range in.Sector.ZoneIDs() {
		h, ok := hops[z]
		if !ok || z == prev.TargetZone {
			continue
		}
		zone, _ := in.Sector.Zone(z)
		if n, ok := in.OreNodes[z]; prev.Task == model.TaskMine && (zone.OreFields == 0 || !ok || n.Depleted()) {
			continue
		}
		conf := in.Knowledge.Confidence(z, knowledge.Threats)
		score := ThreatRisk(in.Pressure.Pirate(z)*conf, conf) + 0.05*float64(h) + sector.Effects(zone.Modifier).TotalRisk()
		score = math.Round(score*1e6) / 1e6
		if score < bestScore {
			best, bestScore = z, score
		}
	}
	if best == 0 {
		return model.Intent{}, false
	}
	return model.Intent{Task: prev.Task, TargetZone: best}, true
}

// outcome applies the decision: movement, task work, wear and home
// servicing.
func (e *Engine) outcome(ctx model.TickContext, in Input, f *model.Fleet, action model.Action, res *Result) {
	rc := e.role(f.Role)
	dt := ctx.Dt()

	dest := f.Home
	if f.Course == model.CourseOutbound && f.Intent != nil {
		dest = f.Intent.TargetZone
	}
	atHome := f.Zone == f.Home && !f.Moving()

	if atHome {
		e.service(f, rc, dt, res)
		if f.Course == model.CourseHomebound || f.Intent == nil {
			f.Course = model.CourseHold
		}
		if f.Intent != nil && !e.ready(*f) {
			return
		}
		if f.Intent != nil && action != model.ActDelay && action != model.ActRetreat && action != model.ActAbort {
			f.Course = model.CourseOutbound
			dest = f.Intent.TargetZone
		}
	}

	moving := f.Moving() || (f.Zone != dest && f.Course != model.CourseHold)
	if action == model.ActDelay && !f.Moving() {
		moving = false
	}
	if moving {
		e.travel(ctx, in, f, rc, dest, res)
	} else if f.Intent != nil && action != model.ActDelay && f.Course == model.CourseOutbound && f.Zone == f.Intent.TargetZone {
		f.Fuel = math.Max(0, f.Fuel-rc.BurnPerMin/60*dt*0.5)
		e.execute(ctx, in, f, res)
	}

	e.wear(in, f, dt)
	if f.Hull <= 0 || (f.Fuel <= 0 && f.Zone != f.Home) {
		f.State = model.FleetDisabled
		f.DisabledAtMs = ctx.NowMs
		f.NextZone = 0
		f.LegRemaining = 0
		f.Course = model.CourseHold
		reason := "out of fuel"
		if f.Hull <= 0 {
			reason = "hull breached"
		}
		res.Problems = append(res.Problems, problem(ctx, f.ID, "%s fleet %s disabled in zone %d: %s", f.Role, f.ID, f.Zone, reason))
	}
}

// ready reports whether a fleet at home may depart.
func (e *Engine) ready(f model.Fleet) bool {
	return f.Fuel >= 0.9*f.FuelCapacity && f.Hull >= e.cfg.DamagedHullFrac*f.HullMax
}

func (e *Engine) service(f *model.Fleet, rc tuning.FleetRole, dt float64, res *Result) {
	f.Fuel = math.Min(f.FuelCapacity, f.Fuel+e.cfg.RefuelPerSec*dt)
	f.Hull = math.Min(f.HullMax, f.Hull+e.cfg.RepairPerSec*dt)
	if f.CargoOre > 0 {
		res.OreDelivered += f.CargoOre
		f.CargoOre = 0
	}
	f.AvoidRoute = ""
	f.ExecMs = 0
	if f.Intent != nil && f.Intent.Task == model.TaskResupply {
		f.CargoFuel = e.cfg.CargoFuel
	}
}

func (e *Engine) travel(ctx model.TickContext, in Input, f *model.Fleet, rc tuning.FleetRole, dest sector.ZoneID, res *Result) {
	if !f.Moving() {
		avoid := map[string]bool{}
		if f.AvoidRoute != "" {
			avoid[f.AvoidRoute] = true
		}
		p, ok := in.Sector.ShortestPath(f.Zone, dest, avoid)
		if !ok {
			p, ok = in.Sector.ShortestPath(f.Zone, dest, nil)
		}
		if !ok || len(p.Zones) < 2 {
			return
		}
		r, _ := in.Sector.Route(p.Routes[0])
		f.NextZone = p.Zones[1]
		f.LegRemaining = r.Distance
	}
	f.LegRemaining -= rc.SpeedUnitsPerSec * ctx.Dt()
	f.Fuel = math.Max(0, f.Fuel-rc.BurnPerMin/60*ctx.Dt())
	if f.LegRemaining <= 0 {
		f.Zone = f.NextZone
		f.NextZone = 0
		f.LegRemaining = 0
		res.Refreshes = append(res.Refreshes, knowledge.Request{Zone: f.Zone, Layer: knowledge.Geography})
	}
}

// execute does one tick of task work at the target zone.
func (e *Engine) execute(ctx model.TickContext, in Input, f *model.Fleet, res *Result) {
	it := f.Intent
	dt := ctx.Dt()
	security := f.Role == model.RoleSecurity
	switch it.Task {
	case model.TaskSurvey:
		f.ExecMs += ctx.DtMs
		if f.ExecMs >= tuning.Ms(e.cfg.SurveyStepSec) {
			f.ExecMs = 0
			res.Refreshes = append(res.Refreshes, knowledge.Request{Zone: it.TargetZone, Layer: knowledge.Layer(f.SurveyLayer)})
			f.SurveyLayer++
			if f.SurveyLayer >= knowledge.LayerCount {
				f.SurveyLayer = 0
				res.Problems = append(res.Problems, problem(ctx, f.ID, "survey of zone %d complete", it.TargetZone))
				f.Intent = nil
				f.Course = model.CourseHomebound
			}
		}
	case model.TaskMine:
		n, ok := res.OreNodes[it.TargetZone]
		if !ok || n.Depleted() {
			res.Problems = append(res.Problems, problem(ctx, f.ID, "ore in zone %d exhausted, fleet %s heading home", it.TargetZone, f.ID))
			f.Intent = nil
			f.Course = model.CourseHomebound
			break
		}
		rate := e.cfg.MinePerSec * dt
		if z, ok := in.Sector.Zone(it.TargetZone); ok {
			rate *= sector.RichnessMultiplier(sector.Effects(z.Modifier).Richness)
		}
		got := MineAmount(n.Remaining, rate, e.cfg.CargoOre-f.CargoOre)
		n.Remaining -= got
		res.OreNodes[it.TargetZone] = n
		f.CargoOre += got
		if f.CargoOre >= e.cfg.CargoOre || n.Depleted() {
			f.Course = model.CourseHomebound
		}
	case model.TaskEscort:
		res.Escorts = append(res.Escorts, model.EscortPresence{StationID: it.TargetID, FleetID: f.ID, UntilMs: ctx.NowMs + 1000})
	case model.TaskPatrol:
		res.Deltas = append(res.Deltas, pressure.Delta{Zone: it.TargetZone, Pirate: -e.cfg.PatrolReliefPerSec * dt, Source: "patrol:" + f.ID})
	case model.TaskAssault:
		if b, ok := in.Pirates.BaseInZone(it.TargetZone); ok {
			res.BossDamage = append(res.BossDamage, model.BossDamage{BaseID: b.ID, Amount: e.cfg.AssaultBossDamagePerSec * dt})
		}
	case model.TaskResupply:
		if f.CargoFuel > 0 {
			res.Deliveries = append(res.Deliveries, model.FuelDelivery{StationID: it.TargetID, FleetID: f.ID, Amount: f.CargoFuel})
			res.Problems = append(res.Problems, problem(ctx, f.ID, "fleet %s delivered %.1f fuel to %s", f.ID, f.CargoFuel, it.TargetID))
			f.CargoFuel = 0
		}
		f.Intent = nil
		f.Course = model.CourseHomebound
	}
	if security {
		res.GroupDamage = append(res.GroupDamage, model.GroupDamage{Zone: f.Zone, Amount: e.cfg.SecurityGroupDamagePerSec * dt})
	}
}

// MineAmount is one tick of mining: rate bounded by the ore left in the node
// and the free cargo space.
func MineAmount(available, rate, free float64) float64 {
	if available <= 0 || rate <= 0 || free <= 0 {
		return 0
	}
	return math.Min(rate, math.Min(available, free))
}

// wear applies hull loss from zone pressure and pirate groups present.
func (e *Engine) wear(in Input, f *model.Fleet, dt float64) {
	if f.Zone == f.Home && !f.Moving() {
		return
	}
	if p := in.Pressure.Pirate(f.Zone); p > e.cfg.DamagePressureAbove {
		f.Hull -= e.cfg.HullLossPerSec * dt
	}
	var strength float64
	for _, gid := range model.SortedKeys(in.Pirates.Groups) {
		if g := in.Pirates.Groups[gid]; g.Zone == f.Zone && g.NextZone == 0 {
			strength += g.Strength
		}
	}
	f.Hull = math.Max(0, f.Hull-e.cfg.GroupHullLossFactor*strength*dt)
}

// derive reports the fleet state from position, course and condition.
func (e *Engine) derive(f model.Fleet) model.FleetState {
	switch {
	case f.State == model.FleetDisabled:
		return model.FleetDisabled
	case f.Hull < e.cfg.DamagedHullFrac*f.HullMax:
		return model.FleetDamaged
	case f.Course == model.CourseHomebound && f.Zone != f.Home:
		return model.FleetReturning
	case f.Moving():
		return model.FleetInTransit
	case f.Intent != nil && f.Course == model.CourseOutbound && f.Zone == f.Intent.TargetZone:
		return model.FleetExecuting
	case f.Zone == f.Home && (f.Fuel < f.FuelCapacity || f.Hull < f.HullMax):
		return model.FleetRefueling
	}
	return model.FleetIdle
}

// dispatchSupport hands each support request to the lowest-id idle security
// fleet as a patrol.
func (e *Engine) dispatchSupport(ctx model.TickContext, zones []sector.ZoneID, res *Result) {
	for _, z := range zones {
		for _, id := range model.SortedKeys(res.Fleets) {
			f := res.Fleets[id]
			if f.Role != model.RoleSecurity || f.Intent != nil || f.State == model.FleetDisabled {
				continue
			}
			f.Intent = &model.Intent{Task: model.TaskPatrol, TargetZone: z}
			f.Course = model.CourseOutbound
			res.Fleets[id] = f
			res.Problems = append(res.Problems, problem(ctx, f.ID, "security fleet %s dispatched to zone %d", f.ID, z))
			break
		}
	}
}
