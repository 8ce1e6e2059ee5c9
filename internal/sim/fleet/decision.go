package fleet

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

var ErrIntentRequired = errors.New("fleet has no intent")

var tolerance = map[model.RiskTolerance]float64{
	model.Cautious:   1.5,
	model.Balanced:   1.0,
	model.Aggressive: 0.65,
	model.Desperate:  0.35,
}

var baseTaskRisk = map[model.Task]float64{
	model.TaskSurvey:   0.10,
	model.TaskMine:     0.15,
	model.TaskEscort:   0.20,
	model.TaskPatrol:   0.20,
	model.TaskAssault:  0.45,
	model.TaskResupply: 0.10,
}

// actionProfile is the share of risk kept, delay incurred and yield lost by
// an action.
type actionProfile struct {
	Retention float64
	Delay     float64
	YieldLoss float64
}

var actionProfiles = map[model.Action]actionProfile{
	model.ActContinue:       {Retention: 1.00, Delay: 0.00, YieldLoss: 0.00},
	model.ActDelay:          {Retention: 0.75, Delay: 0.25, YieldLoss: 0.10},
	model.ActReroute:        {Retention: 0.55, Delay: 0.35, YieldLoss: 0.15},
	model.ActRequestSupport: {Retention: 0.45, Delay: 0.40, YieldLoss: 0.20},
	model.ActRetreat:        {Retention: 0.15, Delay: 0.70, YieldLoss: 0.60},
	model.ActAbort:          {Retention: 0.00, Delay: 1.00, YieldLoss: 1.00},
}

// Allowed returns the actions an autonomy tier may choose, in precedence
// order.
func Allowed(a model.Autonomy) []model.Action {
	switch a {
	case model.Manual:
		return []model.Action{model.ActContinue, model.ActDelay}
	case model.Assisted:
		return []model.Action{model.ActContinue, model.ActDelay, model.ActRequestSupport}
	case model.Autonomous:
		return []model.Action{model.ActContinue, model.ActDelay, model.ActReroute, model.ActRequestSupport, model.ActRetreat}
	}
	return model.Actions
}

func capabilityOffset(r model.Role, t model.Task) float64 {
	switch {
	case r == model.RoleSecurity && (t == model.TaskEscort || t == model.TaskPatrol || t == model.TaskAssault):
		return 0.2
	case r == model.RoleScout && t == model.TaskSurvey:
		return 0.1
	case r == model.RoleMining && t == model.TaskMine:
		return 0.1
	}
	return 0
}

// Risk is the breakdown of a fleet's total risk for its intent.
type Risk struct {
	Base       float64 `json:"base"`
	Fuel       float64 `json:"fuel"`
	Threat     float64 `json:"threat"`
	Capability float64 `json:"capability"`
	Modifier   float64 `json:"modifier"`
	FuelMargin float64 `json:"fuel_margin"`
	Total      float64 `json:"total"`
}

type Evaluation struct {
	FleetID  string                   `json:"fleet_id"`
	Risk     Risk                     `json:"risk"`
	Urgency  float64                  `json:"urgency"`
	Costs    map[model.Action]float64 `json:"costs"`
	Allowed  []model.Action           `json:"allowed"`
	Chosen   model.Action             `json:"chosen"`
	AltRoute string                   `json:"avoid_route,omitempty"`
}

func FuelRisk(margin float64) float64 { return model.Clamp((0.25-margin)*2, 0, 1) }

func ThreatRisk(pressure, confidence float64) float64 {
	return 0.8*pressure/100 + 0.3*(1-confidence)
}

// Cost scores one action. Costs are quantized to 1e-6 so ties compare
// exactly.
func Cost(w model.Weights, tol model.RiskTolerance, risk, urgency float64, a model.Action) float64 {
	p := actionProfiles[a]
	c := w.Safety*tolerance[tol]*risk*p.Retention + w.Speed*p.Delay*(1+urgency) + w.Yield*p.YieldLoss
	return math.Round(c*1e6) / 1e6
}

// Choose returns the cheapest allowed action; ties go to the earlier action
// in precedence order.
func Choose(costs map[model.Action]float64, allowed []model.Action) model.Action {
	best := model.ActContinue
	bestCost := math.Inf(1)
	for _, a := range model.Actions {
		c, ok := costs[a]
		if !ok || !contains(allowed, a) {
			continue
		}
		if c < bestCost {
			best, bestCost = a, c
		}
	}
	return best
}

func contains(list []model.Action, a model.Action) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

// Evaluate runs the evaluation and decision stages for one fleet against its
// current awareness. It does not change the fleet.
func (e *Engine) Evaluate(in Input, f model.Fleet) (Evaluation, error) {
	if f.Intent == nil {
		return Evaluation{}, fmt.Errorf("%w: %s", ErrIntentRequired, f.ID)
	}
	it := *f.Intent
	role := e.role(f.Role)

	rt := e.distance(in.Sector, f.Zone, it.TargetZone, "") + e.distance(in.Sector, it.TargetZone, f.Home, "")
	rtFuel := role.BurnPerMin / 60 * rt / role.SpeedUnitsPerSec
	margin := 0.0
	if f.FuelCapacity > 0 {
		margin = (f.Fuel - rtFuel) / f.FuelCapacity
	}

	conf := 0.0
	press := 0.0
	if f.Awareness.Known && f.Awareness.Zone == it.TargetZone {
		conf = f.Awareness.Confidence
		press = f.Awareness.PiratePressure
	}
	var mod float64
	if z, ok := in.Sector.Zone(it.TargetZone); ok {
		mod = sector.Effects(z.Modifier).TotalRisk()
	}
	r := Risk{
		Base:       baseTaskRisk[it.Task],
		Fuel:       FuelRisk(margin),
		Threat:     ThreatRisk(press, conf),
		Capability: capabilityOffset(f.Role, it.Task),
		Modifier:   mod,
		FuelMargin: margin,
	}
	r.Total = r.Base + r.Fuel + r.Threat - r.Capability + r.Modifier

	ev := Evaluation{
		FleetID: f.ID,
		Risk:    r,
		Urgency: e.urgency(in, f),
		Costs:   map[model.Action]float64{},
		Allowed: Allowed(f.Autonomy),
	}
	ev.AltRoute = e.alternate(in, f)
	w, err := f.Weights.Normalize()
	if err != nil {
		w = model.Weights{Safety: 1.0 / 3, Speed: 1.0 / 3, Yield: 1.0 / 3}
	}
	for _, a := range model.Actions {
		if a == model.ActReroute && ev.AltRoute == "" {
			continue
		}
		ev.Costs[a] = Cost(w, f.Risk, r.Total, ev.Urgency, a)
	}
	ev.Chosen = Choose(ev.Costs, ev.Allowed)
	return ev, nil
}

// urgency grows with the severity of the situation the intent responds to.
func (e *Engine) urgency(in Input, f model.Fleet) float64 {
	it := f.Intent
	if it.TargetID != "" {
		if s, ok := in.Stations[it.TargetID]; ok {
			switch s.State {
			case model.Failing:
				return 1
			case model.Strained:
				return 0.5
			}
		}
	}
	switch f.Awareness.CrisisStage {
	case model.StageFailing:
		return 1
	case model.StageStrained:
		return 0.5
	case model.StageStable:
		return 0.25
	}
	return 0
}

// alternate returns the riskiest route on the current path when a path
// avoiding it exists.
func (e *Engine) alternate(in Input, f model.Fleet) string {
	dest := f.Intent.TargetZone
	p, ok := in.Sector.ShortestPath(f.Zone, dest, nil)
	if !ok || len(p.Routes) == 0 {
		return ""
	}
	worst := ""
	worstRisk := -1.0
	for _, id := range p.Routes {
		r, _ := in.Sector.Route(id)
		risk := r.Risk + in.Pressure.Pirate(r.From)/200 + in.Pressure.Pirate(r.To)/200
		if risk > worstRisk {
			worst, worstRisk = id, risk
		}
	}
	if _, ok := in.Sector.ShortestPath(f.Zone, dest, map[string]bool{worst: true}); !ok {
		return ""
	}
	return worst
}

func (e *Engine) distance(sec *sector.Sector, a, b sector.ZoneID, avoid string) float64 {
	var av map[string]bool
	if avoid != "" {
		av = map[string]bool{avoid: true}
	}
	p, ok := sec.ShortestPath(a, b, av)
	if !ok {
		return 0
	}
	return p.Distance
}

// awareness is the awareness stage: pressure is re-read only when the fleet
// is in the zone or its threat intel is confident enough.
func (e *Engine) awareness(ctx model.TickContext, in Input, f model.Fleet) model.Awareness {
	target := f.Intent.TargetZone
	conf := in.Knowledge.Confidence(target, knowledge.Threats)
	if f.Zone == target && !f.Moving() {
		conf = 1
	}
	if conf >= e.cfg.AwarenessConfidence {
		return model.Awareness{
			Zone:           target,
			PiratePressure: in.Pressure.Pirate(target),
			Confidence:     conf,
			ObservedMs:     ctx.NowMs,
			Known:          true,
			CrisisStage:    worstStage(in.Crises, target),
		}
	}
	a := f.Awareness
	if a.Zone != target {
		return model.Awareness{Zone: target, Confidence: conf}
	}
	a.Confidence = conf
	return a
}

func worstStage(crises map[string]model.Crisis, z sector.ZoneID) model.CrisisStage {
	var out model.CrisisStage
	for _, id := range model.SortedKeys(crises) {
		c := crises[id]
		if c.Zone == z && model.StageRank(c.Stage) > model.StageRank(out) {
			out = c.Stage
		}
	}
	return out
}

func (ev Evaluation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "risk %.2f (base %.2f fuel %.2f threat %.2f cap -%.2f mod %.2f)", ev.Risk.Total, ev.Risk.Base, ev.Risk.Fuel, ev.Risk.Threat, ev.Risk.Capability, ev.Risk.Modifier)
	fmt.Fprintf(&b, " -> %s", ev.Chosen)
	return b.String()
}
