package station

import (
	"fmt"
	"math"

	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

// Input is the previous tick's committed state. The engine never mutates it.
type Input struct {
	Stations   map[string]model.Station
	Pressure   *pressure.Field
	Sector     *sector.Sector
	PlayerZone sector.ZoneID
}

type Transition struct {
	StationID string             `json:"station_id"`
	From      model.StationState `json:"from"`
	To        model.StationState `json:"to"`
	Reason    string             `json:"reason"`
}

type Result struct {
	Stations    map[string]model.Station
	Refreshes   []knowledge.Request
	Transitions []Transition
	Launches    []Launch
	Problems    []model.Problem
	Violations  []model.Violation
}

type Engine struct {
	cfg tuning.Stations
}

func NewEngine(cfg tuning.Stations) *Engine { return &Engine{cfg: cfg} }

func (e *Engine) KindConfig(k model.StationKind) tuning.StationKind {
	return KindConfig(e.cfg, k)
}

func KindConfig(cfg tuning.Stations, k model.StationKind) tuning.StationKind {
	switch k {
	case model.FuelDepot:
		return cfg.FuelDepot
	case model.SensorStation:
		return cfg.SensorStation
	}
	return cfg.MiningOutpost
}

// Step advances every station by one tick. Each station makes at most one
// lifecycle transition.
func (e *Engine) Step(ctx model.TickContext, in Input) Result {
	res := Result{Stations: make(map[string]model.Station, len(in.Stations))}
	for _, id := range model.SortedKeys(in.Stations) {
		s := in.Stations[id]
		if s.State == model.Failed {
			res.Stations[id] = s
			continue
		}
		e.checkInvariants(&s, &res.Violations)
		e.advance(ctx, in, &s)
		if tr, ok := e.transition(ctx, &s); ok {
			res.Transitions = append(res.Transitions, tr)
			res.Problems = append(res.Problems, model.Problem{
				Tick:     ctx.Tick,
				Source:   "station",
				EntityID: s.ID,
				Text:     fmt.Sprintf("%s %s in zone %d: %s -> %s (%s)", s.Kind, s.ID, s.Zone, tr.From, tr.To, tr.Reason),
			})
		}
		e.progressJob(ctx, &s, &res)
		if s.State == model.Operational && s.Kind == model.SensorStation &&
			model.Crossed(ctx.PrevMs(), ctx.NowMs, 0, tuning.Ms(e.cfg.SensorSweepSec)) {
			res.Refreshes = append(res.Refreshes, knowledge.Request{Zone: s.Zone, Layer: knowledge.Threats})
			for _, n := range in.Sector.Neighbors(s.Zone) {
				res.Refreshes = append(res.Refreshes, knowledge.Request{Zone: n, Layer: knowledge.Threats})
			}
		}
		res.Stations[id] = s
	}
	e.depotTransfers(ctx, res.Stations)
	return res
}

func (e *Engine) checkInvariants(s *model.Station, out *[]model.Violation) {
	s.Fuel = model.ClampChecked(out, "station", s.ID, "fuel", s.Fuel, 0, s.FuelCapacity)
	s.Integrity = model.ClampChecked(out, "station", s.ID, "integrity", s.Integrity, 0, 100)
	s.Exposure = model.ClampChecked(out, "station", s.ID, "pressure_exposure", s.Exposure, 0, 100)
	s.MaintenanceDebt = model.ClampChecked(out, "station", s.ID, "maintenance_debt", s.MaintenanceDebt, 0, 100)
}

// advance applies continuous effects: burn, exposure, wear, production and
// the fuel and harassment timers.
func (e *Engine) advance(ctx model.TickContext, in Input, s *model.Station) {
	k := e.KindConfig(s.Kind)
	dt := ctx.Dt()
	scale := 1.0
	if s.Downscaled {
		scale = 0.5
	}

	prevFrac := s.FuelFrac()
	s.Fuel = math.Max(0, s.Fuel-k.BurnPerMin/60*dt*scale)

	p := in.Pressure.Pirate(s.Zone)
	alpha := 1.0
	if e.cfg.ExposureTauSec > 0 {
		alpha = math.Min(1, dt/e.cfg.ExposureTauSec)
	}
	s.Exposure = model.Clamp(s.Exposure+(p-s.Exposure)*alpha, 0, 100)

	if s.State == model.Deploying {
		s.BuildRemainingMs -= ctx.DtMs
		if s.BuildRemainingMs < 0 {
			s.BuildRemainingMs = 0
		}
	} else {
		s.MaintenanceDebt = math.Min(100, s.MaintenanceDebt+e.cfg.MaintenancePerMin/60*dt*(1+s.Exposure/100)*scale)
		if s.Fuel <= 0 {
			s.Integrity -= e.cfg.EmptyFuelDamagePerMin / 60 * dt
		}
		if above := e.cfg.ExposureDamageAbove; s.Exposure > above && above < 100 {
			s.Integrity -= (s.Exposure - above) / (100 - above) * e.cfg.ExposureDamagePerMin / 60 * dt
		}
		s.Integrity = math.Max(0, s.Integrity)
	}

	frac := s.FuelFrac()
	s.LowFuelMs = sustained(s.LowFuelMs, prevFrac, frac, e.cfg.LowFuelFrac, ctx.DtMs)
	s.CriticalFuelMs = sustained(s.CriticalFuelMs, prevFrac, frac, e.cfg.CriticalFuelFrac, ctx.DtMs)

	if model.Crossed(ctx.PrevMs(), ctx.NowMs, 0, tuning.Ms(e.cfg.EvalWindowSec)) {
		s.LastWindowRaids = s.RaidsThisWindow
		if s.RaidsThisWindow > 0 {
			s.HarassedWindows++
		} else {
			s.HarassedWindows = 0
		}
		s.RaidsThisWindow = 0
	}

	if s.EscortFleetID != "" && s.EscortUntilMs < ctx.NowMs {
		s.EscortFleetID = ""
		s.EscortUntilMs = 0
	}
	if s.State == model.Failing && (s.Zone == in.PlayerZone || s.Escorted(ctx.NowMs)) {
		s.Intervention = true
	}

	if s.State == model.Operational && s.Kind == model.MiningOutpost {
		rate := e.cfg.OrePerSec * dt * scale
		if z, ok := in.Sector.Zone(s.Zone); ok {
			rate *= sector.RichnessMultiplier(sector.Effects(z.Modifier).Richness)
		}
		if s.Isolated {
			rate *= 0.5
		}
		s.OreProgress += rate
		if whole := math.Floor(s.OreProgress); whole >= 1 {
			s.OreProgress -= whole
			s.Ore = math.Min(k.OreCapacity, s.Ore+whole)
		}
	}

	s.Causes = e.causes(*s)
}

// fracEps absorbs the drift of summing per-tick burn, so a fraction that
// lands on a threshold on paper also lands on it in the sim.
const fracEps = 1e-9

func atOrBelow(frac, limit float64) bool { return frac <= limit+fracEps }

// sustained is how long frac has been at or below limit, measured from the
// tick that crossed it.
func sustained(acc int64, prev, now, limit float64, dtMs int64) int64 {
	switch {
	case !atOrBelow(now, limit):
		return 0
	case !atOrBelow(prev, limit):
		return 0
	}
	return acc + dtMs
}

func (e *Engine) causes(s model.Station) model.Cause {
	var c model.Cause
	if atOrBelow(s.FuelFrac(), e.cfg.LowFuelFrac) {
		c |= model.CauseLowFuel
	}
	if s.HarassedWindows > 0 || s.RaidsThisWindow > 0 {
		c |= model.CauseHarassment
	}
	if s.MaintenanceDebt >= e.cfg.MaintenanceThreshold {
		c |= model.CauseMaintenance
	}
	if s.Integrity < e.cfg.IntegrityFailBelow {
		c |= model.CauseIntegrity
	}
	return c
}

func (e *Engine) transition(ctx model.TickContext, s *model.Station) (Transition, bool) {
	from := s.State
	to, reason := e.next(ctx, *s)
	intervened := s.Intervention
	s.Intervention = false
	if from == model.Failing && intervened {
		s.FailingRemainingMs = tuning.Ms(e.cfg.FailingTimeoutSec)
	} else if from == model.Failing {
		s.FailingRemainingMs -= ctx.DtMs
		if s.FailingRemainingMs < 0 {
			s.FailingRemainingMs = 0
		}
	}
	if to == from {
		return Transition{}, false
	}
	s.State = to
	s.StateSinceMs = ctx.NowMs
	switch to {
	case model.Operational:
		// Fuel timers restart when the station comes online.
		s.LowFuelMs = 0
		s.CriticalFuelMs = 0
	case model.Failing:
		s.FailingRemainingMs = tuning.Ms(e.cfg.FailingTimeoutSec)
	case model.Strained:
		s.FailingRemainingMs = 0
	case model.Failed:
		s.FailReason = model.FailReason(reason)
		s.FailingRemainingMs = 0
		s.EscortFleetID = ""
	}
	return Transition{StationID: s.ID, From: from, To: to, Reason: reason}, true
}

func (e *Engine) next(ctx model.TickContext, s model.Station) (model.StationState, string) {
	c := e.cfg
	frac := s.FuelFrac()
	dwell := ctx.NowMs - s.StateSinceMs
	noRecentRaid := s.LastRaidMs < 0 || ctx.NowMs-s.LastRaidMs >= tuning.Ms(c.RecoveryWindowSec)

	switch s.State {
	case model.Deploying:
		if s.BuildRemainingMs == 0 && frac >= c.MinOperateFuelFrac {
			return model.Operational, "construction complete"
		}
	case model.Operational:
		switch {
		case s.LowFuelMs >= tuning.Ms(c.LowFuelSustainSec):
			return model.Strained, "low fuel"
		case s.HarassedWindows >= 1:
			return model.Strained, "pirate harassment"
		case s.MaintenanceDebt >= c.MaintenanceThreshold:
			return model.Strained, "maintenance debt"
		case s.Integrity < c.IntegrityFailBelow:
			return model.Strained, "low integrity"
		}
	case model.Strained:
		if dwell >= tuning.Ms(c.StrainedMinDwellSec) {
			switch {
			case s.CriticalFuelMs >= tuning.Ms(c.CriticalFuelSustainSec):
				return model.Failing, "critical fuel"
			case s.Integrity < c.IntegrityFailBelow:
				return model.Failing, "integrity critical"
			case s.LastWindowRaids >= c.RaidSpikeCount:
				return model.Failing, "raid spike"
			}
		}
		if !atOrBelow(frac, c.LowFuelFrac) && noRecentRaid && s.MaintenanceDebt < c.MaintenanceThreshold && s.Integrity >= c.IntegrityFailBelow {
			return model.Operational, "recovered"
		}
	case model.Failing:
		if s.Intervention && s.Integrity > c.IntegrityFailBelow && !atOrBelow(frac, c.CriticalFuelFrac) {
			return model.Strained, "stabilized by intervention"
		}
		if dwell >= tuning.Ms(c.FailingMinDwellSec) {
			switch {
			case s.Integrity <= 0:
				return model.Failed, string(model.FailIntegrityZero)
			case s.EvacuateOrdered:
				return model.Failed, string(model.FailEvacuated)
			case s.FailingRemainingMs <= 0 && !s.Intervention:
				return model.Failed, string(model.FailTimerExpired)
			}
		}
	}
	return s.State, ""
}

// depotTransfers moves fuel from operational depots to low stations sharing
// their zone.
func (e *Engine) depotTransfers(ctx model.TickContext, stations map[string]model.Station) {
	ids := model.SortedKeys(stations)
	for _, did := range ids {
		d := stations[did]
		if d.Kind != model.FuelDepot || d.State != model.Operational {
			continue
		}
		budget := e.cfg.DepotTransferPerMin / 60 * ctx.Dt()
		for _, rid := range ids {
			if rid == did || budget <= 0 || d.Fuel <= 0 {
				continue
			}
			r := stations[rid]
			if !r.Live() || r.Zone != d.Zone || r.FuelFrac() >= e.cfg.DepotTransferBelowFrac {
				continue
			}
			amt := math.Min(budget, math.Min(d.Fuel, r.FuelCapacity-r.Fuel))
			if amt <= 0 {
				continue
			}
			d.Fuel -= amt
			r.Fuel += amt
			budget -= amt
			stations[rid] = r
		}
		stations[did] = d
	}
}
