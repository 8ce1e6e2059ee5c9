package world

import (
	"fmt"
	"strings"
	"time"

	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/consequence"
	"github.com/larksoftware/xstaradventures/internal/sim/crisis"
	"github.com/larksoftware/xstaradventures/internal/sim/fleet"
	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pirate"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/station"
)

// InvariantError is the panic value in strict mode.
type InvariantError struct {
	Tick       uint64
	Violations []model.Violation
}

func (e *InvariantError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("tick %d: invariant violated: %s", e.Tick, strings.Join(parts, "; "))
}

type stepReport struct {
	accepted []command.Command
	rejected []RejectedCommand
	terminal []model.TerminalEvent
	problems []model.Problem
}

// step runs one tick. Commands apply at the boundary against committed
// state; every engine then reads that state and all outputs are committed
// in pipeline order.
func (w *World) step(cmds []command.Command) stepReport {
	start := time.Now()
	nowTick := w.tick.Load()
	ctx := model.TickContext{Tick: nowTick, NowMs: int64(nowTick+1) * w.dtMs, DtMs: w.dtMs}
	st := &w.st

	var rep stepReport
	var problems []model.Problem
	for _, c := range cmds {
		if c.Seq > st.cmdSeq {
			st.cmdSeq = c.Seq
		}
		if err := w.applyCommand(ctx, c); err != nil {
			r := command.AsRejection(err)
			rep.rejected = append(rep.rejected, RejectedCommand{Command: c, Code: r.Code, Reason: r.Reason})
			problems = append(problems, model.Problem{
				Tick: ctx.Tick, Source: "command", EntityID: commandTarget(c),
				Text: fmt.Sprintf("%s refused at tick boundary: %s", c.Type, r.Error()),
			})
			continue
		}
		rep.accepted = append(rep.accepted, c)
	}

	// Decay.
	st.knowledge.Decay(ctx.DtMs, st.sector.DecayScale)
	st.pressure.Decay(ctx.DtMs)

	sr := w.stations.Step(ctx, station.Input{
		Stations:   st.stations,
		Pressure:   st.pressure,
		Sector:     st.sector,
		PlayerZone: st.player.Zone,
	})
	pr := w.pirates.Step(ctx, pirate.Input{
		Pirates:   st.pirates,
		Stations:  st.stations,
		Fleets:    st.fleets,
		Pressure:  st.pressure,
		Sector:    st.sector,
		Player:    st.player,
		NextGroup: st.counters.NextGroup,
	})
	cr := w.crises.Step(ctx, crisis.Input{
		Stations:   st.stations,
		Crises:     st.crises,
		Pressure:   st.pressure,
		Sector:     st.sector,
		Pirates:    st.pirates,
		NextCrisis: st.counters.NextCrisis,
	})
	fr := w.fleets.Step(ctx, fleet.Input{
		Fleets:    st.fleets,
		Stations:  st.stations,
		Crises:    st.crises,
		Pirates:   st.pirates,
		Pressure:  st.pressure,
		Knowledge: st.knowledge,
		Sector:    st.sector,
		OreNodes:  st.ore,
	})

	// Commit.
	var viol []model.Violation

	st.stations = sr.Stations
	problems = append(problems, sr.Problems...)
	viol = append(viol, sr.Violations...)

	st.pirates = pr.Pirates
	st.counters.NextGroup = pr.NextGroup
	problems = append(problems, pr.Problems...)
	viol = append(viol, pr.Violations...)

	st.crises = cr.Crises
	st.archive = append(st.archive, cr.Archived...)
	st.counters.NextCrisis = cr.NextCrisis
	problems = append(problems, cr.Problems...)

	st.fleets = fr.Fleets
	st.ore = fr.OreNodes
	problems = append(problems, fr.Problems...)
	viol = append(viol, fr.Violations...)

	for _, l := range sr.Launches {
		f := fleet.NewFleet(w.tun.Fleets, st.counters.Fleet(), l.Role, l.Zone)
		st.fleets[f.ID] = f
		problems = append(problems, model.Problem{
			Tick: ctx.Tick, Source: "station", EntityID: l.StationID,
			Text: fmt.Sprintf("%s fleet %s launched from %s", f.Role, f.ID, l.StationID),
		})
	}

	for _, r := range pr.Raids {
		if s, ok := st.stations[r.StationID]; ok {
			station.ApplyRaid(&s, r.Damage, ctx.NowMs)
			st.stations[s.ID] = s
		}
	}
	for _, d := range fr.Deliveries {
		s, ok := st.stations[d.StationID]
		if !ok {
			continue
		}
		if got := station.ApplyDelivery(&s, d.Amount); got < d.Amount {
			problems = append(problems, model.Problem{
				Tick: ctx.Tick, Source: "fleet", EntityID: d.FleetID,
				Text: fmt.Sprintf("delivered %.1f of %.1f fuel to %s", got, d.Amount, s.ID),
			})
		}
		st.stations[s.ID] = s
	}
	for _, e := range fr.Escorts {
		if s, ok := st.stations[e.StationID]; ok {
			station.ApplyEscort(&s, e.FleetID, e.UntilMs)
			st.stations[s.ID] = s
		}
	}

	refreshes := append(append([]knowledge.Request(nil), sr.Refreshes...), fr.Refreshes...)
	for _, err := range st.knowledge.ApplyAuto(ctx.NowMs, refreshes) {
		problems = append(problems, model.Problem{Tick: ctx.Tick, Source: "knowledge", Text: err.Error()})
	}

	for _, d := range fr.BossDamage {
		pirate.ApplyBossDamage(&st.pirates, d)
	}
	for _, d := range fr.GroupDamage {
		pirate.ApplyGroupDamage(&st.pirates, d)
	}

	deltas := make([]pressure.Delta, 0, len(pr.Deltas)+len(cr.Deltas)+len(fr.Deltas))
	deltas = append(deltas, pr.Deltas...)
	deltas = append(deltas, cr.Deltas...)
	deltas = append(deltas, fr.Deltas...)
	st.pressure.Apply(ctx.NowMs, deltas)

	st.player.Ore += fr.OreDelivered

	terminal := make([]model.TerminalEvent, 0, len(pr.Terminal)+len(cr.Terminal)+len(fr.Terminal))
	terminal = append(terminal, pr.Terminal...)
	terminal = append(terminal, cr.Terminal...)
	terminal = append(terminal, fr.Terminal...)
	if len(terminal) > 0 {
		cs := consequence.State{
			Stations: st.stations,
			Fleets:   st.fleets,
			Pirates:  st.pirates,
			Control:  st.control,
			Resolved: st.resolved,
			Lost:     st.lost,
			Counters: st.counters,
		}
		res := w.resolver.Apply(ctx, &cs, terminal)
		st.pirates = cs.Pirates
		st.control = cs.Control
		st.resolved = cs.Resolved
		st.lost = cs.Lost
		st.counters = cs.Counters
		rep.terminal = res.Applied
		problems = append(problems, res.Problems...)
	}

	viol = append(viol, st.knowledge.Check()...)
	viol = append(viol, st.pressure.Check()...)
	if len(viol) > 0 {
		if w.cfg.Strict {
			panic(&InvariantError{Tick: ctx.Tick, Violations: viol})
		}
		for _, v := range viol {
			w.logf("tick %d: clamped %s", ctx.Tick, v)
			problems = append(problems, model.Problem{
				Tick: ctx.Tick, Source: "invariant:" + v.Subsystem, EntityID: v.EntityID, Text: v.String(),
			})
		}
	}

	w.problems.add(problems...)
	rep.problems = problems

	w.tick.Store(nowTick + 1)
	w.publish(nowTick + 1)
	w.updateMetrics(nowTick+1, len(problems), len(viol), time.Since(start))
	return rep
}

func commandTarget(c command.Command) string {
	switch {
	case c.FleetID != "":
		return c.FleetID
	case c.StationID != "":
		return c.StationID
	}
	return c.TargetID
}

// publish swaps in a frozen view of committed state.
func (w *World) publish(ticks uint64) {
	w.view.Store(w.st.frozen(ticks, int64(ticks)*w.dtMs))
}

// View returns the last published view. It is never nil after New.
func (w *World) View() *View { return w.view.Load() }
