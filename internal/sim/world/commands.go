package world

import (
	"encoding/json"
	"math/rand"

	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/consequence"
	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pirate"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/station"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

// Submit validates c against the last published view and queues it for the
// next tick boundary. It is safe to call from any goroutine.
func (w *World) Submit(c command.Command) (uint64, error) {
	c.Seq = 0
	if err := w.validator.Check(w.View(), c); err != nil {
		return 0, err
	}
	return w.queue.Push(c)
}

// SubmitJSON decodes and schema-checks raw before Submit.
func (w *World) SubmitJSON(raw json.RawMessage) (uint64, error) {
	c, err := w.validator.Decode(raw)
	if err != nil {
		return 0, err
	}
	return w.Submit(c)
}

func (w *World) QueueLen() int { return w.queue.Len() }

// applyCommand re-checks c against committed state, since the world may
// have moved on since it was queued, then mutates it.
func (w *World) applyCommand(ctx model.TickContext, c command.Command) error {
	st := &w.st
	nowMs := ctx.PrevMs()
	if err := w.validator.Check(st.view(ctx.Tick, nowMs), c); err != nil {
		return err
	}

	switch c.Type {
	case command.ChangeIntent:
		f := st.fleets[c.FleetID]
		if c.Task == command.TaskHold {
			f.Intent = nil
		} else {
			in := &model.Intent{Task: model.Task(c.Task), TargetZone: c.Zone, TargetID: c.TargetID}
			if s, ok := st.stations[c.TargetID]; ok && (in.Task == model.TaskEscort || in.Task == model.TaskResupply) {
				in.TargetZone = s.Zone
			}
			f.Intent = in
		}
		f.ExecMs = 0
		f.SurveyLayer = 0
		st.fleets[f.ID] = f
	case command.SetRiskTolerance:
		f := st.fleets[c.FleetID]
		f.Risk = model.RiskTolerance(c.Risk)
		st.fleets[f.ID] = f
	case command.SetPriorityWeights:
		f := st.fleets[c.FleetID]
		wt, _ := c.Weights.Normalize()
		f.Weights = wt
		st.fleets[f.ID] = f
	case command.AssignEscort:
		f := st.fleets[c.FleetID]
		s := st.stations[c.StationID]
		f.Intent = &model.Intent{Task: model.TaskEscort, TargetZone: s.Zone, TargetID: s.ID}
		f.ExecMs = 0
		st.fleets[f.ID] = f
	case command.SetAutonomyTier:
		f := st.fleets[c.FleetID]
		f.Autonomy = model.Autonomy(c.Autonomy)
		st.fleets[f.ID] = f
	case command.StationVerb:
		s := st.stations[c.StationID]
		vb, _ := station.ParseVerb(c.Verb)
		if err := station.ApplyVerb(w.tun.Stations, &s, vb, nowMs); err != nil {
			return err
		}
		st.stations[s.ID] = s
	case command.RefreshKnowledge:
		return st.knowledge.Refresh(c.Zone, knowledge.Layer(*c.Layer), nowMs, knowledge.Manual)
	case command.DebugSpawn:
		w.debugSpawn(nowMs, c)
	case command.DebugReveal:
		zones := []sector.ZoneID{c.Zone}
		if c.Zone == 0 {
			zones = st.sector.ZoneIDs()
		}
		for _, z := range zones {
			if err := st.knowledge.Reveal(z, nowMs); err != nil {
				return err
			}
		}
	case command.BuildStation:
		kind, _ := model.ParseStationKind(c.Kind)
		z, _ := st.sector.Zone(c.Zone)
		st.player.Ore -= w.tun.Build.StationOre
		s := station.NewStation(w.tun.Stations, st.counters.Station(), kind, z.ID, z.X, z.Y, -1, nowMs)
		st.stations[s.ID] = s
		w.claim(z.ID)
	case command.BuildFleet:
		role, _ := model.ParseRole(c.Role)
		s, err := station.Shipyard(st.stationsIn(c.Zone))
		if err != nil {
			return err
		}
		if err := station.StartFleetJob(&s, role, tuning.Ms(w.tun.Build.FleetBuildSec)); err != nil {
			return err
		}
		st.player.Ore -= w.tun.Build.FleetOre
		st.stations[s.ID] = s
	case command.MovePlayer:
		st.player.Zone = c.Zone
		if err := st.knowledge.Refresh(c.Zone, knowledge.Geography, nowMs, knowledge.Auto); err != nil {
			return err
		}
	case command.ReclaimStation:
		old := st.stations[c.StationID]
		st.player.Ore -= w.tun.Build.ReclaimOre
		fuel := w.tun.Stations.ReclaimFuelFrac * station.KindConfig(w.tun.Stations, old.Kind).FuelCapacity
		s := station.NewStation(w.tun.Stations, st.counters.Station(), old.Kind, old.Zone, old.X, old.Y, fuel, nowMs)
		old.ReclaimedBy = s.ID
		st.stations[old.ID] = old
		st.stations[s.ID] = s
		w.claim(s.Zone)
	case command.DebugRandomizeModifiers:
		return w.randomizeModifiers(c.Seed)
	case command.DebugDefeatBoss:
		b := st.pirates.Bases[c.TargetID]
		if k, ok := st.pirates.Bosses[b.BossID]; ok {
			pirate.ApplyBossDamage(&st.pirates, model.BossDamage{BaseID: b.ID, Amount: k.MaxHealth})
		}
	}
	return nil
}

func (w *World) claim(z sector.ZoneID) {
	cs := consequence.State{Control: w.st.control}
	consequence.Claim(&cs, z)
	w.st.control = cs.Control
}

// debugSpawn places a group in the zone aimed at its lowest-id live station.
func (w *World) debugSpawn(nowMs int64, c command.Command) {
	st := &w.st
	kind := model.GroupRaider
	if c.Kind != "" {
		kind, _ = command.ParseSpawnKind(c.Kind)
	}
	id := st.counters.Group()
	g := w.pirates.Spawn(id, kind, c.Zone, c.Strength, st.counters.NextGroup, nowMs)
	for _, sid := range model.SortedKeys(st.stations) {
		if s := st.stations[sid]; s.Zone == c.Zone && s.Live() {
			g.TargetID = s.ID
			break
		}
	}
	st.pirates.Groups[g.ID] = g
}

// randomizeModifiers rerolls every zone's modifier from a generator seeded
// by the world seed and the command seed, so replays reproduce it.
func (w *World) randomizeModifiers(seed int64) error {
	rng := rand.New(rand.NewSource(w.cfg.Seed ^ seed))
	choices := append([]sector.Modifier{sector.ModNone}, sector.Modifiers...)
	sec := w.st.sector
	for _, z := range sec.ZoneIDs() {
		next, err := sec.WithModifier(z, choices[rng.Intn(len(choices))])
		if err != nil {
			return err
		}
		sec = next
	}
	w.st.sector = sec
	return nil
}
