package world

import (
	"fmt"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

// NewFromSnapshot rebuilds a world from a save. The tick rate must match
// tun, since stepping at another rate would diverge from the saved run.
func NewFromSnapshot(cfg WorldConfig, snap snapshot.SnapshotV1, tun tuning.Tuning) (*World, error) {
	cfg.applyDefaults()
	if snap.Header.ScenarioID != "" {
		cfg.ID = snap.Header.ScenarioID
	}
	cfg.Seed = snap.Seed
	if err := tun.Validate(); err != nil {
		return nil, err
	}
	if snap.DtMs != tun.TickMs() {
		return nil, fmt.Errorf("snapshot tick is %dms, tuning runs at %dms", snap.DtMs, tun.TickMs())
	}
	sec, err := sector.New(snap.Zones, snap.Routes)
	if err != nil {
		return nil, fmt.Errorf("snapshot sector: %w", err)
	}
	w, err := newWorld(cfg, tun, sec)
	if err != nil {
		return nil, err
	}
	if err := w.importSnapshot(snap); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *World) importSnapshot(snap snapshot.SnapshotV1) error {
	st := &w.st
	zones := st.sector.ZoneIDs()

	st.knowledge = knowledge.New(knowledge.ConfigFrom(w.tun.Fog), zones)
	if err := st.knowledge.Import(snap.Knowledge); err != nil {
		return fmt.Errorf("snapshot knowledge: %w", err)
	}
	st.pressure = pressure.New(w.tun.Pressure, zones)
	if err := st.pressure.Import(snap.Pressure); err != nil {
		return fmt.Errorf("snapshot pressure: %w", err)
	}

	if !st.sector.HasZone(snap.Player.Zone) {
		return fmt.Errorf("snapshot player zone %d unknown", snap.Player.Zone)
	}
	st.player = snap.Player

	st.control = make(map[sector.ZoneID]model.Control, len(zones))
	for _, z := range zones {
		st.control[z] = model.ControlNone
	}
	for _, c := range snap.Control {
		if !st.sector.HasZone(c.Zone) {
			return fmt.Errorf("snapshot control: unknown zone %d", c.Zone)
		}
		st.control[c.Zone] = c.Control
	}

	// Saves without ore pools keep the full pools newWorld seeded.
	for _, n := range snap.OreNodes {
		if !st.sector.HasZone(n.Zone) {
			return fmt.Errorf("snapshot ore node: unknown zone %d", n.Zone)
		}
		st.ore[n.Zone] = n
	}

	st.stations = make(map[string]model.Station, len(snap.Stations))
	for _, s := range snap.Stations {
		if !st.sector.HasZone(s.Zone) {
			return fmt.Errorf("snapshot station %s: unknown zone %d", s.ID, s.Zone)
		}
		// The crisis list is authoritative; the mirror is for readers of the file.
		s.CrisisType, s.CrisisStage = "", ""
		st.stations[s.ID] = s
	}
	st.fleets = make(map[string]model.Fleet, len(snap.Fleets))
	for _, f := range snap.Fleets {
		if !st.sector.HasZone(f.Zone) || !st.sector.HasZone(f.Home) {
			return fmt.Errorf("snapshot fleet %s: unknown zone", f.ID)
		}
		st.fleets[f.ID] = f.Clone()
	}
	st.lost = append([]model.Fleet(nil), snap.Lost...)
	st.crises = make(map[string]model.Crisis, len(snap.Crises))
	for _, c := range snap.Crises {
		st.crises[c.ID] = c
	}
	st.archive = append([]model.Crisis(nil), snap.Archive...)

	st.pirates = model.NewPirateState()
	if snap.Pirates.Epoch != "" {
		st.pirates.Epoch = snap.Pirates.Epoch
	}
	for _, g := range snap.Pirates.Groups {
		st.pirates.Groups[g.ID] = g
	}
	for _, b := range snap.Pirates.Bases {
		st.pirates.Bases[b.ID] = b
	}
	for _, k := range snap.Pirates.Bosses {
		st.pirates.Bosses[k.ID] = k
	}

	st.resolved = make(map[string]model.Outcome, len(snap.Resolved))
	for _, r := range snap.Resolved {
		st.resolved[r.EntityID] = r.Outcome
	}
	st.counters = snap.Counters
	st.cmdSeq = snap.CommandSeq
	w.queue.Resume(snap.CommandSeq)

	viol := append(st.knowledge.Check(), st.pressure.Check()...)
	if len(viol) > 0 {
		if w.cfg.Strict {
			return &InvariantError{Tick: snap.Header.Tick, Violations: viol}
		}
		for _, v := range viol {
			w.logf("snapshot: clamped %s", v)
			w.problems.add(model.Problem{
				Tick: snap.Header.Tick, Source: "invariant:" + v.Subsystem, EntityID: v.EntityID, Text: v.String(),
			})
		}
	}

	w.tick.Store(snap.Header.Tick)
	w.publish(snap.Header.Tick)
	return nil
}
