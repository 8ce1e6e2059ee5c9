package world

import (
	"sort"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
)

// ExportSnapshot captures committed state. Header.Tick counts the ticks
// committed so far. Call it from the world goroutine (or before Run starts).
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	st := &w.st
	ticks := w.tick.Load()
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:    snapshot.Version,
			ScenarioID: w.cfg.ID,
			Tick:       ticks,
		},
		Seed:      w.cfg.Seed,
		TickRate:  w.tun.TickRateHz,
		DtMs:      w.dtMs,
		ElapsedMs: int64(ticks) * w.dtMs,
		Zones:     st.sector.Zones(),
		Routes:    st.sector.Routes(),
		Knowledge: st.knowledge.Export(),
		Pressure:  st.pressure.Export(),
		Player:    st.player,
		Lost:      append([]model.Fleet(nil), st.lost...),
		Archive:   append([]model.Crisis(nil), st.archive...),
		Counters:  st.counters,
	}
	snap.CommandSeq = st.cmdSeq

	for _, z := range st.sector.ZoneIDs() {
		c := st.control[z]
		if c == "" {
			c = model.ControlNone
		}
		snap.Control = append(snap.Control, snapshot.ControlV1{Zone: z, Control: c})
	}

	for _, z := range model.SortedKeys(st.ore) {
		snap.OreNodes = append(snap.OreNodes, st.ore[z])
	}

	primary := primaryCrises(st.crises)
	snap.Stations = make([]model.Station, 0, len(st.stations))
	for _, id := range model.SortedKeys(st.stations) {
		s := st.stations[id]
		s.CrisisType, s.CrisisStage = "", ""
		if c, ok := primary[id]; ok {
			s.CrisisType, s.CrisisStage = c.Type, c.Stage
		}
		snap.Stations = append(snap.Stations, s)
	}
	snap.Fleets = make([]model.Fleet, 0, len(st.fleets))
	for _, id := range model.SortedKeys(st.fleets) {
		snap.Fleets = append(snap.Fleets, st.fleets[id].Clone())
	}
	snap.Crises = make([]model.Crisis, 0, len(st.crises))
	for _, id := range model.SortedKeys(st.crises) {
		snap.Crises = append(snap.Crises, st.crises[id])
	}

	p := st.pirates
	snap.Pirates.Epoch = p.Epoch
	snap.Pirates.Groups = make([]model.PirateGroup, 0, len(p.Groups))
	for _, id := range model.SortedKeys(p.Groups) {
		snap.Pirates.Groups = append(snap.Pirates.Groups, p.Groups[id])
	}
	snap.Pirates.Bases = make([]model.PirateBase, 0, len(p.Bases))
	for _, id := range model.SortedKeys(p.Bases) {
		snap.Pirates.Bases = append(snap.Pirates.Bases, p.Bases[id])
	}
	snap.Pirates.Bosses = make([]model.Boss, 0, len(p.Bosses))
	for _, id := range model.SortedKeys(p.Bosses) {
		snap.Pirates.Bosses = append(snap.Pirates.Bosses, p.Bosses[id])
	}

	for _, id := range model.SortedKeys(st.resolved) {
		snap.Resolved = append(snap.Resolved, snapshot.ResolvedV1{EntityID: id, Outcome: st.resolved[id]})
	}
	return snap
}

// primaryCrises picks, per station, the open crisis with the worst stage,
// lowest id first.
func primaryCrises(all map[string]model.Crisis) map[string]model.Crisis {
	out := map[string]model.Crisis{}
	ids := model.SortedKeys(all)
	sort.SliceStable(ids, func(i, j int) bool {
		return model.StageRank(all[ids[i]].Stage) > model.StageRank(all[ids[j]].Stage)
	})
	for _, id := range ids {
		c := all[id]
		if _, ok := out[c.StationID]; !ok {
			out[c.StationID] = c
		}
	}
	return out
}
