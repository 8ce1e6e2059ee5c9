package world

import (
	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

// View is a read-only copy of committed state. Published views are never
// mutated, so any goroutine may read them.
type View struct {
	tick    uint64
	nowMs   int64
	sector  *sector.Sector
	know    *knowledge.Model
	player  model.Player
	station map[string]model.Station
	fleet   map[string]model.Fleet
	crises  map[string]model.Crisis
	pirates model.PirateState
	control map[sector.ZoneID]model.Control
	ore     map[sector.ZoneID]model.OreNode
}

// view wraps the live state without copying. Only the world goroutine may
// use it.
func (s *state) view(tick uint64, nowMs int64) *View {
	return &View{
		tick:    tick,
		nowMs:   nowMs,
		sector:  s.sector,
		know:    s.knowledge,
		player:  s.player,
		station: s.stations,
		fleet:   s.fleets,
		crises:  s.crises,
		pirates: s.pirates,
		control: s.control,
		ore:     s.ore,
	}
}

// stationsIn returns the zone's stations ordered by id.
func (s *state) stationsIn(z sector.ZoneID) []model.Station {
	return s.view(0, 0).StationsIn(z)
}

// frozen copies the live state for publication.
func (s *state) frozen(tick uint64, nowMs int64) *View {
	v := &View{
		tick:    tick,
		nowMs:   nowMs,
		sector:  s.sector,
		know:    s.knowledge.Clone(),
		player:  s.player,
		station: make(map[string]model.Station, len(s.stations)),
		fleet:   make(map[string]model.Fleet, len(s.fleets)),
		crises:  make(map[string]model.Crisis, len(s.crises)),
		pirates: s.pirates.Clone(),
		control: make(map[sector.ZoneID]model.Control, len(s.control)),
		ore:     make(map[sector.ZoneID]model.OreNode, len(s.ore)),
	}
	for k, x := range s.stations {
		v.station[k] = x
	}
	for k, f := range s.fleets {
		v.fleet[k] = f.Clone()
	}
	for k, c := range s.crises {
		c.Affected = append([]string(nil), c.Affected...)
		v.crises[k] = c
	}
	for k, c := range s.control {
		v.control[k] = c
	}
	for k, n := range s.ore {
		v.ore[k] = n
	}
	return v
}

// Tick is the last committed tick count.
func (v *View) Tick() uint64              { return v.tick }
func (v *View) NowMs() int64              { return v.nowMs }
func (v *View) Sector() *sector.Sector    { return v.sector }
func (v *View) PlayerZone() sector.ZoneID { return v.player.Zone }
func (v *View) PlayerOre() float64        { return v.player.Ore }
func (v *View) Player() model.Player      { return v.player }

func (v *View) Fleet(id string) (model.Fleet, bool) {
	f, ok := v.fleet[id]
	return f, ok
}

func (v *View) Station(id string) (model.Station, bool) {
	s, ok := v.station[id]
	return s, ok
}

// OreNode is the zone's ore pool. Zones without ore fields have none.
func (v *View) OreNode(z sector.ZoneID) (model.OreNode, bool) {
	n, ok := v.ore[z]
	return n, ok
}

// OreNodes lists every ore pool by zone id.
func (v *View) OreNodes() []model.OreNode {
	out := make([]model.OreNode, 0, len(v.ore))
	for _, z := range model.SortedKeys(v.ore) {
		out = append(out, v.ore[z])
	}
	return out
}

func (v *View) StationsIn(z sector.ZoneID) []model.Station {
	var out []model.Station
	for _, id := range model.SortedKeys(v.station) {
		if s := v.station[id]; s.Zone == z {
			out = append(out, s)
		}
	}
	return out
}

func (v *View) Base(id string) (model.PirateBase, bool) {
	b, ok := v.pirates.Bases[id]
	return b, ok
}

func (v *View) BaseInZone(z sector.ZoneID) (model.PirateBase, bool) {
	return v.pirates.BaseInZone(z)
}

func (v *View) Control(z sector.ZoneID) model.Control {
	if c, ok := v.control[z]; ok {
		return c
	}
	return model.ControlNone
}

func (v *View) CanRefresh(z sector.ZoneID, l knowledge.Layer) error {
	return v.know.CanRefresh(z, l, v.nowMs)
}

func (v *View) Knowledge(z sector.ZoneID, l knowledge.Layer) (knowledge.Reading, error) {
	return v.know.Read(z, l)
}

func (v *View) Stations() []model.Station {
	out := make([]model.Station, 0, len(v.station))
	for _, id := range model.SortedKeys(v.station) {
		out = append(out, v.station[id])
	}
	return out
}

func (v *View) Fleets() []model.Fleet {
	out := make([]model.Fleet, 0, len(v.fleet))
	for _, id := range model.SortedKeys(v.fleet) {
		out = append(out, v.fleet[id])
	}
	return out
}

func (v *View) Crises() []model.Crisis {
	out := make([]model.Crisis, 0, len(v.crises))
	for _, id := range model.SortedKeys(v.crises) {
		out = append(out, v.crises[id])
	}
	return out
}

func (v *View) Pirates() model.PirateState { return v.pirates }
