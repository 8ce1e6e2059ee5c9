package pressure

import (
	"fmt"
	"sort"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

type Source string

const (
	SourcePirate  Source = "pirate"
	SourceFaction Source = "faction"
)

type Cell struct {
	Pirate            float64 `json:"pirate"`
	Faction           float64 `json:"faction"`
	SuppressedUntilMs int64   `json:"suppressed_until_ms,omitempty"`
}

func (c Cell) Total() float64 { return c.Pirate + c.Faction }

// Dominant names the larger term; ties go to pirate.
func (c Cell) Dominant() Source {
	if c.Faction > c.Pirate {
		return SourceFaction
	}
	return SourcePirate
}

// Delta is a change to one zone's terms. Positive pirate additions to a
// suppressed zone are scaled down. SuppressForMs, when set, starts or extends
// suppression.
type Delta struct {
	Zone          sector.ZoneID `json:"zone"`
	Pirate        float64       `json:"pirate,omitempty"`
	Faction       float64       `json:"faction,omitempty"`
	SuppressForMs int64         `json:"suppress_for_ms,omitempty"`
	Source        string        `json:"source,omitempty"`
}

// Field is the per-zone pressure map. Terms stay within [0, Max].
type Field struct {
	cfg   tuning.Pressure
	zones []sector.ZoneID
	cells map[sector.ZoneID]Cell
}

func New(cfg tuning.Pressure, zones []sector.ZoneID) *Field {
	f := &Field{cfg: cfg, cells: make(map[sector.ZoneID]Cell, len(zones))}
	for _, z := range zones {
		f.cells[z] = Cell{}
		f.zones = append(f.zones, z)
	}
	sort.Slice(f.zones, func(i, j int) bool { return f.zones[i] < f.zones[j] })
	return f
}

func (f *Field) Clone() *Field {
	out := &Field{cfg: f.cfg, zones: append([]sector.ZoneID(nil), f.zones...), cells: make(map[sector.ZoneID]Cell, len(f.cells))}
	for z, c := range f.cells {
		out.cells[z] = c
	}
	return out
}

func (f *Field) Get(z sector.ZoneID) Cell { return f.cells[z] }

func (f *Field) Pirate(z sector.ZoneID) float64 { return f.cells[z].Pirate }

func (f *Field) Suppressed(z sector.ZoneID, nowMs int64) bool {
	return f.cells[z].SuppressedUntilMs > nowMs
}

// Decay relaxes both terms toward zero.
func (f *Field) Decay(dtMs int64) {
	dt := float64(dtMs) / 1000
	for _, z := range f.zones {
		c := f.cells[z]
		c.Pirate -= f.cfg.PirateDecayPerSec * dt
		if c.Pirate < 0 {
			c.Pirate = 0
		}
		c.Faction -= f.cfg.FactionDecayPerSec * dt
		if c.Faction < 0 {
			c.Faction = 0
		}
		f.cells[z] = c
	}
}

// Apply commits deltas in order. Unknown zones are skipped.
func (f *Field) Apply(nowMs int64, deltas []Delta) {
	for _, d := range deltas {
		c, ok := f.cells[d.Zone]
		if !ok {
			continue
		}
		p := d.Pirate
		if p > 0 && c.SuppressedUntilMs > nowMs {
			p *= f.cfg.SuppressionFactor
		}
		c.Pirate = model.Clamp(c.Pirate+p, 0, f.cfg.Max)
		c.Faction = model.Clamp(c.Faction+d.Faction, 0, f.cfg.Max)
		if d.SuppressForMs > 0 && nowMs+d.SuppressForMs > c.SuppressedUntilMs {
			c.SuppressedUntilMs = nowMs + d.SuppressForMs
		}
		f.cells[d.Zone] = c
	}
}

// Check clamps any term outside [0, Max] and reports it.
func (f *Field) Check() []model.Violation {
	var out []model.Violation
	for _, z := range f.zones {
		c := f.cells[z]
		id := fmt.Sprintf("zone-%d", z)
		c.Pirate = model.ClampChecked(&out, "pressure", id, "pirate", c.Pirate, 0, f.cfg.Max)
		c.Faction = model.ClampChecked(&out, "pressure", id, "faction", c.Faction, 0, f.cfg.Max)
		f.cells[z] = c
	}
	return out
}

type Record struct {
	Zone sector.ZoneID `json:"zone"`
	Cell
}

func (f *Field) Export() []Record {
	out := make([]Record, 0, len(f.zones))
	for _, z := range f.zones {
		out = append(out, Record{Zone: z, Cell: f.cells[z]})
	}
	return out
}

func (f *Field) Import(recs []Record) error {
	for _, r := range recs {
		if _, ok := f.cells[r.Zone]; !ok {
			return fmt.Errorf("pressure: unknown zone %d", r.Zone)
		}
		f.cells[r.Zone] = r.Cell
	}
	return nil
}
