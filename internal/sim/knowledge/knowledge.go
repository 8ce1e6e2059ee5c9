package knowledge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

type Layer int

const (
	Existence Layer = iota
	Geography
	Resources
	Threats
	Stability
)

const LayerCount = 5

var layerNames = [LayerCount]string{"Existence", "Geography", "Resources", "Threats", "Stability"}

func (l Layer) String() string {
	if l < 0 || int(l) >= LayerCount {
		return fmt.Sprintf("Layer(%d)", int(l))
	}
	return layerNames[l]
}

var (
	ErrInvalidLayer    = errors.New("invalid knowledge layer")
	ErrRefreshCooldown = errors.New("knowledge refresh on cooldown")
	ErrUnknownZone     = errors.New("unknown zone")
)

func ParseLayer(i int) (Layer, error) {
	if i < 0 || i >= LayerCount {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLayer, i)
	}
	return Layer(i), nil
}

// Source distinguishes player-requested refreshes, which are rate limited,
// from refreshes caused by travel, surveys and sensors.
type Source int

const (
	Manual Source = iota
	Auto
)

type Config struct {
	DecayPerSec       [LayerCount]float64
	Floors            [LayerCount]float64
	ObservedThreshold float64
	CooldownMs        int64
}

func ConfigFrom(f tuning.Fog) Config {
	var c Config
	for i := 0; i < LayerCount; i++ {
		c.DecayPerSec[i] = f.DecayPerSec.At(i)
		c.Floors[i] = f.Floors.At(i)
	}
	c.ObservedThreshold = f.ObservedThreshold
	c.CooldownMs = tuning.Ms(f.RefreshCooldownSec)
	return c
}

type Cell struct {
	Confidence    float64
	Observed      bool
	LastRefreshMs int64
}

type Status string

const (
	StatusUnknown Status = "Unknown"
	StatusStale   Status = "Stale"
	StatusFresh   Status = "Fresh"
)

type Reading struct {
	Layer      Layer
	Confidence float64
	Status     Status
}

// Model holds per-zone, per-layer confidence. Confidence stays within
// [floor, 1] for every layer.
type Model struct {
	cfg   Config
	zones []sector.ZoneID
	cells map[sector.ZoneID]*[LayerCount]Cell
}

func New(cfg Config, zones []sector.ZoneID) *Model {
	m := &Model{cfg: cfg, cells: make(map[sector.ZoneID]*[LayerCount]Cell, len(zones))}
	for _, z := range zones {
		m.addZone(z)
	}
	return m
}

func (m *Model) addZone(z sector.ZoneID) {
	if _, ok := m.cells[z]; ok {
		return
	}
	var row [LayerCount]Cell
	for i := range row {
		row[i] = Cell{Confidence: m.cfg.Floors[i], LastRefreshMs: -1}
	}
	m.cells[z] = &row
	m.zones = append(m.zones, z)
	sort.Slice(m.zones, func(i, j int) bool { return m.zones[i] < m.zones[j] })
}

func (m *Model) Config() Config { return m.cfg }

func (m *Model) Clone() *Model {
	out := &Model{cfg: m.cfg, zones: append([]sector.ZoneID(nil), m.zones...), cells: make(map[sector.ZoneID]*[LayerCount]Cell, len(m.cells))}
	for z, row := range m.cells {
		cp := *row
		out.cells[z] = &cp
	}
	return out
}

// Decay advances every cell by dtMs. scale, when non-nil, multiplies the
// decay rate per zone.
func (m *Model) Decay(dtMs int64, scale func(sector.ZoneID) float64) {
	dt := float64(dtMs) / 1000
	for _, z := range m.zones {
		row := m.cells[z]
		k := 1.0
		if scale != nil {
			k = scale(z)
		}
		for i := range row {
			c := row[i].Confidence - m.cfg.DecayPerSec[i]*k*dt
			if c < m.cfg.Floors[i] {
				c = m.cfg.Floors[i]
			}
			row[i].Confidence = c
		}
	}
}

// CanRefresh reports whether a manual refresh would be accepted at nowMs.
func (m *Model) CanRefresh(z sector.ZoneID, layer Layer, nowMs int64) error {
	if _, err := ParseLayer(int(layer)); err != nil {
		return err
	}
	row, ok := m.cells[z]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownZone, z)
	}
	last := row[layer].LastRefreshMs
	if last >= 0 && nowMs-last < m.cfg.CooldownMs {
		return fmt.Errorf("%w: zone %d %s ready in %dms", ErrRefreshCooldown, z, layer, m.cfg.CooldownMs-(nowMs-last))
	}
	return nil
}

// Refresh sets the layer's confidence to 1 and marks every lower layer as
// observed. Manual refreshes inside the cooldown are rejected.
func (m *Model) Refresh(z sector.ZoneID, layer Layer, nowMs int64, src Source) error {
	if src == Manual {
		if err := m.CanRefresh(z, layer, nowMs); err != nil {
			return err
		}
	} else {
		if _, err := ParseLayer(int(layer)); err != nil {
			return err
		}
	}
	row, ok := m.cells[z]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownZone, z)
	}
	row[layer].Confidence = 1.0
	row[layer].Observed = true
	row[layer].LastRefreshMs = nowMs
	for i := Layer(0); i < layer; i++ {
		row[i].Observed = true
	}
	return nil
}

// Reveal refreshes every layer of a zone.
func (m *Model) Reveal(z sector.ZoneID, nowMs int64) error {
	for l := Existence; l <= Stability; l++ {
		if err := m.Refresh(z, l, nowMs, Auto); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) Cell(z sector.ZoneID, layer Layer) (Cell, error) {
	if _, err := ParseLayer(int(layer)); err != nil {
		return Cell{}, err
	}
	row, ok := m.cells[z]
	if !ok {
		return Cell{}, fmt.Errorf("%w: %d", ErrUnknownZone, z)
	}
	return row[layer], nil
}

// Read reports a layer as Unknown until first observed, then Fresh or Stale
// depending on the observed threshold.
func (m *Model) Read(z sector.ZoneID, layer Layer) (Reading, error) {
	c, err := m.Cell(z, layer)
	if err != nil {
		return Reading{}, err
	}
	r := Reading{Layer: layer, Confidence: c.Confidence, Status: StatusUnknown}
	if c.Observed {
		r.Status = StatusStale
		if c.Confidence >= m.cfg.ObservedThreshold {
			r.Status = StatusFresh
		}
	}
	return r, nil
}

// Confidence returns the layer's confidence, or 0 when never observed.
func (m *Model) Confidence(z sector.ZoneID, layer Layer) float64 {
	c, err := m.Cell(z, layer)
	if err != nil || !c.Observed {
		return 0
	}
	return c.Confidence
}

// EffectiveLayer returns the highest layer ever observed for the zone.
func (m *Model) EffectiveLayer(z sector.ZoneID) (Layer, bool) {
	row, ok := m.cells[z]
	if !ok {
		return 0, false
	}
	for l := Stability; l >= Existence; l-- {
		if row[l].Observed {
			return l, true
		}
	}
	return 0, false
}

// Check clamps any cell outside [floor, 1] and reports it.
func (m *Model) Check() []model.Violation {
	var out []model.Violation
	for _, z := range m.zones {
		row := m.cells[z]
		for i := range row {
			id := fmt.Sprintf("zone-%d/%s", z, Layer(i))
			row[i].Confidence = model.ClampChecked(&out, "knowledge", id, "confidence", row[i].Confidence, m.cfg.Floors[i], 1)
		}
	}
	return out
}

type Record struct {
	Zone          sector.ZoneID `json:"zone"`
	Layer         int           `json:"layer"`
	Confidence    float64       `json:"confidence"`
	Observed      bool          `json:"observed"`
	LastRefreshMs int64         `json:"last_refresh_ms"`
}

func (m *Model) Export() []Record {
	out := make([]Record, 0, len(m.zones)*LayerCount)
	for _, z := range m.zones {
		row := m.cells[z]
		for i, c := range row {
			out = append(out, Record{Zone: z, Layer: i, Confidence: c.Confidence, Observed: c.Observed, LastRefreshMs: c.LastRefreshMs})
		}
	}
	return out
}

// Import overwrites cells from records. Unknown zones are rejected; values
// out of range are left for Check to clamp and report.
func (m *Model) Import(recs []Record) error {
	for _, r := range recs {
		if _, err := ParseLayer(r.Layer); err != nil {
			return err
		}
		row, ok := m.cells[r.Zone]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownZone, r.Zone)
		}
		row[r.Layer] = Cell{Confidence: r.Confidence, Observed: r.Observed, LastRefreshMs: r.LastRefreshMs}
	}
	return nil
}

// Request is an automatic refresh produced by an engine and applied at commit.
type Request struct {
	Zone  sector.ZoneID `json:"zone"`
	Layer Layer         `json:"layer"`
}

// ApplyAuto commits automatic refreshes in order. Requests naming unknown
// zones or layers are returned as errors and skipped.
func (m *Model) ApplyAuto(nowMs int64, reqs []Request) []error {
	var errs []error
	for _, r := range reqs {
		if err := m.Refresh(r.Zone, r.Layer, nowMs, Auto); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
