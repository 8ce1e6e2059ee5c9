package knowledge

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

func newModel() *Model {
	return New(ConfigFrom(tuning.Defaults().Fog), []sector.ZoneID{1, 2, 3})
}

func TestRefreshThenZeroDecayIsOne(t *testing.T) {
	m := newModel()
	if err := m.Refresh(1, Threats, 0, Manual); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	m.Decay(0, nil)
	c, _ := m.Cell(1, Threats)
	if c.Confidence != 1.0 {
		t.Fatalf("confidence=%v want 1.0", c.Confidence)
	}
}

func TestRefreshMarksLowerLayersObserved(t *testing.T) {
	m := newModel()
	if _, ok := m.EffectiveLayer(2); ok {
		t.Fatalf("never-observed zone should have no effective layer")
	}
	if err := m.Refresh(2, Resources, 0, Auto); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	for _, l := range []Layer{Existence, Geography} {
		r, _ := m.Read(2, l)
		if r.Status == StatusUnknown {
			t.Fatalf("layer %s should be observed", l)
		}
	}
	r, _ := m.Read(2, Threats)
	if r.Status != StatusUnknown {
		t.Fatalf("higher layer should stay unknown, got %s", r.Status)
	}
	if l, ok := m.EffectiveLayer(2); !ok || l != Resources {
		t.Fatalf("effective layer=%v,%v want Resources", l, ok)
	}
}

func TestStaleIsDistinctFromUnknown(t *testing.T) {
	m := newModel()
	_ = m.Refresh(3, Existence, 0, Auto)
	m.Decay(600_000, nil)
	r, _ := m.Read(3, Existence)
	if r.Status != StatusStale {
		t.Fatalf("status=%s want Stale", r.Status)
	}
	if r.Confidence != m.cfg.Floors[Existence] {
		t.Fatalf("confidence=%v want floor", r.Confidence)
	}
}

func TestManualRefreshCooldown(t *testing.T) {
	m := newModel()
	if err := m.Refresh(1, Geography, 1000, Manual); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	err := m.Refresh(1, Geography, 5000, Manual)
	if !errors.Is(err, ErrRefreshCooldown) {
		t.Fatalf("err=%v want ErrRefreshCooldown", err)
	}
	if err := m.Refresh(1, Geography, 5000, Auto); err != nil {
		t.Fatalf("auto refresh should ignore cooldown: %v", err)
	}
	if err := m.Refresh(1, Geography, 15000, Manual); err != nil {
		t.Fatalf("refresh after cooldown: %v", err)
	}
}

func TestInvalidLayer(t *testing.T) {
	m := newModel()
	for _, l := range []int{-1, 5, 42} {
		if err := m.Refresh(1, Layer(l), 0, Auto); !errors.Is(err, ErrInvalidLayer) {
			t.Fatalf("layer %d: err=%v want ErrInvalidLayer", l, err)
		}
		if _, err := ParseLayer(l); !errors.Is(err, ErrInvalidLayer) {
			t.Fatalf("ParseLayer(%d): err=%v", l, err)
		}
	}
}

func TestConfidenceStaysInBounds(t *testing.T) {
	m := newModel()
	rng := rand.New(rand.NewSource(7))
	now := int64(0)
	scale := func(z sector.ZoneID) float64 { return 0.5 + float64(z)*0.4 }
	for i := 0; i < 5000; i++ {
		dt := int64(rng.Intn(5000))
		now += dt
		m.Decay(dt, scale)
		if rng.Intn(4) == 0 {
			z := sector.ZoneID(1 + rng.Intn(3))
			_ = m.Refresh(z, Layer(rng.Intn(LayerCount)), now, Source(rng.Intn(2)))
		}
		for _, z := range []sector.ZoneID{1, 2, 3} {
			for l := 0; l < LayerCount; l++ {
				c, _ := m.Cell(z, Layer(l))
				if c.Confidence < m.cfg.Floors[l] || c.Confidence > 1 {
					t.Fatalf("step %d zone %d layer %d: confidence %v out of bounds", i, z, l, c.Confidence)
				}
			}
		}
	}
	if v := m.Check(); len(v) != 0 {
		t.Fatalf("unexpected violations: %v", v)
	}
}

func TestCheckClampsImportedValues(t *testing.T) {
	m := newModel()
	if err := m.Import([]Record{{Zone: 1, Layer: 0, Confidence: 1.7, Observed: true}, {Zone: 2, Layer: 4, Confidence: -0.2}}); err != nil {
		t.Fatalf("Import: %v", err)
	}
	v := m.Check()
	if len(v) != 2 {
		t.Fatalf("violations=%d want 2", len(v))
	}
	c, _ := m.Cell(1, Existence)
	if c.Confidence != 1 {
		t.Fatalf("clamped=%v want 1", c.Confidence)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := newModel()
	cp := m.Clone()
	_ = cp.Refresh(1, Stability, 0, Auto)
	if _, ok := m.EffectiveLayer(1); ok {
		t.Fatalf("refresh on clone leaked into original")
	}
}
