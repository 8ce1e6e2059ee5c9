package model

import (
	"cmp"
	"fmt"
	"slices"
)

// TickContext is passed explicitly into every subsystem call. NowMs is the
// simulated run time at the end of the tick being computed.
type TickContext struct {
	Tick  uint64
	NowMs int64
	DtMs  int64
}

func (c TickContext) PrevMs() int64 { return c.NowMs - c.DtMs }

// Dt is the tick length in seconds.
func (c TickContext) Dt() float64 { return float64(c.DtMs) / 1000 }

// Crossed reports whether a multiple of periodMs (offset by originMs) lies in
// the half-open interval (prevMs, nowMs].
func Crossed(prevMs, nowMs, originMs, periodMs int64) bool {
	if periodMs <= 0 || nowMs <= prevMs || nowMs < originMs {
		return false
	}
	a := prevMs - originMs
	b := nowMs - originMs
	if a < 0 {
		return true
	}
	return a/periodMs != b/periodMs
}

func FormatID(prefix string, n uint64) string { return fmt.Sprintf("%s%06d", prefix, n) }

// SortedKeys returns map keys in ascending order; every engine iterates
// entities through it so results never depend on map order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Counters hands out entity ids. It is part of persisted state.
type Counters struct {
	NextStation uint64 `json:"next_station"`
	NextFleet   uint64 `json:"next_fleet"`
	NextCrisis  uint64 `json:"next_crisis"`
	NextGroup   uint64 `json:"next_group"`
	NextBase    uint64 `json:"next_base"`
	NextBoss    uint64 `json:"next_boss"`
}

func (c *Counters) Station() string { c.NextStation++; return FormatID("S", c.NextStation) }
func (c *Counters) Fleet() string   { c.NextFleet++; return FormatID("F", c.NextFleet) }
func (c *Counters) Crisis() string  { c.NextCrisis++; return FormatID("C", c.NextCrisis) }
func (c *Counters) Group() string   { c.NextGroup++; return FormatID("G", c.NextGroup) }
func (c *Counters) Base() string    { c.NextBase++; return FormatID("B", c.NextBase) }
func (c *Counters) Boss() string    { c.NextBoss++; return FormatID("K", c.NextBoss) }
