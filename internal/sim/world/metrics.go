package world

import (
	"time"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
)

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick      uint64 `json:"tick"`
	ElapsedMs int64  `json:"elapsed_ms"`

	Stations     int `json:"stations"`
	LiveStations int `json:"live_stations"`
	Fleets       int `json:"fleets"`
	LostFleets   int `json:"lost_fleets"`
	OpenCrises   int `json:"open_crises"`
	PirateGroups int `json:"pirate_groups"`
	ActiveBases  int `json:"active_bases"`

	Epoch     model.Epoch `json:"epoch"`
	PlayerOre float64     `json:"player_ore"`

	QueueDepth    int    `json:"queue_depth"`
	TickProblems  int    `json:"tick_problems"`
	TickClamps    int    `json:"tick_clamps"`
	ProblemsTotal uint64 `json:"problems_total"`

	StepMS float64 `json:"step_ms"`
}

func (w *World) updateMetrics(ticks uint64, problems, clamps int, took time.Duration) {
	st := &w.st
	m := WorldMetrics{
		Tick:          ticks,
		ElapsedMs:     int64(ticks) * w.dtMs,
		Stations:      len(st.stations),
		Fleets:        len(st.fleets),
		LostFleets:    len(st.lost),
		OpenCrises:    len(st.crises),
		PirateGroups:  len(st.pirates.Groups),
		Epoch:         st.pirates.Epoch,
		PlayerOre:     st.player.Ore,
		QueueDepth:    w.queue.Len(),
		TickProblems:  problems,
		TickClamps:    clamps,
		ProblemsTotal: w.ProblemsTotal(),
		StepMS:        float64(took.Microseconds()) / 1000,
	}
	for _, s := range st.stations {
		if s.Live() {
			m.LiveStations++
		}
	}
	for _, b := range st.pirates.Bases {
		if !b.Cleared {
			m.ActiveBases++
		}
	}
	w.metrics.Store(&m)
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	m := w.metrics.Load()
	if m == nil {
		return WorldMetrics{}
	}
	return *m
}
