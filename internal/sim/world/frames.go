package world

import (
	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

// Frame is what presentation receives after each commit.
type Frame struct {
	Tick      uint64          `json:"tick"`
	ElapsedMs int64           `json:"elapsed_ms"`
	Digest    string          `json:"digest,omitempty"`
	State     FrameState      `json:"state"`
	Problems  []model.Problem `json:"problems,omitempty"`
}

type FrameState struct {
	Player   model.Player        `json:"player"`
	Zones    []ZoneFrame         `json:"zones"`
	Stations []model.Station     `json:"stations"`
	Fleets   []model.Fleet       `json:"fleets"`
	Crises   []model.Crisis      `json:"crises"`
	Groups   []model.PirateGroup `json:"pirate_groups"`
	Bases    []model.PirateBase  `json:"pirate_bases"`
	Epoch    model.Epoch         `json:"epoch"`
}

// ZoneFrame is a zone as the player knows it: the highest observed layer and
// its reading, never the ground truth beneath.
type ZoneFrame struct {
	ID       sector.ZoneID    `json:"id"`
	Name     string           `json:"name"`
	Modifier sector.Modifier  `json:"modifier,omitempty"`
	Control  model.Control    `json:"control"`
	Layer    string           `json:"layer,omitempty"`
	Reading  knowledge.Status `json:"reading"`
	Conf     float64          `json:"confidence"`
}

// BuildFrame renders a published view.
func BuildFrame(v *View, digest string, problems []model.Problem) Frame {
	f := Frame{Tick: v.Tick(), ElapsedMs: v.NowMs(), Digest: digest, Problems: problems}
	f.State.Player = v.Player()
	for _, z := range v.Sector().Zones() {
		zf := ZoneFrame{ID: z.ID, Name: z.Name, Modifier: z.Modifier, Control: v.Control(z.ID), Reading: knowledge.StatusUnknown}
		if l, ok := v.know.EffectiveLayer(z.ID); ok {
			if r, err := v.Knowledge(z.ID, l); err == nil {
				zf.Layer, zf.Reading, zf.Conf = l.String(), r.Status, r.Confidence
			}
		}
		f.State.Zones = append(f.State.Zones, zf)
	}
	f.State.Stations = v.Stations()
	f.State.Fleets = v.Fleets()
	f.State.Crises = v.Crises()
	p := v.Pirates()
	f.State.Epoch = p.Epoch
	for _, id := range model.SortedKeys(p.Groups) {
		f.State.Groups = append(f.State.Groups, p.Groups[id])
	}
	for _, id := range model.SortedKeys(p.Bases) {
		f.State.Bases = append(f.State.Bases, p.Bases[id])
	}
	return f
}

// Subscribe registers a frame channel. Slow readers only ever see the most
// recent frame. The returned func unsubscribes.
func (w *World) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, 1)
	w.frameMu.Lock()
	w.frameID++
	id := w.frameID
	w.frames[id] = ch
	w.frameMu.Unlock()
	return ch, func() {
		w.frameMu.Lock()
		delete(w.frames, id)
		w.frameMu.Unlock()
	}
}

func (w *World) hasSubscribers() bool {
	w.frameMu.Lock()
	defer w.frameMu.Unlock()
	return len(w.frames) > 0
}

func (w *World) broadcastFrame(digest string, problems []model.Problem) {
	w.frameMu.Lock()
	defer w.frameMu.Unlock()
	if len(w.frames) == 0 {
		return
	}
	f := BuildFrame(w.View(), digest, problems)
	for _, ch := range w.frames {
		sendLatest(ch, f)
	}
}

func sendLatest(ch chan Frame, f Frame) {
	select {
	case ch <- f:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- f:
	default:
	}
}
