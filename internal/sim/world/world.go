package world

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/consequence"
	"github.com/larksoftware/xstaradventures/internal/sim/crisis"
	"github.com/larksoftware/xstaradventures/internal/sim/fleet"
	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pirate"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/station"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

type WorldConfig struct {
	ID   string
	Seed int64

	// Strict panics on any invariant violation instead of clamping.
	Strict bool
	// Debug accepts the Debug* commands.
	Debug bool

	ProblemsKept int
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "frontier"
	}
	if c.ProblemsKept <= 0 {
		c.ProblemsKept = 512
	}
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg  WorldConfig
	tun  tuning.Tuning
	dtMs int64

	tick atomic.Uint64
	st   state

	stations  *station.Engine
	pirates   *pirate.Engine
	crises    *crisis.Engine
	fleets    *fleet.Engine
	resolver  *consequence.Resolver
	validator *command.Validator
	queue     *command.Queue

	view     atomic.Pointer[View]
	metrics  atomic.Pointer[WorldMetrics]
	problems *problemRing

	snapReqs chan snapshotReq
	stop     chan struct{}
	once     sync.Once

	frameMu sync.Mutex
	frames  map[int]chan Frame
	frameID int

	// Optional (may be nil).
	logger     *log.Logger
	tickLogger TickLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1
}

// state is the committed world between ticks.
type state struct {
	sector    *sector.Sector
	knowledge *knowledge.Model
	pressure  *pressure.Field

	player   model.Player
	stations map[string]model.Station
	fleets   map[string]model.Fleet
	lost     []model.Fleet
	crises   map[string]model.Crisis
	archive  []model.Crisis
	pirates  model.PirateState
	control  map[sector.ZoneID]model.Control
	ore      map[sector.ZoneID]model.OreNode
	resolved map[string]model.Outcome
	counters model.Counters

	// cmdSeq is the highest command sequence applied at a tick boundary.
	cmdSeq uint64
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick     uint64                `json:"tick"`
	Commands []command.Command     `json:"commands,omitempty"`
	Rejected []RejectedCommand     `json:"rejected,omitempty"`
	Terminal []model.TerminalEvent `json:"terminal,omitempty"`
	Problems []model.Problem       `json:"problems,omitempty"`
	Digest   string                `json:"digest"`
}

type RejectedCommand struct {
	Command command.Command `json:"command"`
	Code    string          `json:"code"`
	Reason  string          `json:"reason"`
}

// New builds tick 0 from a scenario: zones and routes, bases with their
// bosses, operational starting stations and idle fleets. The player's zone
// and every zone holding a starting station start fully revealed.
func New(cfg WorldConfig, sc sector.Scenario, tun tuning.Tuning) (*World, error) {
	cfg.applyDefaults()
	if cfg.Seed == 0 {
		cfg.Seed = sc.Seed
	}
	if err := tun.Validate(); err != nil {
		return nil, err
	}
	sc.Normalize()
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	sec, err := sc.Sector()
	if err != nil {
		return nil, err
	}
	w, err := newWorld(cfg, tun, sec)
	if err != nil {
		return nil, err
	}

	st := &w.st
	st.player = model.Player{Zone: sc.PlayerZone, Ore: sc.PlayerOre}
	for _, bs := range sc.PirateBases {
		b, k := w.pirates.NewBase(st.counters.Base(), st.counters.Boss(), bs.Zone, bs.Tier, bs.Radius, 0)
		st.pirates.Bases[b.ID] = b
		st.pirates.Bosses[k.ID] = k
	}
	for _, ss := range sc.Stations {
		kind, err := model.ParseStationKind(ss.Kind)
		if err != nil {
			return nil, err
		}
		fuel := -1.0
		if ss.Fuel != nil {
			fuel = *ss.Fuel
		}
		s := station.NewStation(tun.Stations, st.counters.Station(), kind, ss.Zone, ss.X, ss.Y, fuel, 0)
		if ss.Operational {
			station.MakeOperational(&s, 0)
		}
		st.stations[s.ID] = s
	}
	for _, fs := range sc.Fleets {
		role, err := model.ParseRole(fs.Role)
		if err != nil {
			return nil, err
		}
		f := fleet.NewFleet(tun.Fleets, st.counters.Fleet(), role, fs.Home)
		if fs.Autonomy != "" {
			if f.Autonomy, err = model.ParseAutonomy(fs.Autonomy); err != nil {
				return nil, err
			}
		}
		if fs.RiskTolerance != "" {
			if f.Risk, err = model.ParseRiskTolerance(fs.RiskTolerance); err != nil {
				return nil, err
			}
		}
		st.fleets[f.ID] = f
	}
	st.control = consequence.InitialControl(sec, st.stations, st.pirates)

	_ = st.knowledge.Reveal(sc.PlayerZone, 0)
	for _, id := range model.SortedKeys(st.stations) {
		_ = st.knowledge.Reveal(st.stations[id].Zone, 0)
	}

	w.publish(0)
	return w, nil
}

// newWorld wires engines and empty state around a sector.
func newWorld(cfg WorldConfig, tun tuning.Tuning, sec *sector.Sector) (*World, error) {
	v, err := command.NewValidator(tun, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("command schema: %w", err)
	}
	pe := pirate.NewEngine(tun.Pirates)
	w := &World{
		cfg:       cfg,
		tun:       tun,
		dtMs:      tun.TickMs(),
		stations:  station.NewEngine(tun.Stations),
		pirates:   pe,
		crises:    crisis.NewEngine(tun.Crisis),
		fleets:    fleet.NewEngine(tun.Fleets),
		resolver:  consequence.NewResolver(pe),
		validator: v,
		queue:     command.NewQueue(tun.QueueLimit),
		problems:  newProblemRing(cfg.ProblemsKept),
		snapReqs:  make(chan snapshotReq, 16),
		stop:      make(chan struct{}),
		frames:    map[int]chan Frame{},
		st: state{
			sector:    sec,
			knowledge: knowledge.New(knowledge.ConfigFrom(tun.Fog), sec.ZoneIDs()),
			pressure:  pressure.New(tun.Pressure, sec.ZoneIDs()),
			stations:  map[string]model.Station{},
			fleets:    map[string]model.Fleet{},
			crises:    map[string]model.Crisis{},
			pirates:   model.NewPirateState(),
			control:   map[sector.ZoneID]model.Control{},
			ore:       oreNodes(sec, tun.Fleets.OreFieldCapacity),
			resolved:  map[string]model.Outcome{},
		},
	}
	return w, nil
}

// oreNodes gives every zone with ore fields a full pool.
func oreNodes(sec *sector.Sector, perField float64) map[sector.ZoneID]model.OreNode {
	out := map[sector.ZoneID]model.OreNode{}
	for _, z := range sec.Zones() {
		if z.OreFields > 0 {
			c := float64(z.OreFields) * perField
			out[z.ID] = model.OreNode{Zone: z.ID, Remaining: c, Capacity: c}
		}
	}
	return out
}

func (w *World) SetLogger(l *log.Logger)                       { w.logger = l }
func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Seed() int64 { return w.cfg.Seed }

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.tun.TickRateHz
}

func (w *World) TickMs() int64 { return w.dtMs }

// CurrentTick is the next tick to be stepped.
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Debug() bool { return w.cfg.Debug }

func (w *World) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
