package indexdb

import (
	"encoding/json"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
)

// The read model is a flat projection of the tick log and snapshot writer.
// Both backends store the same rows; the JSONL logs stay the source of truth.

type MetaRow struct {
	Key   string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

func (MetaRow) TableName() string { return "meta" }

type TickRow struct {
	Tick     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Digest   string `gorm:"not null"`
	Commands int    `gorm:"not null"`
	Rejected int    `gorm:"not null"`
	Terminal int    `gorm:"not null"`
	Problems int    `gorm:"not null"`
	RawJSON  string `gorm:"column:raw_json;not null"`
}

func (TickRow) TableName() string { return "ticks" }

type CommandRow struct {
	Tick     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Seq      int    `gorm:"primaryKey;autoIncrement:false"`
	Type     string `gorm:"not null;index"`
	Target   string `gorm:"not null"`
	Accepted bool   `gorm:"not null"`
	Code     string
	JSON     string `gorm:"column:json;not null"`
}

func (CommandRow) TableName() string { return "commands" }

type ProblemRow struct {
	Tick     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Seq      int    `gorm:"primaryKey;autoIncrement:false"`
	Source   string `gorm:"not null;index"`
	EntityID string `gorm:"not null"`
	Text     string `gorm:"not null"`
}

func (ProblemRow) TableName() string { return "problems" }

type TerminalRow struct {
	Tick     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Seq      int    `gorm:"primaryKey;autoIncrement:false"`
	Kind     string `gorm:"not null"`
	EntityID string `gorm:"not null;index"`
	Zone     int    `gorm:"not null"`
	Outcome  string
	CrisisID string
	Reason   string
}

func (TerminalRow) TableName() string { return "terminal_events" }

type SnapshotRow struct {
	Tick         uint64 `gorm:"primaryKey;autoIncrement:false"`
	Path         string `gorm:"not null"`
	Seed         int64  `gorm:"not null"`
	Stations     int    `gorm:"not null"`
	Live         int    `gorm:"not null"`
	Fleets       int    `gorm:"not null"`
	Crises       int    `gorm:"not null"`
	PirateGroups int    `gorm:"not null"`
	Bases        int    `gorm:"not null"`
	Epoch        string `gorm:"not null"`
	PlayerOre    float64
}

func (SnapshotRow) TableName() string { return "snapshots" }

type TuningRow struct {
	Name      string `gorm:"primaryKey"`
	Digest    string `gorm:"not null"`
	JSON      string `gorm:"column:json;not null"`
	UpdatedAt string `gorm:"not null"`
}

func (TuningRow) TableName() string { return "tuning" }

// tickRows flattens one log entry. Accepted commands come first, then
// rejections, each numbered in arrival order.
type tickRows struct {
	tick     TickRow
	commands []CommandRow
	problems []ProblemRow
	terminal []TerminalRow
}

func rowsForTick(e world.TickLogEntry) tickRows {
	raw, _ := json.Marshal(e)
	out := tickRows{tick: TickRow{
		Tick:     e.Tick,
		Digest:   e.Digest,
		Commands: len(e.Commands),
		Rejected: len(e.Rejected),
		Terminal: len(e.Terminal),
		Problems: len(e.Problems),
		RawJSON:  string(raw),
	}}
	seq := 0
	for _, c := range e.Commands {
		b, _ := json.Marshal(c)
		out.commands = append(out.commands, CommandRow{
			Tick: e.Tick, Seq: seq, Type: string(c.Type), Target: commandTarget(c.FleetID, c.StationID, c.TargetID), Accepted: true, JSON: string(b),
		})
		seq++
	}
	for _, r := range e.Rejected {
		b, _ := json.Marshal(r.Command)
		c := r.Command
		out.commands = append(out.commands, CommandRow{
			Tick: e.Tick, Seq: seq, Type: string(c.Type), Target: commandTarget(c.FleetID, c.StationID, c.TargetID), Code: r.Code, JSON: string(b),
		})
		seq++
	}
	for i, p := range e.Problems {
		out.problems = append(out.problems, ProblemRow{Tick: e.Tick, Seq: i, Source: p.Source, EntityID: p.EntityID, Text: p.Text})
	}
	for i, ev := range e.Terminal {
		out.terminal = append(out.terminal, TerminalRow{
			Tick: e.Tick, Seq: i, Kind: string(ev.Kind), EntityID: ev.EntityID, Zone: int(ev.Zone),
			Outcome: string(ev.Outcome), CrisisID: ev.CrisisID, Reason: ev.Reason,
		})
	}
	return out
}

func commandTarget(ids ...string) string {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}

func rowForSnapshot(path string, snap snapshot.SnapshotV1) SnapshotRow {
	r := SnapshotRow{
		Tick:         snap.Header.Tick,
		Path:         path,
		Seed:         snap.Seed,
		Stations:     len(snap.Stations),
		Fleets:       len(snap.Fleets),
		Crises:       len(snap.Crises),
		PirateGroups: len(snap.Pirates.Groups),
		Epoch:        string(snap.Pirates.Epoch),
		PlayerOre:    snap.Player.Ore,
	}
	for _, s := range snap.Stations {
		if s.State != model.Failed {
			r.Live++
		}
	}
	for _, b := range snap.Pirates.Bases {
		if !b.Cleared {
			r.Bases++
		}
	}
	return r
}
