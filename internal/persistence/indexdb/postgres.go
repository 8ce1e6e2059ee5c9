package indexdb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
)

// PostgresIndex stores the same rows as SQLiteIndex in a shared database so
// several servers can be queried from one place.
type PostgresIndex struct {
	db *gorm.DB
	q  *queue
}

func OpenPostgres(dsn string) (*PostgresIndex, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(
		&MetaRow{}, &TuningRow{}, &TickRow{}, &CommandRow{},
		&ProblemRow{}, &TerminalRow{}, &SnapshotRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	p := &PostgresIndex{db: db, q: newQueue(65536)}
	p.q.start(p.loop)
	return p, nil
}

func (p *PostgresIndex) DB() *gorm.DB { return p.db }

func (p *PostgresIndex) Dropped() uint64 { return p.q.dropped.Load() }

func (p *PostgresIndex) Close() error {
	return p.q.stop(func() error {
		sqlDB, err := p.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
}

func (p *PostgresIndex) WriteTick(entry world.TickLogEntry) error {
	if p == nil {
		return nil
	}
	p.q.push(req{kind: reqTick, tick: rowsForTick(entry)})
	return nil
}

func (p *PostgresIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if p == nil {
		return
	}
	p.q.push(req{kind: reqSnapshot, snapshot: rowForSnapshot(path, snap)})
}

func (p *PostgresIndex) UpsertTuning(scenarioID string, tune tuning.Tuning) error {
	if p == nil {
		return nil
	}
	row := tuningRow(tune)
	return p.db.Transaction(func(tx *gorm.DB) error {
		meta := []MetaRow{{Key: "schema_version", Value: "1"}, {Key: "scenario_id", Value: scenarioID}}
		if err := upsert(tx, []string{"key"}, &meta).Error; err != nil {
			return err
		}
		return upsert(tx, []string{"name"}, &row).Error
	})
}

// upsert replaces every non-key column on conflict, matching the INSERT OR
// REPLACE semantics of the sqlite backend.
func upsert(tx *gorm.DB, keys []string, rows any) *gorm.DB {
	cols := make([]clause.Column, len(keys))
	for i, k := range keys {
		cols[i] = clause.Column{Name: k}
	}
	return tx.Clauses(clause.OnConflict{Columns: cols, UpdateAll: true}).Create(rows)
}

// loop batches rows per transaction. A failed batch counts as dropped.
func (p *PostgresIndex) loop(ch <-chan req) {
	const (
		batchMax  = 500
		batchWait = time.Second
	)
	var (
		batch []req
		timer = time.NewTimer(batchWait)
	)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.writeBatch(context.Background(), batch); err != nil {
			p.q.dropped.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= batchMax {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(batchWait)
		}
	}
}

func (p *PostgresIndex) writeBatch(ctx context.Context, batch []req) error {
	var (
		ticks     []TickRow
		commands  []CommandRow
		problems  []ProblemRow
		terminal  []TerminalRow
		snapshots []SnapshotRow
	)
	for _, r := range batch {
		switch r.kind {
		case reqTick:
			ticks = append(ticks, r.tick.tick)
			commands = append(commands, r.tick.commands...)
			problems = append(problems, r.tick.problems...)
			terminal = append(terminal, r.tick.terminal...)
		case reqSnapshot:
			snapshots = append(snapshots, r.snapshot)
		}
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(ticks) > 0 {
			if err := upsert(tx, []string{"tick"}, &ticks).Error; err != nil {
				return err
			}
		}
		if len(commands) > 0 {
			if err := upsert(tx, []string{"tick", "seq"}, &commands).Error; err != nil {
				return err
			}
		}
		if len(problems) > 0 {
			if err := upsert(tx, []string{"tick", "seq"}, &problems).Error; err != nil {
				return err
			}
		}
		if len(terminal) > 0 {
			if err := upsert(tx, []string{"tick", "seq"}, &terminal).Error; err != nil {
				return err
			}
		}
		if len(snapshots) > 0 {
			if err := upsert(tx, []string{"tick"}, &snapshots).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
