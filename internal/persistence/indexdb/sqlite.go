package indexdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
)

type SQLiteIndex struct {
	db *sql.DB
	q  *queue
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, q: newQueue(65536)}
	s.q.start(s.loop)
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits append-only writes; NORMAL sync is enough for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			commands INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			terminal INTEGER NOT NULL,
			problems INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			target TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			code TEXT,
			json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_type_tick ON commands(type, tick);`,
		`CREATE TABLE IF NOT EXISTS problems (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			source TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_problems_source_tick ON problems(source, tick);`,
		`CREATE TABLE IF NOT EXISTS terminal_events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			zone INTEGER NOT NULL,
			outcome TEXT,
			crisis_id TEXT,
			reason TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_terminal_entity ON terminal_events(entity_id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			stations INTEGER NOT NULL,
			live INTEGER NOT NULL,
			fleets INTEGER NOT NULL,
			crises INTEGER NOT NULL,
			pirate_groups INTEGER NOT NULL,
			bases INTEGER NOT NULL,
			epoch TEXT NOT NULL,
			player_ore REAL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error { return s.q.stop(s.db.Close) }

// DB exposes the handle for read queries.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

// Dropped counts requests shed because the writer fell behind.
func (s *SQLiteIndex) Dropped() uint64 { return s.q.dropped.Load() }

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil {
		return nil
	}
	s.q.push(req{kind: reqTick, tick: rowsForTick(entry)})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	s.q.push(req{kind: reqSnapshot, snapshot: rowForSnapshot(path, snap)})
}

// UpsertTuning stores the tuning values actually applied, keyed by digest.
func (s *SQLiteIndex) UpsertTuning(scenarioID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	row := tuningRow(tune)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('scenario_id',?)`, scenarioID); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		row.Name, row.Digest, row.JSON, row.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func tuningRow(tune tuning.Tuning) TuningRow {
	b, _ := json.Marshal(tune)
	sum := blake3.Sum256(b)
	return TuningRow{
		Name:      "tuning",
		Digest:    hex.EncodeToString(sum[:]),
		JSON:      string(b),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (s *SQLiteIndex) loop(ch <-chan req) {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,commands,rejected,terminal,problems,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(tick,seq,type,target,accepted,code,json) VALUES(?,?,?,?,?,?,?)`)
	insertProblem, _ := s.db.Prepare(`INSERT OR REPLACE INTO problems(tick,seq,source,entity_id,text) VALUES(?,?,?,?,?)`)
	insertTerminal, _ := s.db.Prepare(`INSERT OR REPLACE INTO terminal_events(tick,seq,kind,entity_id,zone,outcome,crisis_id,reason) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,seed,stations,live,fleets,crises,pirate_groups,bases,epoch,player_ore) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertCommand, insertProblem, insertTerminal, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	end := func(commit bool) {
		if tx == nil {
			return
		}
		if commit {
			_ = tx.Commit()
		} else {
			_ = tx.Rollback()
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			end(false)
			return false
		}
		opCount++
		return true
	}

	for r := range ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick.tick
			if !exec(insertTick, int64(t.Tick), t.Digest, t.Commands, t.Rejected, t.Terminal, t.Problems, t.RawJSON) {
				continue
			}
			for _, c := range r.tick.commands {
				if !exec(insertCommand, int64(c.Tick), c.Seq, c.Type, c.Target, c.Accepted, c.Code, c.JSON) {
					break
				}
			}
			for _, p := range r.tick.problems {
				if !exec(insertProblem, int64(p.Tick), p.Seq, p.Source, p.EntityID, p.Text) {
					break
				}
			}
			for _, ev := range r.tick.terminal {
				if !exec(insertTerminal, int64(ev.Tick), ev.Seq, ev.Kind, ev.EntityID, ev.Zone, ev.Outcome, ev.CrisisID, ev.Reason) {
					break
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Seed, sn.Stations, sn.Live, sn.Fleets, sn.Crises, sn.PirateGroups, sn.Bases, sn.Epoch, sn.PlayerOre)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			end(true)
		}
	}

	end(true)
}
