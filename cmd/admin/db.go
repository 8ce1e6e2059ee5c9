package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const dbUsage = "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-since T] [-limit N] [-type T] [-source S] [-entity ID] snapshots|ticks|commands|problems|terminal|tuning|meta"

type queryOpts struct {
	Limit  int
	Since  uint64
	Type   string
	Source string
	Entity string
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	var opts queryOpts
	fs.IntVar(&opts.Limit, "limit", 20, "result limit")
	fs.Uint64Var(&opts.Since, "since", 0, "only rows at or after this tick")
	fs.StringVar(&opts.Type, "type", "", "command type filter (commands)")
	fs.StringVar(&opts.Source, "source", "", "problem source filter (problems)")
	fs.StringVar(&opts.Entity, "entity", "", "entity id filter (terminal, problems)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, os.Stdout, q, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, dbUsage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// runQuery prints one JSON object per row of the named index query.
func runQuery(db *sql.DB, out io.Writer, q string, opts queryOpts) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,seed,stations,live,fleets,crises,pirate_groups,bases,epoch,COALESCE(player_ore,0) FROM snapshots WHERE tick>=? ORDER BY tick DESC LIMIT ?`, opts.Since, opts.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick         uint64  `json:"tick"`
				Path         string  `json:"path"`
				Seed         int64   `json:"seed"`
				Stations     int     `json:"stations"`
				Live         int     `json:"live"`
				Fleets       int     `json:"fleets"`
				Crises       int     `json:"crises"`
				PirateGroups int     `json:"pirate_groups"`
				Bases        int     `json:"bases"`
				Epoch        string  `json:"epoch"`
				PlayerOre    float64 `json:"player_ore"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Seed, &r.Stations, &r.Live, &r.Fleets, &r.Crises, &r.PirateGroups, &r.Bases, &r.Epoch, &r.PlayerOre); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,commands,rejected,terminal,problems FROM ticks WHERE tick>=? ORDER BY tick DESC LIMIT ?`, opts.Since, opts.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     uint64 `json:"tick"`
				Digest   string `json:"digest"`
				Commands int    `json:"commands"`
				Rejected int    `json:"rejected"`
				Terminal int    `json:"terminal"`
				Problems int    `json:"problems"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Commands, &r.Rejected, &r.Terminal, &r.Problems); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "commands":
		query := `SELECT tick,seq,type,target,accepted,COALESCE(code,''),json FROM commands WHERE tick>=?`
		args := []any{opts.Since}
		if t := strings.TrimSpace(opts.Type); t != "" {
			query += ` AND type=?`
			args = append(args, t)
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		args = append(args, opts.Limit)
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     uint64          `json:"tick"`
				Seq      int             `json:"seq"`
				Type     string          `json:"type"`
				Target   string          `json:"target"`
				Accepted bool            `json:"accepted"`
				Code     string          `json:"code,omitempty"`
				Command  json.RawMessage `json:"command"`
			}
			var raw string
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Type, &r.Target, &r.Accepted, &r.Code, &raw); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Command = json.RawMessage(raw)
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "problems":
		query := `SELECT tick,seq,source,entity_id,text FROM problems WHERE tick>=?`
		args := []any{opts.Since}
		if s := strings.TrimSpace(opts.Source); s != "" {
			query += ` AND source=?`
			args = append(args, s)
		}
		if e := strings.TrimSpace(opts.Entity); e != "" {
			query += ` AND entity_id=?`
			args = append(args, e)
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		args = append(args, opts.Limit)
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     uint64 `json:"tick"`
				Seq      int    `json:"seq"`
				Source   string `json:"source"`
				EntityID string `json:"entity_id,omitempty"`
				Text     string `json:"text"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Source, &r.EntityID, &r.Text); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "terminal":
		query := `SELECT tick,seq,kind,entity_id,zone,COALESCE(outcome,''),COALESCE(crisis_id,''),COALESCE(reason,'') FROM terminal_events WHERE tick>=?`
		args := []any{opts.Since}
		if e := strings.TrimSpace(opts.Entity); e != "" {
			query += ` AND entity_id=?`
			args = append(args, e)
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		args = append(args, opts.Limit)
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     uint64 `json:"tick"`
				Seq      int    `json:"seq"`
				Kind     string `json:"kind"`
				EntityID string `json:"entity_id"`
				Zone     int    `json:"zone"`
				Outcome  string `json:"outcome,omitempty"`
				CrisisID string `json:"crisis_id,omitempty"`
				Reason   string `json:"reason,omitempty"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Kind, &r.EntityID, &r.Zone, &r.Outcome, &r.CrisisID, &r.Reason); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "tuning":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM tuning ORDER BY name`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		m := map[string]string{}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			m[k] = v
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return enc.Encode(m)
	}
	return fmt.Errorf("unknown query: %s", q)
}
