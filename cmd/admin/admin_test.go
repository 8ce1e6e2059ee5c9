package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/larksoftware/xstaradventures/internal/observerproto"
	"github.com/larksoftware/xstaradventures/internal/persistence/indexdb"
	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
	"github.com/larksoftware/xstaradventures/internal/sim/worldtest"
	"github.com/larksoftware/xstaradventures/internal/transport/observer"
)

func seedIndex(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	for tick := uint64(0); tick < 3; tick++ {
		e := world.TickLogEntry{Tick: tick, Digest: "d"}
		if tick == 1 {
			e.Commands = []command.Command{{Type: command.ChangeIntent, Seq: 1, FleetID: "F000001", Task: "Survey", Zone: 2}}
			e.Rejected = []world.RejectedCommand{{
				Command: command.Command{Type: command.BuildStation, Seq: 2, Zone: 2, Kind: "MiningOutpost"},
				Code:    "E_NO_RESOURCE",
				Reason:  "need 20 ore, have 10",
			}}
			e.Problems = []model.Problem{{Tick: 1, Source: "crisis", EntityID: "C000001", Text: "opened"}}
		}
		if err := idx.WriteTick(e); err != nil {
			t.Fatalf("write tick: %v", err)
		}
	}
	idx.RecordSnapshot("/data/000000000003.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{Tick: 3}, Seed: 42})
	if err := idx.UpsertTuning("frontier-test", tuning.Defaults()); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func lines(buf *bytes.Buffer) []string {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestRunQuery(t *testing.T) {
	db := seedIndex(t)

	var buf bytes.Buffer
	if err := runQuery(db, &buf, "ticks", queryOpts{Limit: 2}); err != nil {
		t.Fatalf("ticks: %v", err)
	}
	got := lines(&buf)
	if len(got) != 2 || !strings.Contains(got[0], `"tick":2`) {
		t.Fatalf("ticks=%v", got)
	}

	buf.Reset()
	if err := runQuery(db, &buf, "commands", queryOpts{Type: "BuildStation"}); err != nil {
		t.Fatalf("commands: %v", err)
	}
	got = lines(&buf)
	if len(got) != 1 || !strings.Contains(got[0], `"code":"E_NO_RESOURCE"`) || !strings.Contains(got[0], `"accepted":false`) {
		t.Fatalf("commands=%v", got)
	}

	buf.Reset()
	if err := runQuery(db, &buf, "problems", queryOpts{Source: "crisis"}); err != nil {
		t.Fatalf("problems: %v", err)
	}
	if got = lines(&buf); len(got) != 1 || !strings.Contains(got[0], "C000001") {
		t.Fatalf("problems=%v", got)
	}

	buf.Reset()
	if err := runQuery(db, &buf, "snapshots", queryOpts{}); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if got = lines(&buf); len(got) != 1 || !strings.Contains(got[0], `"seed":42`) {
		t.Fatalf("snapshots=%v", got)
	}

	buf.Reset()
	if err := runQuery(db, &buf, "meta", queryOpts{}); err != nil {
		t.Fatalf("meta: %v", err)
	}
	var meta map[string]string
	if err := json.Unmarshal(buf.Bytes(), &meta); err != nil || meta["scenario_id"] != "frontier-test" {
		t.Fatalf("meta=%v err=%v", meta, err)
	}

	if err := runQuery(db, &buf, "fleets", queryOpts{}); err == nil || !strings.HasPrefix(err.Error(), "unknown query") {
		t.Fatalf("unknown query err=%v", err)
	}
}

func TestPrintSummary(t *testing.T) {
	h := worldtest.NewHarness(t, world.WorldConfig{ID: "summary"}, worldtest.Frontier(), tuning.Defaults())
	h.StepFor(3)

	var buf bytes.Buffer
	printSummary(&buf, h.Snapshot())
	out := buf.String()
	for _, want := range []string{"scenario=summary tick=3", "stations (2):", "S000001", "fleets (3, lost 0):", "F000003", "player zone=1 "} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestAdminRequestExitCodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin/v1/snapshot" && r.Method == http.MethodPost {
			_, _ = rw.Write([]byte(`{"ok":true,"tick":9}`))
			return
		}
		http.Error(rw, "nope", http.StatusForbidden)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	if code := adminRequest(http.MethodPost, endpoint(ts.URL+"/", "/admin/v1/snapshot"), time.Second, &buf); code != 0 {
		t.Fatalf("code=%d", code)
	}
	if !strings.Contains(buf.String(), `"tick":9`) {
		t.Fatalf("body=%q", buf.String())
	}
	if code := adminRequest(http.MethodGet, endpoint(ts.URL, "/admin/v1/state"), time.Second, &buf); code != 1 {
		t.Fatalf("forbidden code=%d", code)
	}
}

func TestObservePrintsFrames(t *testing.T) {
	w, err := world.New(world.WorldConfig{ID: "observe"}, worldtest.Frontier(), tuning.Defaults())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	obs := observer.NewServer(w, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	done := make(chan error, 1)
	var buf bytes.Buffer
	go func() {
		done <- observe(ts.URL, observerproto.SubscribeMsg{Compress: observerproto.CompressLZ4}, 2, &buf)
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("observe: %v", err)
			}
			if got := strings.Count(buf.String(), "tick="); got != 2 {
				t.Fatalf("frames=%d out=%s", got, buf.String())
			}
			return
		case <-deadline:
			t.Fatalf("observe did not finish")
		case <-time.After(20 * time.Millisecond):
			w.StepOnce(nil)
		}
	}
}
