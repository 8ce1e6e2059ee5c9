package main

import (
	"context"
	"io"
	"log"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
	"github.com/larksoftware/xstaradventures/internal/sim/worldtest"
	"github.com/larksoftware/xstaradventures/internal/transport/ws"
)

func TestPickCommand(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	if _, ok := pickCommand(r, world.FrameState{}); ok {
		t.Fatalf("no fleets should yield no command")
	}
	st := world.FrameState{
		Fleets: []model.Fleet{{ID: "F000001", Role: model.RoleScout}, {ID: "F000002", Role: model.RoleMining}},
		Zones:  []world.ZoneFrame{{ID: 1}, {ID: 2}},
	}
	for i := 0; i < 50; i++ {
		c, ok := pickCommand(r, st)
		if !ok {
			t.Fatalf("expected a command")
		}
		switch c.FleetID {
		case "F000001":
			if c.Type != command.ChangeIntent || c.Task != "Survey" || (c.Zone != 1 && c.Zone != 2) {
				t.Fatalf("scout command=%s", c)
			}
		case "F000002":
			if c.Type != command.SetRiskTolerance || c.Risk == "" {
				t.Fatalf("mining command=%s", c)
			}
		default:
			t.Fatalf("unknown fleet in %s", c)
		}
	}
}

func TestRunSendsCommandsOnFrames(t *testing.T) {
	w, err := world.New(world.WorldConfig{ID: "bot"}, worldtest.Frontier(), tuning.Defaults())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ts := httptest.NewServer(ws.NewServer(w, nil, ws.Limits{}).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		st  stats
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := run(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), "test", 1, 3, rand.New(rand.NewSource(7)), log.New(io.Discard, "", 0))
		done <- result{st, err}
	}()

	for {
		select {
		case res := <-done:
			if res.err != nil {
				t.Fatalf("run: %v", res.err)
			}
			if res.st.Frames != 3 || res.st.Sent != 3 {
				t.Fatalf("stats=%+v", res.st)
			}
			return
		case <-ctx.Done():
			t.Fatalf("bot did not finish")
		case <-time.After(20 * time.Millisecond):
			w.StepOnce(nil)
		}
	}
}
