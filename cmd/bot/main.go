package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/larksoftware/xstaradventures/internal/protocol"
	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "client name")
		every  = flag.Uint64("every", 20, "send a command every N frames")
		frames = flag.Int("frames", 0, "stop after N frames (0 = run until interrupted)")
		seed   = flag.Int64("seed", time.Now().UnixNano(), "command choice seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := run(ctx, *url, *name, *every, *frames, rand.New(rand.NewSource(*seed)), logger)
	logger.Printf("frames=%d sent=%d accepted=%d rejected=%d", st.Frames, st.Sent, st.Accepted, st.Rejected)
	if err != nil && ctx.Err() == nil {
		logger.Fatalf("%v", err)
	}
}

type stats struct {
	Frames   int
	Sent     int
	Accepted int
	Rejected int
}

// run drives one session: HELLO, then a command every `every` frames until
// maxFrames frames were seen or ctx ends.
func run(ctx context.Context, url, name string, every uint64, maxFrames int, r *rand.Rand, logger *log.Logger) (stats, error) {
	var st stats
	if every == 0 {
		every = 1
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return st, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      name,
		Frames:          true,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return st, fmt.Errorf("send HELLO: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return st, err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s tick=%d tick_ms=%d seed=%d debug=%v", w.SessionID, w.Tick, w.TickMs, w.Seed, w.Debug)

		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			if a.Accepted {
				st.Accepted++
				logger.Printf("ACK %s seq=%d tick=%d", a.AckFor, a.Seq, a.ServerTick)
			} else {
				st.Rejected++
				logger.Printf("REJECT %s code=%s msg=%s", a.AckFor, a.Code, a.Message)
			}

		case protocol.TypeFrame:
			var f protocol.FrameMsg
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			st.Frames++
			if f.Tick%every == 0 {
				var state world.FrameState
				if err := json.Unmarshal(f.State, &state); err == nil {
					if c, ok := pickCommand(r, state); ok {
						body, _ := json.Marshal(c)
						out := protocol.CmdMsg{
							Type:            protocol.TypeCmd,
							ProtocolVersion: protocol.Version,
							ReqID:           fmt.Sprintf("bot-%d", f.Tick),
							Command:         body,
						}
						if err := conn.WriteJSON(out); err != nil {
							return st, fmt.Errorf("send CMD: %w", err)
						}
						st.Sent++
						logger.Printf("tick=%d CMD %s", f.Tick, c)
					}
				}
			}
			if maxFrames > 0 && st.Frames >= maxFrames {
				return st, nil
			}
		}
	}
}

var risks = []model.RiskTolerance{model.Cautious, model.Balanced, model.Aggressive}

// pickCommand chooses a harmless player command for a random fleet: scouts
// are sent to survey a random zone, everyone else gets a new risk tolerance.
func pickCommand(r *rand.Rand, st world.FrameState) (command.Command, bool) {
	if len(st.Fleets) == 0 {
		return command.Command{}, false
	}
	f := st.Fleets[r.Intn(len(st.Fleets))]
	if f.Role == model.RoleScout && len(st.Zones) > 0 {
		z := st.Zones[r.Intn(len(st.Zones))]
		return command.Command{Type: command.ChangeIntent, FleetID: f.ID, Task: string(model.TaskSurvey), Zone: z.ID}, true
	}
	return command.Command{Type: command.SetRiskTolerance, FleetID: f.ID, Risk: string(risks[r.Intn(len(risks))])}, true
}
