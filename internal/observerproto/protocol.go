// Package observerproto defines the read-only admin observer stream. It is
// versioned separately from the command protocol.
package observerproto

import (
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
)

const Version = "0.2"

// Compression values accepted in SubscribeMsg.
const (
	CompressNone = ""
	CompressLZ4  = "lz4"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Compress "lz4" switches TICK messages to binary lz4 frames.
	Compress string `json:"compress,omitempty"`
	// EveryTicks thins the stream to one TICK per N committed ticks.
	EveryTicks int `json:"every_ticks,omitempty"`
	// Problems includes the per-tick problem list.
	Problems bool `json:"problems,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Zones           []ZoneInfo  `json:"zones"`
	Routes          []RouteInfo `json:"routes"`
}

type WorldParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	TickMs     int64 `json:"tick_ms"`
	Seed       int64 `json:"seed"`
	Debug      bool  `json:"debug"`
}

type ZoneInfo struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	OreFields int     `json:"ore_fields"`
}

type RouteInfo struct {
	ID       string  `json:"id"`
	From     int     `json:"from"`
	To       int     `json:"to"`
	Distance float64 `json:"distance"`
	Risk     float64 `json:"risk"`
}

// Server -> Client. Sent after committed ticks.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	ElapsedMs       int64  `json:"elapsed_ms"`
	Digest          string `json:"digest,omitempty"`

	State    world.FrameState   `json:"state"`
	Metrics  world.WorldMetrics `json:"metrics"`
	Problems []model.Problem    `json:"problems,omitempty"`
}

func NewTickMsg(f world.Frame, m world.WorldMetrics, withProblems bool) TickMsg {
	msg := TickMsg{
		Type:            "TICK",
		ProtocolVersion: Version,
		Tick:            f.Tick,
		ElapsedMs:       f.ElapsedMs,
		Digest:          f.Digest,
		State:           f.State,
		Metrics:         m,
	}
	if withProblems {
		msg.Problems = f.Problems
	}
	return msg
}
