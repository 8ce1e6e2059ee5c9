package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/larksoftware/xstaradventures/internal/protocol"
	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
)

// Limits bounds a single connection's command rate.
type Limits struct {
	CommandsPerSec float64
	Burst          int
}

type Server struct {
	world  *world.World
	log    *log.Logger
	limits Limits

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, logger *log.Logger, limits Limits) *Server {
	return &Server{
		world:  w,
		log:    logger,
		limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}

		var frames <-chan world.Frame
		if hello.Frames {
			ch, unsub := s.world.Subscribe()
			defer unsub()
			frames = ch
		}

		sid := fmt.Sprintf("W%d", s.nextID.Add(1))
		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			Tick:            s.world.CurrentTick(),
			TickMs:          s.world.TickMs(),
			Seed:            s.world.Seed(),
			Debug:           s.world.Debug(),
		}
		if err := writeJSON(conn, welcome); err != nil {
			return
		}
		s.logf("session %s connected client=%q frames=%v", sid, hello.ClientName, hello.Frames)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		out := make(chan []byte, 32)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					if err := writeRaw(conn, b); err != nil {
						cancel()
						return
					}
				case f := <-frames:
					b, err := EncodeFrame(f)
					if err != nil {
						continue
					}
					if err := writeRaw(conn, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		lim := s.newLimiter()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			ack := s.handleMessage(lim, msg)
			b, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		s.logf("session %s closed", sid)
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.limits.CommandsPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := s.limits.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.limits.CommandsPerSec), burst)
}

// handleMessage turns one client message into the ACK sent back. Only
// well-formed CMD messages spend rate tokens.
func (s *Server) handleMessage(lim *rate.Limiter, msg []byte) protocol.AckMsg {
	tick := s.world.CurrentTick()
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewReject("", tick, protocol.ErrProtoBadRequest, "invalid json")
	}
	if base.Type != protocol.TypeCmd {
		return protocol.NewReject("", tick, protocol.ErrProtoBadRequest, "expected CMD, got "+base.Type)
	}
	var cmd protocol.CmdMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return protocol.NewReject("", tick, protocol.ErrProtoBadRequest, "invalid CMD")
	}
	if cmd.ProtocolVersion != protocol.Version {
		return protocol.NewReject(cmd.ReqID, tick, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	if !lim.Allow() {
		return protocol.NewReject(cmd.ReqID, tick, protocol.ErrRateLimit, "too many commands")
	}
	seq, err := s.world.SubmitJSON(cmd.Command)
	if err != nil {
		rej := command.AsRejection(err)
		return protocol.NewReject(cmd.ReqID, tick, rej.Code, rej.Reason)
	}
	ack := protocol.NewAck(cmd.ReqID, tick)
	ack.Seq = seq
	return ack
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return hello, false
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}
	return hello, true
}

// EncodeFrame renders a committed tick as a FRAME message.
func EncodeFrame(f world.Frame) ([]byte, error) {
	state, err := json.Marshal(f.State)
	if err != nil {
		return nil, err
	}
	msg := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Tick:            f.Tick,
		ElapsedMs:       f.ElapsedMs,
		Digest:          f.Digest,
		State:           state,
	}
	if len(f.Problems) > 0 {
		if msg.Problems, err = json.Marshal(f.Problems); err != nil {
			return nil, err
		}
	}
	return json.Marshal(msg)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(conn, b)
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
