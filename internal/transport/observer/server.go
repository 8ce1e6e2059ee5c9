package observer

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pierrec/lz4/v4"

	"github.com/larksoftware/xstaradventures/internal/observerproto"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
	"github.com/larksoftware/xstaradventures/internal/transport/ratelimit"
)

type Server struct {
	world *world.World
	log   *log.Logger

	// AllowRemote admits non-loopback clients. Off outside tests and local
	// tooling.
	AllowRemote bool

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || ratelimit.IsLoopback(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		v := s.world.View()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         s.world.ID(),
			Tick:            v.Tick(),
			WorldParams: observerproto.WorldParams{
				TickRateHz: s.world.TickRateHz(),
				TickMs:     s.world.TickMs(),
				Seed:       s.world.Seed(),
				Debug:      s.world.Debug(),
			},
		}
		for _, z := range v.Sector().Zones() {
			resp.Zones = append(resp.Zones, observerproto.ZoneInfo{
				ID: int(z.ID), Name: z.Name, X: z.X, Y: z.Y, OreFields: z.OreFields,
			})
		}
		for _, rt := range v.Sector().Routes() {
			resp.Routes = append(resp.Routes, observerproto.RouteInfo{
				ID: rt.ID, From: int(rt.From), To: int(rt.To), Distance: rt.Distance, Risk: rt.Risk,
			})
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		sub, ok, _ := readSubscribe(conn)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		frames, unsub := s.world.Subscribe()
		defer unsub()

		var (
			mu  sync.Mutex
			cur = sub
		)
		done := make(chan struct{})

		// Reader loop: allow SUBSCRIBE updates.
		go func() {
			defer close(done)
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				next, ok, err := readSubscribe(conn)
				if err != nil {
					return
				}
				if !ok {
					continue
				}
				mu.Lock()
				cur = next
				mu.Unlock()
			}
		}()

		for {
			select {
			case <-done:
				return
			case f := <-frames:
				mu.Lock()
				settings := cur
				mu.Unlock()
				if settings.EveryTicks > 1 && f.Tick%uint64(settings.EveryTicks) != 0 {
					continue
				}
				if err := s.writeTick(conn, f, settings); err != nil {
					return
				}
			}
		}
	}
}

// readSubscribe reads one message and reports whether it was a valid
// SUBSCRIBE. err is only set when the connection failed.
func readSubscribe(conn *websocket.Conn) (sub observerproto.SubscribeMsg, ok bool, err error) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return sub, false, err
	}
	if json.Unmarshal(msg, &sub) != nil {
		return sub, false, nil
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, false, nil
	}
	normalizeSubscribe(&sub)
	return sub, true, nil
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.Compress != observerproto.CompressLZ4 {
		sub.Compress = observerproto.CompressNone
	}
	if sub.EveryTicks < 1 {
		sub.EveryTicks = 1
	}
	if sub.EveryTicks > 600 {
		sub.EveryTicks = 600
	}
}

func (s *Server) writeTick(conn *websocket.Conn, f world.Frame, sub observerproto.SubscribeMsg) error {
	b, err := json.Marshal(observerproto.NewTickMsg(f, s.world.Metrics(), sub.Problems))
	if err != nil {
		s.logf("observer: encode tick %d: %v", f.Tick, err)
		return nil
	}
	kind := websocket.TextMessage
	if sub.Compress == observerproto.CompressLZ4 {
		if b, err = CompressLZ4(b); err != nil {
			return err
		}
		kind = websocket.BinaryMessage
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(kind, b)
}

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// CompressLZ4 wraps src in a single lz4 frame.
func CompressLZ4(src []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	zw := lz4.NewWriter(buf)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// DecompressLZ4 reverses CompressLZ4. Observer clients in Go use it; the
// server never reads compressed input.
func DecompressLZ4(src []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if _, err := buf.ReadFrom(lz4.NewReader(bytes.NewReader(src))); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
