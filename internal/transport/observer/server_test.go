package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/larksoftware/xstaradventures/internal/observerproto"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
	"github.com/larksoftware/xstaradventures/internal/sim/worldtest"
)

func newObserver(t *testing.T) (*world.World, *httptest.Server) {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "obs"}, worldtest.Frontier(), tuning.Defaults())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	s := NewServer(w, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return w, ts
}

func subscribe(t *testing.T, ts *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	sub.Type = "SUBSCRIBE"
	sub.ProtocolVersion = observerproto.Version
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return conn
}

func readTick(conn *websocket.Conn) (int, observerproto.TickMsg, error) {
	var msg observerproto.TickMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, b, err := conn.ReadMessage()
	if err != nil {
		return kind, msg, err
	}
	if kind == websocket.BinaryMessage {
		if b, err = DecompressLZ4(b); err != nil {
			return kind, msg, err
		}
	}
	return kind, msg, json.Unmarshal(b, &msg)
}

// stepUntilSubscribed steps until the handler has registered its frame
// channel; the SUBSCRIBE round trip is asynchronous.
func stepUntilSubscribed(t *testing.T, w *world.World, conn *websocket.Conn) (int, observerproto.TickMsg) {
	t.Helper()
	got := make(chan struct{})
	var (
		kind int
		msg  observerproto.TickMsg
		err  error
	)
	go func() {
		defer close(got)
		kind, msg, err = readTick(conn)
	}()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-got:
			if err != nil {
				t.Fatalf("read tick: %v", err)
			}
			return kind, msg
		case <-deadline:
			t.Fatalf("no tick received")
		case <-time.After(20 * time.Millisecond):
			w.StepOnce(nil)
		}
	}
}

func TestBootstrapDescribesSector(t *testing.T) {
	_, ts := newObserver(t)
	resp, err := http.Get(ts.URL + "/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.WorldID != "obs" || len(b.Zones) != 4 || len(b.Routes) != 3 || b.WorldParams.TickMs != 100 {
		t.Fatalf("bootstrap=%+v", b)
	}
}

func TestTicksArePlainJSONByDefault(t *testing.T) {
	w, ts := newObserver(t)
	conn := subscribe(t, ts, observerproto.SubscribeMsg{})
	kind, msg := stepUntilSubscribed(t, w, conn)
	if kind != websocket.TextMessage {
		t.Fatalf("kind=%d want text", kind)
	}
	if msg.Type != "TICK" || msg.Tick == 0 || len(msg.State.Stations) != 2 || msg.Metrics.Tick < msg.Tick {
		t.Fatalf("tick=%+v", msg)
	}
}

func TestTicksCanBeLZ4Compressed(t *testing.T) {
	w, ts := newObserver(t)
	conn := subscribe(t, ts, observerproto.SubscribeMsg{Compress: observerproto.CompressLZ4})
	kind, msg := stepUntilSubscribed(t, w, conn)
	if kind != websocket.BinaryMessage {
		t.Fatalf("kind=%d want binary", kind)
	}
	if len(msg.State.Zones) != 4 {
		t.Fatalf("zones=%d", len(msg.State.Zones))
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	src := []byte(strings.Repeat(`{"zone":1,"confidence":0.5}`, 200))
	packed, err := CompressLZ4(src)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(packed) >= len(src) {
		t.Fatalf("no compression: %d >= %d", len(packed), len(src))
	}
	out, err := DecompressLZ4(packed)
	if err != nil || string(out) != string(src) {
		t.Fatalf("round trip mismatch err=%v", err)
	}
}

func TestNormalizeSubscribe(t *testing.T) {
	sub := observerproto.SubscribeMsg{Compress: "gzip", EveryTicks: 10000}
	normalizeSubscribe(&sub)
	if sub.Compress != observerproto.CompressNone || sub.EveryTicks != 600 {
		t.Fatalf("sub=%+v", sub)
	}
}
