package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/larksoftware/xstaradventures/internal/observerproto"
	"github.com/larksoftware/xstaradventures/internal/transport/observer"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(adminRequest(http.MethodGet, endpoint(*baseURL, "/admin/v1/state"), 5*time.Second, os.Stdout))
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(adminRequest(http.MethodPost, endpoint(*baseURL, "/admin/v1/snapshot"), 10*time.Second, os.Stdout))
}

func problemsCmd(args []string) {
	fs := flag.NewFlagSet("problems", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	limit := fs.Int("limit", 50, "most recent problems to fetch")
	_ = fs.Parse(args)

	u := endpoint(*baseURL, "/admin/v1/problems") + "?limit=" + strconv.Itoa(*limit)
	os.Exit(adminRequest(http.MethodGet, u, 5*time.Second, os.Stdout))
}

func endpoint(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

// adminRequest prints the response body and returns the process exit code.
func adminRequest(method, u string, timeout time.Duration, out io.Writer) int {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}

func observeCmd(args []string) {
	fs := flag.NewFlagSet("observe", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	every := fs.Int("every", 10, "emit one frame every N ticks")
	count := fs.Int("n", 10, "frames to print before exiting (0 = forever)")
	lz4 := fs.Bool("lz4", true, "request lz4-compressed frames")
	problems := fs.Bool("problems", false, "include per-tick problems")
	_ = fs.Parse(args)

	sub := observerproto.SubscribeMsg{EveryTicks: *every, Problems: *problems}
	if *lz4 {
		sub.Compress = observerproto.CompressLZ4
	}
	if err := observe(*baseURL, sub, *count, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "observe:", err)
		os.Exit(1)
	}
}

// observe subscribes to the observer stream and prints a one-line summary
// per frame.
func observe(base string, sub observerproto.SubscribeMsg, n int, out io.Writer) error {
	u, err := url.Parse(endpoint(base, "/admin/v1/observer/ws"))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub.Type = "SUBSCRIBE"
	sub.ProtocolVersion = observerproto.Version
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for i := 0; n == 0 || i < n; i++ {
		kind, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind == websocket.BinaryMessage {
			if b, err = observer.DecompressLZ4(b); err != nil {
				return err
			}
		}
		var msg observerproto.TickMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			return err
		}
		m := msg.Metrics
		fmt.Fprintf(out, "tick=%d epoch=%s ore=%.1f stations=%d/%d fleets=%d crises=%d pirates=%d bases=%d digest=%s\n",
			msg.Tick, m.Epoch, m.PlayerOre, m.LiveStations, m.Stations, m.Fleets, m.OpenCrises, m.PirateGroups, m.ActiveBases, shortDigest(msg.Digest))
		for _, p := range msg.Problems {
			fmt.Fprintf(out, "  problem %s %s: %s\n", p.Source, p.EntityID, p.Text)
		}
	}
	return nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
