package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/larksoftware/xstaradventures/internal/persistence/offsite"
	"github.com/larksoftware/xstaradventures/internal/protocol"
	"github.com/larksoftware/xstaradventures/internal/sim/command"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
	"github.com/larksoftware/xstaradventures/internal/transport/observer"
	"github.com/larksoftware/xstaradventures/internal/transport/ratelimit"
	"github.com/larksoftware/xstaradventures/internal/transport/ws"
)

const maxCommandBody = 64 * 1024

type muxConfig struct {
	World   *world.World
	Logger  *log.Logger
	Index   runtimeIndex
	Offsite *offsite.Uploader

	// Limiter throttles POST /v1/commands per remote IP.
	Limiter  *ratelimit.Keyed
	WSLimits ws.Limits

	EnableAdmin bool
	EnablePprof bool
}

func buildMux(cfg muxConfig) *http.ServeMux {
	w := cfg.World
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w, cfg.Index, cfg.Offsite)
	})
	mux.HandleFunc("/v1/commands", commandsHandler(w, cfg.Limiter))
	mux.HandleFunc("/v1/ws", ws.NewServer(w, cfg.Logger, cfg.WSLimits).Handler())

	if cfg.EnableAdmin {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			resp := struct {
				WorldID string             `json:"world_id"`
				Tick    uint64             `json:"tick"`
				Debug   bool               `json:"debug"`
				Metrics world.WorldMetrics `json:"metrics"`
				Frame   world.Frame        `json:"frame"`
			}{
				WorldID: w.ID(),
				Tick:    w.CurrentTick(),
				Debug:   w.Debug(),
				Metrics: w.Metrics(),
				Frame:   world.BuildFrame(w.View(), "", nil),
			}
			writeJSON(rw, http.StatusOK, resp)
		}))
		mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			tick, err := w.RequestSnapshot(ctx)
			if err != nil {
				writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
		}))
		mux.HandleFunc("/admin/v1/problems", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			limit := 100
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					http.Error(rw, "bad limit", http.StatusBadRequest)
					return
				}
				limit = n
			}
			writeJSON(rw, http.StatusOK, map[string]any{
				"total":    w.ProblemsTotal(),
				"problems": w.Problems(limit),
			})
		}))

		obsSrv := observer.NewServer(w, cfg.Logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	}
	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// commandsHandler accepts one command per request. The response is always
// an ACK; the status code mirrors the rejection class.
func commandsHandler(w *world.World, lim *ratelimit.Keyed) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		tick := w.CurrentTick()
		if !lim.Allow(ratelimit.RemoteIP(r.RemoteAddr)) {
			writeJSON(rw, http.StatusTooManyRequests, protocol.NewReject(reqID, tick, protocol.ErrRateLimit, "too many commands"))
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
		if err != nil || len(body) > maxCommandBody {
			writeJSON(rw, http.StatusBadRequest, protocol.NewReject(reqID, tick, protocol.ErrProtoBadRequest, "body missing or too large"))
			return
		}
		seq, err := w.SubmitJSON(body)
		if err != nil {
			rej := command.AsRejection(err)
			writeJSON(rw, statusForCode(rej.Code), protocol.NewReject(reqID, tick, rej.Code, rej.Reason))
			return
		}
		ack := protocol.NewAck(reqID, tick)
		ack.Seq = seq
		writeJSON(rw, http.StatusAccepted, ack)
	}
}

func statusForCode(code string) int {
	switch code {
	case protocol.ErrBadRequest, protocol.ErrProtoBadRequest:
		return http.StatusBadRequest
	case protocol.ErrDebugDisabled:
		return http.StatusForbidden
	case protocol.ErrQueueFull:
		return http.StatusServiceUnavailable
	case protocol.ErrRateLimit:
		return http.StatusTooManyRequests
	case protocol.ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !ratelimit.IsLoopback(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// writeMetrics emits a minimal Prometheus exposition of WorldMetrics.
func writeMetrics(rw io.Writer, w *world.World, idx runtimeIndex, up *offsite.Uploader) {
	m := w.Metrics()
	tick := w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}
	id := w.ID()

	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s{world=%q} %v\n", name, id, v)
	}
	gauge("xsa_world_tick", "Committed tick count.", tick)
	gauge("xsa_world_elapsed_ms", "Simulated milliseconds since tick 0.", m.ElapsedMs)
	gauge("xsa_world_step_ms", "Last tick step duration in milliseconds.", fmt.Sprintf("%.3f", m.StepMS))
	gauge("xsa_world_queue_depth", "Commands waiting for the next tick boundary.", m.QueueDepth)
	gauge("xsa_world_player_ore", "Player ore stock.", fmt.Sprintf("%.3f", m.PlayerOre))
	gauge("xsa_world_open_crises", "Open crises.", m.OpenCrises)
	gauge("xsa_world_pirate_groups", "Active pirate groups.", m.PirateGroups)
	gauge("xsa_world_active_bases", "Pirate bases not yet cleared.", m.ActiveBases)
	gauge("xsa_world_fleets", "Fleets in service.", m.Fleets)
	gauge("xsa_world_lost_fleets", "Fleets abandoned so far.", m.LostFleets)
	gauge("xsa_world_tick_problems", "Problems reported by the last tick.", m.TickProblems)
	gauge("xsa_world_tick_clamps", "Invariant clamps applied by the last tick.", m.TickClamps)

	fmt.Fprintf(rw, "# HELP xsa_world_stations Stations by liveness.\n")
	fmt.Fprintf(rw, "# TYPE xsa_world_stations gauge\n")
	fmt.Fprintf(rw, "xsa_world_stations{world=%q,state=%q} %d\n", id, "live", m.LiveStations)
	fmt.Fprintf(rw, "xsa_world_stations{world=%q,state=%q} %d\n", id, "failed", m.Stations-m.LiveStations)

	fmt.Fprintf(rw, "# HELP xsa_world_epoch Current pirate epoch (1 for the active one).\n")
	fmt.Fprintf(rw, "# TYPE xsa_world_epoch gauge\n")
	fmt.Fprintf(rw, "xsa_world_epoch{world=%q,epoch=%q} 1\n", id, m.Epoch)

	fmt.Fprintf(rw, "# HELP xsa_world_problems_total Problems reported since start.\n")
	fmt.Fprintf(rw, "# TYPE xsa_world_problems_total counter\n")
	fmt.Fprintf(rw, "xsa_world_problems_total{world=%q} %d\n", id, m.ProblemsTotal)

	if idx != nil {
		fmt.Fprintf(rw, "# HELP xsa_index_dropped_total Index writes shed because the writer fell behind.\n")
		fmt.Fprintf(rw, "# TYPE xsa_index_dropped_total counter\n")
		fmt.Fprintf(rw, "xsa_index_dropped_total{world=%q} %d\n", id, idx.Dropped())
	}
	if up != nil {
		st := up.Stats()
		fmt.Fprintf(rw, "# HELP xsa_offsite_uploads_total Snapshot uploads by result.\n")
		fmt.Fprintf(rw, "# TYPE xsa_offsite_uploads_total counter\n")
		fmt.Fprintf(rw, "xsa_offsite_uploads_total{world=%q,result=%q} %d\n", id, "ok", st.Uploaded)
		fmt.Fprintf(rw, "xsa_offsite_uploads_total{world=%q,result=%q} %d\n", id, "failed", st.Failed)
		fmt.Fprintf(rw, "xsa_offsite_uploads_total{world=%q,result=%q} %d\n", id, "dropped", st.Dropped)
	}
}
