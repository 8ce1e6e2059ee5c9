package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/larksoftware/xstaradventures/internal/persistence/archive"
	persistlog "github.com/larksoftware/xstaradventures/internal/persistence/log"
	"github.com/larksoftware/xstaradventures/internal/persistence/offsite"
	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
	"github.com/larksoftware/xstaradventures/internal/sim/world"
	"github.com/larksoftware/xstaradventures/internal/transport/ratelimit"
	"github.com/larksoftware/xstaradventures/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		sectorPath = flag.String("sector", "", "path to sector.yaml (default: <configs>/sector.yaml)")
		seed       = flag.Int64("seed", 0, "override the scenario seed (fresh worlds only)")
		disableDB  = flag.Bool("disable_db", false, "disable the read-model index")
		strict     = flag.Bool("strict", false, "panic on invariant violations instead of clamping")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	sp := strings.TrimSpace(*sectorPath)
	if sp == "" {
		sp = filepath.Join(*configDir, "sector.yaml")
	}
	sc, err := sector.LoadScenario(sp)
	if err != nil {
		logger.Fatalf("load sector: %v", err)
	}
	if *seed != 0 {
		sc.Seed = *seed
	}

	worldDir := filepath.Join(*dataDir, "worlds", sc.ID)
	_ = os.MkdirAll(worldDir, 0o755)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(snapshotDir(worldDir))
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	cfg := world.WorldConfig{
		ID:     sc.ID,
		Seed:   sc.Seed,
		Strict: *strict,
		Debug:  envBool("XSA_DEBUG_COMMANDS", false),
	}

	var w *world.World
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.ScenarioID != "" && snap.Header.ScenarioID != sc.ID {
			logger.Fatalf("snapshot scenario mismatch: sector=%s snap=%s", sc.ID, snap.Header.ScenarioID)
		}
		w, err = world.NewFromSnapshot(cfg, snap, tune)
		if err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	} else {
		w, err = world.New(cfg, sc, tune)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		logger.Printf("fresh world scenario=%s seed=%d zones=%d", sc.ID, sc.Seed, len(sc.Zones))
	}
	w.SetLogger(log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))

	// Optional: read-model index backend (does not affect sim determinism).
	idx, backend, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(sc.ID, tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}
	logger.Printf("index backend=%s", backend)

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(worldDir, uint64(envInt("XSA_TICKS_PER_LOG_FILE", persistlog.DefaultTicksPerFile)))
	defer tickLog.Close()
	loggers := persistlog.MultiTickLogger{tickLog}
	if idx != nil {
		loggers = append(loggers, idx)
	}
	w.SetTickLogger(loggers)

	up, err := openOffsite(*dataDir, logger)
	if err != nil {
		logger.Fatalf("offsite backup: %v", err)
	}

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		writeSnapshots(ctx, snapCh, snapshotDir(worldDir), idx, up, logger)
	}()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	limiter := ratelimit.NewKeyed(tune.RateLimits.CommandsPerSec, tune.RateLimits.Burst)
	go sweepLimiter(ctx, limiter)

	enableAdmin := envBool("XSA_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprof := envBool("XSA_ENABLE_PPROF_HTTP", false)
	if !enableAdmin {
		logger.Printf("admin endpoints disabled (XSA_ENABLE_ADMIN_HTTP=false)")
	}
	mux := buildMux(muxConfig{
		World:       w,
		Logger:      logger,
		Index:       idx,
		Offsite:     up,
		Limiter:     limiter,
		WSLimits:    ws.Limits{CommandsPerSec: tune.RateLimits.CommandsPerSec, Burst: tune.RateLimits.Burst},
		EnableAdmin: enableAdmin,
		EnablePprof: enablePprof,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-worldDone
	<-snapDone

	// Final save so a restart resumes where this run stopped.
	final := w.ExportSnapshot()
	path := snapshot.PathForTick(snapshotDir(worldDir), final.Header.Tick)
	if err := snapshot.WriteSnapshot(path, final); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else {
		logger.Printf("final snapshot=%s tick=%d", filepath.Base(path), final.Header.Tick)
		up.Enqueue(path)
	}
	up.Close()
}

func snapshotDir(worldDir string) string { return filepath.Join(worldDir, "snapshots") }

// openOffsite returns nil when XSA_OFFSITE_BUCKET is unset.
func openOffsite(dataDir string, logger *log.Logger) (*offsite.Uploader, error) {
	bucket := envString("XSA_OFFSITE_BUCKET", "")
	if bucket == "" {
		return nil, nil
	}
	b, err := offsite.NewBucket(offsite.BucketConfig{
		Endpoint:  envString("XSA_OFFSITE_ENDPOINT", ""),
		Bucket:    bucket,
		Region:    envString("XSA_OFFSITE_REGION", "auto"),
		AccessKey: envString("XSA_OFFSITE_ACCESS_KEY", ""),
		SecretKey: envString("XSA_OFFSITE_SECRET_KEY", ""),
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("offsite backup bucket=%s", bucket)
	return offsite.NewUploader(b, dataDir, envString("XSA_OFFSITE_PREFIX", ""), logger), nil
}

// writeSnapshots persists snapshots off the world goroutine, records each
// one in the index, archives the first of every epoch and queues the files
// for off-site backup. dir is <worldDir>/snapshots.
func writeSnapshots(ctx context.Context, ch <-chan snapshot.SnapshotV1, dir string, idx runtimeIndex, up *offsite.Uploader, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			path := snapshot.PathForTick(dir, snap.Header.Tick)
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap)
			}
			up.Enqueue(path)
			if dst, ok, err := archive.ArchiveEpochSnapshot(filepath.Dir(dir), path, snap); err != nil {
				logger.Printf("epoch archive: %v", err)
			} else if ok {
				logger.Printf("epoch %s archived tick=%d", snap.Pirates.Epoch, snap.Header.Tick)
				up.Enqueue(dst)
			}
		}
	}
}

func sweepLimiter(ctx context.Context, lim *ratelimit.Keyed) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			lim.Sweep()
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
