package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	persistlog "starforge.io/internal/persistence/log"
	"starforge.io/internal/persistence/snapshot"
	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/tuning"
	"starforge.io/internal/sim/world"
)

// serverEnv holds deployment switches that never affect the simulation.
type serverEnv struct {
	IndexBackend    string `env:"STARFORGE_INDEX_BACKEND" envDefault:"sqlite"`
	EnableAdminHTTP *bool  `env:"STARFORGE_ENABLE_ADMIN_HTTP"`
	EnablePprofHTTP bool   `env:"STARFORGE_ENABLE_PPROF_HTTP"`
	DeployEnv       string `env:"DEPLOY_ENV"`
}

func (e serverEnv) adminHTTP() bool {
	if e.EnableAdminHTTP != nil {
		return *e.EnableAdminHTTP
	}
	switch strings.ToLower(strings.TrimSpace(e.DeployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 0, "world seed override (0 keeps tuning.yaml; used only when starting a fresh world)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		assetsPath = flag.String("assets", "", "path to assets.yaml (default: <configs>/assets.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (ticks + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	var senv serverEnv
	if err := env.Parse(&senv); err != nil {
		logger.Fatalf("parse env: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	ap := strings.TrimSpace(*assetsPath)
	if ap == "" {
		ap = filepath.Join(*configDir, "assets.yaml")
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, senv.IndexBackend, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir, idx)
	}

	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		// Resume fallback: the snapshot carries the world parameters.
		logger.Printf("tuning not found (%s); using defaults", tp)
		if tune, err = tuning.Load(""); err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	factory, err := assets.LoadManifest(ap)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load assets: %v", err)
		}
		logger.Printf("assets manifest not found (%s); using procedural meshes only", ap)
	}

	var snap *snapshot.SnapshotV1
	if snapshotToLoad != "" {
		s, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if s.Header.WorldID != "" && s.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, s.Header.WorldID)
		}
		tune = resumeTuning(tune, s)
		snap = &s
	}

	if idx != nil {
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	w, err := world.New(world.Config{
		ID:     *worldID,
		Mode:   world.Authority,
		Tuning: tune,
		Assets: factory,
		Logger: log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	if snap != nil {
		if err := w.ImportSnapshot(*snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tickLog := persistlog.NewTickLogger(worldDir)
	defer tickLog.Close()
	if idx != nil {
		w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	} else {
		w.SetTickLogger(tickLog)
	}

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go writeSnapshots(ctx, worldDir, snapCh, idx, logger)

	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("world stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           routes(w, tune, idx, senv, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s world=%s tick_rate=%d seed=%d", *addr, *worldID, tune.TickRateHz, tune.Seed)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("listen: %v", err)
	}
}

// writeSnapshots persists snapshots handed over by the world loop as
// snapshots/<tick>.snap.zst and records them in the index.
func writeSnapshots(ctx context.Context, worldDir string, in <-chan snapshot.SnapshotV1, idx runtimeIndex, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-in:
			path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot tick=%d: %v", snap.Header.Tick, err)
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap)
			}
		}
	}
}

// resumeTuning takes the world parameters recorded in the snapshot over the
// configured ones; operational knobs (net, physics, debug) stay configurable.
func resumeTuning(tune tuning.Tuning, s snapshot.SnapshotV1) tuning.Tuning {
	tune.Seed = s.Seed
	if s.TickRate > 0 {
		tune.TickRateHz = s.TickRate
	}
	if s.SpawnPoints > 0 {
		tune.SpawnPoints = s.SpawnPoints
	}
	if s.SpawnPointRadius > 0 {
		tune.SpawnPointRadius = s.SpawnPointRadius
	}
	if s.RollbackWindow > 0 {
		tune.RollbackWindow = s.RollbackWindow
	}
	if s.SnapshotEveryTicks > 0 {
		tune.SnapshotEveryTicks = s.SnapshotEveryTicks
	}
	return tune
}

// latestSnapshot prefers the index and falls back to scanning the snapshot
// directory.
func latestSnapshot(worldDir string, idx runtimeIndex) string {
	if idx != nil {
		path, _, ok, err := idx.LatestSnapshot(context.Background())
		if err == nil && ok {
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	dir := filepath.Join(worldDir, "snapshots")
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
