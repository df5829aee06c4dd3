package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/tuning"
	"starforge.io/internal/sim/world"
	"starforge.io/internal/transport/ws"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "authority ws url")
		name       = flag.String("name", "peer", "client name")
		spectate   = flag.Bool("spectate", false, "join without a ship")
		assetsPath = flag.String("assets", "./configs/assets.yaml", "path to assets.yaml")
		inputEvery = flag.Duration("input_every", time.Second, "heartbeat INPUT interval (0 disables)")
		statsEvery = flag.Duration("stats_every", 10*time.Second, "log world stats interval")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[peer] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := ws.Dial(ctx, *url, *name, *spectate, logger)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()
	welcome := c.Welcome()
	logger.Printf("WELCOME client_id=%d session=%s tick=%d tick_rate=%d seed=%d",
		welcome.ClientID, welcome.SessionID, welcome.Tick, welcome.WorldParams.TickRateHz, welcome.WorldParams.Seed)

	w, err := newPeerWorld(welcome, *assetsPath, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	c.OnCorrection = func(m protocol.CorrectionMsg) {
		logger.Printf("CORRECTION client=%d ticks=%d..%d", m.ClientID, m.FromTick, m.ToTick)
	}

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()
	go heartbeat(ctx, c, *inputEvery, *spectate, logger)
	go stats(ctx, w, *statsEvery, logger)

	if err := c.Run(ctx, w.Replicate()); err != nil && err != context.Canceled {
		logger.Printf("connection closed: %v", err)
	}
}

// newPeerWorld mirrors the authority's parameters from WELCOME.
func newPeerWorld(welcome protocol.WelcomeMsg, assetsPath string, logger *log.Logger) (*world.World, error) {
	tune := tuning.Defaults()
	p := welcome.WorldParams
	if p.TickRateHz > 0 {
		tune.TickRateHz = p.TickRateHz
	}
	if p.SpawnPoints > 0 {
		tune.SpawnPoints = p.SpawnPoints
	}
	if p.SpawnPointRadius > 0 {
		tune.SpawnPointRadius = p.SpawnPointRadius
	}
	if p.RollbackWindow > 0 {
		tune.RollbackWindow = p.RollbackWindow
	}
	tune.Seed = p.Seed

	factory, err := assets.LoadManifest(assetsPath)
	if err != nil {
		logger.Printf("assets: %v (procedural meshes only)", err)
	}
	return world.New(world.Config{
		ID:     "peer",
		Mode:   world.Peer,
		Tuning: tune,
		Assets: factory,
		Logger: logger,
	})
}

// heartbeat sends an empty INPUT so the authority keeps a current input for
// this client.
func heartbeat(ctx context.Context, c *ws.Client, every time.Duration, spectate bool, logger *log.Logger) {
	if every <= 0 || spectate {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.SendInput(0, map[string]float64{}); err != nil {
				logger.Printf("send INPUT: %v", err)
				return
			}
		}
	}
}

func stats(ctx context.Context, w *world.World, every time.Duration, logger *log.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m := w.Metrics()
			logger.Printf("tick=%d entities=%d players=%d spawn_points=%d hydrations=%+v missing_assets=%d",
				m.Tick, m.Entities, m.Players, m.SpawnPoints, m.Hydrations, m.Assets.Missing)
		}
	}
}
