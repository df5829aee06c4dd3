// Package world drives one simulation: it owns the entity store, builds the
// per-tick pipeline and runs it on a fixed tick, either as the authority or
// as a peer mirroring one.
package world

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"starforge.io/internal/persistence/snapshot"
	"starforge.io/internal/protocol"
	"starforge.io/internal/replication"
	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/hydrate"
	"starforge.io/internal/sim/physics"
	"starforge.io/internal/sim/players"
	"starforge.io/internal/sim/rollback"
	"starforge.io/internal/sim/schedule"
)

// GameLogicSystem is the name of the nested game logic schedule.
const GameLogicSystem = "game_logic"

type clientState struct {
	ID       blueprint.ClientID
	Name     string
	Out      chan []byte
	lastSent ecs.Epoch
}

// World is a single-threaded simulation. Everything except the channel
// accessors and Metrics must be called from the loop goroutine.
type World struct {
	cfg Config
	log *log.Logger

	ecs      *ecs.World
	stores   *components.Stores
	assets   *assets.Context
	hyd      *players.Hydrators
	physics  *physics.Engine
	registry *replication.Registry

	// authority only
	creation *players.WorldCreation
	lobby    *players.Lobby
	movement *players.Movement
	rollback *rollback.Buffer

	pipeline *schedule.Schedule

	tick       atomic.Uint64
	nextClient uint64
	clients    map[blueprint.ClientID]*clientState

	// filled by stepInternal, drained by the Receive system
	pendingInputs     []InputEnvelope
	pendingReplicated []protocol.ReplicateMsg
	tickInputs        []RecordedInput
	tickCorrections   []RecordedCorrection

	inbox     chan InputEnvelope
	join      chan JoinRequest
	leave     chan blueprint.ClientID
	replicate chan protocol.ReplicateMsg
	stop      chan struct{}
	stopOnce  sync.Once

	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1

	metrics     atomic.Value
	resyncs     uint64
	staleInputs uint64
	stepErrors  uint64
}

func New(cfg Config) (*World, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.ID == "" {
		cfg.ID = "world-1"
	}
	t := cfg.Tuning
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}

	ew := ecs.NewWorld()
	s := components.NewStores(ew)
	a := assets.NewContext(cfg.Assets, cfg.Logger)
	w := &World{
		cfg:       cfg,
		log:       cfg.Logger,
		ecs:       ew,
		stores:    s,
		assets:    a,
		hyd:       players.NewHydrators(s, a, hydrate.Options{Debug: t.Debug, Logger: cfg.Logger}),
		physics:   physics.New(t.Physics, s),
		registry:  replication.NewRegistry(ew, cfg.Logger),
		clients:   map[blueprint.ClientID]*clientState{},
		inbox:     make(chan InputEnvelope, 1024),
		join:      make(chan JoinRequest, 64),
		leave:     make(chan blueprint.ClientID, 64),
		replicate: make(chan protocol.ReplicateMsg, 256),
		stop:      make(chan struct{}),
	}
	if err := registerReplicated(w.registry, s); err != nil {
		return nil, err
	}
	if cfg.Mode == Authority {
		w.creation = players.NewWorldCreation(s, w.hyd, t.SpawnPoints, t.SpawnPointRadius)
		w.lobby = players.NewLobby(s, cfg.Logger)
		w.lobby.SeedBlockIDs(t.Seed)
		w.rollback = rollback.New(t.RollbackWindow, w.replay,
			s.Bodies, s.Players, s.Thrusters, s.SpawnPoints, s.Presentations, w.physics.Collisions())
		w.movement = players.NewMovement(s, w.rollback)
	}
	p, err := w.buildPipeline()
	if err != nil {
		return nil, err
	}
	w.pipeline = p
	return w, nil
}

// registerReplicated opts in the root-level state a peer needs. Child block
// blueprints are not sent: peers rebuild them from the player blueprint.
func registerReplicated(r *replication.Registry, s *components.Stores) error {
	for _, err := range []error{
		replication.Register(r, s.SpawnPointBlueprints),
		replication.Register(r, s.PlayerBlueprints),
		replication.Register(r, s.Bodies),
		replication.Register(r, s.SpawnPoints),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// GameLogic builds the strict ExecuteGameLogic sub-schedule. Any two systems
// in it that touch the same data must be ordered explicitly.
func GameLogic(s *components.Stores, en *physics.Engine) (*schedule.Schedule, error) {
	resolve := en.ResolveSystem(players.FilterSystemName)
	return schedule.NewBuilder().
		Strict(schedule.ExecuteGameLogic).
		Add(players.GameLogicSystems(s, en.Collisions(), resolve.Name)...).
		Add(resolve).
		Build()
}

func (w *World) buildPipeline() (*schedule.Schedule, error) {
	b := schedule.NewBuilder().Add(w.receiveSystem())
	if w.cfg.Mode == Peer {
		for _, sys := range w.physics.Systems() {
			if sys.Phase == schedule.PhysicsSync {
				b.Add(sys)
			}
		}
		b.Add(w.hyd.Systems()...)
		return b.Build()
	}

	logic, err := GameLogic(w.stores, w.physics)
	if err != nil {
		return nil, fmt.Errorf("game logic: %w", err)
	}
	b.Add(w.creation.System(), w.lobby.System(), w.movement.System())
	b.Add(w.physics.Systems()...)
	b.Add(logic.AsSystem(GameLogicSystem, schedule.ExecuteGameLogic))
	b.Add(w.hyd.Systems()...)
	b.Add(w.sendSystem())
	return b.Build()
}

// replay re-simulates one tick for the rollback buffer: movement, physics and
// game logic, never creation or expansion.
func (w *World) replay(ctx context.Context, tick uint64) error {
	for p := schedule.PlayerMovement; p <= schedule.ExecuteGameLogic; p++ {
		if err := w.pipeline.RunPhase(ctx, p, tick); err != nil {
			return err
		}
	}
	w.rollback.Settle(tick, w.ecs.Mark())
	return nil
}
