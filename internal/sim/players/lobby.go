package players

import (
	"context"
	"log"
	"math/rand"
	"sync"

	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/schedule"
	"starforge.io/internal/sim/spatial"
)

// Lobby queues joins and leaves coming from the transport until the next
// WorldCreation phase applies them.
type Lobby struct {
	mu      sync.Mutex
	joins   []blueprint.ClientID
	leaves  []blueprint.ClientID
	stores  *components.Stores
	log     *log.Logger
	entries map[blueprint.ClientID]ecs.Entity

	seed   int64
	seeded bool
}

func NewLobby(s *components.Stores, logger *log.Logger) *Lobby {
	if logger == nil {
		logger = log.Default()
	}
	return &Lobby{stores: s, log: logger, entries: map[blueprint.ClientID]ecs.Entity{}}
}

// SeedBlockIDs derives ship block ids from seed and the client id instead of
// the system random source, so replays and resumed worlds reproduce them.
func (l *Lobby) SeedBlockIDs(seed int64) {
	l.seed, l.seeded = seed, true
}

func (l *Lobby) blueprintFor(id blueprint.ClientID, at spatial.Transform) blueprint.PlayerBlueprint {
	bp := blueprint.DefaultPlayerBlueprint(id, at)
	if !l.seeded {
		return bp
	}
	r := rand.New(rand.NewSource(l.seed*1_000_003 + int64(id)))
	seeded, err := bp.WithBlockIDs(r)
	if err != nil {
		l.log.Printf("[players] client=%s seeded block ids: %v", id, err)
		return bp
	}
	return seeded
}

func (l *Lobby) Join(id blueprint.ClientID) {
	l.mu.Lock()
	l.joins = append(l.joins, id)
	l.mu.Unlock()
}

func (l *Lobby) Leave(id blueprint.ClientID) {
	l.mu.Lock()
	l.leaves = append(l.leaves, id)
	l.mu.Unlock()
}

// Entity returns the ship entity of a joined client.
func (l *Lobby) Entity(id blueprint.ClientID) (ecs.Entity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	return e, ok
}

// Run applies queued leaves, then places each queued join at a free spawn
// point. Joins that find no free spawn point stay queued.
func (l *Lobby) Run(ctx context.Context, tick uint64) error {
	l.mu.Lock()
	joins, leaves := l.joins, l.leaves
	l.joins, l.leaves = nil, nil
	l.mu.Unlock()

	for _, id := range leaves {
		l.mu.Lock()
		e, ok := l.entries[id]
		delete(l.entries, id)
		l.mu.Unlock()
		if !ok {
			continue
		}
		l.stores.World.Despawn(e)
		l.stores.SpawnPoints.Each(func(sp ecs.Entity, v components.SpawnPoint) bool {
			if occ, ok := v.Occupant(); ok && occ == id {
				l.stores.SpawnPoints.Update(sp, func(x *components.SpawnPoint) { x.Vacate() })
			}
			return true
		})
		l.log.Printf("[players] tick=%d client=%s left", tick, id)
	}

	var waiting []blueprint.ClientID
	for _, id := range joins {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		_, dup := l.entries[id]
		l.mu.Unlock()
		if dup {
			continue
		}
		sp, ok := FreeSpawnPoint(l.stores)
		if !ok {
			waiting = append(waiting, id)
			continue
		}
		at, _ := l.stores.Presentations.Get(sp)
		l.stores.SpawnPoints.Update(sp, func(x *components.SpawnPoint) { x.Occupy(id) })
		e := l.stores.World.Spawn()
		l.stores.PlayerBlueprints.Set(e, l.blueprintFor(id, spatial.FromTranslation(at.Transform.Translation)))
		l.mu.Lock()
		l.entries[id] = e
		l.mu.Unlock()
		l.log.Printf("[players] tick=%d client=%s joined entity=%d spawn_point=%d", tick, id, e, sp)
	}
	if len(waiting) > 0 {
		l.log.Printf("[players] tick=%d no free spawn point for %d clients", tick, len(waiting))
		l.mu.Lock()
		l.joins = append(waiting, l.joins...)
		l.mu.Unlock()
	}
	return nil
}

func (l *Lobby) System() schedule.System {
	return schedule.System{
		Name:  "players.join",
		Phase: schedule.WorldCreation,
		Access: schedule.Reads(components.TypePresentation).
			Write(components.TypeSpawnPoint, components.TypePlayerBlueprint, components.ResJoins),
		After: []string{"players.create_spawn_points"},
		Run:   l.Run,
	}
}
