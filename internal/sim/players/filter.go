package players

import (
	"context"

	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/physics"
	"starforge.io/internal/sim/schedule"
)

const (
	FilterSystemName = "players.filter_spawn_collisions"
	VacateSystemName = "players.vacate_spawn_points"
)

// FilterOccupiedSpawnPoints drops contacts between a ship and the spawn
// point its own client occupies, so a freshly spawned ship is not thrown out
// of its spawn sphere. Contacts with unoccupied or foreign spawn points stay.
func FilterOccupiedSpawnPoints(s *components.Stores, c *physics.Collisions) {
	c.Retain(func(x physics.Contact) bool {
		return !ownSpawnPoint(s, x.A, x.B) && !ownSpawnPoint(s, x.B, x.A)
	})
}

func ownSpawnPoint(s *components.Stores, ship, point ecs.Entity) bool {
	p, ok := s.Players.Get(ship)
	if !ok {
		return false
	}
	sp, ok := s.SpawnPoints.Get(point)
	if !ok {
		return false
	}
	occ, ok := sp.Occupant()
	return ok && occ == p.NetworkID
}

// VacateMargin is how far past a spawn point's radius a ship must travel
// before the spawn point frees up.
const VacateMargin = 1.0

// Vacate frees spawn points whose occupant has left the world or flown
// clear of the sphere.
func Vacate(s *components.Stores) {
	for _, e := range s.SpawnPoints.Entities() {
		sp, ok := s.SpawnPoints.Get(e)
		if !ok {
			continue
		}
		occ, ok := sp.Occupant()
		if !ok {
			continue
		}
		col, _ := s.Colliders.Get(e)
		point, _ := s.Bodies.Get(e)
		ship, ok := playerByClient(s, occ)
		if ok {
			b, ok := s.Bodies.Get(ship)
			if !ok || b.Position.Sub(point.Position).Len() <= col.Radius+VacateMargin {
				continue
			}
		}
		s.SpawnPoints.Update(e, func(x *components.SpawnPoint) { x.Vacate() })
	}
}

// GameLogicSystems returns the spawn point systems of the strict game logic
// schedule. resolve is the name of the contact resolution system.
func GameLogicSystems(s *components.Stores, c *physics.Collisions, resolve string) []schedule.System {
	return []schedule.System{
		{
			Name:   FilterSystemName,
			Phase:  schedule.ExecuteGameLogic,
			Access: schedule.Reads(components.TypePlayer, components.TypeSpawnPoint).Write(components.ResCollisions),
			Run: func(ctx context.Context, _ uint64) error {
				FilterOccupiedSpawnPoints(s, c)
				return ctx.Err()
			},
		},
		{
			Name:  VacateSystemName,
			Phase: schedule.ExecuteGameLogic,
			Access: schedule.Reads(components.TypePlayer, components.TypeBody, components.TypeCollider).
				Write(components.TypeSpawnPoint),
			After: []string{FilterSystemName, resolve},
			Run: func(ctx context.Context, _ uint64) error {
				Vacate(s)
				return ctx.Err()
			},
		},
	}
}
