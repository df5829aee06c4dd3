package players

import (
	"context"
	"math"

	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/schedule"
	"starforge.io/internal/sim/spatial"
)

const (
	SpawnPointCount  = 8
	SpawnPointRadius = 10.0
)

// SpawnPointLayout places count spawn points evenly on a circle in the XZ
// plane.
func SpawnPointLayout(count int, radius float64) []blueprint.SpawnPointBlueprint {
	out := make([]blueprint.SpawnPointBlueprint, 0, count)
	for n := 0; n < count; n++ {
		theta := float64(n) * 2 * math.Pi / float64(count)
		out = append(out, blueprint.NewSpawnPointBlueprint(spatial.FromTranslation(spatial.Polar(theta, radius)), nil))
	}
	return out
}

// WorldCreation seeds the spawn points once and expands them immediately so
// joins in the same tick can use them.
type WorldCreation struct {
	stores *components.Stores
	hyd    *Hydrators
	count  int
	radius float64
}

func NewWorldCreation(s *components.Stores, h *Hydrators, count int, radius float64) *WorldCreation {
	if count <= 0 {
		count = SpawnPointCount
	}
	if radius <= 0 {
		radius = SpawnPointRadius
	}
	return &WorldCreation{stores: s, hyd: h, count: count, radius: radius}
}

func (wc *WorldCreation) Run(ctx context.Context, _ uint64) error {
	if wc.stores.SpawnPointBlueprints.Count() > 0 {
		return nil
	}
	for _, bp := range SpawnPointLayout(wc.count, wc.radius) {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := wc.stores.World.Spawn()
		wc.stores.SpawnPointBlueprints.Set(e, bp)
		if err := wc.hyd.SpawnPoints.Hydrate(e); err != nil {
			return err
		}
	}
	return nil
}

func (wc *WorldCreation) System() schedule.System {
	return schedule.System{
		Name:   "players.create_spawn_points",
		Phase:  schedule.WorldCreation,
		Access: wc.hyd.SpawnPoints.Access().Write(components.TypeSpawnPointBlueprint, components.ResWorldGen),
		Run:    wc.Run,
	}
}

// FreeSpawnPoint returns the first unoccupied spawn point in creation order.
func FreeSpawnPoint(s *components.Stores) (ecs.Entity, bool) {
	var found ecs.Entity
	ok := false
	s.SpawnPoints.Each(func(e ecs.Entity, sp components.SpawnPoint) bool {
		if _, occupied := sp.Occupant(); occupied {
			return true
		}
		found, ok = e, true
		return false
	})
	return found, ok
}
