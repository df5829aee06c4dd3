// Package players owns player ships and spawn points: their blueprints'
// expansion, joining, movement input and the spawn point collision filter.
package players

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/blocks"
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/hydrate"
	"starforge.io/internal/sim/schedule"
	"starforge.io/internal/sim/spatial"
)

// SpawnPointMass keeps spawn points from being shoved around by ships.
const SpawnPointMass = 1000.0

func StampPlayer(bp blueprint.PlayerBlueprint, _ *assets.Context) components.Bundle {
	rot := bp.Transform.Rotation
	if rot == (mgl64.Quat{}) {
		rot = mgl64.QuatIdent()
	}
	return components.Bundle{
		Name:         components.Name(fmt.Sprintf("Player %s", bp.NetworkID)),
		Presentation: components.Presentation{Transform: bp.Transform},
		Collider:     &components.Collider{Shape: components.ConvexHull},
		Body: &components.Body{
			Position: bp.Transform.Translation,
			Rotation: rot,
			Mass:     math.Max(1, float64(len(bp.StructureChildren)+len(bp.ThrusterChildren))),
			Dynamic:  true,
		},
		Player: &components.ControllablePlayer{NetworkID: bp.NetworkID, MovementInput: components.Throttles{}},
	}
}

// spawnPointMaterial is a translucent, glowing blue.
var spawnPointMaterial = assets.MaterialKey{
	BaseColor:    spatial.Blue,
	Emissive:     spatial.Blue,
	Transmission: 0.7,
	Thickness:    0.7,
	IOR:          1.33,
}

func StampSpawnPoint(bp blueprint.SpawnPointBlueprint, ctx *assets.Context) components.Bundle {
	sp := components.NewSpawnPoint(bp.InitialOccupation)
	return components.Bundle{
		Name: "SpawnPoint",
		Presentation: components.Presentation{
			Transform: bp.At,
			Mesh:      ctx.Mesh(assets.SphereKey(bp.Size)),
			Material:  ctx.Material(spawnPointMaterial),
		},
		Collider: &components.Collider{Shape: components.Sphere, Radius: bp.Size},
		Body: &components.Body{
			Position: bp.At.Translation,
			Rotation: mgl64.QuatIdent(),
			Mass:     SpawnPointMass,
			Dynamic:  true,
		},
		SpawnPoint: &sp,
	}
}

// PlayerContract spawns each structure and thruster child as its own entity
// carrying its block blueprint.
func PlayerContract(s *components.Stores) hydrate.Contract[blueprint.PlayerBlueprint] {
	return hydrate.Contract[blueprint.PlayerBlueprint]{
		Name:  "player",
		Stamp: StampPlayer,
		Children: func(bp blueprint.PlayerBlueprint, sp *hydrate.Spawner) {
			for _, c := range bp.StructureChildren {
				sp.Child(func(e ecs.Entity) { s.StructureBlueprints.Set(e, c) })
			}
			for _, c := range bp.ThrusterChildren {
				sp.Child(func(e ecs.Entity) { s.ThrusterBlueprints.Set(e, c) })
			}
		},
		Writes: []ecs.ComponentType{components.TypeStructureBlueprint, components.TypeThrusterBlueprint},
	}
}

var SpawnPointContract = hydrate.Contract[blueprint.SpawnPointBlueprint]{
	Name:  "spawn_point",
	Stamp: StampSpawnPoint,
}

// Hydrators bundles every hydration system in the order they must run.
type Hydrators struct {
	Players     *hydrate.System[blueprint.PlayerBlueprint]
	SpawnPoints *hydrate.System[blueprint.SpawnPointBlueprint]
	Structures  *hydrate.System[components.StructureBlueprint]
	Thrusters   *hydrate.System[components.ThrusterBlueprint]
}

func NewHydrators(s *components.Stores, a *assets.Context, opts hydrate.Options) *Hydrators {
	return &Hydrators{
		Players:     hydrate.New(PlayerContract(s), s.PlayerBlueprints, s, a, opts),
		SpawnPoints: hydrate.New(SpawnPointContract, s.SpawnPointBlueprints, s, a, opts),
		Structures:  blocks.NewStructureSystem(s, a, opts),
		Thrusters:   blocks.NewThrusterSystem(s, a, opts),
	}
}

// Systems returns the BlueprintExpansion systems. Child-level systems run
// after the player system so children spawned this tick are expanded in the
// same tick.
func (h *Hydrators) Systems() []schedule.System {
	player := h.Players.Schedule()
	return []schedule.System{
		player,
		h.SpawnPoints.Schedule(),
		h.Structures.Schedule(player.Name),
		h.Thrusters.Schedule(player.Name),
	}
}
