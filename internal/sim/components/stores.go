package components

import (
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/ecs"
)

const (
	TypeName         ecs.ComponentType = "name"
	TypePresentation ecs.ComponentType = "presentation"
	TypeCollider     ecs.ComponentType = "collider"
	TypeBody         ecs.ComponentType = "body"
	TypeSpawnPoint   ecs.ComponentType = "spawn_point"
	TypePlayer       ecs.ComponentType = "controllable_player"
	TypeThruster     ecs.ComponentType = "thruster"

	TypePlayerBlueprint     ecs.ComponentType = "player_blueprint"
	TypeSpawnPointBlueprint ecs.ComponentType = "spawn_point_blueprint"
	TypeStructureBlueprint  ecs.ComponentType = "structure_block_blueprint"
	TypeThrusterBlueprint   ecs.ComponentType = "thruster_block_blueprint"
)

// Resources are scheduled like component types.
const (
	ResAssets     ecs.ComponentType = "res:assets"
	ResCollisions ecs.ComponentType = "res:collisions"
	ResInputs     ecs.ComponentType = "res:inputs"
	ResJoins      ecs.ComponentType = "res:joins"
	ResNetwork    ecs.ComponentType = "res:network"
	ResWorldGen   ecs.ComponentType = "res:world_creation"
)

type (
	StructureBlueprint = blueprint.BlockBlueprint[blueprint.StructureBlock]
	ThrusterBlueprint  = blueprint.BlockBlueprint[blueprint.ThrusterBlock]
)

// Stores is the typed registry of every component store in a world.
type Stores struct {
	World *ecs.World

	Names         *ecs.Store[Name]
	Presentations *ecs.Store[Presentation]
	Colliders     *ecs.Store[Collider]
	Bodies        *ecs.Store[Body]
	SpawnPoints   *ecs.Store[SpawnPoint]
	Players       *ecs.Store[ControllablePlayer]
	Thrusters     *ecs.Store[Thruster]

	PlayerBlueprints     *ecs.Store[blueprint.PlayerBlueprint]
	SpawnPointBlueprints *ecs.Store[blueprint.SpawnPointBlueprint]
	StructureBlueprints  *ecs.Store[StructureBlueprint]
	ThrusterBlueprints   *ecs.Store[ThrusterBlueprint]
}

func NewStores(w *ecs.World) *Stores {
	return &Stores{
		World:         w,
		Names:         ecs.Register[Name](w, TypeName),
		Presentations: ecs.Register[Presentation](w, TypePresentation),
		Colliders:     ecs.Register[Collider](w, TypeCollider),
		Bodies:        ecs.Register[Body](w, TypeBody),
		SpawnPoints:   ecs.Register[SpawnPoint](w, TypeSpawnPoint),
		Players:       ecs.Register[ControllablePlayer](w, TypePlayer),
		Thrusters:     ecs.Register[Thruster](w, TypeThruster),

		PlayerBlueprints:     ecs.Register[blueprint.PlayerBlueprint](w, TypePlayerBlueprint),
		SpawnPointBlueprints: ecs.Register[blueprint.SpawnPointBlueprint](w, TypeSpawnPointBlueprint),
		StructureBlueprints:  ecs.Register[StructureBlueprint](w, TypeStructureBlueprint),
		ThrusterBlueprints:   ecs.Register[ThrusterBlueprint](w, TypeThrusterBlueprint),
	}
}
