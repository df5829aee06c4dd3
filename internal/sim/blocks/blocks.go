// Package blocks expands structure and thruster block blueprints. Blocks are
// always children of a ship.
package blocks

import (
	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/hydrate"
)

func StampStructure(bp components.StructureBlueprint, ctx *assets.Context) components.Bundle {
	return components.Bundle{
		Name: components.Name("StructureBlock " + bp.Marker.Name()),
		Presentation: components.Presentation{
			Transform: bp.Transform,
			Mesh:      bp.Mesh.Resolve(ctx),
			Material:  bp.Material.Resolve(ctx),
		},
		Collider: &components.Collider{Shape: components.ConvexHull},
	}
}

func StampThruster(bp components.ThrusterBlueprint, ctx *assets.Context) components.Bundle {
	return components.Bundle{
		Name: "Thruster",
		Presentation: components.Presentation{
			Transform: bp.Transform,
			Mesh:      bp.Mesh.Resolve(ctx),
			Material:  bp.Material.Resolve(ctx),
		},
		Collider: &components.Collider{Shape: components.ConvexHull},
		Thruster: &components.Thruster{ID: bp.ID, Strength: bp.Marker.Strength},
	}
}

var (
	StructureContract = hydrate.Contract[components.StructureBlueprint]{
		Name:           "structure_block",
		Stamp:          StampStructure,
		RequiresParent: true,
	}
	ThrusterContract = hydrate.Contract[components.ThrusterBlueprint]{
		Name:           "thruster_block",
		Stamp:          StampThruster,
		RequiresParent: true,
	}
)

func NewStructureSystem(s *components.Stores, a *assets.Context, opts hydrate.Options) *hydrate.System[components.StructureBlueprint] {
	return hydrate.New(StructureContract, s.StructureBlueprints, s, a, opts)
}

func NewThrusterSystem(s *components.Stores, a *assets.Context, opts hydrate.Options) *hydrate.System[components.ThrusterBlueprint] {
	return hydrate.New(ThrusterContract, s.ThrusterBlueprints, s, a, opts)
}
