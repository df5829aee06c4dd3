package hydrate

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/spatial"
)

type fixture struct {
	stores *components.Stores
	assets *assets.Context
	player *System[blueprint.PlayerBlueprint]
	block  *System[components.StructureBlueprint]
}

func newFixture(t *testing.T, debug bool, logger *log.Logger) *fixture {
	t.Helper()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := ecs.NewWorld()
	s := components.NewStores(w)
	a := assets.NewContext(assets.NewProceduralFactory(), logger)
	opts := Options{Debug: debug, Logger: logger}
	player := New(Contract[blueprint.PlayerBlueprint]{
		Name: "player",
		Stamp: func(bp blueprint.PlayerBlueprint, _ *assets.Context) components.Bundle {
			return components.Bundle{
				Name:         components.Name("P" + bp.NetworkID.String()),
				Presentation: components.Presentation{Transform: bp.Transform},
			}
		},
		Children: func(bp blueprint.PlayerBlueprint, sp *Spawner) {
			for _, c := range bp.StructureChildren {
				sp.Child(func(e ecs.Entity) { s.StructureBlueprints.Set(e, c) })
			}
		},
		Writes: []ecs.ComponentType{components.TypeStructureBlueprint},
	}, s.PlayerBlueprints, s, a, opts)
	block := New(Contract[components.StructureBlueprint]{
		Name: "structure",
		Stamp: func(bp components.StructureBlueprint, ctx *assets.Context) components.Bundle {
			return components.Bundle{
				Name: components.Name("Block " + bp.Marker.Name()),
				Presentation: components.Presentation{
					Transform: bp.Transform,
					Mesh:      bp.Mesh.Resolve(ctx),
					Material:  bp.Material.Resolve(ctx),
				},
			}
		},
		RequiresParent: true,
	}, s.StructureBlueprints, s, a, opts)
	return &fixture{stores: s, assets: a, player: player, block: block}
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.player.Run(ctx, 0); err != nil {
		t.Fatalf("player: %v", err)
	}
	if err := f.block.Run(ctx, 0); err != nil {
		t.Fatalf("block: %v", err)
	}
}

func playerWithBlocks(id blueprint.ClientID, k int) blueprint.PlayerBlueprint {
	bp := blueprint.DefaultPlayerBlueprint(id, spatial.Identity())
	bp.StructureChildren = nil
	for i := 0; i < k; i++ {
		bp.StructureChildren = append(bp.StructureChildren, blueprint.NewStructureBlueprint(blueprint.Aluminum, blueprint.RelativePixel{i, 0, 0}))
	}
	return bp
}

func TestSystem_HydratesOncePerInstance(t *testing.T) {
	f := newFixture(t, true, nil)
	e := f.stores.World.Spawn()
	f.stores.PlayerBlueprints.Set(e, playerWithBlocks(1, 1))

	for i := 0; i < 3; i++ {
		f.tick(t)
	}
	if got := f.player.Hydrations(); got != 1 {
		t.Fatalf("player hydrations: got %d want 1", got)
	}
	if got := len(f.stores.World.Children(e)); got != 1 {
		t.Fatalf("children: got %d want 1", got)
	}

	// Overwriting the blueprint is a change, not a new instance.
	f.stores.PlayerBlueprints.Set(e, playerWithBlocks(1, 4))
	f.tick(t)
	if got := f.player.Hydrations(); got != 1 {
		t.Fatalf("overwrite re-hydrated: %d", got)
	}
}

func TestSystem_SpawnsKChildrenHydratedSameTick(t *testing.T) {
	const k = 5
	f := newFixture(t, true, nil)
	e := f.stores.World.Spawn()
	f.stores.PlayerBlueprints.Set(e, playerWithBlocks(9, k))
	f.tick(t)

	kids := f.stores.World.Children(e)
	if len(kids) != k {
		t.Fatalf("children: got %d want %d", len(kids), k)
	}
	for _, c := range kids {
		if !f.block.IsHydrated(c) {
			t.Fatalf("child %d not hydrated", c)
		}
		n, _ := f.stores.Names.Get(c)
		if n != "Block Aluminum" {
			t.Fatalf("child name: %q", n)
		}
	}
	if st := f.assets.Stats(); st.Meshes != 1 || st.Materials != 1 {
		t.Fatalf("identical descriptors should share handles: %+v", st)
	}
}

func TestSystem_RemoveAndReAddIsFreshInstance(t *testing.T) {
	f := newFixture(t, true, nil)
	e := f.stores.World.Spawn()
	f.stores.PlayerBlueprints.Set(e, playerWithBlocks(2, 2))
	f.tick(t)
	old := f.stores.World.Children(e)

	f.stores.PlayerBlueprints.Remove(e)
	f.stores.PlayerBlueprints.Set(e, playerWithBlocks(2, 3))
	f.tick(t)

	if got := f.player.Hydrations(); got != 2 {
		t.Fatalf("hydrations: got %d want 2", got)
	}
	for _, c := range old {
		if f.stores.World.Alive(c) {
			t.Fatalf("stale child %d survived re-add", c)
		}
	}
	if got := len(f.stores.World.Children(e)); got != 3 {
		t.Fatalf("children after re-add: got %d want 3", got)
	}
}

func TestSystem_RemovalDespawnsChildren(t *testing.T) {
	f := newFixture(t, true, nil)
	e := f.stores.World.Spawn()
	f.stores.PlayerBlueprints.Set(e, playerWithBlocks(3, 2))
	f.tick(t)
	kids := f.stores.World.Children(e)

	f.stores.PlayerBlueprints.Remove(e)
	f.tick(t)
	for _, c := range kids {
		if f.stores.World.Alive(c) {
			t.Fatalf("child %d survived blueprint removal", c)
		}
	}
	if f.player.IsHydrated(e) {
		t.Fatalf("entity still marked hydrated")
	}
	if !f.stores.World.Alive(e) {
		t.Fatalf("owner despawned with its blueprint")
	}
	if f.stores.Names.Has(e) || f.stores.Presentations.Has(e) {
		t.Fatalf("derived components outlived the blueprint")
	}
}

func TestSystem_ReAddAfterRemovalRestoresDerived(t *testing.T) {
	f := newFixture(t, true, nil)
	e := f.stores.World.Spawn()
	f.stores.PlayerBlueprints.Set(e, playerWithBlocks(3, 0))
	f.tick(t)
	f.stores.PlayerBlueprints.Remove(e)
	f.tick(t)

	f.stores.PlayerBlueprints.Set(e, playerWithBlocks(5, 0))
	f.tick(t)
	if n, ok := f.stores.Names.Get(e); !ok || n != "P5" {
		t.Fatalf("name = %q ok=%v", n, ok)
	}
	if got := f.player.Hydrations(); got != 2 {
		t.Fatalf("hydrations = %d", got)
	}
}

func TestSystem_OrphanChild(t *testing.T) {
	var buf strings.Builder
	f := newFixture(t, false, log.New(&buf, "", 0))
	orphan := f.stores.World.Spawn()
	f.stores.StructureBlueprints.Set(orphan, blueprint.NewStructureBlueprint(blueprint.Aluminum, blueprint.RelativePixel{}))
	f.tick(t)
	if f.block.IsHydrated(orphan) {
		t.Fatalf("orphan hydrated in release mode")
	}
	if !strings.Contains(buf.String(), "orphan") {
		t.Fatalf("expected orphan log, got %q", buf.String())
	}

	if err := f.block.Hydrate(orphan); !errors.Is(err, ErrOrphanChild) {
		t.Fatalf("Hydrate: got %v want ErrOrphanChild", err)
	}

	dbg := newFixture(t, true, nil)
	o := dbg.stores.World.Spawn()
	dbg.stores.StructureBlueprints.Set(o, blueprint.NewStructureBlueprint(blueprint.Aluminum, blueprint.RelativePixel{}))
	defer func() {
		if recover() == nil {
			t.Fatalf("debug mode should panic on orphan child")
		}
	}()
	dbg.tick(t)
}
