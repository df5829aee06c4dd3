package players

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/hydrate"
	"starforge.io/internal/sim/physics"
	"starforge.io/internal/sim/spatial"
)

type harness struct {
	stores *components.Stores
	assets *assets.Context
	hyd    *Hydrators
	lobby  *Lobby
	create *WorldCreation
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	s := components.NewStores(ecs.NewWorld())
	a := assets.NewContext(assets.NewProceduralFactory(), quiet)
	h := NewHydrators(s, a, hydrate.Options{Debug: true, Logger: quiet})
	return &harness{
		stores: s,
		assets: a,
		hyd:    h,
		lobby:  NewLobby(s, quiet),
		create: NewWorldCreation(s, h, 0, 0),
	}
}

func (h *harness) expand(t *testing.T) {
	t.Helper()
	for _, sys := range h.hyd.Systems() {
		if err := sys.Run(context.Background(), 0); err != nil {
			t.Fatalf("%s: %v", sys.Name, err)
		}
	}
}

func TestPlayerHydration_NameAndStructureChild(t *testing.T) {
	h := newHarness(t)
	at := spatial.FromTranslation(mgl64.Vec3{3, 0, -2})
	e := h.stores.World.Spawn()
	h.stores.PlayerBlueprints.Set(e, blueprint.DefaultPlayerBlueprint(42, at))
	h.expand(t)

	if n, _ := h.stores.Names.Get(e); n != "Player 42" {
		t.Fatalf("player name: %q", n)
	}
	p, ok := h.stores.Players.Get(e)
	if !ok || p.NetworkID != 42 {
		t.Fatalf("controllable player: %+v ok=%v", p, ok)
	}
	kids := h.stores.World.Children(e)
	if len(kids) != 1 {
		t.Fatalf("children: %v", kids)
	}
	if n, _ := h.stores.Names.Get(kids[0]); n != "StructureBlock Aluminum" {
		t.Fatalf("child name: %q", n)
	}
	gt, ok := h.stores.GlobalTransform(kids[0])
	if !ok || !gt.ApproxEqual(at, 1e-9) {
		t.Fatalf("child global transform: %+v want %+v", gt, at)
	}

	h.expand(t)
	if got := len(h.stores.World.Children(e)); got != 1 {
		t.Fatalf("re-expansion spawned more children: %d", got)
	}
}

func TestWorldCreation_EightUnoccupiedSpawnPoints(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		if err := h.create.Run(context.Background(), 0); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	h.expand(t)

	if got := h.stores.SpawnPoints.Count(); got != SpawnPointCount {
		t.Fatalf("spawn points: got %d want %d", got, SpawnPointCount)
	}
	if got := h.hyd.SpawnPoints.Hydrations(); got != SpawnPointCount {
		t.Fatalf("hydrations: got %d want %d", got, SpawnPointCount)
	}
	for i, e := range h.stores.SpawnPoints.Entities() {
		sp, _ := h.stores.SpawnPoints.Get(e)
		if _, occ := sp.Occupant(); occ {
			t.Fatalf("spawn point %d occupied", i)
		}
		p, _ := h.stores.Presentations.Get(e)
		pos := p.Transform.Translation
		if math.Abs(pos.Len()-SpawnPointRadius) > 1e-9 || pos.Y() != 0 {
			t.Fatalf("spawn point %d at %v", i, pos)
		}
		want := float64(i) * 2 * math.Pi / SpawnPointCount
		if got := math.Atan2(pos.Z(), pos.X()); math.Abs(math.Remainder(got-want, 2*math.Pi)) > 1e-9 {
			t.Fatalf("spawn point %d angle %v want %v", i, got, want)
		}
		col, _ := h.stores.Colliders.Get(e)
		if col.Shape != components.Sphere || col.Radius != blueprint.DefaultSpawnPointSize {
			t.Fatalf("collider: %+v", col)
		}
		mesh, _ := h.assets.MeshData(p.Mesh)
		if mesh.Key != assets.SphereKey(blueprint.DefaultSpawnPointSize) {
			t.Fatalf("mesh key: %+v", mesh.Key)
		}
	}
}

func TestLobby_JoinOccupiesFreeSpawnPoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.create.Run(ctx, 0); err != nil {
		t.Fatal(err)
	}
	for id := blueprint.ClientID(1); id <= SpawnPointCount+1; id++ {
		h.lobby.Join(id)
	}
	if err := h.lobby.Run(ctx, 1); err != nil {
		t.Fatal(err)
	}
	h.expand(t)

	if got := h.stores.Players.Count(); got != SpawnPointCount {
		t.Fatalf("players: got %d want %d", got, SpawnPointCount)
	}
	if _, ok := FreeSpawnPoint(h.stores); ok {
		t.Fatalf("expected every spawn point occupied")
	}
	first := h.stores.SpawnPoints.Entities()[0]
	sp, _ := h.stores.SpawnPoints.Get(first)
	if occ, ok := sp.Occupant(); !ok || occ != 1 {
		t.Fatalf("first spawn point occupant: %v %v", occ, ok)
	}

	// The ninth client waits until someone leaves.
	h.lobby.Leave(1)
	if err := h.lobby.Run(ctx, 2); err != nil {
		t.Fatal(err)
	}
	h.expand(t)
	e, ok := h.lobby.Entity(SpawnPointCount + 1)
	if !ok {
		t.Fatalf("queued client never joined")
	}
	b, _ := h.stores.Bodies.Get(e)
	spBody, _ := h.stores.Bodies.Get(first)
	if !b.Position.ApproxEqual(spBody.Position) {
		t.Fatalf("queued client placed at %v, want %v", b.Position, spBody.Position)
	}
}

func TestLobby_SeededBlockIDsAreReproducible(t *testing.T) {
	ids := func() blueprint.BlockID {
		h := newHarness(t)
		h.lobby.SeedBlockIDs(99)
		ctx := context.Background()
		if err := h.create.Run(ctx, 0); err != nil {
			t.Fatal(err)
		}
		h.lobby.Join(3)
		if err := h.lobby.Run(ctx, 0); err != nil {
			t.Fatal(err)
		}
		e, ok := h.lobby.Entity(3)
		if !ok {
			t.Fatalf("client 3 not joined")
		}
		bp, _ := h.stores.PlayerBlueprints.Get(e)
		return bp.StructureChildren[0].ID
	}
	if a, b := ids(), ids(); a != b {
		t.Fatalf("block ids differ: %s vs %s", a, b)
	}
}

func TestFilterOccupiedSpawnPoints(t *testing.T) {
	h := newHarness(t)
	s := h.stores
	mk := func(occ *blueprint.ClientID) ecs.Entity {
		e := s.World.Spawn()
		s.SpawnPoints.Set(e, components.NewSpawnPoint(occ))
		return e
	}
	ship := s.World.Spawn()
	s.Players.Set(ship, components.ControllablePlayer{NetworkID: 7})
	own, other := blueprint.ClientID(7), blueprint.ClientID(8)
	mine, foreign, free := mk(&own), mk(&other), mk(nil)

	var c physics.Collisions
	c.Restore([]physics.Contact{
		{A: ship, B: mine},
		{A: foreign, B: ship},
		{A: ship, B: free},
	})
	FilterOccupiedSpawnPoints(s, &c)
	got := c.Contacts()
	if len(got) != 2 {
		t.Fatalf("contacts after filter: %+v", got)
	}
	for _, x := range got {
		if x.A == mine || x.B == mine {
			t.Fatalf("own spawn point contact kept: %+v", x)
		}
	}
}

func TestVacate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.create.Run(ctx, 0); err != nil {
		t.Fatal(err)
	}
	h.lobby.Join(5)
	if err := h.lobby.Run(ctx, 1); err != nil {
		t.Fatal(err)
	}
	h.expand(t)
	Vacate(h.stores)
	if _, ok := FreeSpawnPoint(h.stores); !ok {
		t.Fatalf("expected free spawn points")
	}
	first := h.stores.SpawnPoints.Entities()[0]
	if sp, _ := h.stores.SpawnPoints.Get(first); !occupiedBy(sp, 5) {
		t.Fatalf("ship inside its spawn point should keep it")
	}

	e, _ := h.lobby.Entity(5)
	h.stores.Bodies.Update(e, func(b *components.Body) { b.Position = b.Position.Add(mgl64.Vec3{0, 50, 0}) })
	Vacate(h.stores)
	if sp, _ := h.stores.SpawnPoints.Get(first); !isFree(sp) {
		t.Fatalf("spawn point should be vacated once the ship leaves it")
	}
}

func TestMovement_ThrottlesOwnThrusters(t *testing.T) {
	h := newHarness(t)
	bp := blueprint.DefaultPlayerBlueprint(3, spatial.Identity())
	th := blueprint.NewThrusterBlueprint(blueprint.RelativePixel{0, -1, 0}, blueprint.Up, 5)
	bp.ThrusterChildren = append(bp.ThrusterChildren, th)
	e := h.stores.World.Spawn()
	h.stores.PlayerBlueprints.Set(e, bp)
	h.expand(t)

	src := staticInputs{1: {3: components.Throttles{th.ID: 2}}}
	m := NewMovement(h.stores, src)
	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	var throttle float64
	h.stores.Thrusters.Each(func(_ ecs.Entity, x components.Thruster) bool {
		throttle = x.Throttle
		return true
	})
	if throttle != 1 {
		t.Fatalf("throttle: got %v want clamped 1", throttle)
	}
	// Input persists through ticks without a new request.
	if err := m.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	p, _ := h.stores.Players.Get(e)
	if p.MovementInput[th.ID] != 2 {
		t.Fatalf("movement input lost: %+v", p.MovementInput)
	}
}

type staticInputs map[uint64]map[blueprint.ClientID]components.Throttles

func (s staticInputs) InputsAt(tick uint64) map[blueprint.ClientID]components.Throttles {
	return s[tick]
}

func occupiedBy(sp components.SpawnPoint, id blueprint.ClientID) bool {
	occ, ok := sp.Occupant()
	return ok && occ == id
}

func isFree(sp components.SpawnPoint) bool {
	_, ok := sp.Occupant()
	return !ok
}

func TestStampSpawnPoint_DecodedBlueprintStampsTheSame(t *testing.T) {
	a := assets.NewContext(assets.NewProceduralFactory(), log.New(io.Discard, "", 0))
	occupant := blueprint.ClientID(4)
	for _, bp := range []blueprint.SpawnPointBlueprint{
		blueprint.NewSpawnPointBlueprint(spatial.FromTranslation(mgl64.Vec3{12, 0, -5}), nil),
		blueprint.NewSpawnPointBlueprint(spatial.Identity(), &occupant),
	} {
		raw, err := json.Marshal(bp)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		decoded, err := blueprint.DecodeSpawnPoint(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		want, got := StampSpawnPoint(bp, a), StampSpawnPoint(decoded, a)
		if !reflect.DeepEqual(want, got) {
			t.Fatalf("bundle from %s: %+v vs %+v", raw, want, got)
		}
		wm, _ := a.MeshData(want.Presentation.Mesh)
		gm, _ := a.MeshData(got.Presentation.Mesh)
		if wm != gm || wm.Placeholder {
			t.Fatalf("mesh: %+v vs %+v", wm, gm)
		}
	}
	if st := a.Stats(); st.Meshes != 1 || st.Materials != 1 {
		t.Fatalf("stats: %+v", st)
	}
}
