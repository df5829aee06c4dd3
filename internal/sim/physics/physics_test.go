package physics

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/spatial"
)

func newEngine() (*Engine, *components.Stores) {
	s := components.NewStores(ecs.NewWorld())
	return New(Config{Dt: 0.1, Damping: 1, Restitution: 0}, s), s
}

func spawnBody(s *components.Stores, at mgl64.Vec3, mass float64) ecs.Entity {
	e := s.World.Spawn()
	s.Presentations.Set(e, components.Presentation{Transform: spatial.FromTranslation(at)})
	s.Bodies.Set(e, components.Body{Position: at, Rotation: mgl64.QuatIdent(), Mass: mass, Dynamic: true})
	return e
}

func tick(t *testing.T, en *Engine) {
	t.Helper()
	ctx := context.Background()
	for _, f := range []func(context.Context, uint64) error{en.Prepare, en.Step, en.Sync} {
		if err := f(ctx, 0); err != nil {
			t.Fatalf("physics: %v", err)
		}
	}
}

func TestThrusterPushesOwner(t *testing.T) {
	en, s := newEngine()
	ship := spawnBody(s, mgl64.Vec3{}, 1)
	th := s.World.Spawn()
	if err := s.World.SetParent(th, ship); err != nil {
		t.Fatal(err)
	}
	s.Presentations.Set(th, components.Presentation{Transform: spatial.Identity()})
	s.Thrusters.Set(th, components.Thruster{ID: blueprint.NewBlockID(), Strength: 10, Throttle: 1})

	tick(t, en)
	b, _ := s.Bodies.Get(ship)
	// v = F/m*dt = 1, x = v*dt = 0.1 along +Y.
	if !b.Position.ApproxEqual(mgl64.Vec3{0, 0.1, 0}) {
		t.Fatalf("position: %v", b.Position)
	}
	p, _ := s.Presentations.Get(ship)
	if p.Transform.Translation != b.Position {
		t.Fatalf("sync: presentation %v body %v", p.Transform.Translation, b.Position)
	}

	s.Thrusters.Update(th, func(x *components.Thruster) { x.Throttle = 0 })
	tick(t, en)
	b2, _ := s.Bodies.Get(ship)
	if !b2.Velocity.ApproxEqual(b.Velocity) {
		t.Fatalf("coasting changed velocity: %v -> %v", b.Velocity, b2.Velocity)
	}
}

func TestDetectAndResolve(t *testing.T) {
	en, s := newEngine()
	a := spawnBody(s, mgl64.Vec3{0, 0, 0}, 1)
	b := s.World.Spawn()
	s.Presentations.Set(b, components.Presentation{Transform: spatial.FromTranslation(mgl64.Vec3{2, 0, 0})})
	s.Colliders.Set(b, components.Collider{Shape: components.Sphere, Radius: 1.5})
	s.Bodies.Set(b, components.Body{Position: mgl64.Vec3{2, 0, 0}, Mass: 1, Dynamic: true})

	tick(t, en)
	cs := en.Collisions().Contacts()
	if len(cs) != 1 || cs[0].A != a || cs[0].B != b {
		t.Fatalf("contacts: %+v", cs)
	}
	if !cs[0].Normal.ApproxEqual(mgl64.Vec3{1, 0, 0}) {
		t.Fatalf("normal: %v", cs[0].Normal)
	}

	if err := en.Resolve(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	pa, _ := s.Bodies.Get(a)
	pb, _ := s.Bodies.Get(b)
	if d := pb.Position.Sub(pa.Position).Len(); d < halfDiagonal+1.5-1e-9 {
		t.Fatalf("bodies still overlap: distance %v", d)
	}
}

func TestCollisionsRetainAndRestore(t *testing.T) {
	var c Collisions
	c.set([]Contact{{A: 1, B: 2}, {A: 1, B: 3}, {A: 2, B: 3}})
	snap := c.Snapshot()
	c.Retain(func(x Contact) bool { return x.A != 1 })
	if c.Len() != 1 {
		t.Fatalf("retain: %+v", c.Contacts())
	}
	c.Restore(snap)
	if c.Len() != 3 {
		t.Fatalf("restore: %+v", c.Contacts())
	}
}
