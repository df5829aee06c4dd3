// Package physics is a small rigid body integrator: thrust accumulation,
// semi-implicit Euler steps, sphere broadphase and impulse resolution.
package physics

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/schedule"
)

// halfDiagonal is the bounding radius of one block.
var halfDiagonal = math.Sqrt(3) / 2 * blueprint.PixelSize

type Config struct {
	Dt      float64 `yaml:"dt"`
	Damping float64 `yaml:"damping"`

	// Restitution is the bounce factor for resolved contacts.
	Restitution float64 `yaml:"restitution"`
}

func DefaultConfig() Config {
	return Config{Dt: 1.0 / 20, Damping: 0.98, Restitution: 0.5}
}

type Engine struct {
	cfg        Config
	stores     *components.Stores
	collisions *Collisions
}

func New(cfg Config, s *components.Stores) *Engine {
	if cfg.Dt <= 0 {
		cfg.Dt = DefaultConfig().Dt
	}
	return &Engine{cfg: cfg, stores: s, collisions: &Collisions{}}
}

func (en *Engine) Collisions() *Collisions { return en.collisions }

// root walks up to the nearest ancestor carrying a Body.
func (en *Engine) root(e ecs.Entity) (ecs.Entity, bool) {
	for cur := e; ; {
		if en.stores.Bodies.Has(cur) {
			return cur, true
		}
		p, ok := en.stores.World.Parent(cur)
		if !ok {
			return 0, false
		}
		cur = p
	}
}

// Prepare clears forces and adds every throttled thruster's push to the body
// that owns it.
func (en *Engine) Prepare(ctx context.Context, _ uint64) error {
	forces := map[ecs.Entity]mgl64.Vec3{}
	en.stores.Thrusters.Each(func(e ecs.Entity, th components.Thruster) bool {
		if th.Throttle <= 0 {
			return true
		}
		owner, ok := en.root(e)
		if !ok {
			return true
		}
		gt, ok := en.stores.GlobalTransform(e)
		if !ok {
			return true
		}
		dir := gt.Rotation.Rotate(mgl64.Vec3{0, 1, 0})
		forces[owner] = forces[owner].Add(dir.Mul(th.Strength * math.Min(th.Throttle, 1)))
		return true
	})
	for _, e := range en.stores.Bodies.Entities() {
		f := forces[e]
		en.stores.Bodies.Update(e, func(b *components.Body) { b.Force = f })
	}
	return ctx.Err()
}

// Step integrates dynamic bodies and records overlapping pairs.
func (en *Engine) Step(ctx context.Context, _ uint64) error {
	dt := en.cfg.Dt
	for _, e := range en.stores.Bodies.Entities() {
		en.stores.Bodies.Update(e, func(b *components.Body) {
			if !b.Dynamic || b.Mass <= 0 {
				return
			}
			b.Velocity = b.Velocity.Add(b.Force.Mul(dt / b.Mass)).Mul(en.cfg.Damping)
			b.Position = b.Position.Add(b.Velocity.Mul(dt))
		})
	}
	en.collisions.set(en.detect())
	return ctx.Err()
}

type sphere struct {
	e ecs.Entity
	c mgl64.Vec3
	r float64
}

func (en *Engine) detect() []Contact {
	var spheres []sphere
	en.stores.Bodies.Each(func(e ecs.Entity, b components.Body) bool {
		spheres = append(spheres, sphere{e: e, c: b.Position, r: en.radius(e)})
		return true
	})
	var out []Contact
	for i := 0; i < len(spheres); i++ {
		for j := i + 1; j < len(spheres); j++ {
			a, b := spheres[i], spheres[j]
			if b.e < a.e {
				a, b = b, a
			}
			d := b.c.Sub(a.c)
			dist := d.Len()
			if dist >= a.r+b.r {
				continue
			}
			n := mgl64.Vec3{0, 1, 0}
			if dist > 1e-9 {
				n = d.Mul(1 / dist)
			}
			out = append(out, Contact{A: a.e, B: b.e, Normal: n, Depth: a.r + b.r - dist})
		}
	}
	return out
}

// radius is the collider's bounding sphere. Convex hulls are bounded by their
// furthest child block.
func (en *Engine) radius(e ecs.Entity) float64 {
	col, ok := en.stores.Colliders.Get(e)
	if ok && col.Shape == components.Sphere {
		return col.Radius
	}
	r := halfDiagonal
	for _, c := range en.stores.World.Children(e) {
		if p, ok := en.stores.Presentations.Get(c); ok {
			r = math.Max(r, p.Transform.Translation.Len()+halfDiagonal)
		}
	}
	return r
}

// Sync copies body poses onto presentations.
func (en *Engine) Sync(ctx context.Context, _ uint64) error {
	en.stores.Bodies.Each(func(e ecs.Entity, b components.Body) bool {
		rot := b.Rotation
		if rot == (mgl64.Quat{}) {
			rot = mgl64.QuatIdent()
		}
		en.stores.Presentations.Update(e, func(p *components.Presentation) {
			p.Transform.Translation = b.Position
			p.Transform.Rotation = rot
		})
		return true
	})
	return ctx.Err()
}

// Resolve separates the contacts left after filtering and exchanges
// momentum along the contact normal.
func (en *Engine) Resolve(ctx context.Context, _ uint64) error {
	for _, c := range en.collisions.Contacts() {
		a, okA := en.stores.Bodies.Get(c.A)
		b, okB := en.stores.Bodies.Get(c.B)
		if !okA || !okB {
			continue
		}
		ia, ib := invMass(a), invMass(b)
		if ia+ib == 0 {
			continue
		}
		push := c.Normal.Mul(c.Depth / (ia + ib))
		a.Position = a.Position.Sub(push.Mul(ia))
		b.Position = b.Position.Add(push.Mul(ib))

		rel := b.Velocity.Sub(a.Velocity).Dot(c.Normal)
		if rel < 0 {
			j := -(1 + en.cfg.Restitution) * rel / (ia + ib)
			a.Velocity = a.Velocity.Sub(c.Normal.Mul(j * ia))
			b.Velocity = b.Velocity.Add(c.Normal.Mul(j * ib))
		}
		en.stores.Bodies.Set(c.A, a)
		en.stores.Bodies.Set(c.B, b)
	}
	return ctx.Err()
}

func invMass(b components.Body) float64 {
	if !b.Dynamic || b.Mass <= 0 {
		return 0
	}
	return 1 / b.Mass
}

func (en *Engine) Systems() []schedule.System {
	return []schedule.System{
		{
			Name:   "physics.prepare",
			Phase:  schedule.PhysicsPrepare,
			Access: schedule.Reads(components.TypeThruster, components.TypePresentation).Write(components.TypeBody),
			Run:    en.Prepare,
		},
		{
			Name:  "physics.step",
			Phase: schedule.PhysicsStep,
			Access: schedule.Reads(components.TypeCollider, components.TypePresentation).
				Write(components.TypeBody, components.ResCollisions),
			Run: en.Step,
		},
		{
			Name:   "physics.sync",
			Phase:  schedule.PhysicsSync,
			Access: schedule.Reads(components.TypeBody).Write(components.TypePresentation),
			Run:    en.Sync,
		},
	}
}

// ResolveSystem runs inside the game logic schedule after any contact
// filters.
func (en *Engine) ResolveSystem(after ...string) schedule.System {
	return schedule.System{
		Name:   "physics.resolve_collisions",
		Phase:  schedule.ExecuteGameLogic,
		Access: schedule.Reads(components.ResCollisions).Write(components.TypeBody),
		After:  after,
		Run:    en.Resolve,
	}
}
