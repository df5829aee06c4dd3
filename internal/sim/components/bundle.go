package components

import (
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/spatial"
)

// Bundle is the locally materialized result of stamping one blueprint.
// Name, Presentation and Collider are derived and always overwritten.
// Body and SpawnPoint are simulation state: they are attached only when the
// entity has none yet, so replicated authoritative values are never clobbered.
type Bundle struct {
	Name         Name
	Presentation Presentation
	Collider     *Collider

	Body       *Body
	SpawnPoint *SpawnPoint
	Player     *ControllablePlayer
	Thruster   *Thruster
}

// BundleTypes lists every store Attach may write.
var BundleTypes = []ecs.ComponentType{
	TypeName, TypePresentation, TypeCollider, TypeBody, TypeSpawnPoint, TypePlayer, TypeThruster,
}

func (s *Stores) Attach(e ecs.Entity, b Bundle) {
	s.Names.Set(e, b.Name)
	s.Presentations.Set(e, b.Presentation)
	if b.Collider != nil {
		s.Colliders.Set(e, *b.Collider)
	}
	if b.Body != nil {
		s.Bodies.Insert(e, *b.Body)
	}
	if b.SpawnPoint != nil {
		s.SpawnPoints.Insert(e, *b.SpawnPoint)
	}
	if b.Player != nil {
		s.Players.Set(e, *b.Player)
	}
	if b.Thruster != nil {
		s.Thrusters.Set(e, *b.Thruster)
	}
}

// Detach removes everything Attach may have written for e.
func (s *Stores) Detach(e ecs.Entity) {
	s.Names.Remove(e)
	s.Presentations.Remove(e)
	s.Colliders.Remove(e)
	s.Bodies.Remove(e)
	s.SpawnPoints.Remove(e)
	s.Players.Remove(e)
	s.Thrusters.Remove(e)
}

// GlobalTransform composes presentation transforms from the root down to e.
func (s *Stores) GlobalTransform(e ecs.Entity) (spatial.Transform, bool) {
	p, ok := s.Presentations.Get(e)
	if !ok {
		return spatial.Transform{}, false
	}
	t := p.Transform
	for cur := e; ; {
		parent, ok := s.World.Parent(cur)
		if !ok {
			return t, true
		}
		pp, ok := s.Presentations.Get(parent)
		if !ok {
			return t, true
		}
		t = pp.Transform.Mul(t)
		cur = parent
	}
}
