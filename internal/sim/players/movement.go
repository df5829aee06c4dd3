package players

import (
	"context"

	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/components"
	"starforge.io/internal/sim/ecs"
	"starforge.io/internal/sim/schedule"
)

// InputSource yields the throttle requests recorded for a tick. Clients with
// no entry keep their previous input.
type InputSource interface {
	InputsAt(tick uint64) map[blueprint.ClientID]components.Throttles
}

type Movement struct {
	stores *components.Stores
	inputs InputSource
}

func NewMovement(s *components.Stores, src InputSource) *Movement {
	return &Movement{stores: s, inputs: src}
}

// Run copies this tick's input onto each player and throttles the player's
// thrusters accordingly.
func (m *Movement) Run(ctx context.Context, tick uint64) error {
	in := m.inputs.InputsAt(tick)
	for _, e := range m.stores.Players.Entities() {
		p, ok := m.stores.Players.Get(e)
		if !ok {
			continue
		}
		if t, ok := in[p.NetworkID]; ok {
			p.MovementInput = t.Clone()
			m.stores.Players.Set(e, p)
		}
		for _, c := range m.stores.World.Children(e) {
			th, ok := m.stores.Thrusters.Get(c)
			if !ok {
				continue
			}
			want := clamp01(p.MovementInput[th.ID])
			if want != th.Throttle {
				m.stores.Thrusters.Update(c, func(x *components.Thruster) { x.Throttle = want })
			}
		}
	}
	return ctx.Err()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func (m *Movement) System() schedule.System {
	return schedule.System{
		Name:   "players.movement",
		Phase:  schedule.PlayerMovement,
		Access: schedule.Reads(components.ResInputs).Write(components.TypePlayer, components.TypeThruster),
		Run:    m.Run,
	}
}

// playerByClient finds the ship of a client.
func playerByClient(s *components.Stores, id blueprint.ClientID) (ecs.Entity, bool) {
	var found ecs.Entity
	ok := false
	s.Players.Each(func(e ecs.Entity, p components.ControllablePlayer) bool {
		if p.NetworkID == id {
			found, ok = e, true
			return false
		}
		return true
	})
	return found, ok
}
