// Package components holds the hydrated (derived) component types and the
// typed store registry shared by every system.
package components

import (
	"encoding/json"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/spatial"
)

type Name string

// Presentation is the renderable projection of an entity. Transform is local
// to the parent, if any.
type Presentation struct {
	Transform spatial.Transform
	Mesh      assets.MeshHandle
	Material  assets.MaterialHandle
}

type ColliderShape int

const (
	ConvexHull ColliderShape = iota
	Sphere
)

type Collider struct {
	Shape  ColliderShape
	Radius float64
}

// Body is the integrator state of a root entity.
type Body struct {
	Position mgl64.Vec3 `json:"position"`
	Rotation mgl64.Quat `json:"rotation"`
	Velocity mgl64.Vec3 `json:"velocity"`
	Force    mgl64.Vec3 `json:"-"`
	Mass     float64    `json:"mass"`
	Dynamic  bool       `json:"dynamic"`
}

// SpawnPoint records which client, if any, currently occupies it. Only
// collision resolution and join placement mutate it.
type SpawnPoint struct {
	occupant *blueprint.ClientID
}

func NewSpawnPoint(occupant *blueprint.ClientID) SpawnPoint {
	if occupant == nil {
		return SpawnPoint{}
	}
	id := *occupant
	return SpawnPoint{occupant: &id}
}

func (s SpawnPoint) Occupant() (blueprint.ClientID, bool) {
	if s.occupant == nil {
		return 0, false
	}
	return *s.occupant, true
}

func (s *SpawnPoint) Occupy(id blueprint.ClientID) { s.occupant = &id }
func (s *SpawnPoint) Vacate()                      { s.occupant = nil }

func (s SpawnPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Occupant *blueprint.ClientID `json:"occupant"`
	}{s.occupant})
}

func (s *SpawnPoint) UnmarshalJSON(b []byte) error {
	var in struct {
		Occupant *blueprint.ClientID `json:"occupant"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	s.occupant = in.Occupant
	return nil
}

// Throttles maps thruster block ids to a requested throttle in [0,1].
type Throttles map[blueprint.BlockID]float64

func (t Throttles) Clone() Throttles {
	out := make(Throttles, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// ControllablePlayer marks the root entity of a player ship.
type ControllablePlayer struct {
	NetworkID     blueprint.ClientID
	MovementInput Throttles
}

// Thruster is the hydrated form of a thruster block. Throttle is in [0,1].
type Thruster struct {
	ID       blueprint.BlockID
	Strength float64
	Throttle float64
}
