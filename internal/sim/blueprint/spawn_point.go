package blueprint

import (
	"encoding/json"
	"fmt"

	"starforge.io/internal/sim/spatial"
)

const DefaultSpawnPointSize = 3.0

// SpawnPointBlueprint is created at world creation and expanded once.
type SpawnPointBlueprint struct {
	At                spatial.Transform `json:"at"`
	Size              float64           `json:"size"`
	InitialOccupation *ClientID         `json:"initial_occupation,omitempty"`
}

func NewSpawnPointBlueprint(at spatial.Transform, occupied *ClientID) SpawnPointBlueprint {
	return SpawnPointBlueprint{
		At:                at,
		Size:              DefaultSpawnPointSize,
		InitialOccupation: occupied,
	}
}

func (s SpawnPointBlueprint) Validate() error {
	if s.Size <= 0 {
		return fmt.Errorf("spawn point: size must be positive, got %v", s.Size)
	}
	return nil
}

func DecodeSpawnPoint(raw []byte) (SpawnPointBlueprint, error) {
	var s SpawnPointBlueprint
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, err
	}
	return s, s.Validate()
}
