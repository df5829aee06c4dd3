package schedule

import "fmt"

// Phase is a coarse slot in the per-tick pipeline. Phases always run in
// declaration order.
type Phase int

const (
	Receive Phase = iota
	WorldCreation
	PlayerMovement
	PhysicsPrepare
	PhysicsStep
	PhysicsSync
	ExecuteGameLogic
	BlueprintExpansion
	Send

	phaseCount
)

var phaseNames = [...]string{
	Receive:            "Receive",
	WorldCreation:      "WorldCreation",
	PlayerMovement:     "PlayerMovement",
	PhysicsPrepare:     "PhysicsPrepare",
	PhysicsStep:        "PhysicsStep",
	PhysicsSync:        "PhysicsSync",
	ExecuteGameLogic:   "ExecuteGameLogic",
	BlueprintExpansion: "BlueprintExpansion",
	Send:               "Send",
}

func (p Phase) String() string {
	if p < 0 || p >= phaseCount {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Phases lists every phase in execution order.
func Phases() []Phase {
	out := make([]Phase, 0, phaseCount)
	for p := Receive; p < phaseCount; p++ {
		out = append(out, p)
	}
	return out
}
