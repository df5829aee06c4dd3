package blueprint

import (
	"encoding/json"
	"fmt"
	"io"

	"starforge.io/internal/sim/spatial"
)

// PlayerBlueprint is created once when a client joins and replicated to every
// peer, the owner included. Each peer expands it exactly once.
type PlayerBlueprint struct {
	NetworkID         ClientID                         `json:"network_id"`
	Transform         spatial.Transform                `json:"transform"`
	StructureChildren []BlockBlueprint[StructureBlock] `json:"structure_children"`
	ThrusterChildren  []BlockBlueprint[ThrusterBlock]  `json:"thruster_children"`
}

// DefaultPlayerBlueprint is a single aluminum block at the origin.
func DefaultPlayerBlueprint(id ClientID, at spatial.Transform) PlayerBlueprint {
	return PlayerBlueprint{
		NetworkID: id,
		Transform: at,
		StructureChildren: []BlockBlueprint[StructureBlock]{
			NewStructureBlueprint(Aluminum, RelativePixel{0, 0, 0}),
		},
		ThrusterChildren: []BlockBlueprint[ThrusterBlock]{},
	}
}

// WithBlockIDs returns a copy whose children carry fresh ids drawn from r.
func (p PlayerBlueprint) WithBlockIDs(r io.Reader) (PlayerBlueprint, error) {
	out := p
	out.StructureChildren = append([]BlockBlueprint[StructureBlock](nil), p.StructureChildren...)
	out.ThrusterChildren = append([]BlockBlueprint[ThrusterBlock](nil), p.ThrusterChildren...)
	for i := range out.StructureChildren {
		id, err := NewBlockIDFrom(r)
		if err != nil {
			return p, err
		}
		out.StructureChildren[i].ID = id
	}
	for i := range out.ThrusterChildren {
		id, err := NewBlockIDFrom(r)
		if err != nil {
			return p, err
		}
		out.ThrusterChildren[i].ID = id
	}
	return out, nil
}

func (p PlayerBlueprint) Validate() error {
	seen := make(map[BlockID]struct{}, len(p.StructureChildren)+len(p.ThrusterChildren))
	check := func(id BlockID, err error) error {
		if err != nil {
			return fmt.Errorf("player %s: %w", p.NetworkID, err)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("player %s: duplicate block id %s", p.NetworkID, id)
		}
		seen[id] = struct{}{}
		return nil
	}
	for _, c := range p.StructureChildren {
		if err := check(c.ID, c.Validate()); err != nil {
			return err
		}
	}
	for _, c := range p.ThrusterChildren {
		if err := check(c.ID, c.Validate()); err != nil {
			return err
		}
	}
	return nil
}

func DecodePlayer(raw []byte) (PlayerBlueprint, error) {
	var p PlayerBlueprint
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, err
	}
	return p, p.Validate()
}
