package blueprint

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/spatial"
)

// BlockBlueprint describes a standardized block (structure, thruster). Every
// block has a transform relative to its owner, a mesh and a material.
type BlockBlueprint[T any] struct {
	ID        BlockID            `json:"id"`
	Transform spatial.Transform  `json:"transform"`
	Mesh      MeshDescriptor     `json:"mesh"`
	Material  MaterialDescriptor `json:"material"`
	Marker    T                  `json:"marker"`
}

func (b BlockBlueprint[T]) Validate() error {
	if b.ID.IsZero() {
		return ErrZeroBlockID
	}
	if b.Mesh.IsZero() {
		return fmt.Errorf("block %s: missing mesh", b.ID)
	}
	return nil
}

// RelativePixel is an integer block offset from the owner's origin.
type RelativePixel [3]int

func (p RelativePixel) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{float64(p[0]), float64(p[1]), float64(p[2])}
}

type StructureBlock int

const (
	Aluminum StructureBlock = iota
)

var structureNames = map[StructureBlock]string{
	Aluminum: "Aluminum",
}

func (s StructureBlock) Name() string {
	if n, ok := structureNames[s]; ok {
		return n
	}
	return fmt.Sprintf("StructureBlock(%d)", int(s))
}

func (s StructureBlock) MarshalText() ([]byte, error) {
	n, ok := structureNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown structure block %d", int(s))
	}
	return []byte(n), nil
}

func (s *StructureBlock) UnmarshalText(b []byte) error {
	for k, n := range structureNames {
		if n == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown structure block %q", string(b))
}

// NewStructureBlueprint places a structure block at offset*PixelSize.
func NewStructureBlueprint(kind StructureBlock, at RelativePixel) BlockBlueprint[StructureBlock] {
	return BlockBlueprint[StructureBlock]{
		ID:        NewBlockID(),
		Transform: spatial.FromTranslation(at.Vec3().Mul(PixelSize)),
		Mesh:      StandardBlockMesh(),
		Material:  OpaqueColour(spatial.Silver),
		Marker:    kind,
	}
}

// ThrusterBlock pushes its owner along the block's local +Y axis.
type ThrusterBlock struct {
	Strength float64 `json:"strength"`
}

type Facing int

const (
	Up Facing = iota
	Down
	Left
	Right
	Forwards
	Backwards
)

// Quat returns the rotation taking local +Y onto the facing direction.
func (f Facing) Quat() mgl64.Quat {
	switch f {
	case Down:
		return mgl64.QuatRotate(math.Pi, mgl64.Vec3{1, 0, 0})
	case Left:
		return mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})
	case Right:
		return mgl64.QuatRotate(-math.Pi/2, mgl64.Vec3{0, 0, 1})
	case Forwards:
		return mgl64.QuatRotate(-math.Pi/2, mgl64.Vec3{1, 0, 0})
	case Backwards:
		return mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{1, 0, 0})
	default:
		return mgl64.QuatIdent()
	}
}

func NewThrusterBlueprint(at RelativePixel, facing Facing, strength float64) BlockBlueprint[ThrusterBlock] {
	return BlockBlueprint[ThrusterBlock]{
		ID:        NewBlockID(),
		Transform: spatial.FromTranslation(at.Vec3().Mul(PixelSize)).WithRotation(facing.Quat()),
		Mesh:      RectangularPrismMesh(mgl64.Vec3{PixelSize * 0.5, PixelSize, PixelSize * 0.5}),
		Material:  OpaqueColour(spatial.Orange),
		Marker:    ThrusterBlock{Strength: strength},
	}
}

// DecodeBlock decodes and validates a block blueprint.
func DecodeBlock[T any](raw []byte) (BlockBlueprint[T], error) {
	var b BlockBlueprint[T]
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, err
	}
	return b, b.Validate()
}
