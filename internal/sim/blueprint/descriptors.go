package blueprint

import (
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/assets"
	"starforge.io/internal/sim/spatial"
)

// PixelSize is the edge length of one standard block.
const PixelSize = 1.0

type MeshKind string

const (
	MeshStandardBlock MeshKind = "standard_block"
	MeshRectPrism     MeshKind = "rect_prism"
	MeshAsset         MeshKind = "asset"
)

// MeshDescriptor is a serializable stand-in for a mesh. Build one with
// StandardBlockMesh, RectangularPrismMesh or AssetMesh.
type MeshDescriptor struct {
	kind MeshKind
	size mgl64.Vec3
	name string
}

func StandardBlockMesh() MeshDescriptor { return MeshDescriptor{kind: MeshStandardBlock} }

func RectangularPrismMesh(size mgl64.Vec3) MeshDescriptor {
	return MeshDescriptor{kind: MeshRectPrism, size: size}
}

func AssetMesh(name string) MeshDescriptor { return MeshDescriptor{kind: MeshAsset, name: name} }

func (m MeshDescriptor) Kind() MeshKind { return m.kind }
func (m MeshDescriptor) Size() mgl64.Vec3 { return m.size }
func (m MeshDescriptor) AssetName() string { return m.name }
func (m MeshDescriptor) IsZero() bool { return m.kind == "" }

// Key maps the descriptor onto the asset cache identity.
func (m MeshDescriptor) Key() assets.MeshKey {
	switch m.kind {
	case MeshStandardBlock:
		return assets.MeshKey{Shape: assets.ShapeCube, Extents: mgl64.Vec3{PixelSize, PixelSize, PixelSize}}
	case MeshRectPrism:
		return assets.MeshKey{Shape: assets.ShapeBox, Extents: m.size}
	case MeshAsset:
		return assets.MeshKey{Shape: assets.ShapeNamed, Name: m.name}
	default:
		return assets.MeshKey{}
	}
}

// Resolve returns the shared mesh handle for this descriptor.
func (m MeshDescriptor) Resolve(ctx *assets.Context) assets.MeshHandle {
	return ctx.Mesh(m.Key())
}

type meshJSON struct {
	Kind MeshKind    `json:"kind"`
	Size *mgl64.Vec3 `json:"size,omitempty"`
	Name string      `json:"name,omitempty"`
}

func (m MeshDescriptor) MarshalJSON() ([]byte, error) {
	out := meshJSON{Kind: m.kind}
	switch m.kind {
	case MeshStandardBlock:
	case MeshRectPrism:
		s := m.size
		out.Size = &s
	case MeshAsset:
		out.Name = m.name
	default:
		return nil, fmt.Errorf("mesh descriptor: unknown kind %q", m.kind)
	}
	return json.Marshal(out)
}

func (m *MeshDescriptor) UnmarshalJSON(b []byte) error {
	var in meshJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Kind {
	case MeshStandardBlock:
		*m = StandardBlockMesh()
	case MeshRectPrism:
		if in.Size == nil {
			return fmt.Errorf("mesh descriptor: rect_prism without size")
		}
		*m = RectangularPrismMesh(*in.Size)
	case MeshAsset:
		if in.Name == "" {
			return fmt.Errorf("mesh descriptor: asset without name")
		}
		*m = AssetMesh(in.Name)
	default:
		return fmt.Errorf("mesh descriptor: unknown kind %q", in.Kind)
	}
	return nil
}

type MaterialKind string

const MaterialOpaque MaterialKind = "opaque"

// MaterialDescriptor is a serializable stand-in for a material.
type MaterialDescriptor struct {
	kind   MaterialKind
	colour spatial.Color
}

func OpaqueColour(c spatial.Color) MaterialDescriptor {
	return MaterialDescriptor{kind: MaterialOpaque, colour: c}
}

func (m MaterialDescriptor) Kind() MaterialKind { return m.kind }
func (m MaterialDescriptor) Colour() spatial.Color { return m.colour }

func (m MaterialDescriptor) Key() assets.MaterialKey {
	return assets.MaterialKey{BaseColor: m.colour}
}

func (m MaterialDescriptor) Resolve(ctx *assets.Context) assets.MaterialHandle {
	return ctx.Material(m.Key())
}

type materialJSON struct {
	Kind   MaterialKind  `json:"kind"`
	Colour spatial.Color `json:"colour"`
}

func (m MaterialDescriptor) MarshalJSON() ([]byte, error) {
	if m.kind != MaterialOpaque {
		return nil, fmt.Errorf("material descriptor: unknown kind %q", m.kind)
	}
	return json.Marshal(materialJSON{Kind: m.kind, Colour: m.colour})
}

func (m *MaterialDescriptor) UnmarshalJSON(b []byte) error {
	var in materialJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if in.Kind != MaterialOpaque {
		return fmt.Errorf("material descriptor: unknown kind %q", in.Kind)
	}
	*m = OpaqueColour(in.Colour)
	return nil
}
