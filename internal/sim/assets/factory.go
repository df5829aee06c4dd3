package assets

import (
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

// ProceduralFactory generates primitive meshes and flat materials, and serves
// named meshes registered from a manifest.
type ProceduralFactory struct {
	named map[string]Mesh
}

func NewProceduralFactory() *ProceduralFactory {
	return &ProceduralFactory{named: map[string]Mesh{}}
}

func (f *ProceduralFactory) Register(name string, extents mgl64.Vec3, vertices int) {
	f.named[name] = Mesh{
		Key:      MeshKey{Shape: ShapeNamed, Name: name},
		Extents:  extents,
		Vertices: vertices,
	}
}

func (f *ProceduralFactory) LoadMesh(key MeshKey) (Mesh, error) {
	switch key.Shape {
	case ShapeCube, ShapeBox:
		return Mesh{Key: key, Extents: key.Extents, Vertices: 24}, nil
	case ShapeSphere:
		if key.Radius <= 0 {
			return Mesh{}, fmt.Errorf("sphere radius must be positive, got %v", key.Radius)
		}
		d := key.Radius * 2
		// 36 sectors x 18 stacks
		return Mesh{Key: key, Extents: mgl64.Vec3{d, d, d}, Vertices: 37 * 19}, nil
	case ShapeNamed:
		m, ok := f.named[key.Name]
		if !ok {
			return Mesh{}, &MissingAssetError{Name: key.Name}
		}
		return m, nil
	default:
		return Mesh{}, fmt.Errorf("unknown mesh shape %q", key.Shape)
	}
}

func (f *ProceduralFactory) LoadMaterial(key MaterialKey) (Material, error) {
	return Material{Key: key}, nil
}

type Manifest struct {
	Meshes []ManifestMesh `yaml:"meshes"`
}

type ManifestMesh struct {
	Name     string     `yaml:"name"`
	Extents  [3]float64 `yaml:"extents"`
	Vertices int        `yaml:"vertices"`
}

// LoadManifest builds a ProceduralFactory with the named meshes from an
// assets.yaml manifest.
func LoadManifest(path string) (*ProceduralFactory, error) {
	f := NewProceduralFactory()
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return f, fmt.Errorf("assets.yaml: %w", err)
	}
	for i, mm := range m.Meshes {
		if mm.Name == "" {
			return f, fmt.Errorf("assets.yaml: mesh %d has no name", i)
		}
		f.Register(mm.Name, mgl64.Vec3(mm.Extents), mm.Vertices)
	}
	return f, nil
}
