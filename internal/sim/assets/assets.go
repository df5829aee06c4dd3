package assets

import (
	"errors"
	"fmt"
	"log"

	"github.com/go-gl/mathgl/mgl64"

	"starforge.io/internal/sim/spatial"
)

type Shape string

const (
	ShapeCube   Shape = "cube"
	ShapeBox    Shape = "box"
	ShapeSphere Shape = "sphere"
	ShapeNamed  Shape = "named"
)

// MeshKey is the identity of a mesh request. Equal keys share one allocation.
type MeshKey struct {
	Shape   Shape
	Extents mgl64.Vec3
	Radius  float64
	Name    string
}

func SphereKey(radius float64) MeshKey {
	return MeshKey{Shape: ShapeSphere, Radius: radius}
}

func (k MeshKey) String() string {
	switch k.Shape {
	case ShapeNamed:
		return "named:" + k.Name
	case ShapeSphere:
		return fmt.Sprintf("sphere:%g", k.Radius)
	default:
		return fmt.Sprintf("%s:%gx%gx%g", k.Shape, k.Extents[0], k.Extents[1], k.Extents[2])
	}
}

type Mesh struct {
	Key         MeshKey
	Extents     mgl64.Vec3
	Vertices    int
	Placeholder bool
}

// MaterialKey is the identity of a material request.
type MaterialKey struct {
	BaseColor    spatial.Color
	Emissive     spatial.Color
	Transmission float64
	Thickness    float64
	IOR          float64
}

type Material struct {
	Key         MaterialKey
	Placeholder bool
}

// MeshHandle and MaterialHandle index the cache tables. Zero means none.
type (
	MeshHandle     uint32
	MaterialHandle uint32
)

// Factory loads the underlying assets. Implementations may be slow; the
// Context makes sure each key is loaded once.
type Factory interface {
	LoadMesh(key MeshKey) (Mesh, error)
	LoadMaterial(key MaterialKey) (Material, error)
}

var ErrMissingAsset = errors.New("missing asset")

type MissingAssetError struct {
	Name string
}

func (e *MissingAssetError) Error() string { return fmt.Sprintf("missing asset %q", e.Name) }
func (e *MissingAssetError) Unwrap() error { return ErrMissingAsset }

// Context is the shared asset cache threaded through every stamping call.
// It holds no lock: schedule access sets serialize writers.
type Context struct {
	factory Factory
	log     *log.Logger

	meshIndex map[MeshKey]MeshHandle
	meshes    []Mesh

	materialIndex map[MaterialKey]MaterialHandle
	materials     []Material

	missing map[string]struct{}
}

func NewContext(f Factory, logger *log.Logger) *Context {
	if f == nil {
		f = NewProceduralFactory()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Context{
		factory:       f,
		log:           logger,
		meshIndex:     map[MeshKey]MeshHandle{},
		materialIndex: map[MaterialKey]MaterialHandle{},
		missing:       map[string]struct{}{},
	}
}

// Mesh returns the handle for key, loading it on first use. A failed load is
// logged once and resolves to a placeholder so hydration can continue.
func (c *Context) Mesh(key MeshKey) MeshHandle {
	if h, ok := c.meshIndex[key]; ok {
		return h
	}
	m, err := c.factory.LoadMesh(key)
	if err != nil {
		c.warnMissing(key.String(), err)
		m = Mesh{Key: key, Extents: mgl64.Vec3{1, 1, 1}, Vertices: 24, Placeholder: true}
	}
	c.meshes = append(c.meshes, m)
	h := MeshHandle(len(c.meshes))
	c.meshIndex[key] = h
	return h
}

func (c *Context) Material(key MaterialKey) MaterialHandle {
	if h, ok := c.materialIndex[key]; ok {
		return h
	}
	m, err := c.factory.LoadMaterial(key)
	if err != nil {
		c.warnMissing(fmt.Sprintf("material:%v", key.BaseColor), err)
		m = Material{Key: MaterialKey{BaseColor: spatial.Magenta}, Placeholder: true}
	}
	c.materials = append(c.materials, m)
	h := MaterialHandle(len(c.materials))
	c.materialIndex[key] = h
	return h
}

func (c *Context) MeshData(h MeshHandle) (Mesh, bool) {
	if h == 0 || int(h) > len(c.meshes) {
		return Mesh{}, false
	}
	return c.meshes[h-1], true
}

func (c *Context) MaterialData(h MaterialHandle) (Material, bool) {
	if h == 0 || int(h) > len(c.materials) {
		return Material{}, false
	}
	return c.materials[h-1], true
}

type Stats struct {
	Meshes    int `json:"meshes"`
	Materials int `json:"materials"`
	Missing   int `json:"missing"`
}

func (c *Context) Stats() Stats {
	return Stats{Meshes: len(c.meshes), Materials: len(c.materials), Missing: len(c.missing)}
}

func (c *Context) warnMissing(name string, err error) {
	if _, seen := c.missing[name]; seen {
		return
	}
	c.missing[name] = struct{}{}
	c.log.Printf("WARN asset %s: %v (using placeholder)", name, err)
}
