package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Transform is a translation/rotation/scale triple. Child transforms are
// expressed relative to their parent.
type Transform struct {
	Translation mgl64.Vec3 `json:"translation"`
	Rotation    mgl64.Quat `json:"rotation"`
	Scale       mgl64.Vec3 `json:"scale"`
}

func Identity() Transform {
	return Transform{
		Rotation: mgl64.QuatIdent(),
		Scale:    mgl64.Vec3{1, 1, 1},
	}
}

func FromTranslation(v mgl64.Vec3) Transform {
	t := Identity()
	t.Translation = v
	return t
}

func (t Transform) WithRotation(q mgl64.Quat) Transform {
	t.Rotation = q
	return t
}

// Mul composes t (parent) with child, returning the child's transform in the
// parent's space.
func (t Transform) Mul(child Transform) Transform {
	scaled := mgl64.Vec3{
		child.Translation[0] * t.Scale[0],
		child.Translation[1] * t.Scale[1],
		child.Translation[2] * t.Scale[2],
	}
	return Transform{
		Translation: t.Translation.Add(t.Rotation.Rotate(scaled)),
		Rotation:    t.Rotation.Mul(child.Rotation).Normalize(),
		Scale: mgl64.Vec3{
			t.Scale[0] * child.Scale[0],
			t.Scale[1] * child.Scale[1],
			t.Scale[2] * child.Scale[2],
		},
	}
}

// ApproxEqual compares two transforms component-wise with tolerance eps.
func (t Transform) ApproxEqual(o Transform, eps float64) bool {
	if !t.Translation.ApproxEqualThreshold(o.Translation, eps) {
		return false
	}
	if !t.Scale.ApproxEqualThreshold(o.Scale, eps) {
		return false
	}
	// q and -q describe the same rotation.
	return t.Rotation.ApproxEqualThreshold(o.Rotation, eps) ||
		t.Rotation.ApproxEqualThreshold(o.Rotation.Scale(-1), eps)
}

// Polar returns the point on a circle of the given radius in the XZ plane at
// angle theta (radians).
func Polar(theta, radius float64) mgl64.Vec3 {
	return mgl64.Vec3{math.Cos(theta) * radius, 0, math.Sin(theta) * radius}
}
