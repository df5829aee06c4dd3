package spatial

// Color is a linear RGBA colour.
type Color [4]float32

var (
	White  = Color{1, 1, 1, 1}
	Silver = Color{0.75, 0.75, 0.75, 1}
	Blue   = Color{0, 0, 1, 1}
	Orange = Color{1, 0.65, 0, 1}
	// Magenta marks placeholder materials.
	Magenta = Color{1, 0, 1, 1}
)
