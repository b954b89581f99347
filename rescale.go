package demtiles

import "math"

// A DisplayRange is the window of elevations mapped onto display intensities
// 0 to 255.
type DisplayRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Rescale maps elevation linearly so that min maps to 0 and max maps to 255.
// The result is not clamped. If min equals max the result is NaN or infinite.
func Rescale(elevation, min, max float64) float64 {
	return ((elevation - min) / (max - min)) * 255
}

// clampUint8 stores v the way an 8-bit clamped pixel buffer does: NaN becomes
// zero, values are rounded half to even and clamped to [0, 255].
func clampUint8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.RoundToEven(v))
	}
}
