package demtiles

import "math"

// Extremes are the lowest and highest elevations seen during a rendering
// pass.
type Extremes struct {
	Min float64
	Max float64
}

// NewExtremes returns empty Extremes.
func NewExtremes() Extremes {
	return Extremes{
		Min: math.Inf(1),
		Max: math.Inf(-1),
	}
}

// SeedExtremes returns Extremes that start at r.
func SeedExtremes(r DisplayRange) Extremes {
	return Extremes{
		Min: r.Min,
		Max: r.Max,
	}
}

// Update widens e to include elevation. No data elevations are ignored.
func (e *Extremes) Update(elevation float64) {
	if elevation == NoDataElevation {
		return
	}
	if elevation > e.Max {
		e.Max = elevation
	}
	if elevation < e.Min {
		e.Min = elevation
	}
}

// Merge widens e to include other.
func (e *Extremes) Merge(other Extremes) {
	if other.Max > e.Max {
		e.Max = other.Max
	}
	if other.Min < e.Min {
		e.Min = other.Min
	}
}

// Differs returns whether e is not exactly r.
func (e Extremes) Differs(r DisplayRange) bool {
	return e.Max != r.Max || e.Min != r.Min
}

// DisplayRange returns e as a DisplayRange.
func (e Extremes) DisplayRange() DisplayRange {
	return DisplayRange{
		Min: e.Min,
		Max: e.Max,
	}
}
