package demtiles

import (
	"fmt"
	"image/color"
	"strings"
)

// DefaultAlpha is the opacity of rendered pixels that have data.
const DefaultAlpha = 200

// An Operation maps an RGB-encoded elevation to a display color. It records
// every elevation that it displays in extremes and must not have any other
// side effects, as it is called concurrently for different parts of an image.
type Operation interface {
	Apply(sample Sample, display DisplayRange, extremes *Extremes) color.NRGBA
}

// An OperationFunc is a func that implements Operation.
type OperationFunc func(Sample, DisplayRange, *Extremes) color.NRGBA

func (f OperationFunc) Apply(sample Sample, display DisplayRange, extremes *Extremes) color.NRGBA {
	return f(sample, display, extremes)
}

// A GrayscaleOperation displays elevations as shades of gray.
type GrayscaleOperation struct {
	Alpha uint8
}

func (o GrayscaleOperation) Apply(sample Sample, display DisplayRange, extremes *Extremes) color.NRGBA {
	v, ok := intensity(sample, display, extremes)
	if !ok {
		return color.NRGBA{}
	}
	return color.NRGBA{R: v, G: v, B: v, A: o.Alpha}
}

// A RampOperation displays elevations with a ColorRamp.
type RampOperation struct {
	Ramp  *ColorRamp
	Alpha uint8
}

func (o RampOperation) Apply(sample Sample, display DisplayRange, extremes *Extremes) color.NRGBA {
	v, ok := intensity(sample, display, extremes)
	if !ok {
		return color.NRGBA{}
	}
	c := o.Ramp.At(v)
	c.A = o.Alpha
	return c
}

// OperationByName returns the operation called name, either "grayscale" or
// the name of a built-in color ramp.
func OperationByName(name string, alpha uint8) (Operation, error) {
	name = strings.ToLower(name)
	if name == "" || name == "grayscale" {
		return GrayscaleOperation{Alpha: alpha}, nil
	}
	ramp, ok := colorRamps[name]
	if !ok {
		return nil, fmt.Errorf("%s: unknown operation", name)
	}
	return RampOperation{Ramp: ramp, Alpha: alpha}, nil
}

// intensity decodes sample, records it in extremes, and returns its display
// intensity. It returns false for no data samples, which are not recorded.
func intensity(sample Sample, display DisplayRange, extremes *Extremes) (uint8, bool) {
	elevation := Decode(sample)
	if elevation == NoDataElevation {
		return 0, false
	}
	extremes.Update(elevation)
	return clampUint8(Rescale(elevation, display.Min, display.Max)), true
}
