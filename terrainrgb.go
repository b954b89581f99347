package demtiles

import (
	"errors"
	"image"
	"image/color"
	"math"
)

// NoDataElevation is the elevation of an all-zero sample. It marks pixels with
// no data.
const NoDataElevation = -10000

const maxEncodedValue = 1<<24 - 1

// ErrMalformedSample is returned when a pixel has fewer than three channels.
var ErrMalformedSample = errors.New("malformed sample")

// A Sample is an RGB-encoded elevation.
type Sample [3]uint8

// Decode returns the elevation encoded in s, in meters.
func Decode(s Sample) float64 {
	value := int(s[0])*256*256 + int(s[1])*256 + int(s[2])
	return -10000 + float64(value)*0.1
}

// DecodePixel decodes the first three channels of pix.
func DecodePixel(pix []uint8) (float64, error) {
	if len(pix) < 3 {
		return 0, ErrMalformedSample
	}
	return Decode(Sample{pix[0], pix[1], pix[2]}), nil
}

// Encode returns the sample closest to elevation. NaN and elevations at or
// below NoDataElevation encode as the no data sample.
func Encode(elevation float64) Sample {
	if math.IsNaN(elevation) {
		return Sample{}
	}
	value := math.Round((elevation - NoDataElevation) * 10)
	switch {
	case value <= 0:
		return Sample{}
	case value >= maxEncodedValue:
		return Sample{0xff, 0xff, 0xff}
	}
	v := int(value)
	return Sample{uint8(v >> 16), uint8(v >> 8), uint8(v)}
}

// SampleAt returns the sample at (x, y) in img.
func SampleAt(img image.Image, x, y int) Sample {
	switch img := img.(type) {
	case *image.NRGBA:
		if !(image.Point{x, y}).In(img.Rect) {
			return Sample{}
		}
		i := img.PixOffset(x, y)
		return Sample{img.Pix[i], img.Pix[i+1], img.Pix[i+2]}
	default:
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		return Sample{c.R, c.G, c.B}
	}
}
