package demtiles

import (
	"errors"
	"fmt"
	"image/color"
	"slices"

	"github.com/lucasb-eyer/go-colorful"
)

// A ColorRamp maps display intensities to colors.
type ColorRamp struct {
	name   string
	colors [256]color.NRGBA
}

var colorRamps = map[string]*ColorRamp{
	"terrain": MustNewColorRamp("terrain", "#006837", "#1a9850", "#a6d96a", "#fee08b", "#f46d43", "#a50026", "#ffffff"),
	"viridis": MustNewColorRamp("viridis", "#440154", "#3b528b", "#21918c", "#5ec962", "#fde725"),
	"magma":   MustNewColorRamp("magma", "#000004", "#3b0f70", "#8c2981", "#de4968", "#fe9f6d", "#fcfdbf"),
}

// NewColorRamp returns a ColorRamp that blends evenly spaced stops, given as
// hex colors, in CIE L*a*b* space.
func NewColorRamp(name string, stops ...string) (*ColorRamp, error) {
	if len(stops) < 2 {
		return nil, errors.New("color ramp needs at least two stops")
	}
	colors := make([]colorful.Color, 0, len(stops))
	for _, stop := range stops {
		c, err := colorful.Hex(stop)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stop, err)
		}
		colors = append(colors, c)
	}

	r := &ColorRamp{
		name: name,
	}
	segments := len(colors) - 1
	for i := range r.colors {
		t := float64(i) / 255 * float64(segments)
		segment := min(int(t), segments-1)
		c := colors[segment].BlendLab(colors[segment+1], t-float64(segment)).Clamped()
		red, green, blue := c.RGB255()
		r.colors[i] = color.NRGBA{R: red, G: green, B: blue, A: 0xff}
	}
	return r, nil
}

// MustNewColorRamp is like NewColorRamp but panics on error.
func MustNewColorRamp(name string, stops ...string) *ColorRamp {
	r, err := NewColorRamp(name, stops...)
	if err != nil {
		panic(err)
	}
	return r
}

// ColorRampNames returns the names of the built-in color ramps.
func ColorRampNames() []string {
	names := make([]string, 0, len(colorRamps))
	for name := range colorRamps {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// At returns the color for intensity v.
func (r *ColorRamp) At(v uint8) color.NRGBA {
	return r.colors[v]
}

func (r *ColorRamp) Name() string {
	return r.name
}
