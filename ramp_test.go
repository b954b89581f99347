package demtiles_test

import (
	"image/color"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-demtiles"
)

func TestNewColorRamp(t *testing.T) {
	ramp, err := demtiles.NewColorRamp("red_blue", "#ff0000", "#0000ff")
	assert.NoError(t, err)
	assert.Equal(t, "red_blue", ramp.Name())
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, ramp.At(0))
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, ramp.At(255))
	middle := ramp.At(128)
	assert.True(t, middle.R > 0 && middle.B > 0)
}

func TestNewColorRampErrors(t *testing.T) {
	_, err := demtiles.NewColorRamp("single", "#ff0000")
	assert.Error(t, err)
	_, err = demtiles.NewColorRamp("invalid", "#ff0000", "blue")
	assert.Error(t, err)
}

func TestColorRampNames(t *testing.T) {
	assert.Equal(t, []string{"magma", "terrain", "viridis"}, demtiles.ColorRampNames())
}
