package demtiles_test

import (
	"image"
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb/maptile"

	"github.com/twpayne/go-demtiles"
)

func TestElevationAt(t *testing.T) {
	source := newMapSource(1, map[maptile.Tile]image.Image{
		maptile.New(0, 0, 1): encodedTile(func(x, y int) float64 {
			return float64(x)
		}),
		maptile.New(1, 1, 1): constantTile(demtiles.NoDataElevation),
	})

	for _, tc := range []struct {
		name     string
		lon      float64
		lat      float64
		expected float64
	}{
		{
			name:     "west_edge",
			lon:      -180,
			lat:      45,
			expected: 0,
		},
		{
			name:     "center_west",
			lon:      -90,
			lat:      45,
			expected: 128,
		},
		{
			name:     "missing_tile",
			lon:      90,
			lat:      45,
			expected: demtiles.NoDataElevation,
		},
		{
			name:     "no_data",
			lon:      90,
			lat:      -45,
			expected: demtiles.NoDataElevation,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := demtiles.ElevationAt(t.Context(), source, tc.lon, tc.lat)
			assert.NoError(t, err)
			assert.True(t, math.Abs(actual-tc.expected) < 0.01, "%f != %f", actual, tc.expected)
		})
	}
}

func TestElevationAtOutOfBounds(t *testing.T) {
	source := newMapSource(0, nil)
	for _, coord := range [][]float64{
		{0, 86},
		{0, -86},
		{181, 0},
		{-181, 0},
	} {
		_, err := demtiles.ElevationAt(t.Context(), source, coord[0], coord[1])
		assert.IsError(t, err, demtiles.ErrOutOfBounds)
	}
}
