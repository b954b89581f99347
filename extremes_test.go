package demtiles_test

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-demtiles"
)

func TestExtremes_Update(t *testing.T) {
	for _, tc := range []struct {
		name       string
		extremes   demtiles.Extremes
		elevations []float64
		expected   demtiles.Extremes
	}{
		{
			name:       "empty",
			extremes:   demtiles.NewExtremes(),
			elevations: []float64{5, 12, demtiles.NoDataElevation, 3},
			expected:   demtiles.Extremes{Min: 3, Max: 12},
		},
		{
			name:       "initial_display_range",
			extremes:   demtiles.SeedExtremes(demtiles.InitialDisplayRange),
			elevations: []float64{5, 12, demtiles.NoDataElevation, 3},
			expected:   demtiles.Extremes{Min: 3, Max: 12},
		},
		{
			name:       "initial_display_range_narrow_data",
			extremes:   demtiles.SeedExtremes(demtiles.InitialDisplayRange),
			elevations: []float64{400, 600, 550},
			expected:   demtiles.Extremes{Min: 400, Max: 600},
		},
		{
			name:       "no_data_only",
			extremes:   demtiles.SeedExtremes(demtiles.InitialDisplayRange),
			elevations: []float64{demtiles.NoDataElevation, demtiles.NoDataElevation},
			expected:   demtiles.Extremes{Min: 1000, Max: 0},
		},
		{
			name:       "negative",
			extremes:   demtiles.NewExtremes(),
			elevations: []float64{-9999.9, -432.5},
			expected:   demtiles.Extremes{Min: -9999.9, Max: -432.5},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			extremes := tc.extremes
			for _, elevation := range tc.elevations {
				extremes.Update(elevation)
			}
			assert.Equal(t, tc.expected, extremes)
		})
	}
}

func TestNewExtremes(t *testing.T) {
	extremes := demtiles.NewExtremes()
	assert.True(t, math.IsInf(extremes.Min, 1))
	assert.True(t, math.IsInf(extremes.Max, -1))
}

func TestExtremes_Merge(t *testing.T) {
	extremes := demtiles.NewExtremes()
	extremes.Merge(demtiles.Extremes{Min: 10, Max: 20})
	extremes.Merge(demtiles.Extremes{Min: 5, Max: 15})
	extremes.Merge(demtiles.NewExtremes())
	assert.Equal(t, demtiles.Extremes{Min: 5, Max: 20}, extremes)
}

func TestExtremes_Differs(t *testing.T) {
	display := demtiles.DisplayRange{Min: 3, Max: 12}
	assert.False(t, demtiles.Extremes{Min: 3, Max: 12}.Differs(display))
	assert.True(t, demtiles.Extremes{Min: 2, Max: 12}.Differs(display))
	assert.True(t, demtiles.Extremes{Min: 3, Max: 13}.Differs(display))
	assert.Equal(t, display, demtiles.Extremes{Min: 3, Max: 12}.DisplayRange())
}
