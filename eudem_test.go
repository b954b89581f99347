package demtiles_test

import (
	"errors"
	"io/fs"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-demtiles"
)

func skipIfMissing(tb testing.TB, fsys fs.FS, filenames ...string) {
	tb.Helper()
	for _, filename := range filenames {
		if _, err := fs.Stat(fsys, filename); errors.Is(err, fs.ErrNotExist) {
			tb.Skip(err)
		}
	}
}

func TestEUDEM_Samples(t *testing.T) {
	if _, err := os.Stat("testdata/eu_dem"); errors.Is(err, fs.ErrNotExist) {
		t.Skip("missing eu_dem test data")
	}

	fsys := os.DirFS("testdata/eu_dem")
	euDEM, err := demtiles.NewEUDEM(fsys)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, euDEM.Close())
	}()

	for i, tc := range []struct {
		requiredFiles []string
		coords        []demtiles.Coord
		expected      []float64
	}{
		{
			requiredFiles: []string{
				"eu_dem_v11_E00N20.TIF",
			},
			coords: []demtiles.Coord{
				{X: 970705, Y: 2789764},
				{X: 971739, Y: 2793094},
				{X: 969236, Y: 2787499},
				{X: 950258, Y: 2769570},
			},
			expected: []float64{
				517, // QGIS says 518.
				79,
				6,   // QGIS says 13.
				586, // QGIS says 593.
			},
		},
		{
			requiredFiles: []string{
				"eu_dem_v11_E30N50.TIF",
			},
			coords: []demtiles.Coord{
				{X: 3030012, Y: 5003477},
				{X: 3073197, Y: 5027135},
				{X: 3175655, Y: 5026595},
			},
			expected: []float64{
				1141.1373291015625, // QGIS says 1136.0043.
				892.5265502929688,  // QGIS says 889.7675.
				94.63605499267578,  // QGIS says 92.92097.
			},
		},
		{
			requiredFiles: []string{
				"eu_dem_v11_E00N20.TIF",
				"eu_dem_v11_E30N50.TIF",
			},
			coords: []demtiles.Coord{
				{X: 970705, Y: 2789764},
				{X: 3030012, Y: 5003477},
				{X: 971739, Y: 2793094},
				{X: 3073197, Y: 5027135},
				{X: 969236, Y: 2787499},
				{X: 3175655, Y: 5026595},
				{X: 950258, Y: 2769570},
			},
			expected: []float64{
				517,                // QGIS says 518.
				1141.1373291015625, // QGIS says 1136.0043.
				79,
				892.5265502929688, // QGIS says 889.7675.
				6,                 // QGIS says 13.
				94.63605499267578, // QGIS says 92.92097.
				586,               // QGIS says 593.
			},
		},
		{
			requiredFiles: []string{
				"eu_dem_v11_E40N20.TIF",
			},
			coords: []demtiles.Coord{
				{X: 4077237, Y: 2529389},
				{X: 4076693, Y: 2596393},
				{X: 4207185, Y: 2673691},
			},
			expected: []float64{
				4712.9130859375,
				371.88299560546875,
				410.583984375,
			},
		},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			skipIfMissing(t, fsys, tc.requiredFiles...)
			actual, err := euDEM.Samples(t.Context(), tc.coords)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestEUDEMElevationService_Elevation4326(t *testing.T) {
	fsys := os.DirFS("testdata/eu_dem")
	euDEMElevationService, err := demtiles.NewEUDEMElevationService(fsys)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, euDEMElevationService.Close())
	}()

	for _, tc := range []struct {
		name     string
		filename string
		coord    []float64
		expected float64
	}{
		{
			name:     "azores",
			filename: "eu_dem_v11_E00N20.TIF",
			coord:    []float64{-31.216667, 39.466667},
			expected: 836.8908398692249,
		},
		{
			name:     "la_plagne",
			filename: "eu_dem_v11_E40N20.TIF",
			coord:    []float64{6.6771972, 45.505288300000004},
			expected: 1985.4962777956653,
		},
		{
			name:     "null_island",
			coord:    []float64{0, 0},
			expected: math.NaN(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.filename != "" {
				skipIfMissing(t, fsys, tc.filename)
			}
			coords := [][]float64{tc.coord}
			actual, err := euDEMElevationService.Elevation4326(t.Context(), coords)
			assert.NoError(t, err)
			assert.Equal(t, [][]float64{tc.coord}, coords)
			assert.Equal(t, 1, len(actual))
			if math.IsNaN(tc.expected) {
				assert.True(t, math.IsNaN(actual[0]))
			} else {
				assert.Equal(t, tc.expected, actual[0])
			}
		})
	}
}

func BenchmarkSingleFileSingleSample(b *testing.B) {
	fsys := os.DirFS("testdata/eu_dem")
	skipIfMissing(b, fsys, "eu_dem_v11_E00N20.TIF")
	r := rand.New(rand.NewPCG(0, 0))
	euDEM, err := demtiles.NewEUDEM(fsys)
	assert.NoError(b, err)
	b.ResetTimer()
	for range b.N {
		samples, err := euDEM.Samples(b.Context(), []demtiles.Coord{
			{
				X: 947000 + r.IntN(7000),
				Y: 2766000 + r.IntN(7000),
			},
		})
		assert.NoError(b, err)
		assert.Equal(b, 1, len(samples))
		assert.False(b, math.IsNaN(samples[0]))
	}
}

func BenchmarkSingleFileSixteenCloseSamples(b *testing.B) {
	fsys := os.DirFS("testdata/eu_dem")
	skipIfMissing(b, fsys, "eu_dem_v11_E00N20.TIF")
	r := rand.New(rand.NewPCG(0, 0))
	euDEM, err := demtiles.NewEUDEM(fsys)
	assert.NoError(b, err)
	b.ResetTimer()
	for range b.N {
		coords := make([]demtiles.Coord, 16)
		for i := range coords {
			coords[i] = demtiles.Coord{
				X: 947000 + r.IntN(7000),
				Y: 2766000 + r.IntN(7000),
			}
		}
		samples, err := euDEM.Samples(b.Context(), coords)
		assert.NoError(b, err)
		assert.Equal(b, len(coords), len(samples))
		for _, sample := range samples {
			assert.False(b, math.IsNaN(sample))
		}
	}
}
