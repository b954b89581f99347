package demtiles_test

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"

	"github.com/twpayne/go-demtiles"
)

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	writer := &demtiles.FileWriter{Path: dir}
	assert.NoError(t, writer.WriteTile(maptile.New(3, 5, 4), []byte("png")))
	assert.NoError(t, writer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "4", "3", "5.png"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestMBTilesWriterAndSource(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "dem.mbtiles")
	zoom := maptile.Zoom(4)
	metadata := demtiles.MBTilesMetadata("dem", orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}, []maptile.Zoom{zoom})
	writer, err := demtiles.NewMBTilesWriter(filename, metadata, zerolog.Nop())
	assert.NoError(t, err)

	// More tiles than fit in one batch, leaving a partial batch for Close.
	var tiles []maptile.Tile
	for y := range uint32(16) {
		for x := range uint32(5) {
			tiles = append(tiles, maptile.New(x, y, zoom))
		}
	}
	elevations := make(map[maptile.Tile]float64)
	for i, tile := range tiles {
		elevations[tile] = 100 + 10*float64(i)
		assert.NoError(t, writer.WriteTile(tile, encodePNG(t, constantTile(elevations[tile]))))
	}
	assert.NoError(t, writer.Close())

	source, err := demtiles.NewMBTilesSource(filename, zoom)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, source.Close())
	}()
	assert.Equal(t, zoom, source.MaxZoom())

	for _, tile := range tiles {
		img, err := source.Tile(t.Context(), tile)
		assert.NoError(t, err)
		actual := demtiles.Decode(demtiles.SampleAt(img, 128, 128))
		assert.True(t, math.Abs(actual-elevations[tile]) < 0.01, "%d/%d/%d: %f != %f", tile.Z, tile.X, tile.Y, actual, elevations[tile])
	}

	lon, lat := demtiles.PixelToLonLat(2*demtiles.TileSize+128, 3*demtiles.TileSize+128, zoom)
	elevation, err := demtiles.ElevationAt(t.Context(), source, lon, lat)
	assert.NoError(t, err)
	assert.True(t, math.Abs(elevation-elevations[maptile.New(2, 3, zoom)]) < 0.01)

	_, err = source.Tile(t.Context(), maptile.New(10, 3, zoom))
	assert.IsError(t, err, demtiles.ErrTileNotFound)

	_, err = source.Tile(t.Context(), maptile.New(0, 0, zoom+1))
	assert.IsError(t, err, demtiles.ErrTileNotFound)
}

func TestMBTilesSourceImage(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "gradient.mbtiles")
	writer, err := demtiles.NewMBTilesWriter(filename, map[string]string{"name": "gradient"}, zerolog.Nop())
	assert.NoError(t, err)
	assert.NoError(t, writer.WriteTile(maptile.New(0, 0, 0), encodePNG(t, gradientTile())))
	assert.NoError(t, writer.Close())

	source, err := demtiles.NewMBTilesSource(filename, 0)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, source.Close())
	}()

	layer := demtiles.NewLayer(source)
	result, err := layer.Render(t.Context(), demtiles.TileViewport(maptile.New(0, 0, 0)))
	assert.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 256), result.Image.Rect)
	assert.Equal(t, uint8(0), result.Image.NRGBAAt(10, 0).A)
	assert.Equal(t, color.NRGBA{R: 128, G: 128, B: 128, A: demtiles.DefaultAlpha}, result.Image.NRGBAAt(128, 10))
}
