package demtiles_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb/maptile"

	"github.com/twpayne/go-demtiles"
)

// encodedTile returns a tile whose pixels encode elevation(x, y).
func encodedTile(elevation func(x, y int) float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, demtiles.TileSize, demtiles.TileSize))
	for y := range demtiles.TileSize {
		for x := range demtiles.TileSize {
			sample := demtiles.Encode(elevation(x, y))
			i := img.PixOffset(x, y)
			copy(img.Pix[i:i+4], []uint8{sample[0], sample[1], sample[2], 0xff})
		}
	}
	return img
}

func constantTile(elevation float64) *image.NRGBA {
	return encodedTile(func(int, int) float64 { return elevation })
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buffer bytes.Buffer
	assert.NoError(t, png.Encode(&buffer, img))
	return buffer.Bytes()
}

// A mapSource is a TileSource backed by a map.
type mapSource struct {
	tiles   map[maptile.Tile]image.Image
	maxZoom maptile.Zoom
	fetches atomic.Int64
}

func newMapSource(maxZoom maptile.Zoom, tiles map[maptile.Tile]image.Image) *mapSource {
	return &mapSource{
		tiles:   tiles,
		maxZoom: maxZoom,
	}
}

func (s *mapSource) Tile(ctx context.Context, tile maptile.Tile) (image.Image, error) {
	s.fetches.Add(1)
	img, ok := s.tiles[tile]
	if !ok {
		return nil, demtiles.ErrTileNotFound
	}
	return img, nil
}

func (s *mapSource) MaxZoom() maptile.Zoom {
	return s.maxZoom
}
