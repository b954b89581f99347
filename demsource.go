package demtiles

import (
	"context"
	"image"
	"math"

	"github.com/paulmach/orb/maptile"
)

// A DEMSource renders RGB-encoded tiles from an ElevationService, sampling
// the elevation at the center of each pixel.
type DEMSource struct {
	service ElevationService
	maxZoom maptile.Zoom
}

// NewDEMSource returns a new DEMSource.
func NewDEMSource(service ElevationService, maxZoom maptile.Zoom) *DEMSource {
	return &DEMSource{
		service: service,
		maxZoom: maxZoom,
	}
}

func (s *DEMSource) MaxZoom() maptile.Zoom {
	return s.maxZoom
}

// Tile returns the RGB-encoded tile at tile. Pixels without elevation are
// transparent no data samples. It returns ErrTileNotFound if no pixel has an
// elevation.
func (s *DEMSource) Tile(ctx context.Context, tile maptile.Tile) (image.Image, error) {
	if tile.Z > s.maxZoom || !validTile(tile) {
		return nil, ErrTileNotFound
	}

	coords := make([][]float64, 0, TileSize*TileSize)
	for y := range TileSize {
		for x := range TileSize {
			lon, lat := PixelToLonLat(
				float64(int(tile.X)*TileSize+x)+0.5,
				float64(int(tile.Y)*TileSize+y)+0.5,
				tile.Z,
			)
			coords = append(coords, []float64{lon, lat})
		}
	}
	elevations, err := s.service.Elevation4326(ctx, coords)
	if err != nil {
		sourceTileFetches.WithLabelValues("dem", "error").Inc()
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
	empty := true
	for i, elevation := range elevations {
		if math.IsNaN(elevation) {
			continue
		}
		empty = false
		sample := Encode(elevation)
		copy(img.Pix[4*i:4*i+4], []uint8{sample[0], sample[1], sample[2], 0xff})
	}
	if empty {
		sourceTileFetches.WithLabelValues("dem", "missing").Inc()
		return nil, ErrTileNotFound
	}
	sourceTileFetches.WithLabelValues("dem", "ok").Inc()
	return img, nil
}
