package demtiles

import (
	"context"
	"errors"
	"math"

	"github.com/paulmach/orb/maptile"
)

// ErrOutOfBounds is returned for coordinates outside the web mercator world.
var ErrOutOfBounds = errors.New("coordinate out of bounds")

// maxMercatorLatitude is the latitude of the top edge of the web mercator
// world.
const maxMercatorLatitude = 85.05112877980659

// ElevationAt returns the elevation at lon, lat decoded from source's tiles at
// its maximum zoom. It returns NoDataElevation where source has no data.
func ElevationAt(ctx context.Context, source TileSource, lon, lat float64) (float64, error) {
	if math.Abs(lat) > maxMercatorLatitude || lon < -180 || lon > 180 {
		return 0, ErrOutOfBounds
	}
	zoom := source.MaxZoom()
	x, y := LonLatToPixel(lon, lat, zoom)
	worldSize := TileSize << zoom
	px := min(int(math.Floor(x)), worldSize-1)
	py := min(int(math.Floor(y)), worldSize-1)
	tile := maptile.New(uint32(px/TileSize), uint32(py/TileSize), zoom)

	img, err := source.Tile(ctx, tile)
	switch {
	case errors.Is(err, ErrTileNotFound):
		return NoDataElevation, nil
	case err != nil:
		return 0, err
	}
	bounds := img.Bounds()
	scaleX := float64(bounds.Dx()) / TileSize
	scaleY := float64(bounds.Dy()) / TileSize
	sx := bounds.Min.X + int(float64(px%TileSize)*scaleX)
	sy := bounds.Min.Y + int(float64(py%TileSize)*scaleY)
	return Decode(SampleAt(img, sx, sy)), nil
}
