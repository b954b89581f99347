// Package demtiles renders elevation data as displayable raster tiles.
//
// Elevation is read from RGB-encoded tiles (see [Decode]), from MBTiles
// archives of such tiles, or from GeoTIFF DEMs, and is rescaled into a
// grayscale or color ramped image whose display range follows the data
// visible in the rendered viewport.
package demtiles

import "context"

// A Coord is a coordinate in a DEM's coordinate reference system.
type Coord struct {
	X int
	Y int
}

// A Raster is a regular grid of elevation samples.
type Raster interface {
	// Samples returns the samples at coords. Missing samples are NaN.
	Samples(ctx context.Context, coords []Coord) ([]float64, error)
	// Scale returns the distance between adjacent samples.
	Scale() (int, int)
}

// An ElevationService returns elevations at EPSG:4326 coordinates, each given
// as [lon, lat]. Missing elevations are NaN.
type ElevationService interface {
	Elevation4326(ctx context.Context, coords [][]float64) ([]float64, error)
}
