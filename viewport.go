package demtiles

import (
	"context"
	"errors"
	"image"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// TileSize is the width and height of a tile in pixels.
const TileSize = 256

// A Viewport is a rectangle of pixels at a zoom level, in the global web
// mercator pixel space where tile (x, y) covers pixels [256x, 256x+256) ×
// [256y, 256y+256).
type Viewport struct {
	Zoom   maptile.Zoom
	Bounds image.Rectangle
}

// TileViewport returns the viewport covering exactly tile.
func TileViewport(tile maptile.Tile) Viewport {
	minPoint := image.Pt(int(tile.X)*TileSize, int(tile.Y)*TileSize)
	return Viewport{
		Zoom:   tile.Z,
		Bounds: image.Rectangle{Min: minPoint, Max: minPoint.Add(image.Pt(TileSize, TileSize))},
	}
}

// CenterViewport returns the width×height viewport centered on lon, lat.
func CenterViewport(lon, lat float64, zoom maptile.Zoom, width, height int) Viewport {
	x, y := LonLatToPixel(lon, lat, zoom)
	minPoint := image.Pt(int(math.Round(x))-width/2, int(math.Round(y))-height/2)
	return Viewport{
		Zoom:   zoom,
		Bounds: image.Rectangle{Min: minPoint, Max: minPoint.Add(image.Pt(width, height))},
	}
}

// LonLatToPixel returns the global pixel coordinates of lon, lat at zoom.
func LonLatToPixel(lon, lat float64, zoom maptile.Zoom) (float64, float64) {
	worldSize := float64(TileSize) * math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180
	x := (lon + 180) / 360 * worldSize
	y := (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * worldSize
	return x, y
}

// PixelToLonLat returns the lon, lat of the global pixel coordinates x, y at
// zoom.
func PixelToLonLat(x, y float64, zoom maptile.Zoom) (float64, float64) {
	worldSize := float64(TileSize) * math.Exp2(float64(zoom))
	lon := x/worldSize*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*y/worldSize))) * 180 / math.Pi
	return lon, lat
}

// A placedTile is a tile and the global pixel coordinates of its top left
// corner, which differ from the tile's own when the viewport wraps around the
// antimeridian.
type placedTile struct {
	tile   maptile.Tile
	origin image.Point
}

// Tiles returns the tiles that intersect v. Tiles wrap around the
// antimeridian; rows beyond the poles are omitted.
func (v Viewport) Tiles() []maptile.Tile {
	placedTiles := v.placedTiles()
	tiles := make([]maptile.Tile, 0, len(placedTiles))
	for _, placedTile := range placedTiles {
		tiles = append(tiles, placedTile.tile)
	}
	return tiles
}

func (v Viewport) placedTiles() []placedTile {
	if v.Bounds.Empty() {
		return nil
	}
	n := 1 << v.Zoom
	minC, minR := floorDiv(v.Bounds.Min.X, TileSize), floorDiv(v.Bounds.Min.Y, TileSize)
	maxC, maxR := floorDiv(v.Bounds.Max.X-1, TileSize), floorDiv(v.Bounds.Max.Y-1, TileSize)
	var placedTiles []placedTile
	for r := max(minR, 0); r <= min(maxR, n-1); r++ {
		for c := minC; c <= maxC; c++ {
			placedTiles = append(placedTiles, placedTile{
				tile:   maptile.New(uint32(mod(c, n)), uint32(r), v.Zoom),
				origin: image.Pt(c*TileSize, r*TileSize),
			})
		}
	}
	return placedTiles
}

// Fetch returns v's RGB-encoded elevations from source as a single image
// whose bounds are v.Bounds. Missing tiles are left transparent, which decodes
// as no data.
func (v Viewport) Fetch(ctx context.Context, source TileSource, concurrency int) (*image.NRGBA, error) {
	dst := image.NewNRGBA(v.Bounds)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, placedTile := range v.placedTiles() {
		g.Go(func() error {
			img, err := overzoomedTile(ctx, source, placedTile.tile)
			switch {
			case errors.Is(err, ErrTileNotFound):
				return nil
			case err != nil:
				return err
			}
			// Each tile covers a disjoint rectangle of dst.
			origin := placedTile.origin
			rect := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(TileSize, TileSize))}.Intersect(dst.Rect)
			draw.Draw(dst, rect, img, img.Bounds().Min.Add(rect.Min.Sub(origin)), draw.Src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dst, nil
}

// Center returns the lon, lat of v's center.
func (v Viewport) Center() orb.Point {
	lon, lat := PixelToLonLat(
		float64(v.Bounds.Min.X+v.Bounds.Max.X)/2,
		float64(v.Bounds.Min.Y+v.Bounds.Max.Y)/2,
		v.Zoom,
	)
	return orb.Point{lon, lat}
}

// overzoomedTile returns tile from source. If tile is beyond source's maximum
// zoom then the covering part of the ancestor tile at the maximum zoom is
// scaled up with nearest neighbor sampling, as interpolating encoded values
// would produce meaningless elevations.
func overzoomedTile(ctx context.Context, source TileSource, tile maptile.Tile) (image.Image, error) {
	maxZoom := source.MaxZoom()
	if tile.Z <= maxZoom {
		return source.Tile(ctx, tile)
	}

	shift := tile.Z - maxZoom
	ancestor := maptile.New(tile.X>>shift, tile.Y>>shift, maxZoom)
	img, err := source.Tile(ctx, ancestor)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	size := max(bounds.Dx()>>shift, 1)
	mask := uint32(1)<<shift - 1
	srcMin := bounds.Min.Add(image.Pt(int(tile.X&mask)*size, int(tile.Y&mask)*size))
	srcRect := image.Rectangle{Min: srcMin, Max: srcMin.Add(image.Pt(size, size))}.Intersect(bounds)

	dst := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
	draw.NearestNeighbor.Scale(dst, dst.Rect, img, srcRect, draw.Src, nil)
	return dst, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}
