package demtiles

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TilesInBound returns the tiles covering bound at each of zooms.
func TilesInBound(bound orb.Bound, zooms []maptile.Zoom) []maptile.Tile {
	var tiles []maptile.Tile
	for _, zoom := range zooms {
		minX, minY := tileIndex(bound.Min.Lon(), bound.Max.Lat(), zoom)
		maxX, maxY := tileIndex(bound.Max.Lon(), bound.Min.Lat(), zoom)
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				tiles = append(tiles, maptile.New(uint32(x), uint32(y), zoom))
			}
		}
	}
	return tiles
}

// tileIndex returns the column and row of the tile containing lon, lat at
// zoom, clamped to the world.
func tileIndex(lon, lat float64, zoom maptile.Zoom) (int, int) {
	lat = max(min(lat, maxMercatorLatitude), -maxMercatorLatitude)
	x, y := LonLatToPixel(lon, lat, zoom)
	n := 1 << zoom
	return max(min(int(math.Floor(x/TileSize)), n-1), 0), max(min(int(math.Floor(y/TileSize)), n-1), 0)
}

// RoundRobinTiles assigns tiles to workers in turn, so that workers render
// neighboring tiles at the same time.
func RoundRobinTiles(tiles []maptile.Tile, workers int) [][]maptile.Tile {
	assigned := make([][]maptile.Tile, workers)
	for i, tile := range tiles {
		assigned[i%workers] = append(assigned[i%workers], tile)
	}
	return assigned
}

// EncodePNG encodes a rendered image as a PNG.
func EncodePNG(result *RenderResult) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buffer, result.Image); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// An Exporter renders tiles from a Layer and writes them to a TileWriter. All
// tiles are rendered with the same display range. If the Layer is adaptive
// then that range is the extremes of all tiles, measured before rendering,
// otherwise it is the Layer's display range.
type Exporter struct {
	Layer            *Layer
	Writer           TileWriter
	Workers          int
	Logger           zerolog.Logger
	ProgressInterval time.Duration
}

// Export renders and writes tiles. Tiles that have no data are skipped.
func (e *Exporter) Export(ctx context.Context, tiles []maptile.Tile) error {
	display := e.Layer.DisplayRange()
	if e.Layer.Adaptive() {
		extremes, err := e.measure(ctx, tiles)
		if err != nil {
			return err
		}
		display = extremes.DisplayRange()
		e.Layer.SetDisplayRange(display)
		e.Logger.Info().
			Float64("min", display.Min).
			Float64("max", display.Max).
			Msg("measured display range")
	}

	var done atomic.Int64
	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()
	if e.ProgressInterval > 0 {
		go e.reportProgress(progressCtx, &done, len(tiles))
	}

	return e.forEachTile(ctx, tiles, func(ctx context.Context, tile maptile.Tile) error {
		if err := e.exportTile(ctx, tile, display); err != nil {
			return err
		}
		done.Add(1)
		return nil
	})
}

// measure returns the extremes of the data in tiles.
func (e *Exporter) measure(ctx context.Context, tiles []maptile.Tile) (Extremes, error) {
	var mutex sync.Mutex
	extremes := SeedExtremes(InitialDisplayRange)
	err := e.forEachTile(ctx, tiles, func(ctx context.Context, tile maptile.Tile) error {
		tileExtremes, err := e.Layer.Extremes(ctx, TileViewport(tile))
		if err != nil {
			return err
		}
		mutex.Lock()
		defer mutex.Unlock()
		extremes.Merge(tileExtremes)
		return nil
	})
	return extremes, err
}

// forEachTile calls f for every tile, with tiles assigned to e's workers in
// turn.
func (e *Exporter) forEachTile(ctx context.Context, tiles []maptile.Tile, f func(context.Context, maptile.Tile) error) error {
	workers := max(min(e.Workers, len(tiles)), 1)
	g, ctx := errgroup.WithContext(ctx)
	for worker, workerTiles := range RoundRobinTiles(tiles, workers) {
		g.Go(func() error {
			for _, tile := range workerTiles {
				if err := f(ctx, tile); err != nil {
					return fmt.Errorf("worker %d: %d/%d/%d: %w", worker, tile.Z, tile.X, tile.Y, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Exporter) exportTile(ctx context.Context, tile maptile.Tile, display DisplayRange) error {
	result, err := e.Layer.RenderWithDisplayRange(ctx, TileViewport(tile), display)
	if err != nil {
		return err
	}
	if isTransparent(result) {
		return nil
	}
	data, err := EncodePNG(result)
	if err != nil {
		return err
	}
	return e.Writer.WriteTile(tile, data)
}

func (e *Exporter) reportProgress(ctx context.Context, done *atomic.Int64, total int) {
	ticker := time.NewTicker(e.ProgressInterval)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := done.Load()
			e.Logger.Info().
				Int64("done", n).
				Int("total", total).
				Dur("elapsed", time.Since(start).Round(time.Second)).
				Msg("progress")
		}
	}
}

// MBTilesMetadata returns the MBTiles metadata for a rendered tile set.
func MBTilesMetadata(name string, bound orb.Bound, zooms []maptile.Zoom) map[string]string {
	minZoom, maxZoom := zooms[0], zooms[0]
	for _, zoom := range zooms[1:] {
		minZoom = min(minZoom, zoom)
		maxZoom = max(maxZoom, zoom)
	}
	center := bound.Center()
	return map[string]string{
		"name":    name,
		"format":  "png",
		"type":    "overlay",
		"minzoom": strconv.Itoa(int(minZoom)),
		"maxzoom": strconv.Itoa(int(maxZoom)),
		"bounds":  formatFloats(bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat()),
		"center":  formatFloats(center.Lon(), center.Lat()) + "," + strconv.Itoa(int(minZoom)),
	}
}

func isTransparent(result *RenderResult) bool {
	for i := 3; i < len(result.Image.Pix); i += 4 {
		if result.Image.Pix[i] != 0 {
			return false
		}
	}
	return true
}

func formatFloats(values ...float64) string {
	strs := make([]string, 0, len(values))
	for _, value := range values {
		strs = append(strs, strconv.FormatFloat(value, 'f', -1, 64))
	}
	return strings.Join(strs, ",")
}
