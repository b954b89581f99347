package demtiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png" // Register PNG tiles.
	"io"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/maypok86/otter/v2"
	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	_ "golang.org/x/image/webp" // Register WebP tiles.
)

// DefaultTileURL is where RGB-encoded tiles are read from by default.
const DefaultTileURL = "./tiles/{z}/{x}/{y}.png"

// ErrTileNotFound is returned when a source has no tile.
var ErrTileNotFound = errors.New("tile not found")

var sourceTileFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "demtiles_source_tile_fetches_total",
	Help: "The total number of tiles fetched by tile sources",
}, []string{"source", "result"})

// A TileSource returns RGB-encoded elevation tiles.
type TileSource interface {
	// Tile returns the tile at tile. It returns ErrTileNotFound if there is no
	// such tile.
	Tile(ctx context.Context, tile maptile.Tile) (image.Image, error)
	// MaxZoom returns the highest zoom level with tiles.
	MaxZoom() maptile.Zoom
}

// An XYZSource reads tiles from a URL template containing {z}, {x}, and {y}
// placeholders, either over HTTP or from a filesystem.
type XYZSource struct {
	urlTemplate     string
	fsys            fs.FS
	client          *http.Client
	maxZoom         maptile.Zoom
	tileCacheSize   int
	tileImagesCache *otter.Cache[maptile.Tile, image.Image]
}

// An XYZSourceOption sets an option on an XYZSource.
type XYZSourceOption func(*XYZSource)

// NewXYZSource returns a new XYZSource reading from urlTemplate.
func NewXYZSource(urlTemplate string, options ...XYZSourceOption) (*XYZSource, error) {
	s := &XYZSource{
		urlTemplate:   urlTemplate,
		client:        http.DefaultClient,
		maxZoom:       15,
		tileCacheSize: 1024,
	}
	for _, option := range options {
		option(s)
	}

	var err error
	s.tileImagesCache, err = otter.New(&otter.Options[maptile.Tile, image.Image]{
		MaximumSize: s.tileCacheSize,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithTileFS reads tiles from fsys instead of over HTTP.
func WithTileFS(fsys fs.FS) XYZSourceOption {
	return func(s *XYZSource) {
		s.fsys = fsys
	}
}

func WithHTTPClient(client *http.Client) XYZSourceOption {
	return func(s *XYZSource) {
		s.client = client
	}
}

func WithMaxZoom(maxZoom maptile.Zoom) XYZSourceOption {
	return func(s *XYZSource) {
		s.maxZoom = maxZoom
	}
}

// WithTileCacheCount sets the number of decoded tiles kept in memory.
func WithTileCacheCount(tileCacheSize int) XYZSourceOption {
	return func(s *XYZSource) {
		s.tileCacheSize = tileCacheSize
	}
}

func (s *XYZSource) MaxZoom() maptile.Zoom {
	return s.maxZoom
}

// Tile returns the tile at tile, using s's cache if possible.
func (s *XYZSource) Tile(ctx context.Context, tile maptile.Tile) (image.Image, error) {
	if tile.Z > s.maxZoom || !validTile(tile) {
		return nil, ErrTileNotFound
	}
	switch img, err := s.tileImagesCache.Get(ctx, tile, otter.LoaderFunc[maptile.Tile, image.Image](s.loadTile)); {
	case errors.Is(err, otter.ErrNotFound):
		return nil, ErrTileNotFound
	case err != nil:
		return nil, err
	default:
		return img, nil
	}
}

// TileURL returns the URL of tile.
func (s *XYZSource) TileURL(tile maptile.Tile) string {
	return expandTileURL(s.urlTemplate, tile)
}

// loadTile fetches and decodes a tile. Missing tiles are reported as
// otter.ErrNotFound so that they are not cached.
func (s *XYZSource) loadTile(ctx context.Context, tile maptile.Tile) (image.Image, error) {
	var data []byte
	var err error
	if s.fsys != nil {
		data, err = s.readTile(tile)
	} else {
		data, err = s.getTile(ctx, tile)
	}
	switch {
	case errors.Is(err, ErrTileNotFound):
		sourceTileFetches.WithLabelValues("xyz", "missing").Inc()
		return nil, otter.ErrNotFound
	case err != nil:
		sourceTileFetches.WithLabelValues("xyz", "error").Inc()
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		sourceTileFetches.WithLabelValues("xyz", "error").Inc()
		return nil, fmt.Errorf("%s: %w", s.TileURL(tile), err)
	}
	sourceTileFetches.WithLabelValues("xyz", "ok").Inc()
	return img, nil
}

func (s *XYZSource) readTile(tile maptile.Tile) ([]byte, error) {
	name := path.Clean(s.TileURL(tile))
	data, err := fs.ReadFile(s.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrTileNotFound
	}
	return data, err
}

func (s *XYZSource) getTile(ctx context.Context, tile maptile.Tile) ([]byte, error) {
	url := s.TileURL(tile)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNoContent, http.StatusNotFound:
		return nil, ErrTileNotFound
	default:
		return nil, fmt.Errorf("%s: %s", url, resp.Status)
	}
}

func expandTileURL(urlTemplate string, tile maptile.Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(int(tile.Z)),
		"{x}", strconv.Itoa(int(tile.X)),
		"{y}", strconv.Itoa(int(tile.Y)),
	).Replace(urlTemplate)
}

// validTile returns whether tile lies within the world at its zoom level.
func validTile(tile maptile.Tile) bool {
	n := uint64(1) << tile.Z
	return tile.Z <= 30 && uint64(tile.X) < n && uint64(tile.Y) < n
}
