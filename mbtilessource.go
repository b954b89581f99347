package demtiles

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/paulmach/orb/maptile"
	"github.com/twpayne/go-mbtiles"
)

// An MBTilesSource reads RGB-encoded tiles from an MBTiles file.
type MBTilesSource struct {
	mutex   sync.Mutex
	reader  *mbtiles.Reader
	maxZoom maptile.Zoom
}

// NewMBTilesSource opens the MBTiles file at dsn.
func NewMBTilesSource(dsn string, maxZoom maptile.Zoom) (*MBTilesSource, error) {
	reader, err := mbtiles.NewReader(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dsn, err)
	}
	return &MBTilesSource{
		reader:  reader,
		maxZoom: maxZoom,
	}, nil
}

func (s *MBTilesSource) Close() error {
	return s.reader.Close()
}

func (s *MBTilesSource) MaxZoom() maptile.Zoom {
	return s.maxZoom
}

func (s *MBTilesSource) Tile(ctx context.Context, tile maptile.Tile) (image.Image, error) {
	if tile.Z > s.maxZoom || !validTile(tile) {
		return nil, ErrTileNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	data, err := s.reader.SelectTile(int(tile.Z), int(tile.X), int(tile.Y))
	s.mutex.Unlock()
	switch {
	case errors.Is(err, sql.ErrNoRows) || err == nil && len(data) == 0:
		sourceTileFetches.WithLabelValues("mbtiles", "missing").Inc()
		return nil, ErrTileNotFound
	case err != nil:
		sourceTileFetches.WithLabelValues("mbtiles", "error").Inc()
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		sourceTileFetches.WithLabelValues("mbtiles", "error").Inc()
		return nil, fmt.Errorf("%d/%d/%d: %w", tile.Z, tile.X, tile.Y, err)
	}
	sourceTileFetches.WithLabelValues("mbtiles", "ok").Inc()
	return img, nil
}
