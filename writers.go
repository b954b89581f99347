package demtiles

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-mbtiles"
)

const (
	mbTilesInsertRetries    = 5
	mbTilesInsertRetryDelay = 100 * time.Millisecond
	mbTilesBatchSize        = 64
)

// A TileWriter writes rendered tiles.
type TileWriter interface {
	WriteTile(tile maptile.Tile, data []byte) error
	Close() error
}

// A FileWriter writes tiles to Path/{z}/{x}/{y}.png.
type FileWriter struct {
	Path string
}

func (w *FileWriter) WriteTile(tile maptile.Tile, data []byte) error {
	dir := filepath.Join(w.Path, strconv.Itoa(int(tile.Z)), strconv.Itoa(int(tile.X)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, strconv.Itoa(int(tile.Y))+".png"), data, 0o644)
}

func (w *FileWriter) Close() error {
	return nil
}

// A DummyWriter logs the tiles it would write.
type DummyWriter struct {
	Logger zerolog.Logger
}

func (w *DummyWriter) WriteTile(tile maptile.Tile, data []byte) error {
	w.Logger.Info().
		Uint32("z", uint32(tile.Z)).
		Uint32("x", tile.X).
		Uint32("y", tile.Y).
		Int("bytes", len(data)).
		Msg("tile")
	return nil
}

func (w *DummyWriter) Close() error {
	return nil
}

// An MBTilesWriter writes tiles to an MBTiles file in batches.
type MBTilesWriter struct {
	mutex  sync.Mutex
	writer *mbtiles.Writer
	batch  []mbtiles.TileData
	logger zerolog.Logger
}

// NewMBTilesWriter creates the MBTiles file filename and writes metadata to it.
func NewMBTilesWriter(filename string, metadata map[string]string, logger zerolog.Logger) (*MBTilesWriter, error) {
	// The sqlite3 driver needs the file to exist.
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}

	writer, err := mbtiles.NewWriter(filename)
	if err != nil {
		return nil, fmt.Errorf("creating writer: %w", err)
	}
	for _, step := range []struct {
		name string
		f    func() error
	}{
		{"creating tiles table", writer.CreateTiles},
		{"creating metadata table", writer.CreateMetadata},
		{"deleting tile index", writer.DeleteTileIndex},
		{"setting optimizations", func() error {
			return writer.SetOptimizations(mbtiles.Optimizations{
				JournalModeMemory: true,
			})
		}},
	} {
		if err := step.f(); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
	}
	for name, value := range metadata {
		if err := writer.InsertMetadata(name, value); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("inserting metadata %s: %w", name, err)
		}
	}

	return &MBTilesWriter{
		writer: writer,
		batch:  make([]mbtiles.TileData, 0, mbTilesBatchSize),
		logger: logger,
	}, nil
}

func (w *MBTilesWriter) WriteTile(tile maptile.Tile, data []byte) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.batch = append(w.batch, mbtiles.TileData{
		Z:    int(tile.Z),
		X:    int(tile.X),
		Y:    int(tile.Y),
		Data: data,
	})
	if len(w.batch) < mbTilesBatchSize {
		return nil
	}
	return w.flush()
}

// Close writes any remaining tiles, recreates the tile index, and closes the
// file.
func (w *MBTilesWriter) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if err := w.flush(); err != nil {
		_ = w.writer.Close()
		return err
	}
	if err := w.writer.CreateTileIndex(); err != nil {
		_ = w.writer.Close()
		return err
	}
	return w.writer.Close()
}

func (w *MBTilesWriter) flush() error {
	if len(w.batch) == 0 {
		return nil
	}
	var err error
	for attempt := range mbTilesInsertRetries {
		if err = w.writer.BulkInsertTile(w.batch); err == nil {
			w.batch = w.batch[:0]
			return nil
		}
		w.logger.Warn().Err(err).Int("attempt", attempt).Msg("database write failed, retrying")
		time.Sleep(mbTilesInsertRetryDelay)
	}
	return err
}
