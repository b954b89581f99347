// Package cmdargs contains command line arguments shared by the demtiles
// commands.
package cmdargs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"

	"github.com/twpayne/go-demtiles"
)

// SourceArgs select a tile source.
type SourceArgs struct {
	TileURL   string `arg:"--tile-url,env:DEMTILES_TILE_URL" default:"./tiles/{z}/{x}/{y}.png" help:"URL template of RGB-encoded elevation tiles, either http(s) or a path"`
	TileDir   string `arg:"--tile-dir,env:DEMTILES_TILE_DIR" default:"." help:"directory that tile paths are relative to"`
	MBTiles   string `arg:"--mbtiles,env:DEMTILES_MBTILES" help:"read RGB-encoded tiles from an MBTiles file"`
	EUDEMPath string `arg:"--eu-dem-path,env:EU_DEM_PATH" help:"render tiles from the EU-DEM GeoTIFFs in this directory"`
	MaxZoom   uint32 `arg:"--max-zoom,env:DEMTILES_MAX_ZOOM" default:"15" help:"highest zoom level of the source"`
}

// NewSource returns the selected tile source and a closer for it.
func (a *SourceArgs) NewSource() (demtiles.TileSource, io.Closer, error) {
	maxZoom := maptile.Zoom(a.MaxZoom)
	switch {
	case a.MBTiles != "" && a.EUDEMPath != "":
		return nil, nil, errors.New("--mbtiles and --eu-dem-path are mutually exclusive")
	case a.MBTiles != "":
		source, err := demtiles.NewMBTilesSource(a.MBTiles, maxZoom)
		if err != nil {
			return nil, nil, err
		}
		return source, source, nil
	case a.EUDEMPath != "":
		service, err := demtiles.NewEUDEMElevationService(os.DirFS(a.EUDEMPath))
		if err != nil {
			return nil, nil, err
		}
		return demtiles.NewDEMSource(service, maxZoom), service, nil
	}

	options := []demtiles.XYZSourceOption{
		demtiles.WithMaxZoom(maxZoom),
	}
	if !strings.HasPrefix(a.TileURL, "http://") && !strings.HasPrefix(a.TileURL, "https://") {
		options = append(options, demtiles.WithTileFS(os.DirFS(a.TileDir)))
	}
	source, err := demtiles.NewXYZSource(a.TileURL, options...)
	if err != nil {
		return nil, nil, err
	}
	return source, nopCloser{}, nil
}

// Run calls run and returns the process exit code, printing any error to w.
func Run(w io.Writer, run func() error) int {
	if err := run(); err != nil {
		fmt.Fprintln(w, err)
		return 1
	}
	return 0
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RenderArgs configure a layer.
type RenderArgs struct {
	Operation   string   `arg:"--operation,env:DEMTILES_OPERATION" default:"grayscale" help:"grayscale or a color ramp: terrain, viridis, magma"`
	Alpha       uint8    `arg:"--alpha" default:"200" help:"opacity of pixels with data"`
	MaxPasses   int      `arg:"--max-passes" default:"3" help:"maximum operation passes per render"`
	DisplayMin  *float64 `arg:"--display-min" help:"display range minimum, fixes the display range if --display-max is also set"`
	DisplayMax  *float64 `arg:"--display-max" help:"display range maximum, fixes the display range if --display-min is also set"`
	Concurrency int      `arg:"--concurrency" help:"goroutines per render, defaults to GOMAXPROCS"`
}

// NewLayer returns a layer over source configured by a. The layer is adaptive
// unless both ends of the display range are given.
func (a *RenderArgs) NewLayer(source demtiles.TileSource, logger zerolog.Logger) (*demtiles.Layer, error) {
	operation, err := demtiles.OperationByName(a.Operation, a.Alpha)
	if err != nil {
		return nil, err
	}
	options := []demtiles.LayerOption{
		demtiles.WithOperation(operation),
		demtiles.WithMaxPasses(a.MaxPasses),
		demtiles.WithLogger(logger),
	}
	if a.DisplayMin != nil || a.DisplayMax != nil {
		display := demtiles.InitialDisplayRange
		if a.DisplayMin != nil {
			display.Min = *a.DisplayMin
		}
		if a.DisplayMax != nil {
			display.Max = *a.DisplayMax
		}
		options = append(options,
			demtiles.WithDisplayRange(display),
			demtiles.WithAdaptive(a.DisplayMin == nil || a.DisplayMax == nil),
		)
	}
	if a.Concurrency > 0 {
		options = append(options, demtiles.WithConcurrency(a.Concurrency))
	}
	return demtiles.NewLayer(source, options...), nil
}

// LogArgs configure logging.
type LogArgs struct {
	LogLevel string `arg:"--log-level,env:DEMTILES_LOG_LEVEL" default:"info" help:"log level"`
	LogJSON  bool   `arg:"--log-json,env:DEMTILES_LOG_JSON" help:"log JSON instead of text"`
}

// NewLogger returns a logger writing to stderr.
func (a *LogArgs) NewLogger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(a.LogLevel)
	if err != nil {
		return zerolog.Nop(), err
	}
	var w io.Writer = os.Stderr
	if !a.LogJSON {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
