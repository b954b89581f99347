package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/twpayne/go-demtiles"
	"github.com/twpayne/go-demtiles/internal/cmdargs"
)

type args struct {
	cmdargs.SourceArgs
	cmdargs.RenderArgs
	cmdargs.LogArgs
	Output        string `arg:"-o,--output" help:"output directory or .mbtiles file, omit for a dry run"`
	MBTilesOutput bool   `arg:"--mbtiles-output" help:"write an MBTiles file (selected automatically for .mbtiles outputs)"`
	Bounds        string `arg:"-b,--bounds,required" help:"lon/lat bounds to export: west,south,east,north"`
	Zoom          string `arg:"-z,--zoom,required" help:"comma separated zoom levels, or a range like 8-12"`
	Workers       int    `arg:"-w,--workers" help:"number of workers"`
	Name          string `arg:"--name" default:"elevation" help:"tile set name written to MBTiles metadata"`
}

func (args) Description() string {
	return "render elevation tiles to a directory or an MBTiles file"
}

func run() error {
	args := args{
		Workers: runtime.NumCPU(),
	}
	arg.MustParse(&args)
	if strings.HasSuffix(args.Output, ".mbtiles") {
		args.MBTilesOutput = true
	}

	logger, err := args.NewLogger()
	if err != nil {
		return err
	}
	bound, err := parseBound(args.Bounds)
	if err != nil {
		return err
	}
	zooms, err := parseZooms(args.Zoom)
	if err != nil {
		return err
	}

	source, closer, err := args.NewSource()
	if err != nil {
		return err
	}
	defer closer.Close()

	layer, err := args.NewLayer(source, logger)
	if err != nil {
		return err
	}

	var writer demtiles.TileWriter
	switch {
	case args.Output == "":
		writer = &demtiles.DummyWriter{Logger: logger}
	case args.MBTilesOutput:
		writer, err = demtiles.NewMBTilesWriter(args.Output, demtiles.MBTilesMetadata(args.Name, bound, zooms), logger)
		if err != nil {
			return err
		}
	default:
		writer = &demtiles.FileWriter{Path: args.Output}
	}

	tiles := demtiles.TilesInBound(bound, zooms)
	logger.Info().Int("tiles", len(tiles)).Int("workers", args.Workers).Msg("exporting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	exporter := &demtiles.Exporter{
		Layer:            layer,
		Writer:           writer,
		Workers:          args.Workers,
		Logger:           logger,
		ProgressInterval: 15 * time.Second,
	}
	if err := exporter.Export(ctx, tiles); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	display := layer.DisplayRange()
	logger.Info().Float64("min", display.Min).Float64("max", display.Max).Msg("done")
	return nil
}

func parseBound(s string) (orb.Bound, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return orb.Bound{}, fmt.Errorf("%s: expected west,south,east,north", s)
	}
	values := make([]float64, 0, 4)
	for _, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return orb.Bound{}, err
		}
		values = append(values, value)
	}
	return orb.Bound{
		Min: orb.Point{values[0], values[1]},
		Max: orb.Point{values[2], values[3]},
	}, nil
}

func parseZooms(s string) ([]maptile.Zoom, error) {
	var zooms []maptile.Zoom
	for _, field := range strings.Split(s, ",") {
		first, last, isRange := strings.Cut(field, "-")
		minZoom, err := strconv.ParseUint(first, 10, 5)
		if err != nil {
			return nil, err
		}
		maxZoom := minZoom
		if isRange {
			if maxZoom, err = strconv.ParseUint(last, 10, 5); err != nil {
				return nil, err
			}
		}
		for zoom := minZoom; zoom <= maxZoom; zoom++ {
			zooms = append(zooms, maptile.Zoom(zoom))
		}
	}
	if len(zooms) == 0 {
		return nil, fmt.Errorf("%s: no zoom levels", s)
	}
	slices.Sort(zooms)
	return slices.Compact(zooms), nil
}

func main() {
	os.Exit(cmdargs.Run(os.Stderr, run))
}
