package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alexflint/go-arg"

	"github.com/twpayne/go-demtiles"
	"github.com/twpayne/go-demtiles/internal/cmdargs"
)

type args struct {
	cmdargs.SourceArgs
	Latitude  float64 `arg:"positional,required" help:"latitude"`
	Longitude float64 `arg:"positional,required" help:"longitude"`
}

func run() error {
	var args args
	arg.MustParse(&args)

	source, closer, err := args.NewSource()
	if err != nil {
		return err
	}
	defer closer.Close()

	elevation, err := demtiles.ElevationAt(context.Background(), source, args.Longitude, args.Latitude)
	if err != nil {
		return err
	}
	if elevation == demtiles.NoDataElevation {
		fmt.Println("no data")
		return nil
	}
	fmt.Println(elevation)
	return nil
}

func main() {
	os.Exit(cmdargs.Run(os.Stderr, run))
}
