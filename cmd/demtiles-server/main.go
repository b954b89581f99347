package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/twpayne/go-demtiles"
	"github.com/twpayne/go-demtiles/internal/cmdargs"
)

type args struct {
	cmdargs.SourceArgs
	cmdargs.RenderArgs
	cmdargs.LogArgs
	Addr           string   `arg:"--addr,env:DEMTILES_ADDR" default:":8080" help:"address to listen on"`
	BaseURL        string   `arg:"--base-url,env:DEMTILES_BASE_URL" help:"public URL prefix used in tilejson.json"`
	AllowedOrigins []string `arg:"--allowed-origin,separate" help:"origins allowed by CORS, defaults to any"`
}

func (args) Description() string {
	return "serve elevation tiles rescaled to the visible display range"
}

func run() error {
	var args args
	arg.MustParse(&args)

	logger, err := args.NewLogger()
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

	serverOptions := []demtiles.ServerOption{
		demtiles.WithBaseURL(args.BaseURL),
		demtiles.WithServerLogger(logger),
	}
	if len(args.AllowedOrigins) > 0 {
		serverOptions = append(serverOptions, demtiles.WithAllowedOrigins(args.AllowedOrigins...))
	}
	server := &http.Server{
		Addr:              args.Addr,
		Handler:           demtiles.NewServer(layer, serverOptions...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", args.Addr).Msg("listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	os.Exit(cmdargs.Run(os.Stderr, run))
}
