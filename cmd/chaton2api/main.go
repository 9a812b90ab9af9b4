package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-coders/chaton2api/internal/auth"
	"github.com/go-coders/chaton2api/internal/chat"
	"github.com/go-coders/chaton2api/internal/config"
	"github.com/go-coders/chaton2api/internal/imagegen"
	"github.com/go-coders/chaton2api/internal/server"
	"github.com/go-coders/chaton2api/internal/upstream"
	"github.com/go-coders/chaton2api/pkg/logger"
)

// Version will be set by GoReleaser
var Version = "dev"

func main() {
	if err := runMain(); err != nil {
		slog.Error("shutting down due to error", logger.Err(err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func runMain() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(logger.NewHandler(os.Stderr, level))
	slog.SetDefault(log)

	srv, err := setupServer(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sigCh:
			log.Info("shutting down due to signal", "signal", s.String())
			cancelFn()
		case <-ctx.Done():
		}
	}()

	log.Info("starting", "version", Version, "port", cfg.Port)
	return srv.Start(ctx)
}

func setupServer(cfg *config.Config, log *slog.Logger) (*server.Server, error) {
	signer, err := auth.NewSigner(cfg.KeyA, cfg.KeyB)
	if err != nil {
		return nil, err
	}

	client := upstream.New(cfg, signer, log)
	canon := chat.NewCanonicalizer(client, client, cfg.DefaultMaxTokens, log)
	translator := chat.NewTranslator(client, log)
	images := imagegen.New(client, cfg.MaxConcurrentGenerations, log)

	return server.New(cfg, client, canon, translator, images, log), nil
}
