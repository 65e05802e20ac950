package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/systemshift/dmx/internal/config"
	"github.com/systemshift/dmx/internal/logger"
	"github.com/systemshift/dmx/internal/prompt"
	"github.com/systemshift/dmx/internal/server/api"
	"github.com/systemshift/dmx/internal/server/engine"
	"github.com/systemshift/dmx/internal/server/graph"
	"github.com/systemshift/dmx/internal/server/subscriptions"
)

func main() {
	configPath := flag.String("config", os.Getenv("DMX_CONFIG"), "path to the TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "dmx-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := prompt.Neo4jPassword(cfg); err != nil {
		return err
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer lg.Close()
	log := lg.Logger

	ctx := context.Background()
	store, err := graph.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close(ctx)
	log.Info().Str("backend", store.Backend()).Msg("store opened")

	e := engine.New(store, log)
	clean, err := e.Setup(ctx)
	if err != nil {
		return fmt.Errorf("setting up store: %w", err)
	}
	log.Info().Bool("clean_install", clean).Msg("store ready")

	var subMgr *subscriptions.Manager
	if !cfg.Subscriptions.Disabled {
		subMgr = subscriptions.NewManager(cfg.Subscriptions.QueueSize, log)
		subMgr.Start()
		defer subMgr.Stop()
		e.SetEmitter(subMgr.GetEmitter())
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.New(e, subMgr, log).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting dmx server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server exited")
	return nil
}
