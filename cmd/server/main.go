package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gatekeeper/internal/platform/config"
	"gatekeeper/internal/platform/health"
	"gatekeeper/internal/platform/logger"
)

const poolStatsInterval = 15 * time.Second

// main wires dependencies, serves the relay and shuts down on SIGINT/SIGTERM.
// Business logic lives in internal packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("initializing gatekeeper relay",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"version", health.Version,
	)

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if app.redis != nil {
		g.Go(func() error {
			return app.redis.ReportPoolStats(gctx, poolStatsInterval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		app.close(shutdownCtx)
		if err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}
