// Command lct-keeper hosts the LCT identity and trust core: it restores
// identities, key chains and witness reputation, runs key maintenance on a
// schedule and serves Prometheus metrics until signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/infrastructure/monitoring"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lct-keeper: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("LCT_CONFIG_FILE")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := monitoring.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	log = log.WithFields(logger.String("service", constants.ServiceName))

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "Failed to initialize", err)
		return err
	}
	defer a.close()

	if err := a.restore(ctx); err != nil {
		log.Error(ctx, "Failed to restore state", err)
		return err
	}

	loader := config.NewLoader(cfgPath, log)
	if _, err := loader.Load(); err == nil {
		loader.Watch(a.reload)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.maintenance.Run(gctx)
		return nil
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			return a.serveMetrics(gctx)
		})
	}

	log.Info(ctx, "lct-keeper started",
		logger.String("key_provider", a.provider.Name()),
		logger.Int("identities", len(a.identities.List())),
	)
	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.persist(shutdownCtx)
	log.Info(shutdownCtx, "lct-keeper stopped")
	return err
}
