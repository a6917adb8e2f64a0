// Package main is the entry point for the buildstate controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"buildstate/internal/config"
	"buildstate/internal/controller"
	"buildstate/internal/logger"
	"buildstate/internal/observability"
	"buildstate/internal/store"
	"buildstate/internal/store/memory"
	"buildstate/internal/store/postgres"
	"buildstate/internal/tracker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const serviceName = "buildstate-controller"

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: buildstate.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewWith(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := run(cfg, log, *migrateFlag); err != nil {
		log.Error("controller exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, migrate bool) error {
	ctx := context.Background()

	st, err := openStore(ctx, cfg, log, migrate)
	if err != nil {
		return err
	}
	defer st.Close()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics(serviceName)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	// Builds per status, queried only when scraped.
	meter := otel.Meter(serviceName)
	_, err = meter.Int64ObservableGauge("buildstate.builds",
		metric.WithDescription("Current number of builds by status"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			counts, err := st.CountBuildsByStatus(ctx)
			if err != nil {
				log.Warn("failed to count builds", "error", err)
				return nil // Don't fail the scrape on a DB error
			}
			for status, n := range counts {
				obs.Observe(n, metric.WithAttributes(attribute.String("status", string(status))))
			}
			return nil
		}),
	)
	if err != nil {
		log.Warn("failed to register builds gauge", "error", err)
	}

	svc := tracker.New(st, tracker.Options{
		TerminalCheckpoint: cfg.TerminalCheckpoint,
		MaxRetries:         cfg.TransitionRetries,
		Logger:             log,
	})

	if cfg.AdminSecret == "" {
		log.Warn("admin secret not set, POST /principals is disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, st, svc, controller.Options{
		AdminSecret: cfg.AdminSecret,
		Metrics:     metricsHandler,
		Logger:      log,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info("controller starting", "addr", addr)
		serverErr <- srv.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server stopped: %w", err)
	case <-quit:
	}

	log.Info("shutting down controller")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited properly")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger, migrate bool) (store.Store, error) {
	if strings.HasPrefix(cfg.DatabaseURL, "memory://") {
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	if migrate {
		log.Info("running database migrations")
		if err := postgres.Migrate(pg.DB()); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		log.Info("migrations completed")
	}
	return pg, nil
}
