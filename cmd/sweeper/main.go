// Package main runs the placement expiry sweep on its own, for deployments
// that keep background work out of the API processes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/promorank/internal/config"
	"github.com/onnwee/promorank/internal/db"
	"github.com/onnwee/promorank/internal/idempotency"
	"github.com/onnwee/promorank/internal/jobs"
	"github.com/onnwee/promorank/internal/middleware"
	"github.com/onnwee/promorank/internal/placement"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", os.Getenv("PROMORANK_CONFIG"), "optional YAML config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	if *help {
		fmt.Println("promorank expiry sweeper")
		fmt.Println()
		fmt.Println("Usage: sweeper [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if cfg != nil && cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required: the sweeper has no in-memory mode"))
	}
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *once); err != nil {
		logger.Error("sweeper exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	if cfg.MigrateOnStart {
		if err := db.RunMigrations(conn); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	placementMetrics := placement.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	if err := placementMetrics.Register(registry); err != nil {
		return err
	}
	if err := jobMetrics.Register(registry); err != nil {
		return err
	}

	store := placement.NewPostgresStore(conn, logger)
	sweep := placement.NewSweepJob(placement.SweepJobConfig{
		Interval:   cfg.SweepInterval,
		Logger:     logger,
		Metrics:    placementMetrics,
		JobMetrics: jobMetrics,
	}, store)

	if once {
		n := sweep.SweepNow(ctx)
		logger.Info("single sweep finished", "expired_marked", n)
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	server := &http.Server{
		Addr:              net.JoinHostPort("", fmt.Sprint(cfg.Port)),
		Handler:           middleware.RequestID(middleware.Logging(logger)(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sweep.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		sweep.Stop()
		return nil
	})
	g.Go(func() error {
		repo := idempotency.NewPostgresRepository(conn)
		idempotency.RunPeriodicCleanup(gctx, repo, idempotency.CleanupConfig{
			Expiry:     cfg.IdempotencyExpiry,
			Logger:     logger,
			JobMetrics: jobMetrics,
		})
		return nil
	})
	g.Go(func() error {
		logger.Info("sweeper metrics listening", "addr", server.Addr, "interval", cfg.SweepInterval)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
