package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/promorank/internal/api"
	"github.com/onnwee/promorank/internal/audit"
	"github.com/onnwee/promorank/internal/auth"
	"github.com/onnwee/promorank/internal/config"
	"github.com/onnwee/promorank/internal/db"
	"github.com/onnwee/promorank/internal/engagement"
	"github.com/onnwee/promorank/internal/health"
	"github.com/onnwee/promorank/internal/idempotency"
	"github.com/onnwee/promorank/internal/jobs"
	"github.com/onnwee/promorank/internal/middleware"
	"github.com/onnwee/promorank/internal/placement"
	"github.com/onnwee/promorank/internal/promotion"
	"github.com/onnwee/promorank/internal/ranking"
)

const serviceName = "promorank"

// app holds the wired components of the API server.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	db          *sql.DB
	redis       *redis.Client
	placements  placement.Store
	engagement  engagement.Source
	idempotency idempotency.Repository
	audit       audit.Repository
	rateStore   middleware.RateLimitStore

	registry    *prometheus.Registry
	jobMetrics  *jobs.Metrics
	placeMetric *placement.Metrics
	httpMetrics *middleware.Metrics

	sweep   *placement.SweepJob
	handler http.Handler
}

// newApp connects the configured stores and assembles the HTTP handler.
// Empty DATABASE_URL and REDIS_URL select in-memory implementations.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, clk clock.Clock) (*app, error) {
	if clk == nil {
		clk = clock.New()
	}
	a := &app{cfg: cfg, logger: logger, clock: clk}

	if err := a.connectStores(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.registerMetrics(); err != nil {
		a.close()
		return nil, err
	}

	weights, err := ranking.LoadCalibration(cfg.RankingCalibrationFile)
	if err != nil {
		logger.Warn("ranking calibration not applied", "path", cfg.RankingCalibrationFile, "error", err)
	}
	rankingMetrics := ranking.NewMetrics()
	if err := rankingMetrics.Register(a.registry); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register ranking metrics: %w", err)
	}

	aggregator := ranking.NewAggregator(a.engagement, a.placements, ranking.AggregatorConfig{
		Weights: weights,
		Logger:  logger,
		Metrics: rankingMetrics,
	})
	manager := placement.NewManager(a.placements, placement.ManagerConfig{
		Clock:   clk,
		Logger:  logger,
		Metrics: a.placeMetric,
	})
	service := promotion.NewService(manager, promotion.ServiceConfig{
		Logger: logger,
		Audit:  audit.NewRecorder(a.audit, logger),
	})

	a.sweep = placement.NewSweepJob(placement.SweepJobConfig{
		Interval:   cfg.SweepInterval,
		Clock:      clk,
		Logger:     logger,
		Metrics:    a.placeMetric,
		JobMetrics: a.jobMetrics,
	}, a.placements)

	a.handler = a.buildHandler(aggregator, service)
	return a, nil
}

func (a *app) connectStores(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.db = conn
		if a.cfg.MigrateOnStart {
			if err := db.RunMigrations(conn); err != nil {
				return err
			}
			a.logger.Info("database migrations applied")
		}
		a.placements = placement.NewPostgresStore(conn, a.logger)
		a.engagement = engagement.NewPostgresSource(conn, a.logger)
		a.idempotency = idempotency.NewPostgresRepository(conn)
		a.audit = audit.NewPostgresRepository(conn, a.logger)
	} else {
		a.logger.Warn("DATABASE_URL not set, using in-memory stores")
		a.placements = placement.NewInMemoryStore()
		a.engagement = engagement.NewInMemorySource()
		a.idempotency = idempotency.NewInMemoryRepository(a.clock)
		a.audit = audit.NewInMemoryRepository(a.clock)
	}

	if a.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		a.rateStore = middleware.NewRedisRateLimitStore(a.redis).WithLogger(a.logger)
	} else {
		a.rateStore = middleware.NewInMemoryRateLimitStoreWithClock(a.clock)
	}
	return nil
}

func (a *app) registerMetrics() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.placeMetric = placement.NewMetrics()
	a.jobMetrics = jobs.NewMetrics()
	a.httpMetrics = middleware.NewMetrics()
	for name, register := range map[string]func(prometheus.Registerer) error{
		"placement": a.placeMetric.Register,
		"jobs":      a.jobMetrics.Register,
		"http":      a.httpMetrics.Register,
	} {
		if err := register(a.registry); err != nil {
			return fmt.Errorf("failed to register %s metrics: %w", name, err)
		}
	}
	if rs, ok := a.rateStore.(*middleware.RedisRateLimitStore); ok {
		rs.WithMetrics(a.httpMetrics)
	}
	return nil
}

// buildHandler mounts the routes and wraps them, outermost first, in
// RequestID, Logging, Tracing, HTTPMetrics and CORS. Reads are rate limited
// per IP. Writes require an operator token, are rate limited per operator
// and replay Idempotency-Key duplicates.
func (a *app) buildHandler(aggregator *ranking.Aggregator, service *promotion.Service) http.Handler {
	var validator middleware.OperatorTokenValidator
	if a.cfg.AuthEnabled() {
		validator = auth.NewJWTService(a.cfg.JWTSecret, a.cfg.JWTPreviousSecret)
	} else {
		a.logger.Warn("JWT_SECRET not set, operator routes are unauthenticated")
	}

	readLimit := middleware.RateLimitConfig{RequestsPerWindow: a.cfg.ReadRateLimitRPM, WindowDuration: time.Minute}
	writeLimit := middleware.RateLimitConfig{RequestsPerWindow: a.cfg.RateLimitRPM, WindowDuration: time.Minute}

	read := func(h http.Handler) http.Handler {
		return middleware.RateLimiter(a.rateStore, readLimit, middleware.IPKeyFunc(), a.httpMetrics)(h)
	}
	idem := middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
		Repository: a.idempotency,
		Routes:     middleware.IdempotentRoutes("/scopes/{scope}/manual", "/scopes/{scope}/boosts"),
		Required:   a.cfg.IdempotencyRequired,
		Metrics:    a.httpMetrics,
		Logger:     a.logger,
	})
	write := func(h http.Handler) http.Handler {
		return middleware.RequireOperator(validator)(
			middleware.RateLimiter(a.rateStore, writeLimit, middleware.OperatorKeyFunc(), a.httpMetrics)(
				idem(h)))
	}

	checkers := map[string]health.Checker{"database": nil, "redis": nil}
	if a.db != nil {
		checkers["database"] = health.NewDBChecker(a.db)
	}
	if a.redis != nil {
		checkers["redis"] = health.NewRedisChecker(a.redis)
	}

	mux := api.NewMux(api.Routes{
		Ranking:   api.NewRankingHandlers(aggregator, a.clock),
		Promotion: api.NewPromotionHandlers(service, a.clock),
		Audit:     api.NewAuditHandlers(a.audit),
		Health:    api.NewHealthHandlers(api.HealthHandlersConfig{Checkers: checkers}),
		Metrics:   promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
		Read:      read,
		Write:     write,
	})

	var h http.Handler = mux
	h = middleware.CORS(middleware.CORSConfig{AllowedOrigins: a.cfg.CORSOrigins, MaxAge: 600})(h)
	h = middleware.HTTPMetrics(a.httpMetrics)(h)
	if a.cfg.TracingEnabled {
		h = middleware.Tracing(serviceName)(h)
	}
	h = middleware.Logging(a.logger)(h)
	return middleware.RequestID(h)
}

// runBackground starts the sweep and cleanup jobs. They stop when ctx ends.
func (a *app) runBackground(ctx context.Context) error {
	if a.cfg.SweepEnabled {
		if err := a.sweep.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sweep job: %w", err)
		}
	}

	go idempotency.RunPeriodicCleanup(ctx, a.idempotency, idempotency.CleanupConfig{
		Expiry:     a.cfg.IdempotencyExpiry,
		Clock:      a.clock,
		Logger:     a.logger,
		JobMetrics: a.jobMetrics,
	})

	if mem, ok := a.rateStore.(*middleware.InMemoryRateLimitStore); ok {
		go func() {
			ticker := a.clock.Ticker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					mem.Cleanup()
				}
			}
		}()
	}
	return nil
}

// close stops jobs and releases connections. It is safe to call on a
// partially built app.
func (a *app) close() error {
	if a.sweep != nil {
		a.sweep.Stop()
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
