// Package app builds the dependency graph shared by the API server and the
// background worker. Both binaries see the same wiring, so a store or client
// swap happens in exactly one place.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"taxdesk/internal/audit"
	"taxdesk/internal/eri"
	erimetrics "taxdesk/internal/eri/metrics"
	"taxdesk/internal/eri/orchestrator"
	"taxdesk/internal/eri/queue"
	"taxdesk/internal/filing/lifecycle"
	filingmetrics "taxdesk/internal/filing/metrics"
	"taxdesk/internal/filing/projection"
	"taxdesk/internal/filing/service"
	"taxdesk/internal/filing/store"
	"taxdesk/internal/idempotency"
	"taxdesk/internal/jwtauth"
	"taxdesk/internal/platform/config"
	"taxdesk/internal/platform/postgres"
	platformredis "taxdesk/internal/platform/redis"
	"taxdesk/pkg/platform/circuit"
)

// App holds the wired dependencies of one process.
type App struct {
	Config config.Config
	Logger *slog.Logger

	DB    *sql.DB
	Redis *platformredis.Client
	Asynq *asynq.Client

	FilingStore store.Store
	Trail       *audit.Trail
	Machine     *lifecycle.Machine
	Guard       idempotency.Guard
	Gateway     eri.Client

	Orchestrator *orchestrator.Orchestrator
	Filings      *service.Service
	Projector    *projection.Projector

	JWT          *jwtauth.Service
	JWTValidator *jwtauth.Validator

	FilingMetrics *filingmetrics.Metrics
	ERIMetrics    *erimetrics.Metrics
}

// Build wires the process dependencies from configuration. Postgres, Redis
// and the live gateway are all optional; absent ones fall back to in-memory
// or stub implementations so development needs no infrastructure.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := lifecycle.ValidateTable(); err != nil {
		return nil, fmt.Errorf("lifecycle table: %w", err)
	}

	a := &App{
		Config:        cfg,
		Logger:        logger,
		FilingMetrics: filingmetrics.New(),
		ERIMetrics:    erimetrics.New(),
	}

	var auditStore audit.Store
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		a.DB = db
		a.FilingStore = store.NewPostgresStore(db)
		auditStore = audit.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		a.FilingStore = store.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
	}
	a.Trail = audit.NewTrail(auditStore)

	rdb, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb
	if rdb != nil {
		a.Guard = idempotency.NewRedisGuard(rdb.Client)
	} else {
		logger.Warn("REDIS_URL not set, using in-memory idempotency guard")
		a.Guard = idempotency.NewInMemoryGuard()
	}

	a.Machine = lifecycle.New(a.FilingStore, a.Trail, a.FilingMetrics, logger)

	switch cfg.ERI.Mode {
	case config.ERIModeSandbox, config.ERIModeLive:
		httpGateway := eri.NewHTTPClient(cfg.ERI.BaseURL(), cfg.ERI.APIKey, cfg.ERI.Timeout)
		breaker := circuit.New("eri-gateway", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2))
		a.Gateway = eri.NewBreakerClient(httpGateway, breaker, logger)
	default:
		logger.Warn("using stub gateway client", "mode", cfg.ERI.Mode)
		a.Gateway = eri.NewStubClient()
	}

	var enqueuer orchestrator.Enqueuer
	var inline *orchestrator.InlineEnqueuer
	if rdb != nil {
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis URI for asynq: %w", err)
		}
		a.Asynq = asynq.NewClient(opt)
		enqueuer = queue.NewClient(a.Asynq)
	} else {
		inline = orchestrator.NewInlineEnqueuer()
		enqueuer = inline
	}

	a.Orchestrator = orchestrator.New(
		a.FilingStore,
		a.Machine,
		a.Trail,
		a.Guard,
		a.Gateway,
		enqueuer,
		a.ERIMetrics,
		orchestrator.Config{
			MaxAttempts: cfg.Submission.MaxAttempts,
			BaseBackoff: cfg.Submission.BaseBackoff,
			AckWait:     cfg.Submission.AckWait,
		},
		logger,
	)
	if inline != nil {
		inline.Bind(a.Orchestrator)
	}

	a.Filings = service.New(a.FilingStore, a.Machine, a.Trail, service.DefaultChecker{}, a.FilingMetrics, logger)
	a.Projector = projection.New(a.FilingStore)

	a.JWT = jwtauth.NewService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	a.JWTValidator = jwtauth.NewValidator(a.JWT)

	return a, nil
}

// Close releases held connections.
func (a *App) Close() {
	if a.Asynq != nil {
		a.Asynq.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
