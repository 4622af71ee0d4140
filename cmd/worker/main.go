// The worker binary processes gateway submission tasks, sweeps stuck
// submissions, and relays audit events from the outbox to Kafka.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"taxdesk/internal/app"
	"taxdesk/internal/audit/relay"
	"taxdesk/internal/eri/queue"
	"taxdesk/internal/eri/worker"
	"taxdesk/internal/platform/config"
	"taxdesk/internal/platform/kafka"
	"taxdesk/internal/platform/logger"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RedisURL == "" {
		log.Error("worker requires REDIS_URL for the task queue")
		os.Exit(1)
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Error("parse redis URI", "error", err)
		os.Exit(1)
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			queue.QueueSubmissions: 5,
			"default":              1,
		},
	})
	processor := worker.NewProcessor(a.Orchestrator, log)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting submission worker", "queue", queue.QueueSubmissions)
		return srv.Run(processor.Handler())
	})
	g.Go(func() error {
		<-ctx.Done()
		srv.Shutdown()
		return nil
	})

	// Sweeper reconciles submissions whose tasks were lost.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Submission.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := a.Orchestrator.Sweep(ctx, worker.DispatchWindow); err != nil {
					log.Error("sweep failed", "error", err)
				}
			}
		}
	})

	// Audit relay drains the transactional outbox to Kafka. Needs both
	// Postgres and brokers; skipped otherwise.
	if a.DB != nil && len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			log.Error("kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		auditRelay := relay.New(a.DB, producer, log, 2*time.Second)
		g.Go(func() error {
			return auditRelay.Run(ctx)
		})
	} else {
		log.Warn("audit relay disabled", "postgres", a.DB != nil, "brokers", len(cfg.KafkaBrokers))
	}

	if err := g.Wait(); err != nil {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
}
