// The server binary exposes the filing API. Gateway dispatch and
// acknowledgment polling run in the worker binary; with no Redis configured
// this process runs them in-line.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"taxdesk/internal/app"
	erihandler "taxdesk/internal/eri/handler"
	filinghandler "taxdesk/internal/filing/handler"
	"taxdesk/internal/filing/lifecycle"
	"taxdesk/internal/platform/config"
	"taxdesk/internal/platform/httpserver"
	"taxdesk/internal/platform/logger"
	httptransport "taxdesk/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	filings := filinghandler.New(a.Filings, a.Orchestrator, a.Projector, a.Trail, a.JWTValidator, log)
	callbacks := erihandler.New(a.Orchestrator, cfg.ERI.APIKey, log)

	checks := map[string]httptransport.HealthChecker{}
	if a.Redis != nil {
		checks["redis"] = a.Redis
	}
	if a.DB != nil {
		checks["postgres"] = dbChecker{a}
	}

	router := httptransport.NewRouter(
		[]httptransport.Registrar{filings, callbacks},
		checks,
	)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting taxdesk api",
			"addr", cfg.Addr,
			"lifecycle_table", lifecycle.TableVersion(),
			"eri_mode", cfg.ERI.Mode,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type dbChecker struct{ a *app.App }

func (c dbChecker) Health(ctx context.Context) error {
	return c.a.DB.PingContext(ctx)
}
