// Package httptransport assembles the public router. Handlers register
// themselves; this package only owns the operational endpoints.
package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taxdesk/internal/transport/http/shared"
)

// HealthChecker reports readiness of one dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Registrar is implemented by handler packages that mount their own routes.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires all endpoints. Dependency health checks may be nil when the
// dependency is not configured.
func NewRouter(handlers []Registrar, checks map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()

	for _, h := range handlers {
		h.Register(r)
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Health(req.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
			} else {
				body[name] = "ok"
			}
		}
		shared.WriteJSON(w, status, body)
	})

	return r
}
