package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/modqueue-notifier/internal/api/handler"
	apimw "github.com/notifyhub/modqueue-notifier/internal/api/middleware"
	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

// Pipeline is what the HTTP surface needs from the notification pipeline.
type Pipeline interface {
	handler.Pipeline
	handler.DepthReader
}

// Deps groups everything the router wires into handlers.
type Deps struct {
	Pipeline Pipeline
	Settings func() domain.Settings
	Backend  string
	Store    handler.Pinger
	Gatherer prometheus.Gatherer
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(4 << 20)) // 4 MB max body; a full queue scan can be large
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	th := handler.NewTriggerHandler(d.Pipeline, d.Settings, logger)
	bh := handler.NewBufferHandler(d.Pipeline, logger)
	hh := handler.NewHealthHandler(d.Backend, d.Store)

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)

	// Raw Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/items", th.Item)
		r.Post("/scan", th.Scan)
		r.Post("/flush", th.Flush)
		r.Post("/queue-size", th.QueueSize)

		r.Get("/buffer", bh.GetBuffer)
	})

	return r
}
