package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/api/handler"
	apimw "github.com/vowsuite/notify/internal/api/middleware"
	"github.com/vowsuite/notify/internal/prefs"
	"github.com/vowsuite/notify/internal/queue"
	"github.com/vowsuite/notify/internal/service"
	"github.com/vowsuite/notify/internal/ws"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.NotificationService,
	lanes *queue.Lanes,
	prefCache *prefs.Cache,
	wsHandler *ws.Handler,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))

	nh := handler.NewNotificationHandler(svc, logger)
	ph := handler.NewPreferenceHandler(svc, logger)
	ah := handler.NewAdminHandler(svc, logger)
	mh := handler.NewMetricsHandler(lanes, prefCache)
	hh := handler.NewHealthHandler()

	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Realtime socket handshake
	r.Handle("/ws", wsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// /bulk must be registered before /{id} so chi does not treat the
		// literal string "bulk" as an ID.
		r.Post("/notifications/bulk", nh.SendBulk)
		r.Post("/notifications", nh.Send)
		r.Get("/notifications", nh.List)
		r.Get("/notifications/{id}", nh.GetByID)
		r.Delete("/notifications/{id}", nh.Cancel)
		r.Get("/notifications/{id}/deliveries", nh.Deliveries)

		r.Get("/users/{id}/preferences", ph.Get)
		r.Put("/users/{id}/preferences", ph.Update)

		r.Post("/rules/reload", ah.ReloadRules)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
