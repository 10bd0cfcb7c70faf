package api

import (
	"net/http"

	"stockhero/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures a Chi router with all routes
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Pipeline.RunTimeout()))
	r.Use(CORSMiddleware(cfg.HTTP.CORSAllowedOrigins))
	r.Use(Instrument(h.app.Logger()))

	// Metrics endpoint for Prometheus
	r.Handle(metricsRoute, promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)

		// Pipeline
		r.Get("/update-stock", h.HandleUpdateStock)
		r.Get("/runs", h.HandleGetRuns)

		// Watch list
		r.Put("/stocks/{id}/follow", h.HandleFollow)
		r.Delete("/stocks/{id}/follow", h.HandleUnfollow)
	})

	return r
}
