package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/seat-admission/internal/observability"
)

// SetupRouter wires the API. A nil limiter disables rate limiting.
func SetupRouter(h *Handlers, logger observability.Logger, rl Limiter, perMinute int) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Route("/v1/seats", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if rl != nil {
				r.Use(RateLimitMiddleware(rl, perMinute))
			}
			r.Post("/hold", h.HoldSeat)
			r.Post("/reserve", h.ReserveSeat)
			r.Post("/refresh", h.RefreshHold)
		})
		r.Get("/{id}", h.GetSeat)
		r.Get("/{id}/history", h.SeatHistory)
	})
	r.Get("/v1/jobs/{id}", h.GetJobStatus)
	r.Get("/v1/queue/stats", h.QueueStats)

	r.Post("/v1/events", h.CreateEvent)
	r.Get("/v1/events", h.ListEvents)
	r.Get("/v1/events/{id}", h.GetEvent)
	r.Get("/v1/events/{id}/seats", h.AvailableSeats)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
