package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"walletflow/internal/metrics"
	"walletflow/internal/middleware"
	"walletflow/internal/routes"
)

func (s *Server) RegisterRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)
	r.Method("GET", "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(s.identity, s.logger))

		r.Post("/auth/login", s.login)
		r.Post("/auth/register", s.register)
		r.Get("/session", s.getSession)
		r.Get("/capabilities", s.listCapabilities)
		r.Get("/capabilities/{key}", s.checkCapability)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Handler)

			r.Route("/money-requests", func(r chi.Router) {
				r.With(s.require(routes.RequestMoney)).Post("/", s.createMoneyRequest)

				r.Group(func(r chi.Router) {
					r.Use(s.require(routes.MoneyRequests))
					r.Get("/", s.listMoneyRequests)
					r.Get("/{id}", s.getMoneyRequest)
					r.Post("/{id}/approve", s.approveMoneyRequest)
					r.Post("/{id}/reject", s.rejectMoneyRequest)
					r.Post("/{id}/cancel", s.cancelMoneyRequest)
				})
			})

			r.Route("/payments", func(r chi.Router) {
				r.Post("/", s.initiatePayment)

				r.Group(func(r chi.Router) {
					r.Use(s.require(routes.Payments))
					r.Get("/{id}", s.getPayment)
					r.Post("/{id}/verify", s.verifyPayment)
					r.Post("/{id}/cancel", s.cancelPayment)
				})
			})
		})
	})

	return r
}
