package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Owner-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/lists", func(r chi.Router) {
			r.Post("/", h.CreateList)
			r.Get("/", h.GetLists)
			r.Route("/{listID}", func(r chi.Router) {
				r.Get("/", h.GetList)
				r.Delete("/", h.DeleteList)
				r.Post("/subscribers", h.Subscribe)
				r.Get("/subscribers", h.GetSubscribers)
				r.Post("/messages", h.CreateMessage)
				r.Get("/messages", h.GetMessages)
			})
		})

		r.Route("/subscribers/{subscriberID}", func(r chi.Router) {
			r.Post("/confirm", h.ConfirmSubscriber)
			r.Delete("/", h.Unsubscribe)
		})

		r.Route("/messages/{messageID}", func(r chi.Router) {
			r.Get("/", h.GetMessage)
			r.Get("/deliveries", h.GetDeliveries)
		})
	})

	return r
}
