package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts the handlers with the service middleware stack.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", h.CreateCrawl)
			r.Post("/batch", h.CreateCrawlBatch)
			r.Get("/", h.ListCrawls)
			r.Get("/{jobID}", h.GetCrawl)
			r.Get("/{jobID}/products", h.GetCrawlProducts)
		})

		r.Get("/profiles", h.ListProfiles)
		r.Get("/history", h.ListHistory)
		r.Get("/stats", h.GetStats)

		if h.runs != nil {
			r.Get("/runs", h.ListRuns)
			r.Get("/runs/{runID}/products", h.GetRunProducts)
		}
	})

	return r
}
