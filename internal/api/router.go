package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/deepdive-ai/deepdive/internal/api/handlers"
	"github.com/deepdive-ai/deepdive/internal/api/middleware"
	"github.com/deepdive-ai/deepdive/internal/config"
	"github.com/deepdive-ai/deepdive/internal/store"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, st store.Store) http.Handler {
	h := handlers.New(st, cfg.Pipeline.TurnDelay)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(st))
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/research", func(r chi.Router) {
			r.Get("/", h.ListResearch)
			r.Post("/", h.StartResearch)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetResearch)
				r.Get("/updates", h.GetResearchUpdates)
				r.Post("/cancel", h.CancelResearch)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.PutSettings)
		})

		r.Route("/provider", func(r chi.Router) {
			r.Get("/", h.GetProvider)
			r.Put("/", h.PutProvider)
			r.Get("/advisory", h.GetProviderAdvisory)
		})

		r.Post("/search", h.DirectSearch)
		r.Post("/generate", h.DirectGenerate)
	})

	return r
}

func healthHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := st.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": "deepdive-core",
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
		})
	}
}
