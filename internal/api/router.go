// Package api assembles the HTTP surface of the recommendation service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/commerce-rag/internal/api/handlers"
	"github.com/spherical-ai/commerce-rag/internal/api/middleware"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

// Services are the collaborators the router dispatches to.
type Services struct {
	Recommender handlers.Recommender
	Profiles    handlers.ProfileService
	// Ready reports backend reachability for /ready. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Config holds router settings.
type Config struct {
	ServiceName    string
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// DefaultConfig returns default router settings.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "commerce-rag",
		RequestTimeout: 45 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, svc Services, cfg Config) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	def := DefaultConfig()
	if cfg.ServiceName == "" {
		cfg.ServiceName = def.ServiceName
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = def.AllowedOrigins
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "healthy", "service": cfg.ServiceName})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready != nil {
			if err := svc.Ready(r.Context()); err != nil {
				logger.Warn().Err(err).Msg("Readiness check failed")
				writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "detail": err.Error()})
				return
			}
		}
		writeStatus(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	recommendations := handlers.NewRecommendationHandler(logger, svc.Recommender)
	profiles := handlers.NewProfileHandler(logger, svc.Profiles)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/recommendations", recommendations.Recommend)

		r.Route("/users/{userId}", func(r chi.Router) {
			r.Post("/interactions", profiles.RecordInteraction)
			r.Get("/profile", profiles.GetProfile)
		})
	})

	return r
}

func writeStatus(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
