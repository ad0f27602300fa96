package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"docsync/internal/handlers"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Health    *handlers.HealthHandler
	Status    *handlers.StatusHandler
	Reconcile *handlers.ReconcileHandler
	Search    *handlers.SearchHandler
	Chunks    *handlers.ChunksHandler

	// AllowedOrigins for cross-origin requests; empty allows any origin.
	AllowedOrigins []string
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(deps.AllowedOrigins)))

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", deps.Health)
		r.Method(http.MethodGet, "/status", deps.Status)
		r.Method(http.MethodPost, "/reconcile", deps.Reconcile)
		r.Method(http.MethodGet, "/search", deps.Search)
		r.Method(http.MethodGet, "/chunks", deps.Chunks)
	})

	return r
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         3600,
	}
}
