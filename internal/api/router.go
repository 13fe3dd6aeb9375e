package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harborgrid-justin/black-cross-sub000/internal/api/handlers"
	apimiddleware "github.com/harborgrid-justin/black-cross-sub000/internal/api/middleware"
	"github.com/harborgrid-justin/black-cross-sub000/internal/config"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	logger   *logger.Logger
}

// NewRouter creates a new Router instance
func NewRouter(cfg config.Config, h *handlers.Handlers, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Long-lived event stream, no request timeout
	router.Get("/api/v1/correlation/events/ws", r.handlers.Events.Stream)

	router.Group(func(rt chi.Router) {
		rt.Use(middleware.Timeout(r.requestTimeout()))

		rt.Get("/health", r.handlers.Health.Check)
		rt.Get("/ready", r.handlers.Health.Ready)
		rt.Handle("/metrics", promhttp.Handler())

		rt.Route("/api/v1/correlation", func(api chi.Router) {
			api.Route("/records/{id}", func(rec chi.Router) {
				rec.Post("/sweep", r.handlers.Correlation.EnqueueSweep)
				rec.Get("/edges", r.handlers.Correlation.ListEdges)
				rec.Get("/duplicate-group", r.handlers.Correlation.GetDuplicateGroup)
				rec.Get("/related", r.handlers.Correlation.ListRelated)
			})

			api.Patch("/edges/{id}", r.handlers.Correlation.ReviewEdge)

			api.Route("/jobs/{id}", func(jobs chi.Router) {
				jobs.Get("/", r.handlers.Correlation.GetJob)
				jobs.Delete("/", r.handlers.Correlation.CancelJob)
			})

			api.Get("/stats", r.handlers.Correlation.GetStats)
			api.Get("/events/stats", r.handlers.Events.Stats)
		})
	})

	return router
}

func (r *Router) requestTimeout() time.Duration {
	if r.config.Server.RequestTimeout > 0 {
		return r.config.Server.RequestTimeout
	}
	return 60 * time.Second
}
