package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jwebster45206/boothill-gm/internal/logger"
)

// Routes holds the handlers mounted by NewRouter. Events and Metrics may be nil.
type Routes struct {
	Health     http.Handler
	Metrics    http.Handler
	Sessions   *SessionHandler
	Characters *CharacterHandler
	Events     *EventsHandler
}

// NewRouter builds the API router.
func NewRouter(routes Routes, log *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/health", routes.Health)
	if routes.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", routes.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/characters", routes.Characters.List)
		r.Get("/characters/{characterID}", routes.Characters.Get)

		r.Post("/sessions", routes.Sessions.Create)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", routes.Sessions.Get)
			r.Delete("/", routes.Sessions.Delete)
			r.Post("/narrative", routes.Sessions.Narrative)
			r.Get("/decision", routes.Sessions.PendingDecision)
			r.Post("/decisions", routes.Sessions.GenerateDecision)
			r.Post("/decisions/{decisionID}/select", routes.Sessions.Select)
			r.Post("/evolve", routes.Sessions.Evolve)
			r.Get("/context", routes.Sessions.Context)
			r.Get("/impacts", routes.Sessions.Impacts)
			r.Get("/impacts/reconciled", routes.Sessions.Reconciled)
			if routes.Events != nil {
				r.Get("/events", routes.Events.ServeHTTP)
			}
		})
	})

	return r
}

// requestLogger logs each request once it completes
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.WithRequestID(log, middleware.GetReqID(r.Context())).Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
