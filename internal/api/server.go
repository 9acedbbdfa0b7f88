package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. admitter may be nil, in which case
// requests are not rate limited.
func NewServer(cfg domain.ServerConfig, handler *Handler, admitter domain.Admitter) *Server {
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(ClientKeyMiddleware)    // Admission key
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.Compress(5)) // Gzip compression

	// Probes (no admission)
	router.Get("/", handler.Root)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes (admission controlled)
	router.Group(func(r chi.Router) {
		if admitter != nil {
			r.Use(AdmissionMiddleware(admitter))
		}

		// Decisions
		r.Post("/decide", handler.Decide)
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Alert lifecycle
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/alerts/{id}", handler.GetAlert)
		r.Post("/alerts/{id}/escalate", handler.EscalateAlert)
		r.Post("/alerts/{id}/review", handler.ReviewAlert)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
