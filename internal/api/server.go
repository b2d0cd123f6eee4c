package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/terra-clan/pricing-arena/internal/arena"
	"github.com/terra-clan/pricing-arena/internal/config"
	"github.com/terra-clan/pricing-arena/internal/health"
	"github.com/terra-clan/pricing-arena/internal/models"
)

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	arena          arena.Manager
	health         *health.Registry
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, manager arena.Manager, registry *health.Registry) *Server {
	if cfg.SubmissionMaxBytes <= 0 {
		cfg.SubmissionMaxBytes = 1 << 20
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &Server{
		config:         cfg,
		arena:          manager,
		health:         registry,
		authMiddleware: NewAuthMiddleware(manager),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Operational endpoints (public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived websocket; kept out of the request timeout
		r.With(s.authMiddleware.Authenticate).Get("/leaderboard/live", s.handleLiveLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/users", s.handleSignup)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware.Authenticate)

				r.Get("/catalog", s.handleGetCatalog)
				r.Get("/leaderboard", s.handleGetLeaderboard)

				r.Route("/submissions", func(r chi.Router) {
					r.Post("/", s.handleSubmit)
					r.Get("/", s.handleListSubmissions)
					r.Get("/{index}/prices", s.handleDownload(models.ArtifactPrices))
					r.Get("/{index}/demands", s.handleDownload(models.ArtifactDemands))
				})

				r.Route("/predictor", func(r chi.Router) {
					r.Put("/", s.handleRegisterPredictor)
					r.Get("/", s.handleGetPredictor)
				})
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
