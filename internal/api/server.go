package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/assessment-engine/internal/config"
	"github.com/terra-clan/assessment-engine/internal/definitions"
	"github.com/terra-clan/assessment-engine/internal/flow"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/services"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	engine         flow.Engine
	definitions    *definitions.Service
	repo           storage.Repository
	probes         *services.Registry
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server. probes may be nil; a repository
// probe is always added.
func NewServer(
	cfg config.ServerConfig,
	engine flow.Engine,
	defs *definitions.Service,
	repo storage.Repository,
	probes *services.Registry,
) *Server {
	if probes == nil {
		probes = services.NewRegistry()
	}
	probes.Register(services.NewProbeFunc("repository", repo.Ping))
	s := &Server{
		config:         cfg,
		engine:         engine,
		definitions:    defs,
		repo:           repo,
		probes:         probes,
		authMiddleware: NewAuthMiddleware(repo),
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

	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// API v1 routes (protected by authentication)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)
		perm := s.authMiddleware.RequirePermission

		// Adaptive sessions
		r.Route("/assessments", func(r chi.Router) {
			r.With(perm(models.PermAssessmentsWrite)).Post("/", s.handleStartAssessment)

			r.Route("/{id}", func(r chi.Router) {
				r.With(perm(models.PermAssessmentsRead)).Get("/", s.handleGetAssessment)
				r.With(perm(models.PermAssessmentsWrite)).Post("/answers", s.handleSubmitAnswer)
				r.With(perm(models.PermAssessmentsWrite)).Post("/abandon", s.handleAbandonAssessment)
			})
		})

		// Scale results
		r.Route("/results", func(r chi.Router) {
			r.With(perm(models.PermResultsWrite)).Post("/", s.handleScoreStandalone)
			r.With(perm(models.PermResultsRead)).Get("/", s.handleListResults)
			r.With(perm(models.PermResultsRead)).Get("/{id}", s.handleGetResult)
		})

		// Questionnaire definitions
		r.Route("/definitions", func(r chi.Router) {
			r.With(perm(models.PermDefinitionsRead)).Get("/", s.handleListDefinitions)
			r.With(perm(models.PermDefinitionsWrite)).Put("/", s.handleSaveDefinition)

			r.Route("/{id}", func(r chi.Router) {
				r.With(perm(models.PermDefinitionsRead)).Get("/", s.handleGetDefinition)
				r.With(perm(models.PermDefinitionsWrite)).Post("/activate", s.handleActivateDefinition)
				r.With(perm(models.PermDefinitionsWrite)).Post("/deactivate", s.handleDeactivateDefinition)
				r.With(perm(models.PermDefinitionsWrite)).Post("/duplicate", s.handleDuplicateDefinition)
			})
		})

		// Subject demographics
		r.With(perm(models.PermSubjectsWrite)).Put("/subjects/{id}/profile", s.handleUpsertProfile)
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
