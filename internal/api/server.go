package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/tanda-engine/internal/config"
	"github.com/terra-clan/tanda-engine/internal/flow"
	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/notify"
	"github.com/terra-clan/tanda-engine/internal/profiles"
	"github.com/terra-clan/tanda-engine/internal/services"
	"github.com/terra-clan/tanda-engine/internal/storage"
	"github.com/terra-clan/tanda-engine/internal/tanda"
)

// Dependencies are the collaborators the API serves
type Dependencies struct {
	Repo         storage.Repository
	Players      *tanda.Manager
	Scorer       *tanda.Scorer
	Flow         *flow.Service
	Profiles     *profiles.Loader
	Subscriber   notify.Subscriber
	Registry     *services.Registry
	TickInterval time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	repo           storage.Repository
	players        *tanda.Manager
	scorer         *tanda.Scorer
	flow           *flow.Service
	profiles       *profiles.Loader
	subscriber     notify.Subscriber
	registry       *services.Registry
	tickInterval   time.Duration
	authMiddleware *AuthMiddleware
	now            func() time.Time
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	if deps.Profiles == nil {
		deps.Profiles = profiles.NewLoader()
	}
	if deps.Registry == nil {
		deps.Registry = services.NewRegistry()
	}
	if deps.TickInterval <= 0 {
		deps.TickInterval = time.Second
	}

	s := &Server{
		config:         cfg,
		repo:           deps.Repo,
		players:        deps.Players,
		scorer:         deps.Scorer,
		flow:           deps.Flow,
		profiles:       deps.Profiles,
		subscriber:     deps.Subscriber,
		registry:       deps.Registry,
		tickInterval:   deps.TickInterval,
		authMiddleware: NewAuthMiddleware(deps.Repo),
		now:            time.Now,
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
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	auth := s.authMiddleware
	read := auth.RequirePermission(models.PermTandasRead)
	control := auth.RequirePermission(models.PermTandasControl)
	write := auth.RequirePermission(models.PermCompetitionsWrite)
	score := auth.RequirePermission(models.PermScoresWrite)
	timeout := middleware.Timeout(60 * time.Second)

	// API v1 routes (protected by authentication)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Authenticate)

		r.With(read, timeout).Get("/profiles", s.handleListProfiles)

		r.Route("/events/{eventID}/competitions", func(r chi.Router) {
			// Long-lived websocket, no request timeout
			r.With(read).Get("/{lcID}/tandas/{tandaID}/live", s.handleTandaLive)

			r.Group(func(r chi.Router) {
				r.Use(timeout)

				r.With(read).Get("/", s.handleListCompetitions)
				r.With(write).Post("/", s.handleCreateCompetition)
				r.With(read).Get("/{lcID}", s.handleGetCompetition)
				r.With(read).Get("/{lcID}/tandas", s.handleListTandas)
				r.With(write).Post("/{lcID}/transitions/{index}", s.handleRunTransition)

				r.With(read).Get("/{lcID}/tandas/{tandaID}", s.handleGetTanda)
				r.With(control).Post("/{lcID}/tandas/{tandaID}/play", s.handleTandaControl("play", (*tanda.Player).Play))
				r.With(control).Post("/{lcID}/tandas/{tandaID}/pause", s.handleTandaControl("pause", (*tanda.Player).Pause))
				r.With(control).Post("/{lcID}/tandas/{tandaID}/open-voting", s.handleTandaControl("open voting", (*tanda.Player).OpenVoting))
				r.With(control).Post("/{lcID}/tandas/{tandaID}/finish", s.handleTandaControl("finish", (*tanda.Player).Finish))
				r.With(score).Post("/{lcID}/tandas/{tandaID}/scores", s.handleSubmitScore)
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
