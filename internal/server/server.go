package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/handler"
	"github.com/keygate/keygate/internal/openapi"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	LoginRateLimit  int // login/register attempts per IP per minute
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		LoginRateLimit:  10,
	}
}

// Server is the top-level HTTP server for Keygate. It owns the Chi router,
// the record store, and the credential services.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	authSvc    *service.AuthService
	keySvc     *service.KeyService
	projectSvc *service.ProjectService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *config.Store, authSvc *service.AuthService, keySvc *service.KeyService, projectSvc *service.ProjectService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		authSvc:    authSvc,
		keySvc:     keySvc,
		projectSvc: projectSvc,
		logger:     logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", openapi.NewHandler().ServeSpec)

	authHandler := handler.NewAuthHandler(s.authSvc)
	keyHandler := handler.NewKeyHandler(s.keySvc, s.projectSvc)
	projectHandler := handler.NewProjectHandler(s.projectSvc)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {

			// Credential issuance is unauthenticated and rate limited per IP
			// to slow down password guessing.
			r.Group(func(r chi.Router) {
				if s.cfg.LoginRateLimit > 0 {
					r.Use(middleware.RateLimit(s.cfg.LoginRateLimit))
				}
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
			})

			// Key management requires a valid bearer credential.
			r.Route("/tokens", func(r chi.Router) {
				r.Use(middleware.Authenticate(s.authSvc, s.logger))

				r.Post("/", keyHandler.CreateKey)
				r.Get("/", keyHandler.ListKeys)
				r.Get("/{keyID}", keyHandler.GetKey)
				r.Patch("/{keyID}", keyHandler.UpdateKey)
				r.Delete("/{keyID}", keyHandler.RevokeKey)

				r.Get("/{keyID}/projects", keyHandler.ListKeyProjects)
				r.Post("/{keyID}/projects/{projectID}", keyHandler.AssignKeyProject)
				r.Delete("/{keyID}/projects/{projectID}", keyHandler.RemoveKeyProject)
			})
		})

		r.Route("/projects", func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc, s.logger))

			r.Post("/", projectHandler.CreateProject)
			r.Get("/", projectHandler.ListProjects)
			r.Get("/mine", projectHandler.ListMyProjects)
			r.Get("/{projectID}", projectHandler.GetProject)
			r.Patch("/{projectID}", projectHandler.UpdateProject)
			r.Delete("/{projectID}", projectHandler.DeleteProject)

			r.Post("/{projectID}/users", projectHandler.AssignUser)
			r.Delete("/{projectID}/users/{userID}", projectHandler.RemoveUser)
			r.Get("/{projectID}/keys", projectHandler.ListProjectKeys)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the record store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","checks":{"store":"` + err.Error() + `"}}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","checks":{"store":"ok"}}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
