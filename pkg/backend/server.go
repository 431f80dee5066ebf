package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backend/handlers"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backend/middleware"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backendtypes"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/profilesync"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/tokenguard"
)

// Server is the admin HTTP server in front of the token guard and the profile sync
type Server struct {
	config     backendtypes.BackendConfig
	logger     *slog.Logger
	guard      *tokenguard.Guard
	sync       *profilesync.Coordinator
	router     chi.Router
	httpServer *http.Server
}

// NewServer creates the server and registers its routes. sync may be nil.
func NewServer(config backendtypes.BackendConfig, guard *tokenguard.Guard, sync *profilesync.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		logger: logger.With("component", "admin_server"),
		guard:  guard,
		sync:   sync,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       config.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      config.Server.WriteTimeout,
	}
	return s
}

// routes builds the router. Middleware runs in order:
// Recovery -> RealIP -> RequestID -> Logging -> CORS -> Auth -> Handler
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(s.logger))
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	if s.config.CORS.Enabled {
		r.Use(middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: s.config.CORS.AllowedOrigins,
			AllowedMethods: s.config.CORS.AllowedMethods,
			AllowedHeaders: s.config.CORS.AllowedHeaders,
		}))
	}
	if s.config.Auth.Enabled {
		public := s.config.Auth.PublicPaths
		if public == nil {
			public = []string{"/health", "/version"}
		}
		r.Use(middleware.Auth(middleware.AuthConfig{
			Enabled:     true,
			APIKey:      s.config.Auth.APIKey,
			APIKeyEnv:   s.config.Auth.APIKeyEnv,
			PublicPaths: public,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.SendError(w, r, "NOT_FOUND", "No such endpoint", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.SendError(w, r, "METHOD_NOT_ALLOWED", "Method not allowed for this endpoint", http.StatusMethodNotAllowed)
	})

	health := handlers.NewHealthHandler(s.guard, s.config.Server.Version)
	token := handlers.NewTokenHandler(s.guard, s.sync)
	sync := handlers.NewSyncHandler(s.sync)

	r.Get("/health", health.Health)
	r.Get("/version", health.Version)

	r.Route("/api", func(r chi.Router) {
		r.Get("/token/status", token.Status)
		r.Post("/token/heal", token.Heal)
		r.Post("/token/purge", token.Purge)

		r.Post("/block", token.Block)
		r.Delete("/block", token.Unblock)

		r.Get("/sync", sync.Status)
		r.Post("/sync", sync.Sync)
		r.Post("/sync/reset-quota", sync.ResetQuota)
	})

	return r
}

// Handler returns the routed handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errcode.Wrapf(err, errcode.ServerStartFailure, "listening on %s", addr)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. http.ErrServerClosed is not returned.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("admin server listening", "addr", ln.Addr().String(), "version", s.config.Server.Version)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. A server that has not started yet
// will refuse to start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down admin server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Run serves until ctx is done, then shuts down within ShutdownTimeout
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		timeout := s.config.Server.ShutdownTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errChan
	}
}
