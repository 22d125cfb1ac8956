package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/handler"
	"github.com/faucetdb/keygate/internal/openapi"
	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/upstream"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	ProtectedPrefixes []string
	StaticTokens      []string
	LoginRateLimit    int // attempts per minute per client IP
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              4141,
		ShutdownTimeout:   30 * time.Second,
		CORSOrigins:       []string{"*"},
		ProtectedPrefixes: config.DefaultProtectedPrefixes,
		LoginRateLimit:    10,
	}
}

// ConfigFrom derives the server configuration from the application config.
func ConfigFrom(c *config.Config) Config {
	cfg := DefaultConfig()
	cfg.Host = c.Server.Host
	cfg.Port = c.Server.Port
	if len(c.Server.CORSOrigins) > 0 {
		cfg.CORSOrigins = c.Server.CORSOrigins
	}
	if len(c.Server.ProtectedPrefixes) > 0 {
		cfg.ProtectedPrefixes = c.Server.ProtectedPrefixes
	}
	cfg.StaticTokens = c.StaticTokens()
	return cfg
}

// Services are the collaborators the server routes to.
type Services struct {
	Keys     *service.KeyRegistry
	Usage    *service.QuotaLedger
	Audit    *service.AuditLog
	Signer   *service.SessionSigner
	Upstream upstream.Completer
}

// Server is the top-level HTTP server for keygate. It owns the Chi router
// and the credential resolver guarding the completion surface.
type Server struct {
	cfg        Config
	svc        Services
	router     chi.Router
	resolver   *middleware.CredentialResolver
	completion *handler.CompletionHandler
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
	}
	s.resolver = middleware.NewCredentialResolver(cfg.StaticTokens, cfg.ProtectedPrefixes, svc.Keys, svc.Usage, logger)
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
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "WWW-Authenticate"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.resolver.Handler)

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)

	// --- Admin API ---
	admin := handler.NewAdminHandler(s.svc.Keys, s.svc.Usage, s.svc.Audit, s.svc.Signer, s.logger)
	r.Route("/admin", func(r chi.Router) {
		r.With(middleware.RateLimit(s.cfg.LoginRateLimit, time.Minute)).Post("/login", admin.Login)
		r.Post("/logout", admin.Logout)
		r.Get("/session", admin.Session)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminSession(s.svc.Signer))

			r.Get("/api-keys", admin.ListKeys)
			r.Post("/api-keys", admin.CreateKey)
			r.Get("/api-keys/{id}", admin.GetKey)
			r.Delete("/api-keys/{id}", admin.DeleteKey)
			r.Patch("/api-keys/{id}/settings", admin.UpdateSettings)
			r.Get("/api-keys/{id}/usage", admin.Usage)
			r.Get("/api-keys/{id}/audit", admin.Audit)
		})
	})

	// --- Completion surface, with and without the /v1 prefix ---
	completion := handler.NewCompletionHandler(s.svc.Upstream, s.svc.Audit, s.logger)
	s.completion = completion
	for _, prefix := range []string{"", "/v1"} {
		r.Post(prefix+"/chat/completions", completion.ChatCompletions)
		r.Post(prefix+"/embeddings", completion.Embeddings)
		r.Get(prefix+"/models", completion.Models)
	}

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the record store can be
// read, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if _, err := s.svc.Keys.Count(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// handleOpenAPI serves the OpenAPI description of the gateway API.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	doc := openapi.GatewaySpec(scheme + "://" + r.Host)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and pending usage records.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
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

	s.Wait()
	s.logger.Info("server stopped")
	return nil
}

// Wait blocks until usage and audit events for completed requests are
// persisted.
func (s *Server) Wait() {
	s.resolver.Wait()
	s.completion.Wait()
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
