// Package server provides the storefront admin HTTP API.
//
// Every response uses the same envelope: {"success":true,"data":...} on
// success and {"success":false,"message":"..."} on failure. Routes under
// /admin require a Bearer access token; the role each route accepts is set
// at registration with RequireRole.
//
// Example Usage:
//
//	srv, err := server.New(server.Deps{
//		Auth:    authenticator,
//		Audit:   auditLogger,
//		Limiter: limiter,
//		Catalog: catalogService,
//	}, cfg.HTTPConfig(), logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Stop(context.Background())
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/auth"
	"github.com/orneryd/storefront/pkg/cache"
	"github.com/orneryd/storefront/pkg/catalog"
	"github.com/orneryd/storefront/pkg/metrics"
	"github.com/orneryd/storefront/pkg/ratelimit"
	"github.com/orneryd/storefront/pkg/storage"
)

// Errors for HTTP operations.
var (
	ErrServerClosed = errors.New("server closed")
	ErrMissingDeps  = errors.New("server: authenticator and catalog are required")
)

// RefreshCookie is the cookie carrying the refresh token.
const RefreshCookie = "refresh_token"

// Config holds HTTP server configuration.
type Config struct {
	// Address to bind to (default: "0.0.0.0")
	Address string
	// Port to listen on (default: 5000)
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MaxRequestSize in bytes (default: 1MB)
	MaxRequestSize int64
	// CORSOrigins allowed to send credentials. Empty disables CORS headers.
	CORSOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// SecureCookies marks the refresh cookie Secure.
	SecureCookies bool
	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:         "0.0.0.0",
		Port:            5000,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxRequestSize:  1 << 20,
		MetricsPath:     "/metrics",
	}
}

// IdentityVerifier verifies a third-party identity token.
// *oauth.Google is the production implementation.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, idToken string) (*auth.Identity, error)
}

// AuditQuerier reads the audit log. *audit.Logger implements it together
// with auth.AuditRecorder.
type AuditQuerier interface {
	Query(ctx context.Context, q audit.Query) ([]audit.Record, error)
}

// StorageReporter reports storage engine statistics for /admin/stats.
type StorageReporter interface {
	Stats(ctx context.Context) (storage.Stats, error)
}

// AuditLog records and queries audit entries.
type AuditLog interface {
	auth.AuditRecorder
	AuditQuerier
}

// Deps are the services behind the HTTP API. Auth and Catalog are
// required; a nil Limiter disables login rate limiting, a nil Throttle
// disables the admin API throttle and a nil Identity disables /auth/google.
type Deps struct {
	Auth     *auth.Authenticator
	Audit    AuditLog
	Limiter  *ratelimit.Limiter
	Throttle *ratelimit.Throttle
	Identity IdentityVerifier
	Catalog  *catalog.Service
	// Gatherer backs the metrics endpoint; defaults to the Prometheus
	// default gatherer.
	Gatherer prometheus.Gatherer
	// Health reports storage reachability for /health.
	Health func(ctx context.Context) error
	// Storage is optional; without it /admin/stats omits storage figures.
	Storage StorageReporter
}

// Server is the storefront HTTP API server.
type Server struct {
	config *Config
	deps   Deps
	log    *slog.Logger

	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener

	closed  atomic.Bool
	started time.Time

	requestCount   atomic.Int64
	errorCount     atomic.Int64
	activeRequests atomic.Int64
}

// New creates a new HTTP server.
func New(deps Deps, config *Config, logger *slog.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Auth == nil || deps.Catalog == nil {
		return nil, ErrMissingDeps
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:  config,
		deps:    deps,
		log:     logger.With(slog.String("component", "http")),
		started: time.Now(),
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP connections.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := net.JoinHostPort(s.config.Address, fmt.Sprint(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.started = time.Now()
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", slog.String("error", err.Error()))
		}
	}()

	s.log.Info("http server listening", slog.String("addr", listener.Addr().String()))
	return nil
}

// Stop gracefully shuts down the server. The shutdown is bounded by
// ShutdownTimeout when ctx has no earlier deadline.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer == nil {
		return nil
	}
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stats returns server statistics.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Uptime:         time.Since(s.started),
		RequestCount:   s.requestCount.Load(),
		ErrorCount:     s.errorCount.Load(),
		ActiveRequests: s.activeRequests.Load(),
		CatalogCache:   s.deps.Catalog.CacheStats(),
	}
}

// ServerStats holds server metrics.
type ServerStats struct {
	Uptime         time.Duration  `json:"uptime"`
	RequestCount   int64          `json:"requestCount"`
	ErrorCount     int64          `json:"errorCount"`
	ActiveRequests int64          `json:"activeRequests"`
	CatalogCache   cache.Stats    `json:"catalogCache"`
	Storage        *storage.Stats `json:"storage,omitempty"`
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Use(s.statsMiddleware)
	r.Use(metrics.Instrument)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", s.handleHealth)
	if s.config.MetricsPath != "" {
		r.Method(http.MethodGet, s.config.MetricsPath, metrics.Handler(s.deps.Gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(s.rateLimit).Post("/login", s.handleLogin)
		r.With(s.rateLimit).Post("/google", s.handleGoogle)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.With(s.RequireAuth).Get("/me", s.handleMe)
	})

	// Storefront reads, active records only.
	r.Get("/products", s.handlePublicProducts)
	r.Get("/products/{slug}", s.handlePublicProduct)
	r.Get("/categories", s.handlePublicCategories)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.throttle)
		r.Use(s.RequireAuth)

		r.Put("/me/password", s.handleChangePassword)

		r.Group(func(r chi.Router) {
			r.Use(s.RequireRole(auth.AdminOnly))
			r.Get("/accounts", s.handleListAccounts)
			r.Post("/accounts", s.handleCreateAccount)
			r.Get("/accounts/{id}", s.handleGetAccount)
			r.Patch("/accounts/{id}", s.handleUpdateAccount)
			r.Post("/accounts/{id}/unlock", s.handleUnlockAccount)
			r.Get("/audit", s.handleAuditQuery)
			r.Get("/stats", s.handleStats)
			r.Delete("/categories/{id}", s.handleDeleteCategory)
			r.Delete("/products/{id}", s.handleDeleteProduct)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.RequireRole(auth.EditorOrAdmin))
			r.Post("/categories", s.handleCreateCategory)
			r.Patch("/categories/{id}", s.handleUpdateCategory)
			r.Post("/products", s.handleCreateProduct)
			r.Patch("/products/{id}", s.handleUpdateProduct)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.RequireRole(auth.AnyRole))
			r.Get("/categories", s.handleListCategories)
			r.Get("/categories/{id}", s.handleGetCategory)
			r.Get("/products", s.handleListProducts)
			r.Get("/products/{id}", s.handleGetProduct)
			r.Get("/analytics", s.handleAnalytics)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			s.log.Warn("health check failed", slog.String("error", err.Error()))
			s.writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
			return
		}
	}
	s.writeData(w, http.StatusOK, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.Stats()
	if s.deps.Storage != nil {
		st, err := s.deps.Storage.Stats(r.Context())
		if err != nil {
			s.log.Warn("storage stats failed", slog.String("error", err.Error()))
		} else {
			stats.Storage = &st
		}
	}
	s.writeData(w, http.StatusOK, stats)
}
