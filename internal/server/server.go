// Package server assembles the admission pipeline and the HTTP routes.
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

	"github.com/nikoai/niko/internal/handler"
	"github.com/nikoai/niko/internal/metrics"
	"github.com/nikoai/niko/internal/model"
	"github.com/nikoai/niko/internal/openapi"
	"github.com/nikoai/niko/internal/ratelimit"
	"github.com/nikoai/niko/internal/server/middleware"
	"github.com/nikoai/niko/internal/service"
	"github.com/nikoai/niko/internal/ui"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	CORSMethods     []string
	EnableUI        bool
	// Production adds Strict-Transport-Security to every response.
	Production bool
	// BehindProxy trusts True-Client-IP, X-Real-IP and X-Forwarded-For for
	// the client address. Off, the limiter keys on the TCP peer.
	BehindProxy bool
	// ServiceLane is the trusted-service key accepted in X-API-Key.
	ServiceLane middleware.ServiceLane
	// Classifier maps paths to request classes; nil uses the default table.
	Classifier *middleware.Classifier
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		CORSMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		EnableUI:        true,
	}
}

// Server is the top-level HTTP server. It owns the chi router, the
// rate limiter and the authentication service.
type Server struct {
	cfg        Config
	router     chi.Router
	authSvc    *service.AuthService
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, authSvc *service.AuthService, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = middleware.DefaultClassifier()
	}
	s := &Server{
		cfg:     cfg,
		authSvc: authSvc,
		limiter: limiter,
		metrics: m,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) authenticate() func(http.Handler) http.Handler {
	return middleware.Authenticate(s.authSvc, s.cfg.ServiceLane, s.metrics, s.logger)
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.SecurityHeaders(s.cfg.Production))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger, s.metrics))
	r.Use(chimw.Recoverer)
	keyFn := middleware.KeyByRemoteAddr
	if s.cfg.BehindProxy {
		r.Use(chimw.RealIP)
		keyFn = middleware.KeyByForwarded
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   s.cfg.CORSMethods,
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	r.Use(middleware.Admit(s.limiter, s.cfg.Classifier, keyFn, s.metrics, s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// --- Health checks (no auth required) ---
	r.Get("/health", s.handleHealthz)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/openapi.json", s.handleOpenAPI)

	authHandler := handler.NewAuthHandler(s.authSvc, s.logger)
	adminHandler := handler.NewAdminHandler(s.authSvc, s.limiter, s.logger)

	// --- Public account endpoints ---
	r.Post("/register", authHandler.Register)
	r.Post("/login", authHandler.Login)

	// --- Caller's own account ---
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate())

		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
		r.Put("/me", authHandler.UpdateMe)
		r.Delete("/me", authHandler.DeleteMe)
	})

	// --- Administration ---
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.authenticate())
		r.Use(middleware.RequirePrivileged(s.metrics))

		r.Get("/users", adminHandler.ListUsers)
		r.Post("/users", adminHandler.CreateUser)
		r.Get("/users/{name}", adminHandler.GetUser)
		r.Put("/users/{name}", adminHandler.UpdateUser)
		r.Delete("/users/{name}", adminHandler.DeleteUser)
		r.Post("/users/{name}/restore", adminHandler.RestoreUser)

		r.Post("/purge", adminHandler.Purge)

		r.Get("/ratelimit", adminHandler.RateLimitStatus)
		r.Delete("/ratelimit", adminHandler.RateLimitReset)
	})

	// --- Embedded static assets ---
	if s.cfg.EnableUI {
		assets := ui.Static()
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(assets))))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFileFS(w, r, assets, "index.html")
		})
	}

	s.router = r
}

// Mount attaches a business handler under pattern behind the
// authentication gate. Requests to /chat count against the chat-completion
// quota.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Group(func(r chi.Router) {
		r.Use(s.authenticate())
		r.Mount(pattern, h)
	})
}

// handleHealthz is a liveness check. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness check. Returns 200 when the credential store
// answers, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.authSvc.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "check", "store", "error", err)
		checks["store"] = "unavailable"
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

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	doc := openapi.Generate(scheme+"://"+r.Host, s.limiter.Policies())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(doc)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: code, Message: message},
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
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
