package web

import (
	"context"
	"net/http"
	"time"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/errors"
	"github.com/Shugur-Network/proxypool/internal/limiter"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/Shugur-Network/proxypool/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Discoverer runs discovery rounds on demand. Forget lets relays removed
// by a clear be discovered again.
type Discoverer interface {
	Discover(ctx context.Context) (int, error)
	Forget()
}

// Server holds everything the HTTP API needs. Store and Discoverer are nil
// when persistence or discovery are disabled.
type Server struct {
	Registry   *relaypool.Registry
	Store      storage.Backend
	Discoverer Discoverer
	Health     http.HandlerFunc
	Limiter    *limiter.RateLimiter

	cfg       config.ServerConfig
	logger    *zap.Logger
	startTime time.Time
}

// NewServer creates the API server for registry.
func NewServer(cfg config.ServerConfig, registry *relaypool.Registry, logger *zap.Logger) *Server {
	return &Server{
		Registry:  registry,
		cfg:       cfg,
		logger:    logger.Named("web"),
		startTime: time.Now(),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(errors.RequestIDMiddleware)
	r.Use(errors.RecoveryMiddleware)
	r.Use(s.observe)
	if s.Limiter != nil {
		r.Use(s.rateLimit)
	}
	r.Use(SecurityMiddleware(APISecurityHeaders()))

	r.Get("/", s.handleIndex)
	r.Method(http.MethodGet, "/get_proxy", errors.WrapHandler(s.handleGetProxy))
	r.Method(http.MethodGet, "/bad_proxy", errors.WrapHandler(s.handleBadProxy))
	r.Method(http.MethodPost, "/upload_proxy", errors.WrapHandler(s.handleUpload))
	r.Method(http.MethodPost, "/action/{action}", errors.WrapHandler(s.handleAction))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}))
		r.Get("/stats", s.handleStatsAPI)
	})
	r.Get("/ws/stats", s.handleStatsFeed)

	if s.Health != nil {
		r.Get("/health", s.Health)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errors.HandleHTTPError(w, r, errors.NotFoundError("Route"))
	})
	return r
}

// HTTPServer wraps Router in an *http.Server with the configured timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
}
