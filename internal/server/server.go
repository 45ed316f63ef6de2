package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taziji/ChinaRMBSite/internal/auth"
	"github.com/taziji/ChinaRMBSite/internal/config"
	"github.com/taziji/ChinaRMBSite/internal/metrics"
	"github.com/taziji/ChinaRMBSite/internal/static"
)

// Server owns the HTTP listener and the route table: the static site
// behind the optional auth gate, plus the observability endpoints
// that sit outside it.
type Server struct {
	echo   *echo.Echo
	config *config.Config

	static *static.Handler
	store  *auth.Store

	registry    *prometheus.Registry
	httpMetrics *metrics.HTTPMetrics
	authMetrics *metrics.AuthMetrics

	healthChecks []HealthCheck
	instanceID   string
	startTime    time.Time
}

// New assembles the server. A nil store disables the auth gate.
func New(cfg *config.Config, staticHandler *static.Handler, store *auth.Store, registry *prometheus.Registry, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = cfg.ReadHeaderTimeout
	e.Server.IdleTimeout = cfg.IdleTimeout

	srv := &Server{
		echo:         e,
		config:       cfg,
		static:       staticHandler,
		store:        store,
		registry:     registry,
		httpMetrics:  metrics.NewHTTPMetrics(registry),
		authMetrics:  metrics.NewAuthMetrics(registry),
		healthChecks: healthChecks,
		instanceID:   uuid.NewString(),
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Start binds the listener and serves until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	slog.Info("starting server",
		"port", s.config.Port,
		"document_root", s.config.DocumentRoot,
		"auth_enabled", s.store != nil,
		"instance_id", s.instanceID,
	)
	return s.echo.Start(":" + s.config.Port)
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish, up to the deadline carried by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
