package server

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/taziji/ChinaRMBSite/internal/auth"
	"github.com/taziji/ChinaRMBSite/internal/metrics"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.requestLoggerMiddleware())
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		DisableErrorHandler: true,
	}))
	s.echo.Use(s.secureHeadersMiddleware())
	s.echo.Use(s.httpMetrics.Middleware())

	if s.config.RateLimitRPS > 0 {
		s.echo.Use(newRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst))
	}
	if s.config.MaxConcurrentRequests > 0 {
		s.echo.Use(concurrencyLimit(NewConcurrencyLimiter(s.config.MaxConcurrentRequests)))
	}

	// Observability surface, outside the auth gate.
	s.registerHealthRoutes()
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))

	// The whole site hangs off the catch-all; only GET and HEAD are
	// registered, so other methods get 405 from the router.
	gate := auth.Gate(s.store, s.config.BasicAuthRealm, s.authMetrics)
	s.echo.GET("/*", s.static.Serve, gate)
	s.echo.HEAD("/*", s.static.Serve, gate)
}

func (s *Server) requestLoggerMiddleware() echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:       true,
		LogURI:          true,
		LogMethod:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogResponseSize: true,
		LogError:        true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"bytes_out", v.ResponseSize,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

func (s *Server) secureHeadersMiddleware() echo.MiddlewareFunc {
	cfg := echomw.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}
	// HSTS is only meaningful behind TLS termination, which exists in
	// production only.
	if s.config.AppEnv == "production" {
		cfg.HSTSMaxAge = 63072000
	}
	return echomw.SecureWithConfig(cfg)
}
