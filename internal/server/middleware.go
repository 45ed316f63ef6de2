package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/taziji/ChinaRMBSite/internal/errors"
	"github.com/taziji/ChinaRMBSite/internal/logging"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := logging.WithCorrelationID(c.Request().Context(), logging.NewCorrelationID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// ErrorHandlingMiddleware renders every error as a plain-text status
// body, matching what a bare file server would emit. Router errors
// (404 on unknown routes, 405 on unregistered methods) and structured
// request errors both land here.
func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			if c.Response().Committed {
				return err
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return writePlainError(c, httpErr.Code, httpErrorMessage(httpErr))
			}

			structured := apperrors.AsStructuredError(err)
			logRequestError(c, structured)
			return writePlainError(c, structured.HTTPStatus(), structured.Message)
		}
	}
}

func writePlainError(c echo.Context, code int, message string) error {
	if message == "" {
		message = http.StatusText(code)
	}
	if err := c.String(code, message+"\n"); err != nil {
		return fmt.Errorf("writing error response: %w", err)
	}
	return nil
}

func httpErrorMessage(httpErr *echo.HTTPError) string {
	if msg, ok := httpErr.Message.(string); ok {
		return msg
	}
	return http.StatusText(httpErr.Code)
}

func logRequestError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeAuth:
		slog.InfoContext(ctx, "Authentication rejected", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeProtocol:
		slog.InfoContext(ctx, "Malformed request", attrs...)
	case apperrors.TypeForbidden:
		slog.WarnContext(ctx, "Forbidden path", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unhandled error type", attrs...)
	}
}

// concurrencyLimit sheds load once the in-flight request count reaches
// the configured cap.
func concurrencyLimit(limiter *ConcurrencyLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Acquire() {
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "Service Unavailable")
			}
			defer limiter.Release()
			return next(c)
		}
	}
}
