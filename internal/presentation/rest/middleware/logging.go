package middleware

import (
	"time"

	otelinfra "x402-gateway/internal/infrastructure/observability/otel"

	"github.com/labstack/echo/v4"
)

// LoggingMiddleware ログミドルウェア
func LoggingMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			fields := map[string]interface{}{
				"method":      req.Method,
				"path":        req.URL.Path,
				"status_code": c.Response().Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": c.RealIP(),
				"request_id":  c.Response().Header().Get(echo.HeaderXRequestID),
			}

			if err != nil {
				logger.Error(req.Context(), "HTTP request failed", err, fields)
			} else {
				logger.Info(req.Context(), "HTTP request completed", fields)
			}

			return err
		}
	}
}
