// Package web holds the echo plumbing shared by every HTTP handler:
// request ids, access logging, JWT auth and the error envelope.
package web

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"restaurant-pos/internal/logger"
)

const (
	HeaderRequestID = "X-Request-ID"

	ctxRequestID = "request_id"
	ctxLogger    = "logger"
)

// RequestID reuses the caller's X-Request-ID or generates one, and makes it
// available to echo handlers and to the request context
func RequestID(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = logger.GenerateRequestID()
			}
			c.Response().Header().Set(HeaderRequestID, requestID)
			c.Set(ctxRequestID, requestID)
			c.Set(ctxLogger, log.With(map[string]interface{}{"request_id": requestID}))

			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithRequestID(req.Context(), requestID)))
			return next(c)
		}
	}
}

// RequestIDFrom returns the id set by RequestID
func RequestIDFrom(c echo.Context) string {
	if id, ok := c.Get(ctxRequestID).(string); ok {
		return id
	}
	return ""
}

// LoggerFrom returns the request-scoped logger, falling back to fallback
func LoggerFrom(c echo.Context, fallback *logger.Logger) *logger.Logger {
	if l, ok := c.Get(ctxLogger).(*logger.Logger); ok {
		return l
	}
	return fallback
}

// Logging writes one entry per request once the response status is known
func Logging(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := RequestIDFrom(c)
			req := c.Request()

			log.Debug("request_started", fmt.Sprintf("%s %s", req.Method, req.URL.Path), requestID, map[string]interface{}{
				"method":      req.Method,
				"path":        req.URL.Path,
				"remote_addr": c.RealIP(),
				"user_agent":  req.UserAgent(),
			})

			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := map[string]interface{}{
				"method":      req.Method,
				"path":        c.Path(),
				"status_code": status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			msg := fmt.Sprintf("%s %s - %d", req.Method, req.URL.Path, status)
			if status >= 500 {
				log.Warn("request_completed", msg, requestID, fields)
			} else {
				log.Debug("request_completed", msg, requestID, fields)
			}
			return nil
		}
	}
}
