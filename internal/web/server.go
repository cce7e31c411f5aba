package web

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"restaurant-pos/internal/config"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/metrics"
)

// Route registrars are implemented by every service handler
type Registrar interface {
	Register(g *echo.Group)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// New builds the echo instance with the shared middleware chain. Handlers are
// mounted under /api/v1 behind JWT auth.
func New(cfg *config.Config, log *logger.Logger, m *metrics.Metrics, health Pinger, handlers ...Registrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(log)

	e.Use(RequestID(log))
	e.Use(middleware.Recover())
	e.Use(Logging(log))
	if m != nil {
		e.Use(m.Middleware())
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	if cfg.Server.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
			Timeout: cfg.Server.RequestTimeout,
		}))
	}

	e.GET("/health", healthHandler(health))

	api := e.Group("/api/v1", Auth(cfg.Auth))
	for _, h := range handlers {
		h.Register(api)
	}
	return e
}

func healthHandler(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		response := map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   "restaurant-pos",
		}
		if p != nil {
			if err := p.Ping(ctx); err != nil {
				response["status"] = "unhealthy"
				response["error"] = err.Error()
				return c.JSON(http.StatusServiceUnavailable, response)
			}
		}
		return c.JSON(http.StatusOK, response)
	}
}
