package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/repository"
)

// ErrorResponse is the envelope of every failed request
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Kind      string                 `json:"kind,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
	RequestID string                 `json:"request_id"`
}

// ErrorHandler maps the error taxonomy onto HTTP responses
func ErrorHandler(log *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		requestID := RequestIDFrom(c)
		status, body := describe(err)
		body.Timestamp = time.Now().UTC().Format(time.RFC3339)
		body.RequestID = requestID

		if status >= http.StatusInternalServerError {
			log.Error("request_failed", "Unhandled error", requestID, err, map[string]interface{}{
				"path":   c.Path(),
				"method": c.Request().Method,
			})
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.Error("response_encoding_failed", "Failed to encode error response", requestID, err, nil)
		}
	}
}

func describe(err error) (int, ErrorResponse) {
	if e, ok := apperr.As(err); ok {
		msg := e.Message
		if e.Kind == apperr.KindInternal {
			msg = "internal server error"
		}
		return e.Kind.HTTPStatus(), ErrorResponse{Error: msg, Kind: e.Kind.String(), Details: e.Details}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, ErrorResponse{Error: fmt.Sprint(he.Message)}
	}

	switch {
	case errors.Is(err, repository.ErrRetryable):
		return http.StatusConflict, ErrorResponse{
			Error: "the tab was changed by a concurrent request, retry",
			Kind:  apperr.KindConflict.String(),
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "operation timed out and was rolled back"}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}
}
