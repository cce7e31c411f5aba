package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/repository"
)

// testRoutes exposes one route per failure mode plus a route echoing the actor
type testRoutes struct{}

func (testRoutes) Register(g *echo.Group) {
	fail := func(err error) echo.HandlerFunc {
		return func(echo.Context) error { return err }
	}
	g.GET("/whoami", func(c echo.Context) error {
		actor, err := ActorFrom(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"venue":      actor.Venue,
			"staff_id":   actor.StaffID,
			"request_id": actor.RequestID,
		})
	})
	g.GET("/fail/retryable", fail(fmt.Errorf("lock order 3: %w", repository.ErrRetryable)))
	g.GET("/fail/timeout", fail(fmt.Errorf("settle: %w", context.DeadlineExceeded)))
	g.GET("/fail/internal", fail(errors.New("dial tcp 10.0.0.3:5432: connection refused")))
	g.GET("/fail/stock", fail(apperr.InsufficientStock("inventory.deduct", 2, 3, 1)))
	g.GET("/fail/concurrent", fail(apperr.ConcurrentSettlement("settlement.settle", 5)))
	g.GET("/fail/integrity", fail(apperr.Integrity("guard.update_table", "libre_table_has_refs", "table 5 is libre")))
	g.GET("/fail/wrapped-internal", fail(apperr.Internal("mesa.add_items", errors.New("pq: password authentication failed"))))
	g.POST("/bind", func(c echo.Context) error {
		var v struct {
			Number int `json:"number"`
		}
		return Bind(c, &v)
	})
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, health Pinger) (*echo.Echo, config.AuthConfig) {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "web-secret"
	return New(cfg, logger.NewNop(), nil, health, testRoutes{}), cfg.Auth
}

func token(t *testing.T, auth config.AuthConfig, claims Claims, ttl time.Duration) string {
	t.Helper()
	tok, err := IssueToken(auth, claims, ttl)
	require.NoError(t, err)
	return tok
}

var staff = Claims{StaffID: 7, RestaurantID: 1, BranchID: 2, Role: "mesero"}

func serve(e *echo.Echo, method, path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderRequestID, "req-42")
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	e, auth := newTestServer(t, nil)

	rec := serve(e, http.MethodGet, "/api/v1/whoami", token(t, auth, staff, time.Hour), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"venue":{"restaurant_id":1,"branch_id":2},"staff_id":7,"request_id":"req-42"}`, rec.Body.String())
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))

	other := auth
	other.JWTSecret = "someone-else"
	noVenue := staff
	noVenue.BranchID = 0

	tests := []struct {
		name   string
		bearer string
	}{
		{"missing", ""},
		{"expired", token(t, auth, staff, -time.Minute)},
		{"wrong secret", token(t, other, staff, time.Hour)},
		{"no venue", token(t, auth, noVenue, time.Hour)},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, http.MethodGet, "/api/v1/whoami", tt.bearer, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestErrorHandler(t *testing.T) {
	e, auth := newTestServer(t, nil)
	bearer := token(t, auth, staff, time.Hour)

	tests := []struct {
		path   string
		status int
		kind   string
	}{
		{"/api/v1/fail/retryable", http.StatusConflict, "conflict_error"},
		{"/api/v1/fail/timeout", http.StatusServiceUnavailable, ""},
		{"/api/v1/fail/internal", http.StatusInternalServerError, ""},
		{"/api/v1/fail/wrapped-internal", http.StatusInternalServerError, "internal_error"},
		{"/api/v1/fail/stock", http.StatusConflict, "insufficient_stock"},
		{"/api/v1/fail/concurrent", http.StatusConflict, "concurrent_settlement"},
		{"/api/v1/fail/integrity", http.StatusUnprocessableEntity, "integrity_error"},
		{"/api/v1/missing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(e, http.MethodGet, tt.path, bearer, "")
			require.Equal(t, tt.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, "req-42", body.RequestID)
			assert.NotEmpty(t, body.Timestamp)
			assert.NotContains(t, body.Error, "10.0.0.3")
			assert.NotContains(t, body.Error, "password")
		})
	}

	rec := serve(e, http.MethodGet, "/api/v1/fail/stock", bearer, "")
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body.Details["product_id"])
	assert.EqualValues(t, 1, body.Details["available"])
}

func TestBindRejectsMalformedJSON(t *testing.T) {
	e, auth := newTestServer(t, nil)

	rec := serve(e, http.MethodPost, "/api/v1/bind", token(t, auth, staff, time.Hour), `{"number":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"validation_error"`)
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(t, pinger{})
	rec := serve(e, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	e, _ = newTestServer(t, pinger{err: errors.New("database unreachable")})
	rec = serve(e, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}
