package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/models"
)

const ctxClaims = "claims"

var errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")

// Claims identify the staff member and the venue they work in
type Claims struct {
	StaffID      int64  `json:"staff_id"`
	RestaurantID int64  `json:"restaurant_id"`
	BranchID     int64  `json:"branch_id"`
	Role         string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Venue() models.Venue {
	return models.Venue{RestaurantID: c.RestaurantID, BranchID: c.BranchID}
}

// Auth validates the bearer token and stores the claims for handlers
func Auth(cfg config.AuthConfig) echo.MiddlewareFunc {
	secret := []byte(cfg.JWTSecret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed authorization header")
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				return errUnauthorized
			}
			if claims.StaffID <= 0 || claims.RestaurantID <= 0 || claims.BranchID <= 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "token lacks staff or venue claims")
			}

			c.Set(ctxClaims, claims)
			return next(c)
		}
	}
}

// IssueToken signs claims for a staff member; used by local tooling and tests
func IssueToken(cfg config.AuthConfig, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.Issuer = cfg.Issuer
	claims.Subject = fmt.Sprintf("staff:%d", claims.StaffID)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

// ActorFrom builds the acting staff member from the authenticated request
func ActorFrom(c echo.Context) (models.Actor, error) {
	claims, ok := c.Get(ctxClaims).(*Claims)
	if !ok {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "request is not authenticated")
	}
	return models.Actor{
		Venue:     claims.Venue(),
		StaffID:   claims.StaffID,
		RequestID: RequestIDFrom(c),
	}, nil
}

// Bind decodes the JSON body; malformed input is a ValidationError
func Bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return apperr.Validation("bind", "invalid request body: %v", he.Message)
		}
		return apperr.Validation("bind", "invalid request body: %v", err)
	}
	return nil
}
