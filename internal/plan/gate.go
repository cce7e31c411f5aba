// Package plan consults the tenant subscription before plan-gated mutations.
// Plans are administered elsewhere; this package only reads them.
package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/metrics"
	"restaurant-pos/internal/models"
)

// Features gated by the plan
const (
	FeatureTables   = "mesas"
	FeatureGroups   = "grupos"
	FeatureInvoices = "facturacion"
	FeatureSales    = "ventas"
)

const statusActive = "activo"

// Decision is the gate's answer for one venue and feature
type Decision struct {
	Allowed bool
	Reason  string
}

type Gate interface {
	Check(ctx context.Context, venue models.Venue, feature string) (Decision, error)
}

// AllowAll is used when plan enforcement is disabled
type AllowAll struct{}

func (AllowAll) Check(context.Context, models.Venue, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// RedisGate reads the hash <prefix><restaurant_id> with the fields
// status, plan and features (comma separated; empty means every feature).
type RedisGate struct {
	client   *redis.Client
	prefix   string
	failOpen bool
	log      *logger.Logger
}

func NewRedisGate(client *redis.Client, cfg config.PlanConfig, log *logger.Logger) *RedisGate {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "plan:restaurante:"
	}
	return &RedisGate{client: client, prefix: prefix, failOpen: cfg.FailOpen, log: log}
}

// NewRedisClient creates the client shared by the gate
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (g *RedisGate) key(restaurantID int64) string {
	return fmt.Sprintf("%s%d", g.prefix, restaurantID)
}

func (g *RedisGate) Check(ctx context.Context, venue models.Venue, feature string) (Decision, error) {
	fields, err := g.client.HGetAll(ctx, g.key(venue.RestaurantID)).Result()
	if err != nil {
		g.log.Error("plan_lookup_failed", "Plan gate unavailable", logger.RequestIDFromContext(ctx), err,
			map[string]interface{}{"restaurant_id": venue.RestaurantID, "fail_open": g.failOpen})
		if g.failOpen {
			return Decision{Allowed: true, Reason: "plan gate unavailable"}, nil
		}
		return Decision{}, fmt.Errorf("failed to read plan for restaurant %d: %w", venue.RestaurantID, err)
	}

	if len(fields) == 0 {
		if g.failOpen {
			return Decision{Allowed: true, Reason: "no plan on record"}, nil
		}
		return Decision{Allowed: false, Reason: "restaurant has no active plan"}, nil
	}

	if status := fields["status"]; status != statusActive {
		return Decision{Allowed: false, Reason: fmt.Sprintf("plan %q is %s", fields["plan"], status)}, nil
	}

	if !hasFeature(fields["features"], feature) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("plan %q does not include %s", fields["plan"], feature)}, nil
	}
	return Decision{Allowed: true}, nil
}

func hasFeature(list, feature string) bool {
	if strings.TrimSpace(list) == "" {
		return true
	}
	for _, f := range strings.Split(list, ",") {
		if strings.TrimSpace(f) == feature {
			return true
		}
	}
	return false
}

// Require turns a deny into a ForbiddenError and counts it
func Require(ctx context.Context, gate Gate, m *metrics.Metrics, op string, venue models.Venue, feature string) error {
	decision, err := gate.Check(ctx, venue, feature)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !decision.Allowed {
		m.PlanDenied(feature)
		return apperr.Forbidden(op, decision.Reason).WithDetail("feature", feature)
	}
	return nil
}
