// Package metrics exposes HTTP and domain counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of the service on its own registry.
// All record methods are safe on a nil receiver.
type Metrics struct {
	ServiceName string
	Registry    *prometheus.Registry

	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	statusCategory  *prometheus.CounterVec

	itemsAdded          prometheus.Counter
	settlements         *prometheus.CounterVec
	settleDuration      prometheus.Histogram
	integrityRejections *prometheus.CounterVec
	txRetries           *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	planDenials         *prometheus.CounterVec
}

func New(serviceName string) *Metrics {
	m := &Metrics{
		ServiceName: serviceName,
		Registry:    prometheus.NewRegistry(),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method", "path", "status"},
		),
		statusCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_status_category_total",
				Help: "Total number of responses by status category (2xx, 4xx, 5xx)",
			},
			[]string{"service", "category"},
		),
		itemsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_order_lines_added_total",
			Help: "Order lines appended to open tabs",
		}),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pos_settlements_total",
				Help: "Settlement attempts by outcome",
			},
			[]string{"result"},
		),
		settleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pos_settlement_duration_seconds",
			Help:    "Time spent inside the settlement transaction",
			Buckets: prometheus.DefBuckets,
		}),
		integrityRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pos_integrity_rejections_total",
				Help: "Writes rejected by the integrity guard",
			},
			[]string{"rule"},
		),
		txRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pos_tx_retries_total",
				Help: "Transactions retried after serialization or deadlock failures",
			},
			[]string{"operation"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pos_notifications_total",
				Help: "Post-commit notifications by outcome",
			},
			[]string{"result"},
		),
		planDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pos_plan_denials_total",
				Help: "Mutations refused by the plan gate",
			},
			[]string{"feature"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestCounter,
		m.requestDuration,
		m.statusCategory,
		m.itemsAdded,
		m.settlements,
		m.settleDuration,
		m.integrityRejections,
		m.txRetries,
		m.notifications,
		m.planDenials,
	)
	return m
}

// Middleware records request counts and durations
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			method := c.Request().Method
			path := c.Path()
			statusStr := strconv.Itoa(status)

			m.requestCounter.WithLabelValues(m.ServiceName, method, path, statusStr).Inc()
			m.requestDuration.WithLabelValues(m.ServiceName, method, path, statusStr).Observe(time.Since(start).Seconds())
			if category := statusCategory(status); category != "" {
				m.statusCategory.WithLabelValues(m.ServiceName, category).Inc()
			}

			return nil
		}
	}
}

func statusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	}
	return ""
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LinesAdded(n int) {
	if m == nil {
		return
	}
	m.itemsAdded.Add(float64(n))
}

func (m *Metrics) Settlement(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(result).Inc()
	m.settleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) IntegrityRejected(rule string) {
	if m == nil {
		return
	}
	m.integrityRejections.WithLabelValues(rule).Inc()
}

func (m *Metrics) TxRetried(operation string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(operation).Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) PlanDenied(feature string) {
	if m == nil {
		return
	}
	m.planDenials.WithLabelValues(feature).Inc()
}
