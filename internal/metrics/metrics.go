// Package metrics provides Prometheus instrumentation for the marketplace.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stubmarket",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stubmarket",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OrdersTotal counts order state outcomes by status
	// (payment_pending, payment_completed, cancelled, refunded).
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stubmarket",
			Name:      "orders_total",
			Help:      "Total order transitions by resulting status.",
		},
		[]string{"status"},
	)

	// PaymentIntentsTotal counts payment intent creation attempts by result
	// (created, gateway_error, compensated).
	PaymentIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stubmarket",
			Name:      "payment_intents_total",
			Help:      "Total payment intent creation attempts by result.",
		},
		[]string{"result"},
	)

	// RefundsTotal counts refunds by result (succeeded, failed).
	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stubmarket",
			Name:      "refunds_total",
			Help:      "Total refunds by result.",
		},
		[]string{"result"},
	)

	// WebhookEventsTotal counts inbound webhook events by type and result
	// (applied, duplicate, rejected_ip, rejected_signature, rejected_stale, error).
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stubmarket",
			Name:      "webhook_events_total",
			Help:      "Total inbound webhook events by type and result.",
		},
		[]string{"type", "result"},
	)

	// ReservationsTotal counts listing reservation operations by result
	// (reserved, released, finalized, reopened, expired).
	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stubmarket",
			Name:      "reservations_total",
			Help:      "Total listing reservation operations by result.",
		},
		[]string{"result"},
	)

	// PlatformFeeCents accumulates platform fees on completed orders.
	PlatformFeeCents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stubmarket",
			Name:      "platform_fee_cents_total",
			Help:      "Cumulative platform fees in cents on completed orders.",
		},
	)

	// SweepRunsTotal counts reconciliation sweep runs.
	SweepRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stubmarket",
		Name:      "sweep_runs_total",
		Help:      "Total reconciliation sweep runs.",
	})

	// SweepReleasedTotal counts reservations released by the sweep.
	SweepReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stubmarket",
		Name:      "sweep_released_total",
		Help:      "Total expired reservations released by the reconciliation sweep.",
	})

	// SweepStaleDraftsTotal counts abandoned draft orders cleaned by the sweep.
	SweepStaleDraftsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stubmarket",
		Name:      "sweep_stale_drafts_total",
		Help:      "Total abandoned draft orders removed by the reconciliation sweep.",
	})

	// CheckoutDuration observes time from intent creation to payment completion.
	CheckoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stubmarket",
		Name:      "checkout_duration_seconds",
		Help:      "Time from payment intent creation to completion in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stubmarket", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stubmarket", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stubmarket", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stubmarket", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stubmarket", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stubmarket", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OrdersTotal,
		PaymentIntentsTotal,
		RefundsTotal,
		WebhookEventsTotal,
		ReservationsTotal,
		PlatformFeeCents,
		SweepRunsTotal,
		SweepReleasedTotal,
		SweepStaleDraftsTotal,
		CheckoutDuration,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
