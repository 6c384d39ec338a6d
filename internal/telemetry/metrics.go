// Package telemetry provides application-level observability for agentdesk.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<AGENTDESK_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Chat exchanges by strategy and outcome, agent reply latency
//   - Login failures and lockouts
//   - Background job counters (thread sweep, session reaping)
//   - Database connection pool gauge (polled every DBStatsInterval)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/chat/:agent_id/messages)
// rather than the raw request URL so agent IDs never become label values.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics - labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)
)

// Chat metrics - recorded by the exchange orchestrator.
//
// ChatExchangesTotal has labels {strategy, outcome}. strategy is webhook, assistant
// or none; outcome is one of replied, fallback, stale.
//
// Example PromQL queries:
//   - Fallback ratio:  sum(rate(chat_exchanges_total{outcome="fallback"}[15m])) / sum(rate(chat_exchanges_total[15m]))
//
// AgentReplyDuration measures the time spent waiting on the webhook or the
// assistant run, by strategy. The upper buckets cover the 30-attempt poll budget.
var (
	ChatExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_exchanges_total",
			Help: "Total number of chat exchanges, by reply strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	AgentReplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_reply_duration_seconds",
			Help:    "Time spent waiting for an agent reply, by strategy.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"strategy"},
	)

	ChatRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rejected_total",
			Help: "Total number of chat submissions rejected before dispatch, by reason.",
		},
		[]string{"reason"},
	)
)

// Authentication metrics.
//
// LoginFailuresTotal counts rejected login attempts; LoginLockoutsTotal counts the
// transitions into the locked state. An alert on a sudden rise of lockouts is a
// useful credential-stuffing signal.
var (
	LoginFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "login_failures_total",
			Help: "Total number of failed login attempts.",
		},
	)

	LoginLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "login_lockouts_total",
			Help: "Total number of accounts locked after repeated login failures.",
		},
	)
)

// Background job metrics.
var (
	ThreadsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threads_expired_total",
			Help: "Total number of conversation threads deactivated by the expiry sweep.",
		},
	)

	SessionsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_reaped_total",
			Help: "Total number of stale session records deleted.",
		},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// DBStatsInterval is how often StartDBStatsCollector samples the pool.
const DBStatsInterval = 30 * time.Second

// StartDBStatsCollector samples pool statistics every interval until ctx is
// cancelled or the database stops answering pings.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sampleDBStats(ctx, db); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
			}
		}
	}()
}

func sampleDBStats(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	DBOpenConnections.Set(float64(db.Stats().OpenConnections))
	return nil
}
