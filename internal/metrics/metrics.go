// Package metrics holds the process-wide Prometheus collectors. They are
// registered on the default registry and served by the HTTP /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stars"

// ─── Ledger ─────────────────────────────────────────────────────────────────

// LedgerTransactions counts committed ledger records by kind.
var LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "transactions_total",
	Help:      "Committed ledger records by kind.",
}, []string{"kind"})

// LedgerStars sums the stars moved by committed ledger records.
var LedgerStars = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "stars_total",
	Help:      "Stars moved by committed ledger records, by kind.",
}, []string{"kind"})

// RedemptionsDenied counts redemptions refused for lack of balance.
var RedemptionsDenied = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "redemptions_denied_total",
	Help:      "Redemptions refused because the balance was too low.",
})

// DuplicateCredits counts earn attempts absorbed by idempotency.
var DuplicateCredits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "duplicate_credits_total",
	Help:      "Earn attempts for an already credited submission.",
})

// ─── Workflows ──────────────────────────────────────────────────────────────

// Transitions counts committed workflow status changes.
var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "workflow",
	Name:      "transitions_total",
	Help:      "Committed workflow status changes.",
}, []string{"workflow", "status"})

// ─── Reports ────────────────────────────────────────────────────────────────

var ReportCache = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "report",
	Name:      "cache_requests_total",
	Help:      "Report cache lookups by result (hit, miss).",
}, []string{"result"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by method, route and status code.",
}, []string{"method", "route", "code"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})

// EventStreams tracks open Server-Sent Events connections.
var EventStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "event_streams",
	Help:      "Open change-event streams.",
})

// RateLimited counts requests refused by the per-client limiter.
var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Requests refused by the per-client rate limiter.",
})

var SuspiciousRequests = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "suspicious_requests_total",
	Help:      "Requests matching a known probing pattern.",
})

// ─── Export ─────────────────────────────────────────────────────────────────

var Exports = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "export",
	Name:      "transactions_total",
	Help:      "Ledger export attempts by result (exported, skipped, failed).",
}, []string{"result"})

var RelayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "export",
	Name:      "relay_published_total",
	Help:      "Ledger changes relayed to the message broker by result.",
}, []string{"result"})

// RecordAppend updates the ledger counters for one committed record.
func RecordAppend(kind string, stars int64) {
	LedgerTransactions.WithLabelValues(kind).Inc()
	LedgerStars.WithLabelValues(kind).Add(float64(stars))
}

// RecordTransition updates the workflow counter for one committed change.
func RecordTransition(workflow, status string) {
	Transitions.WithLabelValues(workflow, status).Inc()
}
