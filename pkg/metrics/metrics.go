// Package metrics exposes Prometheus metrics for connector requests and sync
// cycles.
//
// # Overview
//
// All metrics are registered on the default registry through promauto and
// are served by the worker command on /metrics.
//
// # Basic Usage
//
//	// Count a vendor request
//	metrics.ConnectorRequests.WithLabelValues("zendesk", "200").Inc()
//
//	// Time a sync cycle
//	timer := metrics.NewTimer()
//	stats := engine.RunSyncCycle(ctx, "zendesk", opts)
//	metrics.ObserveCycle("zendesk", stats.Error == "", timer.Stop())
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectorRequests counts HTTP requests sent to vendor APIs.
	// Labels: source, status (HTTP status code or "error" for transport failures)
	ConnectorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliaas_connector_requests_total",
			Help: "Total number of HTTP requests sent to vendor APIs",
		},
		[]string{"source", "status"},
	)

	// ConnectorRetries counts retry pauses taken by the connector client.
	// Labels: source, reason (rate_limit/network)
	ConnectorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliaas_connector_retries_total",
			Help: "Total number of retries after rate limiting or transport failures",
		},
		[]string{"source", "reason"},
	)

	// ConnectorRequestLatency tracks the round trip of a single HTTP attempt.
	ConnectorRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cliaas_connector_request_duration_seconds",
			Help:    "Duration of individual vendor HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// SyncCycles counts completed sync cycles.
	// Labels: connector, outcome (success/soft_failure/error)
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliaas_sync_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"connector", "outcome"},
	)

	// SyncCycleDuration tracks how long sync cycles take.
	SyncCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cliaas_sync_cycle_duration_seconds",
			Help: "Duration of sync cycles",
			Buckets: []float64{
				0.1, // trivial incremental cycles
				1,
				5,
				30,
				60,
				300, // large backfills
				1800,
			},
		},
		[]string{"connector"},
	)

	// SyncRecords counts records handed to the store.
	// Labels: connector, kind (ticket/message)
	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliaas_sync_records_total",
			Help: "Total number of records upserted by sync cycles",
		},
		[]string{"connector", "kind"},
	)

	// WorkersRunning reports running sync workers.
	WorkersRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cliaas_sync_workers_running",
			Help: "Number of running sync workers",
		},
		[]string{"connector"},
	)
)

// Cycle outcomes used as the SyncCycles outcome label.
const (
	OutcomeSuccess     = "success"
	OutcomeSoftFailure = "soft_failure"
	OutcomeError       = "error"
)

// ObserveRequest records one HTTP attempt. A zero status means a transport failure.
func ObserveRequest(source string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	ConnectorRequests.WithLabelValues(source, label).Inc()
	ConnectorRequestLatency.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveCycle records one finished sync cycle.
func ObserveCycle(connector, outcome string, d time.Duration) {
	SyncCycles.WithLabelValues(connector, outcome).Inc()
	SyncCycleDuration.WithLabelValues(connector).Observe(d.Seconds())
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
