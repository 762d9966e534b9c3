package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics provides Prometheus metrics for lane runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Lane metrics
	lanesExecuted *prometheus.CounterVec
	laneDuration  *prometheus.HistogramVec
	laneTimeouts  *prometheus.CounterVec
	lanesSkipped  *prometheus.CounterVec

	// Artifact metrics
	artifacts *prometheus.CounterVec

	// Error metrics
	configErrors *prometheus.CounterVec

	// System metrics
	activeLanes prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"trigger"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Lane metrics
		lanesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lanes_executed_total",
				Help:      "Total number of lanes executed",
			},
			[]string{"lane", "outcome"},
		),
		laneDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lane_duration_seconds",
				Help:      "Duration of lane execution in seconds",
				Buckets:   buckets,
			},
			[]string{"lane"},
		),
		laneTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lane_timeouts_total",
				Help:      "Total number of lanes stopped at their timeout",
			},
			[]string{"lane"},
		),
		lanesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lanes_skipped_total",
				Help:      "Total number of lanes not executed",
			},
			[]string{"lane", "reason"},
		),

		// Artifact metrics
		artifacts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_total",
				Help:      "Total number of lane reports collected",
			},
			[]string{"lane", "uploaded"},
		),

		// Error metrics
		configErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "configuration_errors_total",
				Help:      "Total number of runs rejected before any lane started",
			},
			[]string{"code"},
		),

		// System metrics
		activeLanes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_lanes",
				Help:      "Current number of running lanes",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.lanesExecuted,
		m.laneDuration,
		m.laneTimeouts,
		m.lanesSkipped,
		m.artifacts,
		m.configErrors,
		m.activeLanes,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(trigger string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(trigger).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Lane Metrics

// RecordLaneStarted marks a lane as running.
func (m *Metrics) RecordLaneStarted() {
	if m.activeLanes == nil {
		return
	}
	m.activeLanes.Inc()
}

// RecordLaneExecution records a finished lane with its outcome and duration.
func (m *Metrics) RecordLaneExecution(lane, outcome string, duration time.Duration) {
	if m.lanesExecuted == nil {
		return
	}
	m.activeLanes.Dec()
	m.lanesExecuted.WithLabelValues(lane, outcome).Inc()
	m.laneDuration.WithLabelValues(lane).Observe(duration.Seconds())
	if outcome == "timed_out" {
		m.laneTimeouts.WithLabelValues(lane).Inc()
	}
}

// RecordLaneSkipped records a lane that was disabled or cancelled.
func (m *Metrics) RecordLaneSkipped(lane, reason string) {
	if m.lanesSkipped == nil {
		return
	}
	m.lanesSkipped.WithLabelValues(lane, reason).Inc()
}

// Artifact Metrics

// RecordArtifact records a collected lane report.
func (m *Metrics) RecordArtifact(lane string, uploaded bool) {
	if m.artifacts == nil {
		return
	}
	m.artifacts.WithLabelValues(lane, strconv.FormatBool(uploaded)).Inc()
}

// Error Metrics

// RecordConfigurationError records a rejected run by error code.
func (m *Metrics) RecordConfigurationError(code string) {
	if m.configErrors == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.configErrors.WithLabelValues(code).Inc()
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends all metrics to a Prometheus Pushgateway. A lanekeeper process
// ends with its run, so metrics are pushed rather than scraped. groupings
// are added as grouping labels.
func (m *Metrics) Push(ctx context.Context, url, job string, groupings map[string]string) error {
	if m.registry == nil || url == "" {
		return nil
	}
	if job == "" {
		job = m.config.Job
	}

	pusher := push.New(url, job).Gatherer(m.registry)
	for k, v := range groupings {
		pusher = pusher.Grouping(k, v)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
