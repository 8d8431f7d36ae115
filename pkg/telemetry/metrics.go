package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for the work order service.
type Metrics struct {
	config MetricsConfig

	// Pass metrics
	passesTotal  *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	outcomes     *prometheus.CounterVec

	// Storage metrics
	selections       *prometheus.CounterVec
	selectDuration   *prometheus.HistogramVec
	progressResets   prometheus.Counter
	backendsSkipped  *prometheus.CounterVec

	// Policy metrics
	policyEvaluations *prometheus.CounterVec
	ruleReloads       *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// Work order metrics
	notifications *prometheus.CounterVec
	ordersByState *prometheus.GaugeVec
	activeOrders  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		passesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduling_passes_total",
				Help:      "Total number of scheduling passes",
			},
			[]string{"status"},
		),
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduling_pass_duration_seconds",
				Help:      "Duration of scheduling passes in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "work_order_outcomes_total",
				Help:      "Per work order results of scheduling passes",
			},
			[]string{"outcome"},
		),

		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_selections_total",
				Help:      "Storage selections by the step that decided them",
			},
			[]string{"step", "result"},
		),
		selectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_selection_duration_seconds",
				Help:      "Duration of storage selection in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),
		progressResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_progress_resets_total",
				Help:      "Total number of progress resets caused by a backend switch",
			},
		),
		backendsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_backend_failures_total",
				Help:      "Storage backend queries that failed or timed out",
			},
			[]string{"storage_id"},
		),

		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Total number of work order policy evaluations",
			},
			[]string{"result"},
		),
		ruleReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_rule_reloads_total",
				Help:      "Total number of rule file reloads",
			},
			[]string{"status"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by kind and code",
			},
			[]string{"kind", "code"},
		),

		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "work_order_notifications_total",
				Help:      "Total number of progress notifications",
			},
			[]string{"state"},
		),
		ordersByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "work_orders",
				Help:      "Current number of work orders by execution state",
			},
			[]string{"state"},
		),
		activeOrders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "work_orders_active",
				Help:      "Current number of active work orders",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.passesTotal,
		m.passDuration,
		m.outcomes,
		m.selections,
		m.selectDuration,
		m.progressResets,
		m.backendsSkipped,
		m.policyEvaluations,
		m.ruleReloads,
		m.errorsByKind,
		m.notifications,
		m.ordersByState,
		m.activeOrders,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordPass records a completed scheduling pass.
func (m *Metrics) RecordPass(status string, duration time.Duration) {
	if m.passesTotal == nil {
		return
	}
	m.passesTotal.WithLabelValues(status).Inc()
	m.passDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordOutcome records the result a pass produced for one work order.
func (m *Metrics) RecordOutcome(outcome string) {
	if m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// RecordSelection records a storage selection. An empty step means that no
// backend qualified.
func (m *Metrics) RecordSelection(step string, found, progressReset bool, duration time.Duration) {
	if m.selections == nil {
		return
	}
	result := "found"
	if !found {
		result = "unavailable"
		step = "none"
	}
	m.selections.WithLabelValues(step, result).Inc()
	m.selectDuration.WithLabelValues(result).Observe(duration.Seconds())
	if progressReset {
		m.progressResets.Inc()
	}
}

// RecordBackendFailure records a failed or timed out backend query.
func (m *Metrics) RecordBackendFailure(storageID string) {
	if m.backendsSkipped == nil {
		return
	}
	m.backendsSkipped.WithLabelValues(storageID).Inc()
}

// RecordPolicyEvaluation records a policy evaluation result (pass, fail, invalid).
func (m *Metrics) RecordPolicyEvaluation(result string) {
	if m.policyEvaluations == nil {
		return
	}
	m.policyEvaluations.WithLabelValues(result).Inc()
}

// RecordRuleReload records a rule file reload.
func (m *Metrics) RecordRuleReload(status string) {
	if m.ruleReloads == nil {
		return
	}
	m.ruleReloads.WithLabelValues(status).Inc()
}

// RecordError records an error by kind and numeric code.
func (m *Metrics) RecordError(kind, code string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind, code).Inc()
}

// RecordNotification records a progress notification.
func (m *Metrics) RecordNotification(state string) {
	if m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(state).Inc()
}

// SetOrdersByState replaces the per state work order gauges.
func (m *Metrics) SetOrdersByState(counts map[string]int) {
	if m.ordersByState == nil {
		return
	}
	m.ordersByState.Reset()
	for state, n := range counts {
		m.ordersByState.WithLabelValues(state).Set(float64(n))
	}
}

// SetActiveOrders sets the current number of active work orders.
func (m *Metrics) SetActiveOrders(count float64) {
	if m.activeOrders == nil {
		return
	}
	m.activeOrders.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics. The server stops
// when ctx is cancelled. It returns nil when metrics are disabled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) *http.Server {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", server.Addr).Msg("Metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server
}
