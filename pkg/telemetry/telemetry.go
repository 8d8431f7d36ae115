package telemetry

import (
	"context"
	"errors"
	"net/http"
)

// Telemetry bundles the logger, tracer, metrics and event publisher of the
// service. Every member is safe to use when its feature is disabled.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{Config: cfg}
	var err error
	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, err
	}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		_ = t.Events.Shutdown(context.Background())
		return nil, err
	}
	return t, nil
}

// NopTelemetry returns a bundle that records nothing.
func NopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	cfg.Tracing.Enabled = false

	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  Nop(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// LogEvents subscribes a log sink for every published event. Info events are
// logged at debug level so that they do not repeat the scheduler's own lines.
func (t *Telemetry) LogEvents() {
	t.Events.Subscribe(LogSink(t.Logger.NewComponentLogger("events")), nil)
}

// StartMetricsServer serves the metrics endpoint until ctx is done. It
// returns nil when metrics are disabled.
func (t *Telemetry) StartMetricsServer(ctx context.Context) *http.Server {
	return t.Metrics.StartMetricsServer(ctx, t.Logger.NewComponentLogger("metrics").Zerolog())
}

// Shutdown drains the event publisher and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}
