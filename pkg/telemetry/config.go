package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Config is the telemetry configuration of the work order service.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path.
	Output string

	EnableCaller bool

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP collector address.
	Endpoint string

	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
	Insecure           bool
}

// MetricsConfig configures the Prometheus registry and endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
	Path          string

	// Namespace prefixes every metric name.
	Namespace string

	// DefaultHistogramBuckets are the latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the in-process event publisher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int

	// MaxBatchSize bounds how many buffered events are delivered at once.
	MaxBatchSize int

	// EnableAsync delivers events from a background goroutine instead of
	// the publishing one.
	EnableAsync bool
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "froyo-orders",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9464",
			Path:          "/metrics",
			Namespace:     "froyo_orders",
			DefaultHistogramBuckets: []float64{
				0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5,
			},
		},
		Events: EventsConfig{
			Enabled:      true,
			BufferSize:   1024,
			MaxBatchSize: 64,
			EnableAsync:  true,
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			errs = append(errs, fmt.Errorf("invalid trace exporter %q", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate %v outside [0,1]", c.Tracing.SamplingRate))
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = append(errs, errors.New("metrics listen address is required when metrics are enabled"))
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize))
	}
	return errors.Join(errs...)
}
