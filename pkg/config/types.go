package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/workorders/pkg/policy"
)

// Backend kinds.
const (
	BackendKindDir  = "dir"
	BackendKindSFTP = "sftp"
)

// ServiceConfig is the configuration of the work order service.
type ServiceConfig struct {
	// Environment names the deployment (dev, staging, prod).
	Environment string `json:"environment" yaml:"environment"`

	// Logging configures structured logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Store configures work order persistence.
	Store StoreConfig `json:"store" yaml:"store"`

	// Rules configures rule collection loading.
	Rules RulesConfig `json:"rules" yaml:"rules"`

	// Storage lists the storage backends and probe settings.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Scheduler configures scheduling passes.
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format is console or json.
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `json:"output" yaml:"output"`

	// Caller adds file:line to log lines.
	Caller bool `json:"caller" yaml:"caller"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file, ":memory:" for a private in-memory database.
	Path string `json:"path" yaml:"path" validate:"required"`

	// MaxOpenConns caps open connections.
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns" validate:"min=0"`
}

// RulesConfig configures where rule collections come from.
type RulesConfig struct {
	// Paths are files or directories of .rego, .star and .json rule definitions.
	Paths []string `json:"paths" yaml:"paths" validate:"dive,required"`

	// Watch reloads rule files when they change.
	Watch bool `json:"watch" yaml:"watch"`

	// Builtins registers the built-in rule collections.
	Builtins *bool `json:"builtins,omitempty" yaml:"builtins,omitempty"`

	// Inline are rule definitions embedded in the configuration.
	Inline []policy.RuleDefinition `json:"inline,omitempty" yaml:"inline,omitempty"`
}

// BuiltinsEnabled reports whether built-in rule collections are registered. Defaults to true.
func (r RulesConfig) BuiltinsEnabled() bool {
	return r.Builtins == nil || *r.Builtins
}

// StorageConfig lists storage backends in selection order.
type StorageConfig struct {
	// Backends are registered in order; the order drives capacity fallback.
	Backends []BackendConfig `json:"backends" yaml:"backends" validate:"dive"`

	// ProbeTimeout bounds every backend query.
	ProbeTimeout Duration `json:"probe_timeout" yaml:"probe_timeout"`

	// CapacityTTL is how long free capacity readings are cached; 0 disables the cache.
	CapacityTTL Duration `json:"capacity_ttl" yaml:"capacity_ttl"`

	// Requirements are the rule collections every capacity candidate must pass.
	Requirements []string `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// BackendConfig describes one storage backend.
type BackendConfig struct {
	// ID is the storage id recorded on work orders.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Kind is dir or sftp.
	Kind string `json:"kind" yaml:"kind" validate:"required,oneof=dir sftp"`

	// Path is the root directory of a dir backend, or the remote root of an sftp backend.
	Path string `json:"path" yaml:"path" validate:"required"`

	// QuotaBytes caps the free capacity a dir backend reports.
	QuotaBytes int64 `json:"quota_bytes,omitempty" yaml:"quota_bytes,omitempty" validate:"min=0"`

	// FunctionGroups restricts the backend to work orders of these groups.
	FunctionGroups []string `json:"function_groups,omitempty" yaml:"function_groups,omitempty"`

	// SFTP holds the connection settings of an sftp backend.
	SFTP *SFTPConfig `json:"sftp,omitempty" yaml:"sftp,omitempty"`
}

// SFTPConfig holds the connection settings of an sftp backend.
type SFTPConfig struct {
	Host           string   `json:"host" yaml:"host" validate:"required"`
	Port           int      `json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	User           string   `json:"user" yaml:"user" validate:"required"`
	Auth           string   `json:"auth" yaml:"auth" validate:"omitempty,oneof=password key"`
	Password       string   `json:"password,omitempty" yaml:"password,omitempty"`
	KeyPath        string   `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	KeyPassphrase  string   `json:"key_passphrase,omitempty" yaml:"key_passphrase,omitempty"`
	KnownHostsPath string   `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`
	Timeout        Duration `json:"timeout" yaml:"timeout"`
}

// SchedulerConfig configures scheduling passes.
type SchedulerConfig struct {
	// Interval is the time between passes in serve mode.
	Interval Duration `json:"interval" yaml:"interval"`

	// Workers is the size of the evaluation worker pool.
	Workers int `json:"workers" yaml:"workers" validate:"min=0"`

	// MaxActive caps the number of ACTIVE work orders.
	MaxActive int `json:"max_active" yaml:"max_active" validate:"min=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ListenAddress string `json:"listen_address" yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `json:"path" yaml:"path"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Exporter     string  `json:"exporter" yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint" yaml:"endpoint"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `json:"insecure" yaml:"insecure"`
}

// ValidationError represents a configuration error with its location.
type ValidationError struct {
	// File is the file where the error occurred.
	File string `json:"file,omitempty"`

	// Line is the line number where the error occurred.
	Line int `json:"line,omitempty"`

	// Column is the column number where the error occurred.
	Column int `json:"column,omitempty"`

	// Path is the field path that failed.
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// ValidationErrors is a list of configuration errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more errors)", errs[0].Error(), len(errs)-1)
	}
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

// String returns the duration string.
func (d Duration) String() string {
	return d.Duration.String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	d.Duration = time.Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}
