package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset fields.
const (
	DefaultStorePath         = "workorders.db"
	DefaultSchedulerInterval = 30 * time.Second
	DefaultSchedulerWorkers  = 4
	DefaultMaxActive         = 2
	DefaultProbeTimeout      = 2 * time.Second
	DefaultCapacityTTL       = 30 * time.Second
	DefaultMetricsAddress    = ":9090"
	DefaultMetricsPath       = "/metrics"
	DefaultSFTPPort          = 22
	DefaultSFTPTimeout       = 10 * time.Second
)

// Default returns a configuration with every default applied.
func Default() *ServiceConfig {
	cfg := &ServiceConfig{}
	cfg.Storage.CapacityTTL.Duration = DefaultCapacityTTL
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a configuration file or CUE package directory. The format is
// chosen by extension: .yaml/.yml for YAML, .cue or a directory for CUE.
// Defaults are applied and the result validated.
func Load(path string) (*ServiceConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg *ServiceConfig
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case info.IsDir():
		cfg, err = NewCUEParser().ParseDirectory(path)
	case ext == ".cue":
		cfg, err = NewCUEParser().ParseFile(path)
	case ext == ".yaml" || ext == ".yml":
		cfg, err = loadYAML(path)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseYAML decodes YAML content, applies defaults and validates.
func ParseYAML(data []byte) (*ServiceConfig, error) {
	cfg, err := decodeYAML(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := decodeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAML(data []byte) (*ServiceConfig, error) {
	cfg := &ServiceConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Storage.ProbeTimeout.Duration == 0 {
		c.Storage.ProbeTimeout.Duration = DefaultProbeTimeout
	}
	for i := range c.Storage.Backends {
		sftp := c.Storage.Backends[i].SFTP
		if sftp == nil {
			continue
		}
		if sftp.Port == 0 {
			sftp.Port = DefaultSFTPPort
		}
		if sftp.Auth == "" {
			sftp.Auth = "key"
		}
		if sftp.Timeout.Duration == 0 {
			sftp.Timeout.Duration = DefaultSFTPTimeout
		}
	}
	if c.Scheduler.Interval.Duration == 0 {
		c.Scheduler.Interval.Duration = DefaultSchedulerInterval
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = DefaultSchedulerWorkers
	}
	if c.Scheduler.MaxActive == 0 {
		c.Scheduler.MaxActive = DefaultMaxActive
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = DefaultMetricsAddress
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	if c.Tracing.Enabled && c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

// Validate checks struct constraints and cross-field rules.
func (c *ServiceConfig) Validate() error {
	var errs ValidationErrors

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed on %q constraint", fe.Tag()),
			})
		}
	}

	seen := make(map[string]bool, len(c.Storage.Backends))
	for i, b := range c.Storage.Backends {
		path := fmt.Sprintf("ServiceConfig.Storage.Backends[%d]", i)
		if seen[b.ID] {
			errs = append(errs, ValidationError{Path: path + ".ID", Message: fmt.Sprintf("duplicate storage id %q", b.ID)})
		}
		seen[b.ID] = true
		if b.Kind == BackendKindSFTP && b.SFTP == nil {
			errs = append(errs, ValidationError{Path: path + ".SFTP", Message: "sftp settings are required for sftp backends"})
		}
		if b.Kind == BackendKindDir && b.SFTP != nil {
			errs = append(errs, ValidationError{Path: path + ".SFTP", Message: "sftp settings are not allowed for dir backends"})
		}
	}

	for i := range c.Rules.Inline {
		if err := c.Rules.Inline[i].Validate(); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("ServiceConfig.Rules.Inline[%d]", i),
				Message: err.Error(),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
