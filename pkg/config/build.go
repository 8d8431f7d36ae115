package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/storage"
	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// TelemetryConfig maps the service configuration onto a telemetry configuration.
func (c *ServiceConfig) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}
	tc.Environment = c.Environment

	tc.Logging.Level = c.Logging.Level
	tc.Logging.Format = c.Logging.Format
	tc.Logging.Output = c.Logging.Output
	tc.Logging.EnableCaller = c.Logging.Caller

	tc.Metrics.Enabled = c.Metrics.Enabled
	if c.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	}
	tc.Metrics.Path = c.Metrics.Path

	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	if c.Tracing.SamplingRate > 0 {
		tc.Tracing.SamplingRate = c.Tracing.SamplingRate
	}
	tc.Tracing.Insecure = c.Tracing.Insecure
	return tc
}

// StoreConfig returns the SQLite store configuration.
func (c *ServiceConfig) StoreConfig() stores.Config {
	return stores.Config{
		Path:         c.Store.Path,
		MaxOpenConns: c.Store.MaxOpenConns,
	}
}

// ProbeOptions returns the storage probe configuration. Failed backend
// queries are counted on metrics when it is non-nil.
func (c *ServiceConfig) ProbeOptions(metrics *telemetry.Metrics) storage.ProbeOptions {
	opts := storage.DefaultProbeOptions()
	opts.Timeout = c.Storage.ProbeTimeout.Duration
	opts.CapacityTTL = c.Storage.CapacityTTL.Duration
	if metrics != nil {
		opts.OnFailure = func(storageID, _ string, _ error) {
			metrics.RecordBackendFailure(storageID)
		}
	}
	return opts
}

// BuildBackend creates the storage backend described by b.
func BuildBackend(b BackendConfig, logger zerolog.Logger) (storage.Backend, error) {
	switch b.Kind {
	case BackendKindDir:
		dir, err := storage.NewDirBackend(b.Path, b.FunctionGroups...)
		if err != nil {
			return nil, err
		}
		dir.QuotaBytes = b.QuotaBytes
		return dir, nil
	case BackendKindSFTP:
		if b.SFTP == nil {
			return nil, fmt.Errorf("storage %s: sftp settings are required", b.ID)
		}
		return storage.NewSFTPBackend(storage.SFTPConfig{
			Host:                 b.SFTP.Host,
			Port:                 b.SFTP.Port,
			User:                 b.SFTP.User,
			AuthMethod:           storage.AuthMethod(b.SFTP.Auth),
			Password:             b.SFTP.Password,
			PrivateKeyPath:       b.SFTP.KeyPath,
			PrivateKeyPassphrase: b.SFTP.KeyPassphrase,
			KnownHostsPath:       b.SFTP.KnownHostsPath,
			Root:                 b.Path,
			ConnectionTimeout:    b.SFTP.Timeout.Duration,
		}, b.FunctionGroups, logger)
	default:
		return nil, fmt.Errorf("storage %s: unknown backend kind %q", b.ID, b.Kind)
	}
}

// BuildRegistry registers every configured backend in configuration order.
func (c *ServiceConfig) BuildRegistry(logger zerolog.Logger) (*storage.Registry, error) {
	registry := storage.NewRegistry()
	for _, b := range c.Storage.Backends {
		backend, err := BuildBackend(b, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(b.ID, backend); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
