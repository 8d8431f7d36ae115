package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/workorders/pkg/policy"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, DefaultStorePath, cfg.Store.Path)
	assert.Equal(t, DefaultSchedulerInterval, cfg.Scheduler.Interval.Duration)
	assert.Equal(t, DefaultMaxActive, cfg.Scheduler.MaxActive)
	assert.Equal(t, DefaultCapacityTTL, cfg.Storage.CapacityTTL.Duration)
	assert.True(t, cfg.Rules.BuiltinsEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "service.yaml", `
environment: test
logging:
  level: debug
  format: json
store:
  path: /tmp/orders.db
rules:
  paths: [/etc/rules]
  watch: true
  inline:
    - name: wifi
      conditions: ['input.labels.network == "wifi"']
storage:
  probe_timeout: 500ms
  capacity_ttl: 1m
  backends:
    - id: internal
      kind: dir
      path: /data/internal
      function_groups: [maps]
    - id: nas
      kind: sftp
      path: /export/content
      sftp:
        host: nas.local
        user: froyo
scheduler:
  interval: 15s
  workers: 8
  max_active: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/orders.db", cfg.Store.Path)
	assert.True(t, cfg.Rules.Watch)
	require.Len(t, cfg.Rules.Inline, 1)
	assert.Equal(t, "wifi", cfg.Rules.Inline[0].Name)
	assert.Equal(t, 500*time.Millisecond, cfg.Storage.ProbeTimeout.Duration)
	assert.Equal(t, time.Minute, cfg.Storage.CapacityTTL.Duration)
	require.Len(t, cfg.Storage.Backends, 2)
	assert.Equal(t, []string{"maps"}, cfg.Storage.Backends[0].FunctionGroups)
	require.NotNil(t, cfg.Storage.Backends[1].SFTP)
	assert.Equal(t, DefaultSFTPPort, cfg.Storage.Backends[1].SFTP.Port)
	assert.Equal(t, "key", cfg.Storage.Backends[1].SFTP.Auth)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Interval.Duration)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Scheduler.MaxActive)
}

func TestLoad_YAMLUnknownField(t *testing.T) {
	path := writeFile(t, t.TempDir(), "service.yml", "schedular:\n  workers: 2\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_CUE(t *testing.T) {
	path := writeFile(t, t.TempDir(), "service.cue", `
store: path: "/var/lib/orders.db"
storage: {
	capacity_ttl: "10s"
	backends: [{
		id:   "internal"
		kind: "dir"
		path: "/data"
		quota_bytes: 1048576
	}]
}
scheduler: max_active: 1
metrics: enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/orders.db", cfg.Store.Path)
	require.Len(t, cfg.Storage.Backends, 1)
	assert.Equal(t, int64(1048576), cfg.Storage.Backends[0].QuotaBytes)
	assert.Equal(t, 10*time.Second, cfg.Storage.CapacityTTL.Duration)
	assert.Equal(t, 1, cfg.Scheduler.MaxActive)
	assert.Equal(t, DefaultMetricsAddress, cfg.Metrics.ListenAddress)
}

func TestLoad_CUESchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend kind", `storage: backends: [{id: "x", kind: "s3", path: "/"}]`},
		{"sftp without settings", `storage: backends: [{id: "x", kind: "sftp", path: "/"}]`},
		{"bad duration", `scheduler: interval: "soon"`},
		{"unknown section", `schedular: workers: 2`},
		{"negative workers", `scheduler: workers: -1`},
		{"syntax error", `store: {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "service.cue", tt.content)
			_, err := Load(path)
			require.Error(t, err)

			var verrs ValidationErrors
			assert.ErrorAs(t, err, &verrs)
		})
	}
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, t.TempDir(), "service.toml", "")
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServiceConfig)
		wantErr bool
	}{
		{"defaults", func(*ServiceConfig) {}, false},
		{"bad log level", func(c *ServiceConfig) { c.Logging.Level = "loud" }, true},
		{"duplicate backend", func(c *ServiceConfig) {
			c.Storage.Backends = []BackendConfig{
				{ID: "a", Kind: BackendKindDir, Path: "/a"},
				{ID: "a", Kind: BackendKindDir, Path: "/b"},
			}
		}, true},
		{"sftp without settings", func(c *ServiceConfig) {
			c.Storage.Backends = []BackendConfig{{ID: "a", Kind: BackendKindSFTP, Path: "/"}}
		}, true},
		{"sftp settings on dir", func(c *ServiceConfig) {
			c.Storage.Backends = []BackendConfig{{ID: "a", Kind: BackendKindDir, Path: "/", SFTP: &SFTPConfig{Host: "h", User: "u"}}}
		}, true},
		{"sftp missing host", func(c *ServiceConfig) {
			c.Storage.Backends = []BackendConfig{{ID: "a", Kind: BackendKindSFTP, Path: "/", SFTP: &SFTPConfig{User: "u"}}}
		}, true},
		{"sampling rate out of range", func(c *ServiceConfig) { c.Tracing.SamplingRate = 2 }, true},
		{"reserved inline rule name", func(c *ServiceConfig) {
			c.Rules.Inline = []policy.RuleDefinition{{Name: "and", Conditions: []string{"true"}}}
		}, true},
		{"inline rule", func(c *ServiceConfig) {
			c.Rules.Inline = []policy.RuleDefinition{{Name: "wifi", Conditions: []string{`input.labels.network == "wifi"`}}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backends = []BackendConfig{
		{ID: "first", Kind: BackendKindDir, Path: t.TempDir(), QuotaBytes: 1024},
		{ID: "second", Kind: BackendKindDir, Path: t.TempDir(), FunctionGroups: []string{"maps"}},
	}

	registry, err := cfg.BuildRegistry(zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, registry.IDs())

	entries := registry.Entries()
	assert.Equal(t, []string{"maps"}, entries[1].FunctionGroups())
}

func TestTelemetryConfig(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "debug"
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddress = ":9999"

	tc := cfg.TelemetryConfig("1.2.3")
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.Equal(t, "debug", tc.Logging.Level)
	assert.Equal(t, ":9999", tc.Metrics.ListenAddress)
	require.NoError(t, tc.Validate())
}

func TestProbeOptions(t *testing.T) {
	cfg := Default()
	cfg.Storage.ProbeTimeout.Duration = 750 * time.Millisecond

	opts := cfg.ProbeOptions(nil)
	assert.Equal(t, 750*time.Millisecond, opts.Timeout)
	assert.Equal(t, DefaultCapacityTTL, opts.CapacityTTL)
	assert.Nil(t, opts.OnFailure)

	opts = cfg.ProbeOptions(telemetry.NopTelemetry().Metrics)
	require.NotNil(t, opts.OnFailure)
	assert.NotPanics(t, func() { opts.OnFailure("sd", "free_capacity", assert.AnError) })
}

func TestDurationUnmarshalJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, time.Microsecond, d.Duration)

	assert.Error(t, d.UnmarshalJSON([]byte(`"later"`)))
}

func TestBuildRules(t *testing.T) {
	ctx := context.Background()
	inline := []policy.RuleDefinition{{Name: "wifi", Conditions: []string{`input.labels.network == "wifi"`}}}

	cfg := Default()
	cfg.Rules.Inline = inline
	registry, err := cfg.BuildRules(ctx, policy.NewLoader(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	_, ok := registry.Lookup("wifi")
	assert.True(t, ok)
	for _, name := range policy.BuiltinNames() {
		_, ok := registry.Lookup(name)
		assert.True(t, ok, name)
	}

	disabled := false
	cfg = Default()
	cfg.Rules.Builtins = &disabled
	cfg.Rules.Inline = inline
	registry, err = cfg.BuildRules(ctx, policy.NewLoader(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"wifi"}, registry.Names())
}

func TestBuildRules_MissingPath(t *testing.T) {
	cfg := Default()
	cfg.Rules.Paths = []string{filepath.Join(t.TempDir(), "missing")}

	_, err := cfg.BuildRules(context.Background(), policy.NewLoader(zerolog.Nop()), zerolog.Nop())
	assert.Error(t, err)
}
