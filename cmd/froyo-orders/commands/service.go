package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/config"
	"github.com/openfroyo/workorders/pkg/policy"
	"github.com/openfroyo/workorders/pkg/scheduler"
	"github.com/openfroyo/workorders/pkg/storage"
	"github.com/openfroyo/workorders/pkg/stores"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// service wires the configured components together.
type service struct {
	cfg       *config.ServiceConfig
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	store     *stores.SQLiteStore
	loader    *policy.Loader
	rules     *policy.Registry
	manager   *scheduler.Manager
	scheduler *scheduler.Scheduler
}

// loadConfig reads --config, or the defaults, and applies global flag overrides.
func loadConfig() (*config.ServiceConfig, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openService builds telemetry, opens and migrates the store, loads rules and
// builds the storage registry and scheduler.
func openService(ctx context.Context, cfg *config.ServiceConfig) (*service, error) {
	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	tel.LogEvents()
	logger := tel.Logger.Zerolog()

	svc := &service{
		cfg:       cfg,
		telemetry: tel,
		logger:    logger,
		loader:    policy.NewLoader(logger),
	}

	store, err := stores.NewSQLiteStore(cfg.StoreConfig(), logger)
	if err != nil {
		svc.Close(ctx)
		return nil, err
	}
	svc.store = store
	if err := store.Init(ctx); err != nil {
		svc.Close(ctx)
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		svc.Close(ctx)
		return nil, err
	}

	rules, err := cfg.BuildRules(ctx, svc.loader, logger)
	if err != nil {
		svc.Close(ctx)
		return nil, err
	}
	svc.rules = rules

	registry, err := cfg.BuildRegistry(logger)
	if err != nil {
		svc.Close(ctx)
		return nil, err
	}
	svc.manager = scheduler.NewManager(registry, store, tel)

	opts := []storage.SelectorOption{
		storage.WithRules(rules),
		storage.WithProber(storage.NewProber(cfg.ProbeOptions(tel.Metrics), logger)),
	}
	if len(cfg.Storage.Requirements) > 0 {
		opts = append(opts, storage.WithRequirements(cfg.Storage.Requirements...))
	}
	selector := storage.NewSelector(registry, logger, opts...)

	svc.scheduler = scheduler.New(selector, rules, svc.manager, tel, scheduler.Options{
		Workers:   cfg.Scheduler.Workers,
		MaxActive: cfg.Scheduler.MaxActive,
	})
	return svc, nil
}

// Close releases the store, the rule watcher and telemetry.
func (s *service) Close(ctx context.Context) {
	if s.loader != nil {
		_ = s.loader.StopWatching()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

func withService(ctx context.Context, fn func(*service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())
	return fn(svc)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid work order id %q", arg)
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
