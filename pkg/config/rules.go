package config

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/policy"
)

// ruleCollections assembles the configured rule set: built-ins when enabled,
// the definitions loaded from rule paths, then inline definitions. Later
// entries override earlier ones of the same name.
func (c *ServiceConfig) ruleCollections(ctx context.Context, loader *policy.Loader, defs []policy.RuleDefinition) ([]policy.RuleCollection, error) {
	var collections []policy.RuleCollection
	if c.Rules.BuiltinsEnabled() {
		builtins, err := policy.NewBuiltinCollections(ctx, loader.Logger())
		if err != nil {
			return nil, err
		}
		collections = append(collections, builtins...)
	}
	collections = append(collections, loader.Build(ctx, defs)...)
	collections = append(collections, loader.Build(ctx, c.Rules.Inline)...)
	return collections, nil
}

// BuildRules loads the configured rule set into a new registry.
func (c *ServiceConfig) BuildRules(ctx context.Context, loader *policy.Loader, logger zerolog.Logger) (*policy.Registry, error) {
	defs, err := loader.LoadFromPaths(ctx, c.Rules.Paths)
	if err != nil {
		return nil, err
	}
	collections, err := c.ruleCollections(ctx, loader, defs)
	if err != nil {
		return nil, err
	}

	registry := policy.NewRegistry(logger)
	registry.Register(collections...)
	return registry, nil
}

// WatchRules reloads registry whenever a file under the rule paths changes.
// onReload, when set, is called with the outcome of every reload.
func (c *ServiceConfig) WatchRules(ctx context.Context, loader *policy.Loader, registry *policy.Registry, onReload func(error)) error {
	return loader.Watch(ctx, c.Rules.Paths, func(defs []policy.RuleDefinition) error {
		collections, err := c.ruleCollections(ctx, loader, defs)
		if err == nil {
			registry.Replace(collections)
		}
		if onReload != nil {
			onReload(err)
		}
		return err
	})
}
