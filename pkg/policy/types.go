package policy

import (
	"fmt"
	"time"
)

// RuleKind identifies the language a rule collection is written in.
type RuleKind string

const (
	// RuleKindRego is a collection of Rego conditions or a full Rego module.
	RuleKindRego RuleKind = "rego"

	// RuleKindStarlark is a Starlark script defining evaluate(input).
	RuleKindStarlark RuleKind = "starlark"
)

// Validate checks if the rule kind is valid.
func (k RuleKind) Validate() error {
	switch k {
	case RuleKindRego, RuleKindStarlark:
		return nil
	default:
		return fmt.Errorf("invalid rule kind: %s", k)
	}
}

// RuleDefinition is the declarative form of a rule collection as stored in rule files.
type RuleDefinition struct {
	// Name is the name policies use to reference the collection.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description,omitempty"`

	// Kind selects the evaluator. Defaults to rego.
	Kind RuleKind `json:"kind,omitempty"`

	// Conditions are Rego expressions that must all hold. Ordered.
	Conditions []string `json:"conditions,omitempty"`

	// Module is a complete Rego module defining allow. Takes precedence over Conditions.
	Module string `json:"module,omitempty"`

	// Script is the Starlark source for starlark collections.
	Script string `json:"script,omitempty"`

	// Enabled controls whether the collection is registered. Defaults to true.
	Enabled *bool `json:"enabled,omitempty"`

	// Timeout bounds a single evaluation, as a Go duration string.
	Timeout string `json:"timeout,omitempty"`

	// Source is the file the definition was loaded from.
	Source string `json:"-"`

	// LoadedAt is when the definition was loaded.
	LoadedAt time.Time `json:"-"`
}

// IsEnabled reports whether the definition should be registered.
func (d *RuleDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// EvalTimeout returns the parsed timeout, or def when unset or malformed.
func (d *RuleDefinition) EvalTimeout(def time.Duration) time.Duration {
	if d.Timeout == "" {
		return def
	}
	t, err := time.ParseDuration(d.Timeout)
	if err != nil || t <= 0 {
		return def
	}
	return t
}

// Validate checks that the definition can be compiled.
func (d *RuleDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("rule definition has no name")
	}
	if d.Name == LiteralTrue || d.Name == LiteralFalse ||
		d.Name == keywordAnd || d.Name == keywordOr || d.Name == keywordNot {
		return fmt.Errorf("rule name %q is reserved", d.Name)
	}
	kind := d.Kind
	if kind == "" {
		kind = RuleKindRego
	}
	if err := kind.Validate(); err != nil {
		return err
	}
	switch kind {
	case RuleKindRego:
		if d.Module == "" && len(d.Conditions) == 0 {
			return fmt.Errorf("rego rule %s has neither module nor conditions", d.Name)
		}
	case RuleKindStarlark:
		if d.Script == "" {
			return fmt.Errorf("starlark rule %s has no script", d.Name)
		}
	}
	return nil
}

// RuleBundle is a JSON file holding several definitions.
type RuleBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Rules are the definitions in this bundle.
	Rules []RuleDefinition `json:"rules"`
}
