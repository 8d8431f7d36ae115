package policy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Names of the built-in rule collections.
const (
	RuleFreeSpace     = "free-space"
	RuleFunctionGroup = "function-group"
	RuleNotExpired    = "not-expired"
	RuleMandatory     = "mandatory"
	RuleUrgent        = "urgent"
)

// GetBuiltinRules returns the definitions of all built-in rule collections.
func GetBuiltinRules() []RuleDefinition {
	return []RuleDefinition{
		freeSpaceRule(),
		functionGroupRule(),
		notExpiredRule(),
		mandatoryRule(),
		urgentRule(),
	}
}

// BuiltinNames returns the names of the built-in rule collections.
func BuiltinNames() []string {
	defs := GetBuiltinRules()
	names := make([]string, len(defs))
	for i := range defs {
		names[i] = defs[i].Name
	}
	return names
}

// NewBuiltinCollections compiles every built-in rule.
func NewBuiltinCollections(ctx context.Context, logger zerolog.Logger) ([]RuleCollection, error) {
	defs := GetBuiltinRules()
	collections := make([]RuleCollection, 0, len(defs))
	for i := range defs {
		c, err := NewRegoCollection(ctx, &defs[i], logger)
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in rule %s: %w", defs[i].Name, err)
		}
		collections = append(collections, c)
	}
	return collections, nil
}

// freeSpaceRule requires the candidate storage to hold every remaining byte.
// Storage-dependent rules pass until a candidate backend is part of the input.
func freeSpaceRule() RuleDefinition {
	return RuleDefinition{
		Name:        RuleFreeSpace,
		Description: "Storage backend has more free bytes than the transfer still needs",
		Kind:        RuleKindRego,
		Module: `package froyo.rules.free_space

import rego.v1

default allow := false

allow if {
	not input.storage.free_bytes
}

allow if {
	input.storage.free_bytes > input.transfer.remaining_bytes
}
`,
	}
}

// functionGroupRule matches the function_group label against the storage's groups.
// Work orders without the label match any storage.
func functionGroupRule() RuleDefinition {
	return RuleDefinition{
		Name:        RuleFunctionGroup,
		Description: "Storage backend serves the work order's function group",
		Kind:        RuleKindRego,
		Module: `package froyo.rules.function_group

import rego.v1

default allow := false

allow if {
	not input.labels.function_group
}

allow if {
	not input.storage.function_groups
}

allow if {
	group := input.labels.function_group
	group in input.storage.function_groups
}
`,
	}
}

// notExpiredRule passes orders without an expiration or not yet expired.
func notExpiredRule() RuleDefinition {
	return RuleDefinition{
		Name:        RuleNotExpired,
		Description: "Work order has not passed its expiration time",
		Kind:        RuleKindRego,
		Module: `package froyo.rules.not_expired

import rego.v1

default allow := false

allow if {
	input.expiration == 0
}

allow if {
	input.expiration > input.now
}
`,
	}
}

func mandatoryRule() RuleDefinition {
	return RuleDefinition{
		Name:        RuleMandatory,
		Description: "Work order is flagged mandatory",
		Kind:        RuleKindRego,
		Conditions:  []string{"input.mandatory == true"},
	}
}

func urgentRule() RuleDefinition {
	return RuleDefinition{
		Name:        RuleUrgent,
		Description: "Work order is flagged urgent",
		Kind:        RuleKindRego,
		Conditions:  []string{"input.urgent == true"},
	}
}
