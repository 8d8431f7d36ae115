package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// DefaultEvalTimeout bounds a single rule evaluation.
const DefaultEvalTimeout = 2 * time.Second

// RegoCollection evaluates the allow rule of a compiled Rego module.
type RegoCollection struct {
	name    string
	pkg     string
	source  string
	query   rego.PreparedEvalQuery
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRegoCollection compiles def into a prepared query for data.<package>.allow.
func NewRegoCollection(ctx context.Context, def *RuleDefinition, logger zerolog.Logger) (*RegoCollection, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	source := def.Module
	if source == "" {
		source = buildModule(def.Name, def.Conditions)
	}

	// Parse first for a precise syntax error.
	if _, err := ast.ParseModule(def.Name, source); err != nil {
		return nil, fmt.Errorf("failed to parse rule %s: %w", def.Name, err)
	}

	pkg := extractPackageName(source)
	r := rego.New(
		rego.Module(def.Name+".rego", source),
		rego.Query(fmt.Sprintf("data.%s.allow", pkg)),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rule %s: %w", def.Name, err)
	}

	return &RegoCollection{
		name:    def.Name,
		pkg:     pkg,
		source:  source,
		query:   query,
		timeout: def.EvalTimeout(DefaultEvalTimeout),
		logger:  logger.With().Str("component", "rego-rule").Str("rule", def.Name).Logger(),
	}, nil
}

// Name implements RuleCollection.
func (c *RegoCollection) Name() string {
	return c.name
}

// Source returns the compiled module text.
func (c *RegoCollection) Source() string {
	return c.source
}

// EvaluateRuleSet implements RuleCollection. Evaluation errors and timeouts evaluate to false.
func (c *RegoCollection) EvaluateRuleSet(subject Subject) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	results, err := c.query.Eval(ctx, rego.EvalInput(inputOf(subject)))
	if err != nil {
		c.logger.Error().Err(err).Msg("Rule evaluation failed")
		return false
	}
	return results.Allowed()
}

// buildModule renders conditions as the body of a single allow rule.
func buildModule(name string, conditions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "package froyo.rules.%s\n\n", packageIdent(name))
	b.WriteString("import rego.v1\n\n")
	b.WriteString("default allow := false\n\n")
	b.WriteString("allow if {\n")
	for _, cond := range conditions {
		cond = strings.TrimSpace(cond)
		if cond == "" {
			continue
		}
		b.WriteString("\t")
		b.WriteString(cond)
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// packageIdent maps a rule name onto a valid Rego package segment.
func packageIdent(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "froyo.rules"
}
