package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkCollection evaluates a Starlark script's evaluate(input) function.
type StarlarkCollection struct {
	name     string
	evaluate starlark.Callable
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewStarlarkCollection executes def.Script once and binds its evaluate function.
func NewStarlarkCollection(def *RuleDefinition, logger zerolog.Logger) (*StarlarkCollection, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	thread := newThread(def.Name)
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	globals, err := starlark.ExecFile(thread, def.Name+".star", def.Script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark rule %s failed to load: %w", def.Name, err)
	}

	fn, ok := globals["evaluate"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("starlark rule %s does not define evaluate(input)", def.Name)
	}

	return &StarlarkCollection{
		name:     def.Name,
		evaluate: fn,
		timeout:  def.EvalTimeout(DefaultEvalTimeout),
		logger:   logger.With().Str("component", "starlark-rule").Str("rule", def.Name).Logger(),
	}, nil
}

func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			// Suppress print for security
		},
	}
}

// Name implements RuleCollection.
func (c *StarlarkCollection) Name() string {
	return c.name
}

// EvaluateRuleSet implements RuleCollection. Script errors, non-bool results
// and timeouts evaluate to false.
func (c *StarlarkCollection) EvaluateRuleSet(subject Subject) bool {
	input, err := toStarlarkValue(inputOf(subject))
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to convert rule input")
		return false
	}

	thread := newThread(c.name)
	type outcome struct {
		value starlark.Value
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := starlark.Call(thread, c.evaluate, starlark.Tuple{input}, nil)
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		thread.Cancel("timeout")
		c.logger.Warn().Dur("timeout", c.timeout).Msg("Rule evaluation timed out")
		return false
	case out := <-done:
		if out.err != nil {
			c.logger.Error().Err(out.err).Msg("Rule evaluation failed")
			return false
		}
		b, ok := out.value.(starlark.Bool)
		if !ok {
			c.logger.Error().Str("type", out.value.Type()).Msg("Rule evaluate() must return a bool")
			return false
		}
		return bool(b)
	}
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			if err := dict.SetKey(starlark.String(k), starlark.String(val[k])); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
