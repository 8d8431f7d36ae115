package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewRegoCollection_Conditions(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	def := &RuleDefinition{
		Name: "big-and-urgent",
		Conditions: []string{
			"input.urgent == true",
			"input.transfer.total_bytes > 1000",
		},
	}

	c, err := NewRegoCollection(context.Background(), def, logger)
	if err != nil {
		t.Fatalf("Failed to compile rule: %v", err)
	}

	if !strings.Contains(c.Source(), "package froyo.rules.big_and_urgent") {
		t.Errorf("unexpected generated module:\n%s", c.Source())
	}

	tests := []struct {
		name    string
		subject Subject
		want    bool
	}{
		{
			name: "all conditions hold",
			subject: testSubject{
				"urgent":   true,
				"transfer": map[string]interface{}{"total_bytes": 5000},
			},
			want: true,
		},
		{
			name: "one condition fails",
			subject: testSubject{
				"urgent":   false,
				"transfer": map[string]interface{}{"total_bytes": 5000},
			},
			want: false,
		},
		{
			name:    "nil subject",
			subject: nil,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.EvaluateRuleSet(tt.subject); got != tt.want {
				t.Errorf("EvaluateRuleSet() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRegoCollection_InvalidModule(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	def := &RuleDefinition{Name: "broken", Module: "package broken\n\nallow if {"}

	if _, err := NewRegoCollection(context.Background(), def, logger); err == nil {
		t.Fatal("expected compile error for broken module")
	}
}

func TestBuiltinCollections(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	collections, err := NewBuiltinCollections(context.Background(), logger)
	if err != nil {
		t.Fatalf("Failed to compile built-ins: %v", err)
	}
	rules := NewRuleMap(collections...)

	for _, name := range BuiltinNames() {
		if _, ok := rules.Lookup(name); !ok {
			t.Errorf("built-in rule %s missing", name)
		}
	}

	candidate := func(free int64, groups ...interface{}) map[string]interface{} {
		return map[string]interface{}{
			"id":              "vsd-1",
			"free_bytes":      free,
			"function_groups": groups,
		}
	}

	tests := []struct {
		name    string
		rule    string
		subject Subject
		want    bool
	}{
		{
			name: "free space sufficient",
			rule: RuleFreeSpace,
			subject: testSubject{
				"storage":  candidate(500),
				"transfer": map[string]interface{}{"remaining_bytes": 100},
			},
			want: true,
		},
		{
			name: "free space insufficient",
			rule: RuleFreeSpace,
			subject: testSubject{
				"storage":  candidate(50),
				"transfer": map[string]interface{}{"remaining_bytes": 100},
			},
			want: false,
		},
		{
			name: "free space without candidate",
			rule: RuleFreeSpace,
			subject: testSubject{
				"storage":  map[string]interface{}{"id": ""},
				"transfer": map[string]interface{}{"remaining_bytes": 100},
			},
			want: true,
		},
		{
			name: "function group matches",
			rule: RuleFunctionGroup,
			subject: testSubject{
				"labels":  map[string]interface{}{"function_group": "media"},
				"storage": candidate(10, "apps", "media"),
			},
			want: true,
		},
		{
			name: "function group mismatch",
			rule: RuleFunctionGroup,
			subject: testSubject{
				"labels":  map[string]interface{}{"function_group": "media"},
				"storage": candidate(10, "apps"),
			},
			want: false,
		},
		{
			name: "no function group label",
			rule: RuleFunctionGroup,
			subject: testSubject{
				"labels":  map[string]interface{}{},
				"storage": candidate(10, "apps"),
			},
			want: true,
		},
		{
			name:    "not expired without expiration",
			rule:    RuleNotExpired,
			subject: testSubject{"expiration": 0, "now": 1000},
			want:    true,
		},
		{
			name:    "expired",
			rule:    RuleNotExpired,
			subject: testSubject{"expiration": 500, "now": 1000},
			want:    false,
		},
		{
			name:    "mandatory",
			rule:    RuleMandatory,
			subject: testSubject{"mandatory": true},
			want:    true,
		},
		{
			name:    "not urgent",
			rule:    RuleUrgent,
			subject: testSubject{"urgent": false},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := rules.Lookup(tt.rule)
			if got := c.EvaluateRuleSet(tt.subject); got != tt.want {
				t.Errorf("%s.EvaluateRuleSet() = %v, want %v", tt.rule, got, tt.want)
			}
		})
	}
}
