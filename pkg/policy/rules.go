package policy

import (
	"sort"
)

// Subject is anything a policy can be evaluated against.
// A nil Subject is legal and yields an empty input document.
type Subject interface {
	PolicyInput() map[string]interface{}
}

// RuleCollection is a named predicate over a subject's current conditions.
type RuleCollection interface {
	// Name returns the name policies use to reference the collection.
	Name() string

	// EvaluateRuleSet reports whether every condition of the collection holds.
	EvaluateRuleSet(subject Subject) bool
}

// Rules resolves rule names at parse time.
type Rules interface {
	// Lookup returns the collection registered under name.
	Lookup(name string) (RuleCollection, bool)

	// Names returns every registered name.
	Names() []string
}

// RuleMap is a fixed name to collection mapping.
type RuleMap map[string]RuleCollection

// NewRuleMap indexes collections by their names.
func NewRuleMap(collections ...RuleCollection) RuleMap {
	m := make(RuleMap, len(collections))
	for _, c := range collections {
		m[c.Name()] = c
	}
	return m
}

// Lookup implements Rules.
func (m RuleMap) Lookup(name string) (RuleCollection, bool) {
	c, ok := m[name]
	return c, ok
}

// Names implements Rules. Names are returned sorted.
func (m RuleMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FuncCollection adapts a plain function to RuleCollection.
type FuncCollection struct {
	name string
	fn   func(Subject) bool
}

// NewFuncCollection creates a collection backed by fn.
func NewFuncCollection(name string, fn func(Subject) bool) *FuncCollection {
	return &FuncCollection{name: name, fn: fn}
}

// Name implements RuleCollection.
func (f *FuncCollection) Name() string {
	return f.name
}

// EvaluateRuleSet implements RuleCollection.
func (f *FuncCollection) EvaluateRuleSet(subject Subject) bool {
	if f.fn == nil {
		return false
	}
	return f.fn(subject)
}

// inputOf returns the input document for subject, never nil.
func inputOf(subject Subject) map[string]interface{} {
	if subject == nil {
		return map[string]interface{}{}
	}
	input := subject.PolicyInput()
	if input == nil {
		return map[string]interface{}{}
	}
	return input
}
