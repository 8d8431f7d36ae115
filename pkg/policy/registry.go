package policy

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Registry is a concurrent Rules implementation. Lookups return stable handles,
// so policies compiled against the registry observe collections registered or
// replaced later under the same name.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*handle
	logger  zerolog.Logger
}

// handle forwards to whatever collection is currently registered under its name.
type handle struct {
	name    string
	current atomic.Pointer[collectionRef]
}

type collectionRef struct {
	c RuleCollection
}

// Name implements RuleCollection.
func (h *handle) Name() string {
	return h.name
}

// EvaluateRuleSet implements RuleCollection. A removed collection evaluates to false.
func (h *handle) EvaluateRuleSet(subject Subject) bool {
	ref := h.current.Load()
	if ref == nil {
		return false
	}
	return ref.c.EvaluateRuleSet(subject)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handles: make(map[string]*handle),
		logger:  logger.With().Str("component", "rule-registry").Logger(),
	}
}

// Register adds or replaces collections.
func (r *Registry) Register(collections ...RuleCollection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range collections {
		r.setLocked(c.Name(), c)
	}
}

// Remove unregisters the named collection. Existing handles evaluate to false.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		h.current.Store(nil)
		r.logger.Debug().Str("rule", name).Msg("Rule collection removed")
	}
}

// Replace swaps the registered set for collections. keep lists names that
// survive the swap even when absent from collections, such as built-ins.
func (r *Registry) Replace(collections []RuleCollection, keep ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]bool, len(collections)+len(keep))
	for _, name := range keep {
		next[name] = true
	}
	for _, c := range collections {
		next[c.Name()] = true
		r.setLocked(c.Name(), c)
	}
	for name, h := range r.handles {
		if !next[name] && h.current.Load() != nil {
			h.current.Store(nil)
			r.logger.Debug().Str("rule", name).Msg("Rule collection dropped on replace")
		}
	}

	r.logger.Info().Int("count", len(collections)).Msg("Rule collections replaced")
}

func (r *Registry) setLocked(name string, c RuleCollection) {
	h, ok := r.handles[name]
	if !ok {
		h = &handle{name: name}
		r.handles[name] = h
	}
	h.current.Store(&collectionRef{c: c})
}

// Lookup implements Rules.
func (r *Registry) Lookup(name string) (RuleCollection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[name]
	if !ok || h.current.Load() == nil {
		return nil, false
	}
	return h, true
}

// Names implements Rules. Names are returned sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handles))
	for name, h := range r.handles {
		if h.current.Load() != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered collections.
func (r *Registry) Len() int {
	return len(r.Names())
}
