package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/workorders/pkg/engine"
)

// ContentObject describes content already present on a backend.
type ContentObject struct {
	// Path is the backend-relative location of the object.
	Path string `json:"path"`

	// Size is the number of bytes currently stored.
	Size int64 `json:"size"`
}

// Backend is a storage volume that transfers can be written to.
//
// ContentObjectAt reports found=false with a nil error when nothing exists at
// path. All methods may block on I/O and must honor ctx.
type Backend interface {
	ContentObjectAt(ctx context.Context, path string) (obj ContentObject, found bool, err error)
	FreeCapacity(ctx context.Context) (int64, error)
	Reachable(ctx context.Context) bool
}

// FunctionGrouper is implemented by backends restricted to function groups.
type FunctionGrouper interface {
	FunctionGroups() []string
}

// Entry is one registered backend.
type Entry struct {
	ID      string
	Backend Backend
}

// FunctionGroups returns the backend's function groups, nil when unrestricted.
func (e Entry) FunctionGroups() []string {
	if g, ok := e.Backend.(FunctionGrouper); ok {
		return g.FunctionGroups()
	}
	return nil
}

// Registry is the ordered set of available backends. Iteration follows
// registration order. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Register appends a backend. Duplicate or empty ids are rejected.
func (r *Registry) Register(id string, backend Backend) error {
	if id == "" {
		return engine.NewError(engine.KindInvalidArgument, "storage id is required", nil).
			WithOperation("register_storage")
	}
	if backend == nil {
		return engine.NewError(engine.KindInvalidArgument,
			fmt.Sprintf("storage %q has no backend", id), nil).WithOperation("register_storage")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return engine.NewError(engine.KindInvalidArgument,
			fmt.Sprintf("storage %q already registered", id), nil).WithOperation("register_storage")
	}
	r.byID[id] = len(r.entries)
	r.entries = append(r.entries, Entry{ID: id, Backend: backend})
	return nil
}

// Remove drops a backend. Removing an unknown id returns KindNotFound.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return engine.NewError(engine.KindNotFound, fmt.Sprintf("storage %q not found", id), nil).
			WithOperation("remove_storage")
	}
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	delete(r.byID, id)
	for i := idx; i < len(r.entries); i++ {
		r.byID[r.entries[i].ID] = i
	}
	return nil
}

// Get returns the backend registered under id.
func (r *Registry) Get(id string) (Backend, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.entries[idx].Backend, true
}

// Entries returns a snapshot in registration order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	entries := r.Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func sortedCopy(groups []string) []string {
	out := append([]string(nil), groups...)
	sort.Strings(out)
	return out
}
