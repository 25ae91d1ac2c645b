package step

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownKind is wrapped by Registry.New for unregistered kinds.
// Callers treat it as a validation error, never a crash.
var ErrUnknownKind = fmt.Errorf("unknown step kind")

// Registry maps step kind tags to factories. Step authors extend the system
// by registering new kinds; the routine and scheduler code never changes.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a factory for kind. Later registrations replace earlier
// ones, which lets tests override builtin kinds.
func (r *Registry) Register(kind string, f Factory) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || f == nil {
		return
	}
	r.mu.Lock()
	r.factories[kind] = f
	r.mu.Unlock()
}

// New constructs a step of the given kind. The config map is cloned before
// it reaches the factory so the caller's copy stays untouched.
func (r *Registry) New(kind string, cfg Config) (Step, error) {
	key := strings.ToLower(strings.TrimSpace(kind))
	r.mu.RLock()
	f := r.factories[key]
	r.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(cfg.Clone())
}

// Kinds returns the registered kind tags, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
