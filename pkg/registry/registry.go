// Package registry holds the process-wide set of weave plugins. It is built
// once during launch wiring and read-only afterwards, so dispatches can walk
// it without coordination.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/loom/pkg/plugin"
)

// ErrDuplicateName rejects a second plugin with an already registered name.
// The host must treat it as fatal at startup.
var ErrDuplicateName = errors.New("plugin name already registered")

var errNilPlugin = errors.New("nil plugin")

// Registry is the source of truth for registered plugins. Iteration order is
// registration order; it is stable so audit output stays deterministic, but
// plugins must not rely on where they sit in it.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]plugin.Plugin
	ordered []plugin.Plugin
}

func New() *Registry {
	return &Registry{
		byName: make(map[string]plugin.Plugin),
	}
}

// Register adds p during startup wiring. A name collision returns
// ErrDuplicateName; registering after dispatches have begun is a caller
// error.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p == nil {
		return errNilPlugin
	}
	name := p.Name()
	if name == "" {
		return errors.New("empty plugin name")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateName)
	}

	r.byName[name] = p
	r.ordered = append(r.ordered, p)
	return nil
}

// All returns the plugins in registration order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugin.Plugin, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ByName resolves a sibling plugin by its unique name.
func (r *Registry) ByName(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byName[name]
	return p, ok
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}
