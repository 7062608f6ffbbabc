package router

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps router names to routers. Routers are immutable, so a lookup
// hands out a router that stays valid even if it is unregistered or replaced
// while a resolution is running.
type Registry struct {
	mu      sync.RWMutex
	routers map[string]*Router
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{routers: make(map[string]*Router)}
}

// Register adds r, replacing any router with the same name.
func (reg *Registry) Register(r *Router) error {
	if r == nil {
		return fmt.Errorf("cannot register nil router")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.routers[r.Name()] = r
	return nil
}

// Unregister removes the named router and reports whether it existed.
func (reg *Registry) Unregister(name string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.routers[name]
	delete(reg.routers, name)
	return ok
}

// Get returns the named router if registered.
func (reg *Registry) Get(name string) (*Router, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.routers[name]
	return r, ok
}

// Lookup returns the named router or an error matching ErrRouterNotFound.
func (reg *Registry) Lookup(name string) (*Router, error) {
	if r, ok := reg.Get(name); ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %q (available: %v)", ErrRouterNotFound, name, reg.Names())
}

// Names returns the registered router names in sorted order.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.routers))
	for name := range reg.routers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every router.
func (reg *Registry) Clear() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.routers = make(map[string]*Router)
}

// Replace swaps the whole router set in one step.
func (reg *Registry) Replace(routers []*Router) error {
	next := make(map[string]*Router, len(routers))
	for _, r := range routers {
		if r == nil {
			return fmt.Errorf("cannot register nil router")
		}
		if _, dup := next[r.Name()]; dup {
			return fmt.Errorf("duplicate router %q", r.Name())
		}
		next[r.Name()] = r
	}
	reg.mu.Lock()
	reg.routers = next
	reg.mu.Unlock()
	return nil
}

// Len returns the number of registered routers.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.routers)
}
