package llm

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the typed capability table mapping provider names to concrete
// clients. Registration is validated once; lookups after that cannot fail for
// reasons other than an unknown name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a named provider. Empty names, nil providers, and duplicate
// names are rejected.
func (r *Registry) Register(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if p == nil {
		return fmt.Errorf("provider %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get resolves a provider by name. The name "default" (or an empty name)
// resolves to the first registered provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" || name == "default" {
		if len(r.order) == 0 {
			return nil, fmt.Errorf("no providers registered")
		}
		return r.providers[r.order[0]], nil
	}

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many providers are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
