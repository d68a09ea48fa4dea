package module

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a fresh module instance for one run.
type Factory func() Module

// Registry maps lowercase module names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the module's name.
func (r *Registry) Register(f Factory) error {
	name := strings.ToLower(f().Name())
	if name == "" {
		return fmt.Errorf("module without a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("module %s registered twice", name)
	}
	r.factories[name] = f
	return nil
}

// Lookup finds a factory by name, ignoring case.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToLower(name)]
	return f, ok
}

// List returns the modules supporting protocol sorted by name. An empty
// protocol lists everything.
func (r *Registry) List(protocol string) []*Loaded {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	var out []*Loaded
	for _, name := range names {
		f, _ := r.Lookup(name)
		l := load(f())
		if protocol == "" || l.Supports(protocol) {
			out = append(out, l)
		}
	}
	return out
}

// Resolve instantiates the named modules in the requested order. The first
// unknown name aborts resolution.
func (r *Registry) Resolve(names []string) ([]*Loaded, error) {
	out := make([]*Loaded, 0, len(names))
	for _, name := range names {
		f, ok := r.Lookup(name)
		if !ok {
			return nil, &UnknownModuleError{Name: strings.ToLower(name)}
		}
		out = append(out, load(f()))
	}
	return out, nil
}
