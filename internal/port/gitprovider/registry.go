package gitprovider

import (
	"fmt"
	"sync"
)

// Factory builds a Provider from its configuration map.
type Factory func(config map[string]string) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider factory available by name. Adapter packages
// call it from init(), so importing an adapter is enough to enable it.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("gitprovider: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New builds the named Provider using its registered factory.
func New(name string, config map[string]string) (Provider, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("gitprovider: unknown provider %q", name)
	}
	return factory(config)
}

// Available lists the registered provider names.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
