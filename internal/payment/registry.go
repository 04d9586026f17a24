package payment

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps provider keys to adapter factories. Keys are compared
// case-insensitively.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]AdapterFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]AdapterFactory)}
}

// ErrDuplicateProvider is wrapped by RegisterAs when a key is taken.
var ErrDuplicateProvider = errors.New("provider already registered")

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Register binds factory under its own provider name.
func (r *Registry) Register(factory AdapterFactory) error {
	if factory == nil {
		return NewConfigurationError("cannot register a nil adapter factory")
	}
	return r.RegisterAs(string(factory.Provider()), factory)
}

// RegisterAs binds factory under key. An empty key falls back to the
// factory's provider name. A key can only be registered once.
func (r *Registry) RegisterAs(key string, factory AdapterFactory) error {
	if factory == nil {
		return NewConfigurationError("cannot register a nil adapter factory")
	}
	k := normalizeKey(key)
	if k == "" {
		k = normalizeKey(string(factory.Provider()))
	}
	if k == "" {
		return NewConfigurationError("adapter factory has no provider name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[k]; exists {
		return &Error{
			Kind:    KindConfiguration,
			Message: fmt.Sprintf("provider %q is already registered", k),
			Code:    "duplicate_provider",
			Details: map[string]any{"provider": k},
			Err:     ErrDuplicateProvider,
		}
	}
	r.factories[k] = factory
	return nil
}

// MustRegister is Register for start-up code; it panics on error.
func (r *Registry) MustRegister(factory AdapterFactory) {
	if err := r.Register(factory); err != nil {
		panic(err)
	}
}

// Get returns the factory registered under key or an InvalidProviderError.
func (r *Registry) Get(key string) (AdapterFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[normalizeKey(key)]
	if !ok {
		return nil, NewInvalidProviderError(key)
	}
	return factory, nil
}

// List returns the registered keys in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns the registered factories ordered by key.
func (r *Registry) All() []AdapterFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]AdapterFactory, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.factories[k])
	}
	return out
}

// Clear drops every registration. Only tests should call it.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]AdapterFactory)
}
