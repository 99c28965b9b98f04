package providers

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrModelNotSupported is returned when a model is not supported by any provider
	ErrModelNotSupported = errors.New("model not supported")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Registry manages model clients and model mappings
type Registry struct {
	mu             sync.RWMutex
	clients        map[string]ModelClient
	modelProviders map[string]string // model -> provider name
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		clients:        make(map[string]ModelClient),
		modelProviders: make(map[string]string),
	}
}

// Register adds a client and maps every model it lists to it
func (r *Registry) Register(client ModelClient) error {
	if client == nil {
		return errors.New("provider cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := client.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}
	if _, exists := r.clients[name]; exists {
		return ErrProviderAlreadyRegistered
	}

	r.clients[name] = client
	for _, model := range client.ListModels() {
		if _, taken := r.modelProviders[model]; !taken {
			r.modelProviders[model] = name
		}
	}
	return nil
}

// Get retrieves a client by provider name
func (r *Registry) Get(name string) (ModelClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[name]
	if !exists {
		return nil, ErrProviderNotFound
	}
	return client, nil
}

// ForModel finds the client that serves model
func (r *Registry) ForModel(model string) (ModelClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, exists := r.modelProviders[model]; exists {
		if client, ok := r.clients[name]; ok {
			return client, nil
		}
	}

	// fall back to asking each client, in name order for stable results
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.clients[name].ValidateModel(model); err == nil {
			return r.clients[name], nil
		}
	}
	return nil, ErrModelNotSupported
}

// MapModel routes model to a registered provider
func (r *Registry) MapModel(model, providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[providerName]; !exists {
		return ErrProviderNotFound
	}
	r.modelProviders[model] = providerName
	return nil
}

// List returns registered provider names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
