package adapters

import (
	"strings"
	"sync"

	"github.com/smallbiznis/swimreg/internal/payment/domain"
)

// Registry holds adapter factories and the adapters configured from them.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]domain.AdapterFactory
	adapters  map[string]domain.Adapter
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{
		factories: map[string]domain.AdapterFactory{},
		adapters:  map[string]domain.Adapter{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// Register builds an adapter for provider from cfg and makes it available.
func (r *Registry) Register(provider string, cfg domain.AdapterConfig) error {
	if r == nil {
		return domain.ErrProviderNotFound
	}
	provider = normalize(provider)
	factory, ok := r.factories[provider]
	if !ok {
		return domain.ErrProviderNotFound
	}
	cfg.Provider = provider
	adapter, err := factory.NewAdapter(cfg)
	if err != nil {
		return err
	}
	r.Use(adapter)
	return nil
}

// Use installs a ready adapter, replacing any previous one for its provider.
func (r *Registry) Use(adapter domain.Adapter) {
	if r == nil || adapter == nil {
		return
	}
	provider := normalize(adapter.Provider())
	if provider == "" {
		return
	}
	r.mu.Lock()
	r.adapters[provider] = adapter
	r.mu.Unlock()
}

func (r *Registry) Adapter(provider string) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalize(provider)
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	r.mu.RLock()
	adapter, ok := r.adapters[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

// Providers lists configured providers.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for provider := range r.adapters {
		out = append(out, provider)
	}
	return out
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
