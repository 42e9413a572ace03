package provider

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Config is the provider section of a channel definition.
type Config struct {
	Type       string            `yaml:"type"`
	BaseURL    string            `yaml:"base_url"`
	MerchantID string            `yaml:"merchant_id"`
	Secret     string            `yaml:"secret"`
	PrivateKey string            `yaml:"private_key"`
	PublicKey  string            `yaml:"public_key"`
	AESKey     string            `yaml:"aes_key"`
	Options    map[string]string `yaml:"options"`
}

// Deps are the shared resources handed to every adapter.
type Deps struct {
	HTTP   *http.Client
	Logger *zap.Logger
}

// Factory constructs an adapter for one configured channel.
type Factory func(name string, cfg Config, deps Deps) (Adapter, error)

// Registry maintains adapter factories keyed by provider type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a factory for the given provider type.
func (r *Registry) Register(typ string, factory Factory) {
	if factory == nil {
		panic("provider factory required")
	}
	r.mu.Lock()
	r.factories[typ] = factory
	r.mu.Unlock()
}

// Create builds the adapter serving channel name.
func (r *Registry) Create(name string, cfg Config, deps Deps) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider type %q not registered", cfg.Type)
	}
	if deps.HTTP == nil {
		deps.HTTP = http.DefaultClient
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	adapter, err := factory(name, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("instantiate provider %s(%s): %w", name, cfg.Type, err)
	}
	return adapter, nil
}

// Types lists the registered provider types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
