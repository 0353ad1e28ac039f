package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure Registry implements the interface.
var _ driven.AdapterResolver = (*Registry)(nil)

// Registry resolves integrations to provider adapters.
// It maintains the compiled-in AdapterBuilder for each provider.
type Registry struct {
	mu       sync.RWMutex
	builders map[domain.ProviderName]driven.AdapterBuilder
	vault    driven.CredentialVault
	tokens   *TokenProviderFactory
}

// NewRegistry creates a registry that loads integrations through vault.
func NewRegistry(vault driven.CredentialVault, tokens *TokenProviderFactory) *Registry {
	return &Registry{
		builders: make(map[domain.ProviderName]driven.AdapterBuilder),
		vault:    vault,
		tokens:   tokens,
	}
}

// Register registers an adapter builder under its provider name.
func (r *Registry) Register(builder driven.AdapterBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[builder.Info().Name] = builder
}

// Resolve loads the integration, checks it is connected, and builds its
// adapter. No network call is made until the adapter is used.
func (r *Registry) Resolve(ctx context.Context, key domain.IntegrationKey) (driven.ProviderAdapter, error) {
	builder, err := r.builder(key.Provider)
	if err != nil {
		return nil, err
	}

	integration, err := r.vault.LoadConnected(ctx, key)
	if err != nil {
		return nil, err
	}

	info := builder.Info()
	cfg, err := domain.NewProviderAdapterConfig(info, integration)
	if err != nil {
		return nil, err
	}
	tokens, err := r.tokens.Create(info, integration)
	if err != nil {
		return nil, err
	}

	adapter, err := builder.Build(cfg, tokens)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", key.Provider, err)
	}
	return adapter, nil
}

// Info returns the static description of a registered provider.
func (r *Registry) Info(provider domain.ProviderName) (domain.ProviderInfo, error) {
	builder, err := r.builder(provider)
	if err != nil {
		return domain.ProviderInfo{}, err
	}
	return builder.Info(), nil
}

// Providers returns every registered provider sorted by name.
func (r *Registry) Providers() []domain.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]domain.ProviderInfo, 0, len(r.builders))
	for _, b := range r.builders {
		infos = append(infos, b.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (r *Registry) builder(provider domain.ProviderName) (driven.AdapterBuilder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	builder, ok := r.builders[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, provider)
	}
	return builder, nil
}
