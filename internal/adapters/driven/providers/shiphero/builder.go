package shiphero

import (
	"net/http"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers"
	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure Builder implements the interface.
var _ driven.AdapterBuilder = (*Builder)(nil)

const (
	defaultBaseURL  = "https://public-api.shiphero.com"
	defaultTokenURL = "https://public-api.shiphero.com/auth/refresh"

	graphqlPath = "/graphql"
)

// Config contains configuration for the ShipHero adapter.
type Config struct {
	BaseURL  string
	TokenURL string

	// SandboxBaseURL is empty for the public API; ShipHero sandboxes are
	// separate accounts on the live host.
	SandboxBaseURL string

	HTTPClient *http.Client
	Timeout    time.Duration
}

// Builder creates ShipHero adapters.
type Builder struct {
	config Config
}

// NewBuilder creates a ShipHero builder with the public endpoints.
func NewBuilder() *Builder {
	return NewBuilderWithConfig(Config{})
}

// NewBuilderWithConfig creates a builder with custom configuration.
func NewBuilderWithConfig(config Config) *Builder {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	return &Builder{config: config}
}

// Info describes ShipHero.
func (b *Builder) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:                domain.ProviderShipHero,
		DisplayName:         "ShipHero",
		BaseURL:             b.config.BaseURL,
		SandboxBaseURL:      b.config.SandboxBaseURL,
		TokenURL:            b.config.TokenURL,
		AuthMethod:          domain.AuthMethodOAuth2,
		RequiredCredentials: []string{domain.CredentialRefreshToken},
		Capabilities:        []domain.Capability{domain.CapabilityOrders, domain.CapabilityInventory},
		RateLimit:           domain.RateLimit{PerSecond: 2, Burst: 5},
	}
}

// Build creates an adapter bound to one integration.
func (b *Builder) Build(cfg domain.ProviderAdapterConfig, tokens driven.TokenProvider) (driven.ProviderAdapter, error) {
	client := providers.NewClient(providers.ClientConfig{
		Provider:   domain.ProviderShipHero,
		BaseURL:    cfg.BaseURL,
		Tokens:     tokens,
		HTTPClient: b.config.HTTPClient,
		Timeout:    b.config.Timeout,
	})
	return &Adapter{client: client}, nil
}
