package printful

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
	defaultBaseURL  = "https://api.printful.com"
	defaultTokenURL = "https://www.printful.com/oauth/token"

	// CredentialStoreID scopes requests to one Printful store.
	CredentialStoreID = "store_id"
)

// Config contains configuration for the Printful adapter.
type Config struct {
	BaseURL        string
	SandboxBaseURL string
	TokenURL       string

	HTTPClient *http.Client
	Timeout    time.Duration
}

// Builder creates Printful adapters.
type Builder struct {
	config Config
}

// NewBuilder creates a Printful builder with the public endpoints.
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

// Info describes Printful. Printful deduplicates orders on external_id.
func (b *Builder) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:                domain.ProviderPrintful,
		DisplayName:         "Printful",
		BaseURL:             b.config.BaseURL,
		SandboxBaseURL:      b.config.SandboxBaseURL,
		TokenURL:            b.config.TokenURL,
		AuthMethod:          domain.AuthMethodOAuth2,
		RequiredCredentials: []string{domain.CredentialRefreshToken},
		Capabilities: []domain.Capability{
			domain.CapabilityOrders,
			domain.CapabilityInventory,
			domain.CapabilityProducts,
		},
		NativeIdempotency: true,
		RateLimit:         domain.RateLimit{PerSecond: 2, Burst: 10},
	}
}

// Build creates an adapter bound to one integration.
func (b *Builder) Build(cfg domain.ProviderAdapterConfig, tokens driven.TokenProvider) (driven.ProviderAdapter, error) {
	headers := map[string]string{}
	if store := cfg.Credentials[CredentialStoreID]; store != "" {
		headers["X-PF-Store-Id"] = store
	}
	client := providers.NewClient(providers.ClientConfig{
		Provider:   domain.ProviderPrintful,
		BaseURL:    cfg.BaseURL,
		Tokens:     tokens,
		HTTPClient: b.config.HTTPClient,
		Timeout:    b.config.Timeout,
		Headers:    headers,
	})
	return &Adapter{client: client}, nil
}
