package shipbob

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
	defaultBaseURL    = "https://api.shipbob.com/1.0"
	defaultSandboxURL = "https://sandbox-api.shipbob.com/1.0"

	// CredentialChannelID selects the ShipBob channel orders are created in.
	CredentialChannelID = "channel_id"
)

// Config contains configuration for the ShipBob adapter.
type Config struct {
	// BaseURL and SandboxBaseURL override the public API hosts.
	BaseURL        string
	SandboxBaseURL string

	HTTPClient *http.Client
	Timeout    time.Duration
}

// Builder creates ShipBob adapters.
type Builder struct {
	config Config
}

// NewBuilder creates a ShipBob builder with the public endpoints.
func NewBuilder() *Builder {
	return NewBuilderWithConfig(Config{})
}

// NewBuilderWithConfig creates a builder with custom configuration.
func NewBuilderWithConfig(config Config) *Builder {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.SandboxBaseURL == "" {
		config.SandboxBaseURL = defaultSandboxURL
	}
	return &Builder{config: config}
}

// Info describes ShipBob.
func (b *Builder) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:                domain.ProviderShipBob,
		DisplayName:         "ShipBob",
		BaseURL:             b.config.BaseURL,
		SandboxBaseURL:      b.config.SandboxBaseURL,
		AuthMethod:          domain.AuthMethodAPIKey,
		RequiredCredentials: []string{domain.CredentialAPIKey},
		Capabilities:        []domain.Capability{domain.CapabilityOrders, domain.CapabilityInventory},
		RateLimit:           domain.RateLimit{PerSecond: 2.5, Burst: 10},
	}
}

// Build creates an adapter bound to one integration.
func (b *Builder) Build(cfg domain.ProviderAdapterConfig, tokens driven.TokenProvider) (driven.ProviderAdapter, error) {
	headers := map[string]string{}
	if channel := cfg.Credentials[CredentialChannelID]; channel != "" {
		headers["shipbob_channel_id"] = channel
	}
	client := providers.NewClient(providers.ClientConfig{
		Provider:   domain.ProviderShipBob,
		BaseURL:    cfg.BaseURL,
		Tokens:     tokens,
		HTTPClient: b.config.HTTPClient,
		Timeout:    b.config.Timeout,
		Headers:    headers,
	})
	return &Adapter{client: client}, nil
}
