package domain

import (
	"fmt"
	"strings"
)

// ProviderName identifies an external fulfillment or dropshipping provider
type ProviderName string

const (
	ProviderShipBob  ProviderName = "shipbob"
	ProviderShipHero ProviderName = "shiphero"
	ProviderPrintful ProviderName = "printful"
)

// ParseProviderName normalises user input to a ProviderName.
func ParseProviderName(s string) ProviderName {
	return ProviderName(strings.ToLower(strings.TrimSpace(s)))
}

// Capability is an operation family a provider supports
type Capability string

const (
	CapabilityOrders    Capability = "orders"
	CapabilityInventory Capability = "inventory"
	CapabilityProducts  Capability = "products"
)

// RateLimit is the provider-advertised request budget.
type RateLimit struct {
	PerSecond float64 `json:"per_second"`
	Burst     int     `json:"burst"`
}

// ProviderInfo is the static description of a provider compiled into the registry.
type ProviderInfo struct {
	Name                ProviderName `json:"name"`
	DisplayName         string       `json:"display_name"`
	BaseURL             string       `json:"base_url"`
	SandboxBaseURL      string       `json:"sandbox_base_url,omitempty"`
	TokenURL            string       `json:"token_url,omitempty"`
	AuthMethod          AuthMethod   `json:"auth_method"`
	RequiredCredentials []string     `json:"required_credentials"`
	Capabilities        []Capability `json:"capabilities"`

	// NativeIdempotency is true when the provider deduplicates create calls
	// itself, so the adapter does not need a lookup before creating.
	NativeIdempotency bool      `json:"native_idempotency"`
	RateLimit         RateLimit `json:"rate_limit"`
}

// Supports reports whether the provider offers a capability.
func (p ProviderInfo) Supports(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ProviderAdapterConfig is derived per call from an integration and the
// provider's static info. It is never persisted.
type ProviderAdapterConfig struct {
	Provider    ProviderInfo
	Key         IntegrationKey
	BaseURL     string
	Credentials Credentials
}

// NewProviderAdapterConfig selects the sandbox or live base URL for an integration.
func NewProviderAdapterConfig(info ProviderInfo, integration *SellerIntegration) (ProviderAdapterConfig, error) {
	baseURL := info.BaseURL
	if integration.Sandbox {
		if info.SandboxBaseURL == "" {
			return ProviderAdapterConfig{}, fmt.Errorf("%w: %s has no sandbox environment", ErrValidation, info.Name)
		}
		baseURL = info.SandboxBaseURL
	}
	return ProviderAdapterConfig{
		Provider:    info,
		Key:         integration.Key(),
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		Credentials: integration.Credentials.Clone(),
	}, nil
}

// LimiterKey is the rate limiter bucket for a provider environment.
// Buckets are shared across sellers because providers meter per application.
func LimiterKey(provider ProviderName, sandbox bool) string {
	if sandbox {
		return string(provider) + ":sandbox"
	}
	return string(provider) + ":live"
}
