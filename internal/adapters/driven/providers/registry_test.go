package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/marketlink-core/internal/core/services"
)

// recordingBuilder captures the config and token provider it was built with.
type recordingBuilder struct {
	info   domain.ProviderInfo
	cfg    domain.ProviderAdapterConfig
	tokens driven.TokenProvider
	err    error
}

func (b *recordingBuilder) Info() domain.ProviderInfo { return b.info }

func (b *recordingBuilder) Build(cfg domain.ProviderAdapterConfig, tokens driven.TokenProvider) (driven.ProviderAdapter, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.cfg = cfg
	b.tokens = tokens
	return mocks.NewMockProviderAdapter(b.info.Name), nil
}

func newAPIKeyBuilder() *recordingBuilder {
	return &recordingBuilder{info: domain.ProviderInfo{
		Name:           domain.ProviderShipBob,
		BaseURL:        "https://live.invalid/",
		SandboxBaseURL: "https://sandbox.invalid",
		AuthMethod:     domain.AuthMethodAPIKey,
	}}
}

func newRegistryFixture(status domain.ConnectionStatus, sandbox bool, creds domain.Credentials) (*Registry, *recordingBuilder, *mocks.MockCredentialVault) {
	store := mocks.NewMockIntegrationStore()
	store.Put(&domain.SellerIntegration{
		ID:          "int-1",
		SellerID:    "seller-1",
		Provider:    domain.ProviderShipBob,
		Sandbox:     sandbox,
		Status:      status,
		Credentials: creds,
	})
	vault := mocks.NewMockCredentialVault(store)
	registry := NewRegistry(vault, NewTokenProviderFactory(TokenProviderConfig{Vault: vault}))
	builder := newAPIKeyBuilder()
	registry.Register(builder)
	return registry, builder, vault
}

var (
	shipbobKey        = domain.IntegrationKey{SellerID: "seller-1", Provider: domain.ProviderShipBob}
	shipbobSandboxKey = domain.IntegrationKey{SellerID: "seller-1", Provider: domain.ProviderShipBob, Sandbox: true}
)

func TestRegistry_ResolveConnected(t *testing.T) {
	registry, builder, _ := newRegistryFixture(domain.ConnectionConnected, false, domain.Credentials{domain.CredentialAPIKey: "pat-123"})

	adapter, err := registry.Resolve(context.Background(), shipbobKey)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderShipBob, adapter.Provider())
	assert.Equal(t, "https://live.invalid", builder.cfg.BaseURL)
	assert.Equal(t, shipbobKey, builder.cfg.Key)

	token, err := builder.tokens.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pat-123", token)
}

func TestRegistry_ResolveSandbox(t *testing.T) {
	registry, builder, _ := newRegistryFixture(domain.ConnectionConnected, true, domain.Credentials{domain.CredentialAPIKey: "pat-123"})

	_, err := registry.Resolve(context.Background(), shipbobSandboxKey)
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.invalid", builder.cfg.BaseURL)

	_, err = registry.Resolve(context.Background(), shipbobKey)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestRegistry_SandboxUnavailable(t *testing.T) {
	registry, builder, _ := newRegistryFixture(domain.ConnectionConnected, true, domain.Credentials{domain.CredentialAPIKey: "pat-123"})
	builder.info.SandboxBaseURL = ""

	_, err := registry.Resolve(context.Background(), shipbobSandboxKey)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegistry_UnsupportedProvider(t *testing.T) {
	registry, _, _ := newRegistryFixture(domain.ConnectionConnected, false, nil)

	_, err := registry.Resolve(context.Background(), domain.IntegrationKey{SellerID: "seller-1", Provider: "acme"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)

	_, err = registry.Info("acme")
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestRegistry_NotConnected(t *testing.T) {
	t.Run("missing integration", func(t *testing.T) {
		registry, _, _ := newRegistryFixture(domain.ConnectionConnected, false, nil)
		_, err := registry.Resolve(context.Background(), domain.IntegrationKey{SellerID: "other", Provider: domain.ProviderShipBob})
		assert.ErrorIs(t, err, domain.ErrNotConnected)
	})

	for _, status := range []domain.ConnectionStatus{domain.ConnectionDisconnected, domain.ConnectionNeedsReauth, domain.ConnectionExpired} {
		t.Run(string(status), func(t *testing.T) {
			registry, _, _ := newRegistryFixture(status, false, domain.Credentials{domain.CredentialAPIKey: "pat-123"})
			_, err := registry.Resolve(context.Background(), shipbobKey)
			assert.ErrorIs(t, err, domain.ErrNotConnected)
			assert.Contains(t, err.Error(), string(status))
		})
	}
}

func TestRegistry_StatusCheckedBeforeDecrypt(t *testing.T) {
	tests := []struct {
		status  domain.ConnectionStatus
		wantErr error
	}{
		{domain.ConnectionDisconnected, domain.ErrNotConnected},
		{domain.ConnectionNeedsReauth, domain.ErrNotConnected},
		{domain.ConnectionConnected, domain.ErrCredentialsUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			store := mocks.NewMockIntegrationStore()
			store.Put(&domain.SellerIntegration{
				ID:                   "int-1",
				SellerID:             shipbobKey.SellerID,
				Provider:             shipbobKey.Provider,
				Status:               tt.status,
				EncryptedCredentials: []byte("sealed under a rotated key"),
			})
			vault := services.NewCredentialVault(store, &mocks.MockCipher{}, nil)
			registry := NewRegistry(vault, NewTokenProviderFactory(TokenProviderConfig{Vault: vault}))
			registry.Register(newAPIKeyBuilder())

			_, err := registry.Resolve(context.Background(), shipbobKey)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == domain.ErrNotConnected {
				assert.NotErrorIs(t, err, domain.ErrCredentialsUnavailable)
			}
		})
	}
}

func TestRegistry_MissingAPIKey(t *testing.T) {
	registry, _, _ := newRegistryFixture(domain.ConnectionConnected, false, domain.Credentials{})

	_, err := registry.Resolve(context.Background(), shipbobKey)
	assert.ErrorIs(t, err, domain.ErrCredentialsUnavailable)
}

func TestRegistry_VaultErrorPropagates(t *testing.T) {
	registry, _, vault := newRegistryFixture(domain.ConnectionConnected, false, nil)
	boom := errors.New("decrypt failed")
	vault.LoadFn = func(domain.IntegrationKey) (*domain.SellerIntegration, error) { return nil, boom }

	_, err := registry.Resolve(context.Background(), shipbobKey)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrNotConnected)
}

func TestRegistry_BuildError(t *testing.T) {
	registry, builder, _ := newRegistryFixture(domain.ConnectionConnected, false, domain.Credentials{domain.CredentialAPIKey: "pat-123"})
	builder.err = errors.New("bad config")

	_, err := registry.Resolve(context.Background(), shipbobKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build shipbob adapter")
}

func TestRegistry_ProvidersSorted(t *testing.T) {
	registry, _, _ := newRegistryFixture(domain.ConnectionConnected, false, nil)
	registry.Register(&recordingBuilder{info: domain.ProviderInfo{Name: domain.ProviderPrintful}})
	registry.Register(&recordingBuilder{info: domain.ProviderInfo{Name: domain.ProviderShipHero}})

	infos := registry.Providers()
	require.Len(t, infos, 3)
	assert.Equal(t, domain.ProviderPrintful, infos[0].Name)
	assert.Equal(t, domain.ProviderShipBob, infos[1].Name)
	assert.Equal(t, domain.ProviderShipHero, infos[2].Name)
}
