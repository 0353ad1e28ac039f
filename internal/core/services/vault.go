package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure CredentialVault implements driven.CredentialVault
var _ driven.CredentialVault = (*CredentialVault)(nil)

// CredentialVault encrypts integration secrets before they reach the
// integration store and decrypts them on load. Plaintext secrets never
// leave the process.
type CredentialVault struct {
	store  driven.IntegrationStore
	cipher driven.Cipher
	logger *slog.Logger
}

// NewCredentialVault creates a vault over an integration store.
func NewCredentialVault(store driven.IntegrationStore, cipher driven.Cipher, logger *slog.Logger) *CredentialVault {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialVault{store: store, cipher: cipher, logger: logger}
}

// Load returns the integration with decrypted credentials and webhook.
func (v *CredentialVault) Load(ctx context.Context, key domain.IntegrationKey) (*domain.SellerIntegration, error) {
	integration, err := v.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := v.Open(integration); err != nil {
		v.logger.Error("failed to decrypt integration secrets",
			"integration", key.String(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %s", domain.ErrCredentialsUnavailable, key)
	}
	return integration, nil
}

// LoadConnected returns a connected integration with decrypted secrets.
func (v *CredentialVault) LoadConnected(ctx context.Context, key domain.IntegrationKey) (*domain.SellerIntegration, error) {
	integration, err := v.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotConnected, key)
		}
		return nil, err
	}
	if !integration.IsConnected() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrNotConnected, key, integration.Status)
	}
	if err := v.Open(integration); err != nil {
		v.logger.Error("failed to decrypt integration secrets",
			"integration", key.String(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %s", domain.ErrCredentialsUnavailable, key)
	}
	return integration, nil
}

// SaveCredentials encrypts creds and writes them with optimistic concurrency.
func (v *CredentialVault) SaveCredentials(ctx context.Context, key domain.IntegrationKey, creds domain.Credentials, expected time.Time, event domain.HistoryEvent) (time.Time, error) {
	blob, err := v.seal(creds)
	if err != nil {
		return time.Time{}, err
	}
	return v.store.UpdateCredentials(ctx, key, blob, expected, event)
}

// MarkNeedsReauth sets the integration status to needs_reauth.
func (v *CredentialVault) MarkNeedsReauth(ctx context.Context, key domain.IntegrationKey, detail string) error {
	v.logger.Warn("integration needs reauthorization",
		"integration", key.String(),
		"detail", detail,
	)
	event := domain.NewHistoryEvent(domain.HistoryReauthRequired, detail)
	if err := v.store.UpdateStatus(ctx, key, domain.ConnectionNeedsReauth, event); err != nil {
		return fmt.Errorf("mark needs_reauth: %w", err)
	}
	return nil
}

// Seal encrypts the integration's plaintext credentials and webhook into
// the at-rest blobs.
func (v *CredentialVault) Seal(integration *domain.SellerIntegration) error {
	blob, err := v.seal(integration.Credentials)
	if err != nil {
		return err
	}
	integration.EncryptedCredentials = blob

	integration.EncryptedWebhook = nil
	if integration.Webhook != nil {
		blob, err := v.seal(integration.Webhook)
		if err != nil {
			return err
		}
		integration.EncryptedWebhook = blob
	}
	return nil
}

func (v *CredentialVault) seal(value any) ([]byte, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal secrets: %w", err)
	}
	blob, err := v.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt secrets: %w", err)
	}
	return blob, nil
}

// Open decrypts the at-rest blobs of an integration loaded directly from
// the store.
func (v *CredentialVault) Open(integration *domain.SellerIntegration) error {
	integration.Credentials = domain.Credentials{}
	if len(integration.EncryptedCredentials) > 0 {
		plaintext, err := v.cipher.Decrypt(integration.EncryptedCredentials)
		if err != nil {
			return fmt.Errorf("decrypt credentials: %w", err)
		}
		if err := json.Unmarshal(plaintext, &integration.Credentials); err != nil {
			return fmt.Errorf("unmarshal credentials: %w", err)
		}
	}

	integration.Webhook = nil
	if len(integration.EncryptedWebhook) > 0 {
		plaintext, err := v.cipher.Decrypt(integration.EncryptedWebhook)
		if err != nil {
			return fmt.Errorf("decrypt webhook: %w", err)
		}
		var webhook domain.WebhookConfig
		if err := json.Unmarshal(plaintext, &webhook); err != nil {
			return fmt.Errorf("unmarshal webhook: %w", err)
		}
		integration.Webhook = &webhook
	}
	return nil
}
