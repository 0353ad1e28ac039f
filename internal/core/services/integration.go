package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driving"
)

// Ensure integrationService implements IntegrationService
var _ driving.IntegrationService = (*integrationService)(nil)

// IntegrationServiceConfig holds configuration for the integration service.
type IntegrationServiceConfig struct {
	// Store persists integrations.
	Store driven.IntegrationStore

	// Vault seals and opens integration secrets.
	Vault *CredentialVault

	// Resolver provides static provider info.
	Resolver driven.AdapterResolver

	Logger *slog.Logger
}

// integrationService implements the IntegrationService interface.
type integrationService struct {
	store    driven.IntegrationStore
	vault    *CredentialVault
	resolver driven.AdapterResolver
	logger   *slog.Logger
}

// NewIntegrationService creates a new integration service.
func NewIntegrationService(cfg IntegrationServiceConfig) driving.IntegrationService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &integrationService{
		store:    cfg.Store,
		vault:    cfg.Vault,
		resolver: cfg.Resolver,
		logger:   logger,
	}
}

// Providers lists the providers sellers can connect to, by name.
func (s *integrationService) Providers() []domain.ProviderInfo {
	providers := s.resolver.Providers()
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Name < providers[j].Name
	})
	return providers
}

// Connect creates or reconnects an integration.
func (s *integrationService) Connect(ctx context.Context, req driving.ConnectRequest) (*domain.IntegrationSummary, error) {
	key := req.Key()
	if err := validateKey(key); err != nil {
		return nil, err
	}
	info, err := s.resolver.Info(key.Provider)
	if err != nil {
		return nil, err
	}
	if key.Sandbox && info.SandboxBaseURL == "" {
		return nil, domain.NewValidationError("sandbox", fmt.Sprintf("%s has no sandbox environment", key.Provider))
	}

	creds := domain.Credentials(req.Credentials).Clone()
	if missing := creds.Missing(info.RequiredCredentials); len(missing) > 0 {
		return nil, domain.NewValidationError("credentials", "missing "+strings.Join(missing, ", "))
	}
	if err := validateWebhook(req.Webhook); err != nil {
		return nil, err
	}

	connType := req.ConnectionType
	if connType == "" {
		connType = domain.ConnectionTypeAPIKey
		if info.AuthMethod == domain.AuthMethodOAuth2 {
			connType = domain.ConnectionTypeOAuth
		}
	}

	existing, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		integration := &domain.SellerIntegration{
			ID:             domain.NewID(),
			SellerID:       key.SellerID,
			Provider:       key.Provider,
			Sandbox:        key.Sandbox,
			Description:    req.Description,
			Status:         domain.ConnectionConnected,
			ConnectionType: connType,
			Credentials:    creds,
			Webhook:        req.Webhook,
			History:        []domain.HistoryEvent{domain.NewHistoryEvent(domain.HistoryConnected, "")},
		}
		if err := s.vault.Seal(integration); err != nil {
			return nil, err
		}
		if err := s.store.Create(ctx, integration); err != nil {
			return nil, err
		}
		s.logger.Info("integration connected", "integration", key.String(), "connection_type", connType)
		return integration.ToSummary(), nil

	case err != nil:
		return nil, fmt.Errorf("load integration: %w", err)

	case existing.IsConnected():
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyExists, key)
	}

	// Reconnect the disconnected, expired or needs_reauth record in place.
	previous := existing.Status
	expected := existing.LastUpdated
	existing.Status = domain.ConnectionConnected
	existing.ConnectionType = connType
	existing.Credentials = creds
	existing.Webhook = req.Webhook
	if req.Description != "" {
		existing.Description = req.Description
	}
	if err := s.vault.Seal(existing); err != nil {
		return nil, err
	}
	event := domain.NewHistoryEvent(domain.HistoryReconnected, "previous status "+string(previous))
	if err := s.store.Update(ctx, existing, expected, event); err != nil {
		return nil, err
	}
	s.logger.Info("integration reconnected", "integration", key.String(), "previous_status", previous)
	return existing.ToSummary(), nil
}

// Get returns the integration summary. If secrets cannot be decrypted the
// summary is built from the stored record alone.
func (s *integrationService) Get(ctx context.Context, key domain.IntegrationKey) (*domain.IntegrationSummary, error) {
	integration, err := s.vault.Load(ctx, key)
	if errors.Is(err, domain.ErrCredentialsUnavailable) {
		integration, err = s.store.Get(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	return integration.ToSummary(), nil
}

// List returns every integration of a seller.
func (s *integrationService) List(ctx context.Context, sellerID string) ([]*domain.IntegrationSummary, error) {
	integrations, err := s.store.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	summaries := make([]*domain.IntegrationSummary, 0, len(integrations))
	for _, integration := range integrations {
		if err := s.vault.Open(integration); err != nil {
			s.logger.Warn("failed to decrypt integration", "integration", integration.Key().String(), "error", err)
		}
		summaries = append(summaries, integration.ToSummary())
	}
	return summaries, nil
}

// UpdateIntegrationConfig applies a partial update with optimistic
// concurrency. Credential keys set to "" are removed.
func (s *integrationService) UpdateIntegrationConfig(ctx context.Context, key domain.IntegrationKey, req driving.UpdateIntegrationRequest) (*domain.IntegrationSummary, error) {
	integration, err := s.vault.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if req.ExpectedLastUpdated != nil && !integration.LastUpdated.Equal(*req.ExpectedLastUpdated) {
		return nil, fmt.Errorf("%w: %s was modified at %s", domain.ErrConflict, key, integration.LastUpdated)
	}
	expected := integration.LastUpdated

	var changes []string
	event := domain.NewHistoryEvent(domain.HistoryConfigUpdated, "")

	if req.Description != nil {
		integration.Description = *req.Description
		changes = append(changes, "description")
	}
	if req.Webhook != nil {
		if err := validateWebhook(req.Webhook); err != nil {
			return nil, err
		}
		integration.Webhook = req.Webhook
		changes = append(changes, "webhook")
	}
	if len(req.Credentials) > 0 {
		info, err := s.resolver.Info(key.Provider)
		if err != nil {
			return nil, err
		}
		creds := integration.Credentials.Clone()
		for k, v := range req.Credentials {
			if v == "" {
				delete(creds, k)
				continue
			}
			creds[k] = v
		}
		if missing := creds.Missing(info.RequiredCredentials); len(missing) > 0 {
			return nil, domain.NewValidationError("credentials", "missing "+strings.Join(missing, ", "))
		}
		integration.Credentials = creds
		event.Type = domain.HistoryCredentialsRotated
		changes = append(changes, "credentials")

		if integration.Status == domain.ConnectionNeedsReauth || integration.Status == domain.ConnectionExpired {
			integration.Status = domain.ConnectionConnected
			changes = append(changes, "status")
		}
	}
	if len(changes) == 0 {
		return integration.ToSummary(), nil
	}
	event.Detail = strings.Join(changes, ",")

	if err := s.vault.Seal(integration); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, integration, expected, event); err != nil {
		return nil, err
	}
	s.logger.Info("integration updated", "integration", key.String(), "changes", event.Detail)
	return integration.ToSummary(), nil
}

// Disconnect marks the integration disconnected. Disconnecting twice is a no-op.
func (s *integrationService) Disconnect(ctx context.Context, key domain.IntegrationKey) error {
	integration, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if integration.Status == domain.ConnectionDisconnected {
		return nil
	}
	event := domain.NewHistoryEvent(domain.HistoryDisconnected, "")
	if err := s.store.UpdateStatus(ctx, key, domain.ConnectionDisconnected, event); err != nil {
		return err
	}
	s.logger.Info("integration disconnected", "integration", key.String())
	return nil
}

func validateWebhook(w *domain.WebhookConfig) error {
	if w == nil || !w.Enabled {
		return nil
	}
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return domain.NewValidationError("webhook.url", "must be an absolute http(s) URL")
	}
	if w.Secret == "" {
		return domain.NewValidationError("webhook.secret", "is required")
	}
	return nil
}
