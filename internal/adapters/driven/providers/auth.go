package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure token providers implement the interface.
var (
	_ driven.TokenProvider = (*StaticTokenProvider)(nil)
	_ driven.TokenProvider = (*OAuthTokenProvider)(nil)
)

const (
	DefaultRefreshSkew = time.Minute
	DefaultLockTTL     = 30 * time.Second
	DefaultLockWait    = 10 * time.Second

	defaultLockPoll       = 250 * time.Millisecond
	defaultPersistBackoff = 100 * time.Millisecond
	persistAttempts       = 3
)

// TokenProviderConfig configures a TokenProviderFactory.
type TokenProviderConfig struct {
	Vault driven.CredentialVault

	// Lock serializes refreshes of one integration across processes.
	// Optional; without it refreshes are only collapsed in-process.
	Lock driven.DistributedLock

	Metrics driven.MetricsSink
	Logger  *slog.Logger

	// RefreshSkew refreshes tokens this long before they expire.
	RefreshSkew time.Duration
	LockTTL     time.Duration

	// LockWait bounds how long a caller waits for another process to
	// finish refreshing the same integration.
	LockWait time.Duration
}

// TokenProviderFactory creates TokenProviders from decrypted integrations.
// Refreshes of the same integration are collapsed across every provider
// the factory created.
type TokenProviderFactory struct {
	vault   driven.CredentialVault
	lock    driven.DistributedLock
	metrics driven.MetricsSink
	logger  *slog.Logger

	skew     time.Duration
	lockTTL  time.Duration
	lockWait time.Duration
	lockPoll time.Duration
	now      func() time.Time

	persistBackoff time.Duration

	mu         sync.RWMutex
	refreshers map[domain.ProviderName]driven.TokenRefresher
	group      singleflight.Group
}

// NewTokenProviderFactory creates a new TokenProviderFactory.
func NewTokenProviderFactory(cfg TokenProviderConfig) *TokenProviderFactory {
	f := &TokenProviderFactory{
		vault:          cfg.Vault,
		lock:           cfg.Lock,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		skew:           cfg.RefreshSkew,
		lockTTL:        cfg.LockTTL,
		lockWait:       cfg.LockWait,
		lockPoll:       defaultLockPoll,
		persistBackoff: defaultPersistBackoff,
		now:            func() time.Time { return time.Now().UTC() },
		refreshers:     make(map[domain.ProviderName]driven.TokenRefresher),
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.skew <= 0 {
		f.skew = DefaultRefreshSkew
	}
	if f.lockTTL <= 0 {
		f.lockTTL = DefaultLockTTL
	}
	if f.lockWait <= 0 {
		f.lockWait = DefaultLockWait
	}
	return f
}

// RegisterRefresher registers the token endpoint client for a provider.
func (f *TokenProviderFactory) RegisterRefresher(provider domain.ProviderName, refresher driven.TokenRefresher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshers[provider] = refresher
}

// Create creates a TokenProvider for an integration based on the
// provider's auth method.
func (f *TokenProviderFactory) Create(info domain.ProviderInfo, integration *domain.SellerIntegration) (driven.TokenProvider, error) {
	switch info.AuthMethod {
	case domain.AuthMethodAPIKey:
		key := integration.Credentials.APIKey()
		if key == "" {
			return nil, fmt.Errorf("%w: %s has no api key", domain.ErrCredentialsUnavailable, integration.Key())
		}
		return NewStaticTokenProvider(key, domain.AuthMethodAPIKey), nil

	case domain.AuthMethodOAuth2:
		f.mu.RLock()
		refresher := f.refreshers[info.Name]
		f.mu.RUnlock()
		return &OAuthTokenProvider{
			factory:     f,
			key:         integration.Key(),
			refresher:   refresher,
			creds:       integration.Credentials.Clone(),
			lastUpdated: integration.LastUpdated,
		}, nil

	default:
		return nil, fmt.Errorf("%w: auth method %q", domain.ErrUnsupportedProvider, info.AuthMethod)
	}
}

// StaticTokenProvider implements TokenProvider for API keys.
type StaticTokenProvider struct {
	token      string
	authMethod domain.AuthMethod
}

// NewStaticTokenProvider creates a token provider for static credentials.
func NewStaticTokenProvider(token string, authMethod domain.AuthMethod) *StaticTokenProvider {
	return &StaticTokenProvider{token: token, authMethod: authMethod}
}

// GetAccessToken returns the static token.
func (p *StaticTokenProvider) GetAccessToken(ctx context.Context) (string, error) {
	return p.token, nil
}

// AuthMethod returns the authentication method.
func (p *StaticTokenProvider) AuthMethod() domain.AuthMethod {
	return p.authMethod
}

// OAuthTokenProvider implements TokenProvider for OAuth2 integrations.
// It refreshes the access token before it expires, persists the new pair
// through the vault, and flags the integration needs_reauth when the
// provider rejects the refresh token. It is safe for concurrent use.
type OAuthTokenProvider struct {
	factory   *TokenProviderFactory
	key       domain.IntegrationKey
	refresher driven.TokenRefresher

	mu          sync.Mutex
	creds       domain.Credentials
	lastUpdated time.Time
	rejected    string
}

// tokenState is the outcome of a refresh shared with every waiter.
type tokenState struct {
	creds       domain.Credentials
	lastUpdated time.Time
}

// AuthMethod returns OAuth2.
func (p *OAuthTokenProvider) AuthMethod() domain.AuthMethod {
	return domain.AuthMethodOAuth2
}

// GetAccessToken returns a valid access token, refreshing it first if it
// is expired, about to expire, or was rejected by the provider.
func (p *OAuthTokenProvider) GetAccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.usable(p.creds) {
		token := p.creds.AccessToken()
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()

	v, err, _ := p.factory.group.Do(p.key.String(), func() (any, error) {
		return p.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	state := v.(tokenState)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = state.creds.Clone()
	if !state.lastUpdated.IsZero() {
		p.lastUpdated = state.lastUpdated
	}
	return p.creds.AccessToken(), nil
}

// Invalidate marks token as rejected so the next call refreshes even if
// the token has not reached its expiry.
func (p *OAuthTokenProvider) Invalidate(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if token != "" && p.creds.AccessToken() == token {
		p.rejected = token
	}
}

// usable reports whether creds hold an access token that can be sent.
// Callers hold p.mu or pass creds that are not shared.
func (p *OAuthTokenProvider) usable(creds domain.Credentials) bool {
	token := creds.AccessToken()
	if token == "" || token == p.rejected {
		return false
	}
	expiry := creds.TokenExpiry()
	if expiry == nil {
		return true
	}
	return p.factory.now().Before(expiry.Add(-p.factory.skew))
}

func (p *OAuthTokenProvider) usableLocked(creds domain.Credentials) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usable(creds)
}

func (p *OAuthTokenProvider) refresh(ctx context.Context) (tokenState, error) {
	f := p.factory

	release, adopted, err := p.lockOrAdopt(ctx)
	if err != nil {
		return tokenState{}, err
	}
	if adopted != nil {
		return *adopted, nil
	}
	defer release()

	integration, err := f.vault.Load(ctx, p.key)
	if err != nil {
		return tokenState{}, err
	}
	if integration.Status == domain.ConnectionNeedsReauth {
		return tokenState{}, fmt.Errorf("%w: %s", domain.ErrReauthRequired, p.key)
	}
	if p.usableLocked(integration.Credentials) {
		p.count("adopted")
		return tokenState{creds: integration.Credentials, lastUpdated: integration.LastUpdated}, nil
	}

	if p.refresher == nil {
		return tokenState{}, fmt.Errorf("%w: no token refresher registered for %s", domain.ErrCredentialsUnavailable, p.key.Provider)
	}
	refreshToken := integration.Credentials.RefreshToken()
	if refreshToken == "" {
		return tokenState{}, p.fail(ctx, errors.New("no refresh token stored"))
	}

	token, err := p.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return tokenState{}, ctx.Err()
		}
		if definitiveRejection(err) {
			return tokenState{}, p.fail(ctx, err)
		}
		return tokenState{}, p.unavailable(err)
	}
	if token.AccessToken == "" {
		return tokenState{}, p.fail(ctx, errors.New("token endpoint returned no access token"))
	}

	expiry := token.Expiry(f.now())
	creds := integration.Credentials.Clone()
	creds.SetOAuthTokens(token.AccessToken, token.RefreshToken, expiry)

	state, adopted, err := p.persist(ctx, integration, creds)
	if err != nil {
		f.logger.Error("failed to persist refreshed token",
			"integration", p.key.String(),
			"error", err,
		)
		p.count("persist_failed")
		return tokenState{}, fmt.Errorf("persist refreshed token for %s: %w", p.key, err)
	}
	if adopted {
		p.count("adopted")
		return state, nil
	}

	f.logger.Info("oauth token refreshed",
		"integration", p.key.String(),
		"expires_in", token.ExpiresIn,
	)
	p.count("refreshed")
	return state, nil
}

// persist writes the refreshed pair. The provider has already rotated the
// refresh token, so the write runs detached from the caller and is retried
// up to persistAttempts times. On a conflict it adopts a usable token
// another process stored, otherwise it rebases onto the latest record.
func (p *OAuthTokenProvider) persist(ctx context.Context, loaded *domain.SellerIntegration, creds domain.Credentials) (tokenState, bool, error) {
	f := p.factory
	wctx := context.WithoutCancel(ctx)
	event := domain.NewHistoryEvent(domain.HistoryTokenRefreshed, "")
	previous := loaded.Credentials.AccessToken()
	expected := loaded.LastUpdated

	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if attempt > 1 {
			_ = sleepContext(wctx, time.Duration(attempt-1)*f.persistBackoff)
		}

		var updated time.Time
		updated, err = f.vault.SaveCredentials(wctx, p.key, creds, expected, event)
		if err == nil {
			return tokenState{creds: creds, lastUpdated: updated}, false, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			f.logger.Warn("refreshed token write failed",
				"integration", p.key.String(),
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		latest, loadErr := f.vault.Load(wctx, p.key)
		if loadErr != nil {
			err = loadErr
			continue
		}
		if p.usableLocked(latest.Credentials) && latest.Credentials.AccessToken() != previous {
			return tokenState{creds: latest.Credentials, lastUpdated: latest.LastUpdated}, true, nil
		}
		rebased := latest.Credentials.Clone()
		rebased.SetOAuthTokens(creds.AccessToken(), creds.RefreshToken(), creds.TokenExpiry())
		creds = rebased
		expected = latest.LastUpdated
	}
	return tokenState{}, false, err
}

// definitiveRejection reports whether the token endpoint refused the
// refresh token itself. Timeouts, throttling and 5xx responses leave the
// stored grant intact.
func definitiveRejection(err error) bool {
	var perr *domain.ProviderError
	if !errors.As(err, &perr) || perr.Timeout {
		return false
	}
	if perr.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return perr.StatusCode > 0 && perr.StatusCode < http.StatusInternalServerError
}

// unavailable reports a transient refresh failure without touching the
// connection status.
func (p *OAuthTokenProvider) unavailable(cause error) error {
	p.factory.logger.Warn("oauth token refresh unavailable",
		"integration", p.key.String(),
		"error", cause,
	)
	p.count("unavailable")
	var perr *domain.ProviderError
	if errors.As(cause, &perr) {
		return fmt.Errorf("refresh %s token: %w", p.key, cause)
	}
	return &domain.ProviderError{
		Provider: p.key.Provider,
		Message:  "token refresh failed: " + cause.Error(),
	}
}

// lockOrAdopt takes the cross-process refresh lock. While another process
// holds it, it polls the stored record and adopts the token that process
// writes.
func (p *OAuthTokenProvider) lockOrAdopt(ctx context.Context) (func(), *tokenState, error) {
	f := p.factory
	if f.lock == nil {
		return func() {}, nil, nil
	}

	name := driven.RefreshLockName(p.key)
	deadline := f.now().Add(f.lockWait)
	for {
		acquired, err := f.lock.Acquire(ctx, name, f.lockTTL)
		if err != nil {
			f.logger.Warn("refresh lock unavailable, refreshing without it",
				"integration", p.key.String(),
				"error", err,
			)
			return func() {}, nil, nil
		}
		if acquired {
			return func() {
				if err := f.lock.Release(context.WithoutCancel(ctx), name); err != nil {
					f.logger.Warn("failed to release refresh lock", "lock", name, "error", err)
				}
			}, nil, nil
		}

		if err := sleepContext(ctx, f.lockPoll); err != nil {
			return nil, nil, err
		}
		integration, err := f.vault.Load(ctx, p.key)
		if err == nil {
			if integration.Status == domain.ConnectionNeedsReauth {
				return nil, nil, fmt.Errorf("%w: %s", domain.ErrReauthRequired, p.key)
			}
			if p.usableLocked(integration.Credentials) {
				p.count("adopted")
				return nil, &tokenState{creds: integration.Credentials, lastUpdated: integration.LastUpdated}, nil
			}
		}
		if f.now().After(deadline) {
			return nil, nil, &domain.ProviderError{
				Provider: p.key.Provider,
				Message:  "timed out waiting for a concurrent token refresh",
				Timeout:  true,
			}
		}
	}
}

// fail flags the integration needs_reauth and returns ErrReauthRequired.
func (p *OAuthTokenProvider) fail(ctx context.Context, cause error) error {
	f := p.factory
	detail := "token refresh failed: " + cause.Error()
	if err := f.vault.MarkNeedsReauth(context.WithoutCancel(ctx), p.key, detail); err != nil {
		f.logger.Error("failed to flag integration for reauthorization",
			"integration", p.key.String(),
			"error", err,
		)
	}
	p.count("failed")
	return fmt.Errorf("%w: %s: %v", domain.ErrReauthRequired, p.key, cause)
}

func (p *OAuthTokenProvider) count(result string) {
	if p.factory.metrics == nil {
		return
	}
	p.factory.metrics.RecordMetric(driven.MetricTokenRefreshesTotal, 1, map[string]string{
		"provider": string(p.key.Provider),
		"result":   result,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
