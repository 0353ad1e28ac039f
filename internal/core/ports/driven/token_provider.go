package driven

import (
	"context"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// TokenProvider provides access tokens for API authentication.
// It handles token retrieval and automatic refresh for OAuth.
type TokenProvider interface {
	// GetAccessToken returns a valid access token.
	// For OAuth, this refreshes an expired token first and fails with
	// domain.ErrReauthRequired when the refresh is rejected.
	// For API keys, this returns the stored key.
	GetAccessToken(ctx context.Context) (string, error)

	// AuthMethod returns the authentication method.
	AuthMethod() domain.AuthMethod
}

// TokenRefresher exchanges a refresh token at a provider's token endpoint.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*domain.OAuthToken, error)
}

// TokenRefresherFunc adapts a function to TokenRefresher.
type TokenRefresherFunc func(ctx context.Context, refreshToken string) (*domain.OAuthToken, error)

// RefreshToken calls f.
func (f TokenRefresherFunc) RefreshToken(ctx context.Context, refreshToken string) (*domain.OAuthToken, error) {
	return f(ctx, refreshToken)
}
