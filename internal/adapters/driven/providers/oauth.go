package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure OAuthRefresher implements the interface.
var _ driven.TokenRefresher = (*OAuthRefresher)(nil)

// OAuthRefresher exchanges refresh tokens at a provider's OAuth2 token
// endpoint using the refresh_token grant.
type OAuthRefresher struct {
	provider     domain.ProviderName
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewOAuthRefresher creates a refresher for a provider's token endpoint.
func NewOAuthRefresher(info domain.ProviderInfo, clientID, clientSecret string, timeout time.Duration) *OAuthRefresher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OAuthRefresher{
		provider:     info.Name,
		tokenURL:     info.TokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// RefreshToken exchanges refreshToken for a new token pair.
func (r *OAuthRefresher) RefreshToken(ctx context.Context, refreshToken string) (*domain.OAuthToken, error) {
	params := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {r.clientID},
	}
	if r.clientSecret != "" {
		params.Set("client_secret", r.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		timeout := errors.As(err, &netErr) && netErr.Timeout()
		return nil, &domain.ProviderError{Provider: r.provider, Message: err.Error(), Timeout: timeout}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Error        string `json:"error"`
		ErrorDesc    string `json:"error_description"`
	}
	decodeErr := json.Unmarshal(body, &tokenResp)

	if resp.StatusCode != http.StatusOK || tokenResp.Error != "" {
		msg := tokenResp.Error
		if tokenResp.ErrorDesc != "" {
			msg += ": " + tokenResp.ErrorDesc
		}
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &domain.ProviderError{
			Provider:   r.provider,
			StatusCode: resp.StatusCode,
			Message:    "token refresh rejected: " + msg,
		}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode token response: %w", decodeErr)
	}

	return &domain.OAuthToken{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresIn:    tokenResp.ExpiresIn,
		TokenType:    tokenResp.TokenType,
	}, nil
}
