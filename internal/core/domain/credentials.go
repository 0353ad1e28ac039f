package domain

import "time"

// AuthMethod defines how to authenticate with a provider
type AuthMethod string

const (
	AuthMethodOAuth2 AuthMethod = "oauth2"
	AuthMethodAPIKey AuthMethod = "api_key"
)

// Well-known credential keys. Providers may define additional keys.
const (
	CredentialAPIKey       = "api_key"
	CredentialAccessToken  = "access_token"
	CredentialRefreshToken = "refresh_token"
	CredentialTokenExpiry  = "token_expiry"
)

// Credentials is the decrypted credential map of an integration.
// It is encrypted as a single blob before storage.
type Credentials map[string]string

// Clone returns a copy that can be mutated independently.
func (c Credentials) Clone() Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// APIKey returns the stored API key.
func (c Credentials) APIKey() string {
	return c[CredentialAPIKey]
}

// AccessToken returns the stored OAuth access token.
func (c Credentials) AccessToken() string {
	return c[CredentialAccessToken]
}

// RefreshToken returns the stored OAuth refresh token.
func (c Credentials) RefreshToken() string {
	return c[CredentialRefreshToken]
}

// TokenExpiry returns the access token expiry, or nil if unknown.
func (c Credentials) TokenExpiry() *time.Time {
	raw := c[CredentialTokenExpiry]
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// SetOAuthTokens stores a token pair. An empty refresh token keeps the old one.
func (c Credentials) SetOAuthTokens(accessToken, refreshToken string, expiry *time.Time) {
	c[CredentialAccessToken] = accessToken
	if refreshToken != "" {
		c[CredentialRefreshToken] = refreshToken
	}
	if expiry != nil {
		c[CredentialTokenExpiry] = expiry.UTC().Format(time.RFC3339)
	} else {
		delete(c, CredentialTokenExpiry)
	}
}

// Missing returns the keys from required that are absent or empty.
func (c Credentials) Missing(required []string) []string {
	var missing []string
	for _, key := range required {
		if c[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// OAuthToken is the token response of a provider's refresh endpoint.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int    // Seconds until expiry
	TokenType    string // Usually "Bearer"
}

// Expiry converts ExpiresIn to an absolute time relative to now.
func (t *OAuthToken) Expiry(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	expiry := now.Add(time.Duration(t.ExpiresIn) * time.Second)
	return &expiry
}
