package driven

import "github.com/custodia-labs/marketlink-core/internal/core/domain"

// ServiceTokenAdapter signs and verifies bearer tokens used by platform
// services to call the API.
type ServiceTokenAdapter interface {
	// GenerateToken signs claims.
	GenerateToken(claims *domain.ServiceClaims) (string, error)

	// ParseToken verifies a token and returns its claims.
	// Returns ErrTokenExpired or ErrUnauthorized.
	ParseToken(token string) (*domain.ServiceClaims, error)
}
