package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure Adapter implements ServiceTokenAdapter
var _ driven.ServiceTokenAdapter = (*Adapter)(nil)

const issuer = "marketlink"

// jwtClaims wraps domain.ServiceClaims for JWT compatibility.
// The calling service is the subject.
type jwtClaims struct {
	SellerID string `json:"seller_id,omitempty"`
	jwt.RegisteredClaims
}

// Adapter signs and verifies HS256 service tokens.
type Adapter struct {
	jwtSecret []byte
	leeway    time.Duration
}

// NewAdapter creates a new auth adapter with the given JWT secret
func NewAdapter(jwtSecret string) *Adapter {
	return &Adapter{
		jwtSecret: []byte(jwtSecret),
		leeway:    30 * time.Second,
	}
}

// GenerateToken creates a signed JWT from service claims
func (a *Adapter) GenerateToken(claims *domain.ServiceClaims) (string, error) {
	if claims.Service == "" {
		return "", domain.NewValidationError("service", "is required")
	}
	jc := jwtClaims{
		SellerID: claims.SellerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   claims.Service,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jc)
	return token.SignedString(a.jwtSecret)
}

// ParseToken validates a JWT and extracts service claims
func (a *Adapter) ParseToken(tokenString string) (*domain.ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthorized)
	}
	out := &domain.ServiceClaims{
		Service:  claims.Subject,
		SellerID: claims.SellerID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}
