package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

func validClaims() *domain.ServiceClaims {
	now := time.Now()
	return &domain.ServiceClaims{
		Service:   "storefront",
		SellerID:  "seller-1",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
}

func TestNewAdapter(t *testing.T) {
	adapter := NewAdapter("test-secret")
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if string(adapter.jwtSecret) != "test-secret" {
		t.Error("expected jwt secret to be set")
	}
}

func TestGenerateToken(t *testing.T) {
	adapter := NewAdapter("test-jwt-secret")

	token, err := adapter.GenerateToken(validClaims())
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	// JWT tokens have 3 parts separated by dots
	if got := strings.Count(token, "."); got != 2 {
		t.Errorf("expected JWT with 2 dots (3 parts), got %d dots", got)
	}
}

func TestGenerateToken_RequiresService(t *testing.T) {
	adapter := NewAdapter("test-jwt-secret")

	claims := validClaims()
	claims.Service = ""
	if _, err := adapter.GenerateToken(claims); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestParseToken_ValidToken(t *testing.T) {
	adapter := NewAdapter("test-jwt-secret")
	original := validClaims()

	token, _ := adapter.GenerateToken(original)
	parsed, err := adapter.ParseToken(token)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}

	if parsed.Service != original.Service {
		t.Errorf("expected Service %s, got %s", original.Service, parsed.Service)
	}
	if parsed.SellerID != original.SellerID {
		t.Errorf("expected SellerID %s, got %s", original.SellerID, parsed.SellerID)
	}
	if parsed.ExpiresAt != original.ExpiresAt {
		t.Errorf("expected ExpiresAt %d, got %d", original.ExpiresAt, parsed.ExpiresAt)
	}
}

func TestParseToken_PlatformWideToken(t *testing.T) {
	adapter := NewAdapter("test-jwt-secret")
	claims := validClaims()
	claims.SellerID = ""

	token, _ := adapter.GenerateToken(claims)
	parsed, err := adapter.ParseToken(token)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}
	if parsed.SellerID != "" {
		t.Errorf("expected no seller scope, got %q", parsed.SellerID)
	}
}

func TestParseToken_ExpiredToken(t *testing.T) {
	adapter := NewAdapter("test-jwt-secret")

	past := time.Now().Add(-2 * time.Hour)
	claims := validClaims()
	claims.IssuedAt = past.Add(-time.Hour).Unix()
	claims.ExpiresAt = past.Unix()

	token, _ := adapter.GenerateToken(claims)
	if _, err := adapter.ParseToken(token); !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, _ := NewAdapter("secret-1").GenerateToken(validClaims())

	if _, err := NewAdapter("secret-2").ParseToken(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParseToken_WrongIssuer(t *testing.T) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "storefront",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := NewAdapter("secret").ParseToken(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParseToken_MissingExpiry(t *testing.T) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "storefront"},
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))

	if _, err := NewAdapter("secret").ParseToken(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParseToken_UnsignedRejected(t *testing.T) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "storefront",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)

	if _, err := NewAdapter("secret").ParseToken(token); err == nil {
		t.Error("expected error for unsigned token")
	}
}

func TestParseToken_MalformedToken(t *testing.T) {
	adapter := NewAdapter("test-secret")

	testCases := []string{
		"",
		"not-a-jwt",
		"only.two.parts.missing",
		"header.payload", // missing signature
	}

	for _, tc := range testCases {
		if _, err := adapter.ParseToken(tc); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized for malformed token %q, got %v", tc, err)
		}
	}
}

func BenchmarkParseToken(b *testing.B) {
	adapter := NewAdapter("test-secret")
	token, _ := adapter.GenerateToken(validClaims())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = adapter.ParseToken(token)
	}
}
