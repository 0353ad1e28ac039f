package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// mockTokens accepts "valid-<seller>" tokens; "valid-any" is platform wide.
type mockTokens struct{}

func (mockTokens) GenerateToken(claims *domain.ServiceClaims) (string, error) {
	return "valid-" + claims.SellerID, nil
}

func (mockTokens) ParseToken(token string) (*domain.ServiceClaims, error) {
	switch {
	case token == "expired":
		return nil, domain.ErrTokenExpired
	case token == "valid-any":
		return &domain.ServiceClaims{Service: "ops"}, nil
	case strings.HasPrefix(token, "valid-"):
		return &domain.ServiceClaims{Service: "storefront", SellerID: strings.TrimPrefix(token, "valid-")}, nil
	default:
		return nil, domain.ErrUnauthorized
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{name: "valid bearer token", header: "Bearer abc123", expected: "abc123"},
		{name: "bearer with extra spaces", header: "Bearer   token-with-spaces   ", expected: "token-with-spaces"},
		{name: "lowercase bearer", header: "bearer token123", expected: "token123"},
		{name: "empty header", header: "", expected: ""},
		{name: "no bearer prefix", header: "token123", expected: ""},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			result := extractBearerToken(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestGetAuthContext(t *testing.T) {
	if GetAuthContext(context.Background()) != nil {
		t.Error("expected nil for context without auth")
	}

	authCtx := &domain.AuthContext{Service: "storefront", SellerID: "S"}
	ctx := context.WithValue(context.Background(), authContextKey, authCtx)
	if got := GetAuthContext(ctx); got != authCtx {
		t.Errorf("expected %v, got %v", authCtx, got)
	}
}

func TestAuthenticate(t *testing.T) {
	m := NewAuthMiddleware(mockTokens{})
	var seen *domain.AuthContext
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing token", header: "", status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer garbage", status: http.StatusUnauthorized},
		{name: "expired token", header: "Bearer expired", status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer valid-S", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}
			if tt.status == http.StatusOK && (seen == nil || seen.SellerID != "S") {
				t.Errorf("expected auth context for seller S, got %v", seen)
			}
		})
	}
}

func TestAuthenticate_ExpiredMessage(t *testing.T) {
	handler := NewAuthMiddleware(mockTokens{}).Authenticate(http.NotFoundHandler())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := decodeError(t, rr); got != "token expired" {
		t.Errorf("expected token expired, got %q", got)
	}
}

func TestRequireSeller(t *testing.T) {
	m := NewAuthMiddleware(mockTokens{})
	mux := http.NewServeMux()
	mux.Handle("GET /sellers/{seller}", m.Authenticate(m.RequireSeller(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))))

	tests := []struct {
		name   string
		token  string
		path   string
		status int
	}{
		{name: "own seller", token: "valid-S", path: "/sellers/S", status: http.StatusOK},
		{name: "other seller", token: "valid-S", path: "/sellers/T", status: http.StatusForbidden},
		{name: "platform token", token: "valid-any", path: "/sellers/T", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestRequireSeller_NoAuthContext(t *testing.T) {
	handler := NewAuthMiddleware(mockTokens{}).RequireSeller(http.NotFoundHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := NewRecoveryMiddleware(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	var captured int
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		if rw, ok := w.(*responseWriter); ok {
			captured = rw.statusCode
		}
	})
	rr := httptest.NewRecorder()
	NewLoggingMiddleware(nil).Handler(inner).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusTeapot || captured != http.StatusTeapot {
		t.Errorf("expected 418, got recorder %d captured %d", rr.Code, captured)
	}
}
