package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

func TestOAuthRefresher_Exchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"access-2","refresh_token":"refresh-2","expires_in":3600,"token_type":"bearer"}`)
	}))
	defer srv.Close()

	info := domain.ProviderInfo{Name: domain.ProviderPrintful, TokenURL: srv.URL}
	token, err := NewOAuthRefresher(info, "client-id", "client-secret", 0).RefreshToken(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token.AccessToken)
	assert.Equal(t, "refresh-2", token.RefreshToken)
	assert.Equal(t, 3600, token.ExpiresIn)
}

func TestOAuthRefresher_OmitsEmptySecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, present := r.PostForm["client_secret"]
		assert.False(t, present)
		_, _ = io.WriteString(w, `{"access_token":"a"}`)
	}))
	defer srv.Close()

	info := domain.ProviderInfo{Name: domain.ProviderShipHero, TokenURL: srv.URL}
	_, err := NewOAuthRefresher(info, "client-id", "", 0).RefreshToken(context.Background(), "r")
	require.NoError(t, err)
}

func TestOAuthRefresher_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"refresh token revoked"}`)
	}))
	defer srv.Close()

	info := domain.ProviderInfo{Name: domain.ProviderPrintful, TokenURL: srv.URL}
	_, err := NewOAuthRefresher(info, "client-id", "s", 0).RefreshToken(context.Background(), "refresh-1")
	require.Error(t, err)

	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	assert.Equal(t, domain.ProviderPrintful, perr.Provider)
	assert.Contains(t, perr.Message, "invalid_grant: refresh token revoked")
}

func TestOAuthRefresher_ErrorFieldWithOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"invalid_client"}`)
	}))
	defer srv.Close()

	info := domain.ProviderInfo{Name: domain.ProviderShipHero, TokenURL: srv.URL}
	_, err := NewOAuthRefresher(info, "c", "", 0).RefreshToken(context.Background(), "r")
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Contains(t, err.Error(), "invalid_client")
}
