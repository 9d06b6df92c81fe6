package authorityhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/smallbiznis/fakturo/internal/compliance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, authCalls *int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(authCalls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-1",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api", handler)
	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(domain.AuthorityConfig{
		BaseURL:      baseURL,
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoints:    domain.Endpoints{Auth: "/auth"},
	})
	require.NoError(t, err)
	return client
}

func TestAuthenticateCachesToken(t *testing.T) {
	var authCalls int32
	server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer server.Close()

	client := newTestClient(t, server.URL)

	first, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	second, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls))
}

func TestDoJSONReauthenticatesOn401(t *testing.T) {
	var authCalls, apiCalls int32
	server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&apiCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	})
	defer server.Close()

	client := newTestClient(t, server.URL)

	var out map[string]string
	status, err := client.DoJSON(context.Background(), http.MethodGet, "/api", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&authCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
}

func TestDoJSONSendsBearerToken(t *testing.T) {
	var authCalls int32
	var gotAuth string
	server := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	defer server.Close()

	client := newTestClient(t, server.URL)

	status, err := client.DoJSON(context.Background(), http.MethodPost, "/api", map[string]string{"a": "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Bearer token-1", gotAuth)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(domain.AuthorityConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
