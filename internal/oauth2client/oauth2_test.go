package oauth2client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *OAuth2AuthorizationCodeClient {
	return New("https://example.com/authorize", "https://example.com/token", "scope", "client_id", "client_secret")
}

func TestAuthorizeInfoBuildsURL(t *testing.T) {
	c := newTestClient()
	state := "abc123"
	params := c.AuthorizeInfo("https://localhost", state, "")
	want := "https://example.com/authorize?response_type=code&client_id=client_id&redirect_uri=https%3A%2F%2Flocalhost&scope=scope&state=abc123"
	assert.Equal(t, want, params.URL)
}

func TestAuthorizeInfoWithPKCEChallenge(t *testing.T) {
	c := newTestClient()
	params := c.AuthorizeInfo("https://localhost", "abc123", "challenge-value")
	assert.Contains(t, params.URL, "code_challenge=challenge-value")
	assert.Contains(t, params.URL, "code_challenge_method=S256")
}

func TestCodeChallengeS256IsDeterministic(t *testing.T) {
	a := CodeChallengeS256("verifier")
	b := CodeChallengeS256("verifier")
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestGenerateStateIsNonEmptyAndVaries(t *testing.T) {
	c := newTestClient()
	a := c.GenerateState()
	b := c.GenerateState()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestExchangeAuthorizationCodeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		assert.Equal(t, "xxx", r.FormValue("code"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": "123"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/authorize", srv.URL+"/token", "scope", "client_id", "client_secret")
	token, err := c.ExchangeAuthorizationCode(context.Background(), "https://localhost", "xxx", "")
	require.NoError(t, err)
	assert.Equal(t, "123", token.AccessToken)
}

func TestExchangeAuthorizationCodeWithPKCE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "verifier-value", r.FormValue("code_verifier"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": "123"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/authorize", srv.URL+"/token", "scope", "client_id", "client_secret")
	token, err := c.ExchangeAuthorizationCode(context.Background(), "https://localhost", "xxx", "verifier-value")
	require.NoError(t, err)
	assert.Equal(t, "123", token.AccessToken)
}

func TestExchangeAuthorizationCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL+"/authorize", srv.URL+"/token", "scope", "client_id", "client_secret")
	_, err := c.ExchangeAuthorizationCode(context.Background(), "https://localhost", "xxx", "")
	assert.Error(t, err)
}

func TestExchangeRefreshTokenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "123"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/authorize", srv.URL+"/token", "scope", "client_id", "client_secret")
	token, err := c.ExchangeRefreshToken(context.Background(), RefreshTokenInfo{Token: "xyz", ClientID: c.ClientID}, nil)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "123", token.AccessToken)
}

func TestExchangeRefreshTokenFailureReturnsNilNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL+"/authorize", srv.URL+"/token", "scope", "client_id", "client_secret")
	token, err := c.ExchangeRefreshToken(context.Background(), RefreshTokenInfo{Token: "xyz", ClientID: c.ClientID}, nil)
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestServerMetadataDiscoverySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/oauth-authorization-server", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"authorization_endpoint": srv200URL(r) + "/authorize",
			"token_endpoint":         srv200URL(r) + "/token",
			"registration_endpoint":  srv200URL(r) + "/register",
		})
	}))
	defer srv.Close()

	meta, err := ServerMetadataDiscovery(context.Background(), srv.URL+"/mcp/")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.NotEmpty(t, meta.AuthorizationEndpoint)
}

func srv200URL(r *http.Request) string {
	return "http://" + r.Host
}

func TestServerMetadataDiscoveryDefaultsOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	meta, err := ServerMetadataDiscovery(context.Background(), srv.URL+"/mcp/")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, srv.URL+"/authorize", meta.AuthorizationEndpoint)
	assert.Equal(t, srv.URL+"/token", meta.TokenEndpoint)
	assert.Equal(t, srv.URL+"/register", meta.RegistrationEndpoint)
}

func TestServerMetadataDiscoveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := ServerMetadataDiscovery(context.Background(), srv.URL+"/mcp/")
	assert.Error(t, err)
}

func TestDynamicClientRegistrationSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "redirect_uris")
		json.NewEncoder(w).Encode(map[string]any{
			"client_id":     "client_id",
			"client_secret": "client_secret",
			"redirect_uris": []string{"http://localhost"},
		})
	}))
	defer srv.Close()

	info, err := DynamicClientRegistration(context.Background(), srv.URL+"/register", []string{"http://localhost"})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "client_id", info.ClientID)
}

func TestTokenScopesSplitsOnWhitespace(t *testing.T) {
	tok := Token{Scope: "read write"}
	assert.Equal(t, []string{"read", "write"}, tok.Scopes())
}

func TestTokenToOAuth2Token(t *testing.T) {
	tok := Token{AccessToken: "123", TokenType: "Bearer", ExpiresIn: 3600}
	o2 := tok.ToOAuth2Token()
	assert.Equal(t, "123", o2.AccessToken)
	assert.False(t, o2.Expiry.IsZero())
}
