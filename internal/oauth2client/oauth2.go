// Package oauth2client implements the OAuth 2.0 authorization-code flow a
// server config's headers/OAuth block needs: building the authorize URL,
// exchanging a code (optionally with PKCE) for a token, refreshing a
// token, and the two discovery RFCs (8414 metadata, 7591 dynamic client
// registration) used when a server doesn't ship static OAuth endpoints
// (spec §4.5). It mirrors jotsu.mcp.client.oauth.OAuth2AuthorizationCodeClient
// field for field; HTTP calls go through go-resty/resty/v2, the teacher's
// convention for outbound HTTP.
package oauth2client

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"github.com/getjotsu/jotsu-mcp/pkg/logger"
)

// Token mirrors the RFC 6749 token response shape. Scope is space
// delimited per RFC 6749 §3.3; Scopes splits it on demand.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Scopes splits Token.Scope on whitespace, matching oauth2.Token's
// convention for the same field.
func (t Token) Scopes() []string {
	return splitScope(t.Scope)
}

// ToOAuth2Token adapts Token to golang.org/x/oauth2's Token value type.
func (t Token) ToOAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 {
		tok = tok.WithExtra(map[string]any{"expires_in": t.ExpiresIn})
		expiry := time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
		tok.Expiry = expiry
	}
	return tok
}

// RefreshTokenInfo is what a caller must have on hand to refresh: the
// stored refresh token plus the client/scopes it was issued for.
type RefreshTokenInfo struct {
	Token    string
	ClientID string
	Scopes   []string
}

// AuthorizationParams is the result of building an authorize redirect.
type AuthorizationParams struct {
	URL   string
	State string
}

// ServerMetadata is the subset of RFC 8414 authorization server metadata
// this client needs.
type ServerMetadata struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
}

// ClientInformation is the RFC 7591 dynamic client registration response.
type ClientInformation struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

// OAuth2AuthorizationCodeClient drives the authorization-code grant
// against a single server's OAuth endpoints.
type OAuth2AuthorizationCodeClient struct {
	AuthorizeEndpoint string
	TokenEndpoint     string
	Scope             string
	ClientID          string
	ClientSecret      string

	httpClient *resty.Client
}

func New(authorizeEndpoint, tokenEndpoint, scope, clientID, clientSecret string) *OAuth2AuthorizationCodeClient {
	return &OAuth2AuthorizationCodeClient{
		AuthorizeEndpoint: authorizeEndpoint,
		TokenEndpoint:     tokenEndpoint,
		Scope:             scope,
		ClientID:          clientID,
		ClientSecret:      clientSecret,
		httpClient:        resty.New(),
	}
}

// GenerateState returns a URL-safe random string for CSRF protection on
// the authorize redirect.
func (c *OAuth2AuthorizationCodeClient) GenerateState() string {
	return randomURLSafe(24)
}

// AuthorizeInfo builds the authorize-endpoint redirect URL. codeChallenge,
// when non-empty, adds RFC 7636 PKCE parameters (code_challenge plus
// code_challenge_method=S256 — this client only ever generates S256
// challenges, spec §4.5).
func (c *OAuth2AuthorizationCodeClient) AuthorizeInfo(redirectURI, state, codeChallenge string) AuthorizationParams {
	u := fmt.Sprintf(
		"%s?response_type=code&client_id=%s&redirect_uri=%s&scope=%s&state=%s",
		c.AuthorizeEndpoint,
		url.QueryEscape(c.ClientID),
		url.QueryEscape(redirectURI),
		url.QueryEscape(c.Scope),
		url.QueryEscape(state),
	)
	if codeChallenge != "" {
		u += fmt.Sprintf("&code_challenge=%s&code_challenge_method=S256", url.QueryEscape(codeChallenge))
	}
	return AuthorizationParams{URL: u, State: state}
}

// CodeChallengeS256 derives the RFC 7636 S256 code_challenge for a given
// code_verifier: BASE64URL-ENCODE(SHA256(ASCII(code_verifier))), no padding.
func CodeChallengeS256(codeVerifier string) string {
	sum := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ExchangeAuthorizationCode trades an authorization code for a token.
// Unlike ExchangeRefreshToken, a failed exchange here is a hard error:
// the caller cannot proceed without a token at this point in the flow.
func (c *OAuth2AuthorizationCodeClient) ExchangeAuthorizationCode(
	ctx context.Context, redirectURI, code, codeVerifier string,
) (*Token, error) {
	form := map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": redirectURI,
		"client_id":    c.ClientID,
	}
	if c.ClientSecret != "" {
		form["client_secret"] = c.ClientSecret
	}
	if codeVerifier != "" {
		form["code_verifier"] = codeVerifier
	}

	var token Token
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&token).
		Post(c.TokenEndpoint)
	if err != nil {
		return nil, fmt.Errorf("oauth2client: exchange authorization code: %w", err)
	}
	if resp.IsError() {
		logger.FromContext(ctx).Warn("oauth2 authorization code exchange failed",
			"status", resp.StatusCode(), "endpoint", c.TokenEndpoint)
		return nil, fmt.Errorf("oauth2client: token endpoint returned %d", resp.StatusCode())
	}
	return &token, nil
}

// ExchangeRefreshToken trades a refresh token for a new access token. A
// failed refresh is a soft failure: it logs and returns (nil, nil) rather
// than an error, so callers can fall back to re-authorization instead of
// treating an expired refresh token as fatal.
func (c *OAuth2AuthorizationCodeClient) ExchangeRefreshToken(
	ctx context.Context, refreshToken RefreshTokenInfo, scopes []string,
) (*Token, error) {
	form := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken.Token,
		"client_id":     c.ClientID,
	}
	if c.ClientSecret != "" {
		form["client_secret"] = c.ClientSecret
	}
	if len(scopes) > 0 {
		form["scope"] = joinScope(scopes)
	}

	var token Token
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&token).
		Post(c.TokenEndpoint)
	if err != nil {
		logger.FromContext(ctx).Warn("oauth2 refresh token exchange failed", "error", err.Error())
		return nil, nil
	}
	if resp.IsError() {
		logger.FromContext(ctx).Warn("oauth2 refresh token exchange failed",
			"status", resp.StatusCode(), "endpoint", c.TokenEndpoint)
		return nil, nil
	}
	return &token, nil
}

const wellKnownPath = "/.well-known/oauth-authorization-server"

// ServerMetadataDiscovery performs RFC 8414 metadata discovery against
// baseURL. A 404 is treated as "no discovery document published" and
// synthesizes the conventional /authorize, /token, /register endpoints
// relative to baseURL's origin rather than failing the caller.
func ServerMetadataDiscovery(ctx context.Context, baseURL string) (*ServerMetadata, error) {
	origin, err := originOf(baseURL)
	if err != nil {
		return nil, fmt.Errorf("oauth2client: parse base url %q: %w", baseURL, err)
	}

	client := resty.New()
	var metadata ServerMetadata
	resp, err := client.R().SetContext(ctx).SetResult(&metadata).Get(origin + wellKnownPath)
	if err != nil {
		return nil, fmt.Errorf("oauth2client: metadata discovery: %w", err)
	}
	if resp.StatusCode() == 404 {
		return &ServerMetadata{
			AuthorizationEndpoint: origin + "/authorize",
			TokenEndpoint:         origin + "/token",
			RegistrationEndpoint:  origin + "/register",
		}, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oauth2client: metadata discovery returned %d", resp.StatusCode())
	}
	return &metadata, nil
}

// DynamicClientRegistration performs RFC 7591 registration against
// registrationEndpoint.
func DynamicClientRegistration(
	ctx context.Context, registrationEndpoint string, redirectURIs []string,
) (*ClientInformation, error) {
	client := resty.New()
	var info ClientInformation
	resp, err := client.R().
		SetContext(ctx).
		SetBody(map[string]any{"redirect_uris": redirectURIs}).
		SetResult(&info).
		Post(registrationEndpoint)
	if err != nil {
		return nil, fmt.Errorf("oauth2client: dynamic client registration: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oauth2client: registration endpoint returned %d", resp.StatusCode())
	}
	return &info, nil
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

func randomURLSafe(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}

func joinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
