// Package authserver implements the two OAuth 2.1 authorization-server
// provider shapes the engine's own MCP surface can run behind (spec §4.6):
// a pass-thru provider for servers that mint their own tokens, and a
// third-party provider that brokers an upstream OAuth exchange and wraps
// the result behind a signed token of this engine's own. Grounded on
// jotsu/mcp/server/auth/base.py and jotsu/mcp/server/auth/third_party.py
// via their tests (tests/mcp/server/auth/test_auth_pass_thru.py,
// test_auth_third_party.py, tests/mcp/server/test_auth.py).
package authserver

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by operations the pass-thru provider
// never supports, mirroring the Python base class's NotImplementedError
// for register_client/revoke_token.
var ErrNotImplemented = errors.New("authserver: not implemented")

// Client is a registered OAuth client, the Go analogue of mcp.server.auth
// provider's OAuthClientInformationFull.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURIs []string
	Scope        string
}

// ClientManager stores registered clients. A production deployment backs
// this with whatever the surrounding service already uses for client
// bookkeeping; tests use an in-memory map.
type ClientManager interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	SaveClient(ctx context.Context, client *Client) error
}

// AuthorizationParams is what Authorize needs to remember between the
// redirect to the authorization endpoint and the callback that presents
// an authorization code, keyed by the state value threaded through the
// round trip.
type AuthorizationParams struct {
	State                         string
	ClientID                      string
	Scopes                        []string
	RedirectURI                   string
	RedirectURIProvidedExplicitly bool
	CodeChallenge                 string
}

// AuthorizationCode is what LoadAuthorizationCode resolves a code value
// into, carrying enough of the original request to validate the token
// exchange against it.
type AuthorizationCode struct {
	Code                          string
	ClientID                      string
	Scopes                        []string
	RedirectURI                   string
	RedirectURIProvidedExplicitly bool
	CodeChallenge                 string
	ExpiresAt                     int64
}

// RefreshToken is what LoadRefreshToken resolves a refresh token value
// into.
type RefreshToken struct {
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt *int64
}

// AccessToken is what LoadAccessToken resolves a bearer token value into.
type AccessToken struct {
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt *int64
}

// OAuthToken is the RFC 6749 shape ExchangeAuthorizationCode and
// ExchangeRefreshToken hand back to the MCP SDK's token endpoint.
type OAuthToken struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
}

func fmtErr(format string, args ...any) error {
	return fmt.Errorf("authserver: "+format, args...)
}
