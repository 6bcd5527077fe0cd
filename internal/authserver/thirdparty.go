package authserver

import (
	"context"
	"fmt"
	"time"

	"github.com/getjotsu/jotsu-mcp/internal/oauth2client"
	"github.com/getjotsu/jotsu-mcp/pkg/logger"
)

// HTTPError is the 500-with-message shape ThirdPartyProvider raises when
// the upstream exchange fails, mirroring the Python original's use of
// starlette's HTTPException(status_code=500) for both a 4xx/5xx response
// from the upstream token endpoint and any other exception the exchange
// call raises.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("authserver: upstream exchange failed (%d): %s", e.Status, e.Message)
}

// ThirdPartyProvider brokers the authorization-code dance against an
// upstream identity provider via internal/oauth2client, then re-signs
// whatever token the upstream hands back into a token of this engine's
// own (spec §4.6's "wrap the upstream token"), so a caller never holds an
// upstream-issued bearer value directly. Grounded on
// jotsu.mcp.server.auth.third_party.ThirdPartyAuthServerProvider via
// tests/mcp/server/auth/test_auth_third_party.py and
// tests/mcp/server/test_auth.py's ThirdPartyAuthServerProvider fixture.
type ThirdPartyProvider struct {
	Clients     ClientManager
	Oauth       *oauth2client.OAuth2AuthorizationCodeClient
	CallbackURL string
	SecretKey   string
	TokenTTL    time.Duration

	params *stateCache[AuthorizationParams]
}

func NewThirdPartyProvider(
	clients ClientManager, oauth *oauth2client.OAuth2AuthorizationCodeClient, callbackURL, secretKey string,
) *ThirdPartyProvider {
	return &ThirdPartyProvider{
		Clients:     clients,
		Oauth:       oauth,
		CallbackURL: callbackURL,
		SecretKey:   secretKey,
		TokenTTL:    time.Hour,
		params:      newStateCache[AuthorizationParams](10 * time.Minute),
	}
}

// RegisterClient saves a newly registered client. A save failure is
// logged at error level with the full error (the Python original's
// logger.exception call) and re-raised to the caller, unlike a refresh
// failure which is a soft, non-fatal outcome elsewhere in this package.
func (p *ThirdPartyProvider) RegisterClient(ctx context.Context, client *Client) error {
	if err := p.Clients.SaveClient(ctx, client); err != nil {
		logger.FromContext(ctx).Error("register client failed", "client_id", client.ClientID, "error", err.Error())
		return err
	}
	return nil
}

func (p *ThirdPartyProvider) GetClient(ctx context.Context, clientID string) (*Client, error) {
	return p.Clients.GetClient(ctx, clientID)
}

// Authorize caches params under their own state and returns the upstream
// authorize-endpoint redirect, using CallbackURL (this server's own
// callback, not the original client's redirect_uri) as the upstream
// redirect_uri.
func (p *ThirdPartyProvider) Authorize(ctx context.Context, client *Client, params AuthorizationParams) (string, error) {
	p.params.put(params.State, params)
	info := p.Oauth.AuthorizeInfo(p.CallbackURL, params.State, "")
	return info.URL, nil
}

// LoadAuthorizationCode resolves the code the upstream callback handed
// back (carried through keyed by the state this provider minted in
// Authorize) into the pending AuthorizationCode the token exchange needs.
func (p *ThirdPartyProvider) LoadAuthorizationCode(ctx context.Context, client *Client, code string) (*AuthorizationCode, error) {
	params, ok := p.params.get(code)
	if !ok {
		return nil, nil
	}
	return &AuthorizationCode{
		Code:                          code,
		ClientID:                      params.ClientID,
		Scopes:                        params.Scopes,
		RedirectURI:                   params.RedirectURI,
		RedirectURIProvidedExplicitly: params.RedirectURIProvidedExplicitly,
		CodeChallenge:                 params.CodeChallenge,
	}, nil
}

// ExchangeAuthorizationCode trades code.Code for an upstream token, then
// wraps the upstream access token inside a signed token of this server's
// own before returning it to the MCP client — the client only ever sees
// our JWT, never the upstream provider's bearer value.
func (p *ThirdPartyProvider) ExchangeAuthorizationCode(
	ctx context.Context, client *Client, code *AuthorizationCode,
) (*OAuthToken, error) {
	p.params.remove(code.Code)

	upstream, err := p.Oauth.ExchangeAuthorizationCode(ctx, p.CallbackURL, code.Code, "")
	if err != nil {
		logger.FromContext(ctx).Error("third-party authorization code exchange failed", "client_id", client.ClientID, "error", err.Error())
		return nil, &HTTPError{Status: 500, Message: err.Error()}
	}

	wrapped, expiresAt, err := signToken(p.SecretKey, client.ClientID, code.Scopes, upstream.AccessToken, p.TokenTTL)
	if err != nil {
		logger.FromContext(ctx).Error("sign wrapped token failed", "client_id", client.ClientID, "error", err.Error())
		return nil, &HTTPError{Status: 500, Message: err.Error()}
	}

	refreshWrapped := upstream.RefreshToken
	if refreshWrapped != "" {
		refreshWrapped, _, err = signToken(p.SecretKey, client.ClientID, code.Scopes, upstream.RefreshToken, 0)
		if err != nil {
			return nil, &HTTPError{Status: 500, Message: err.Error()}
		}
	}

	expiresIn := upstream.ExpiresIn
	if expiresAt > 0 {
		expiresIn = expiresAt - time.Now().Unix()
	}

	return &OAuthToken{
		AccessToken:  wrapped,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshWrapped,
		Scope:        upstream.Scope,
	}, nil
}

func (p *ThirdPartyProvider) LoadRefreshToken(ctx context.Context, client *Client, refreshToken string) (*RefreshToken, error) {
	claims, ok := parseToken(p.SecretKey, refreshToken)
	if !ok || claims.ClientID != client.ClientID {
		return nil, nil
	}
	return &RefreshToken{Token: refreshToken, ClientID: claims.ClientID, Scopes: claims.Scopes, ExpiresAt: expiresAtPtr(claims)}, nil
}

// ExchangeRefreshToken unwraps the stored upstream refresh token and
// hands it to oauth2client, which itself treats a failed refresh as a
// soft (nil, nil) outcome; this provider returns nil the same way on any
// unwrap or upstream failure rather than erroring, matching the pass-thru
// side's refresh semantics.
func (p *ThirdPartyProvider) ExchangeRefreshToken(
	ctx context.Context, client *Client, refreshToken *RefreshToken, scopes []string,
) (*OAuthToken, error) {
	claims, ok := parseToken(p.SecretKey, refreshToken.Token)
	if !ok {
		return nil, nil
	}

	upstream, err := p.Oauth.ExchangeRefreshToken(ctx, oauth2client.RefreshTokenInfo{
		Token: claims.UpstreamToken, ClientID: client.ClientID, Scopes: refreshToken.Scopes,
	}, scopes)
	if err != nil || upstream == nil {
		return nil, nil
	}

	wrapped, expiresAt, err := signToken(p.SecretKey, client.ClientID, scopes, upstream.AccessToken, p.TokenTTL)
	if err != nil {
		return nil, nil
	}
	expiresIn := upstream.ExpiresIn
	if expiresAt > 0 {
		expiresIn = expiresAt - time.Now().Unix()
	}
	return &OAuthToken{AccessToken: wrapped, TokenType: "bearer", ExpiresIn: expiresIn, Scope: upstream.Scope}, nil
}

func (p *ThirdPartyProvider) LoadAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	claims, ok := parseToken(p.SecretKey, token)
	if !ok {
		return nil, nil
	}
	return &AccessToken{Token: token, ClientID: claims.ClientID, Scopes: claims.Scopes, ExpiresAt: expiresAtPtr(claims)}, nil
}

// RevokeToken is a no-op success for the third-party provider — unlike
// pass-thru, which has nothing of its own to revoke and so rejects the
// call outright, the upstream token is left to expire on its own schedule
// and only our wrapping JWT (which carries no server-side state) needs
// forgetting, which the caller does by discarding it.
func (p *ThirdPartyProvider) RevokeToken(ctx context.Context, token string) error {
	return nil
}
