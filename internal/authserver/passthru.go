package authserver

import (
	"context"
	"net/url"
	"time"

	"github.com/getjotsu/jotsu-mcp/pkg/logger"
)

// codeRecord is what Authorize stashes for a PassThruProvider between the
// redirect and LoadAuthorizationCode; for a pass-thru server there is no
// upstream to contact, so the record *is* the eventual authorization code.
type codeRecord struct {
	params AuthorizationParams
	code   string
}

// PassThruProvider is an authorization-server provider for MCP servers
// that mint and validate their own bearer tokens: this engine only needs
// to shepherd the authorization_code/redirect_uri/state dance and then
// defer the actual code-for-token exchange to ExchangeAuthorizationCode
// (the Go analogue of the Python base class's abstract
// _exchange_authorization_code hook). RegisterClient and RevokeToken are
// not supported, matching jotsu.mcp.server.auth.base.AuthServerProvider.
type PassThruProvider struct {
	Clients   ClientManager
	SecretKey string
	TokenTTL  time.Duration

	// ExchangeAuthorizationCode trades a resolved AuthorizationCode for a
	// token against whatever this server actually fronts. Required.
	ExchangeAuthorizationCode func(ctx context.Context, client *Client, code *AuthorizationCode) (*OAuthToken, error)

	// ExchangeRefreshTokenFunc trades a refresh token for a new access
	// token. A nil return (no error) signals a soft failure per spec
	// §4.6 ("an expired/revoked refresh token is not fatal").
	ExchangeRefreshTokenFunc func(ctx context.Context, client *Client, refreshToken *RefreshToken, scopes []string) (*OAuthToken, error)

	codes *stateCache[codeRecord]
}

func NewPassThruProvider(clients ClientManager, secretKey string) *PassThruProvider {
	return &PassThruProvider{
		Clients:   clients,
		SecretKey: secretKey,
		TokenTTL:  time.Hour,
		codes:     newStateCache[codeRecord](10 * time.Minute),
	}
}

func (p *PassThruProvider) RegisterClient(ctx context.Context, client *Client) error {
	return ErrNotImplemented
}

func (p *PassThruProvider) GetClient(ctx context.Context, clientID string) (*Client, error) {
	return p.Clients.GetClient(ctx, clientID)
}

// Authorize builds the redirect the caller sends the user agent to. A
// pass-thru server has no upstream authorize endpoint to forward to, so
// the redirect is the client's own redirect_uri with code and state query
// parameters. The state value itself serves as the authorization code; the
// params are recorded under it so the subsequent callback can recover them.
func (p *PassThruProvider) Authorize(ctx context.Context, client *Client, params AuthorizationParams) (string, error) {
	code := params.State
	p.codes.put(code, codeRecord{params: params, code: code})

	u, err := url.Parse(params.RedirectURI)
	if err != nil {
		return "", fmtErr("authorize: parse redirect_uri: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if params.State != "" {
		q.Set("state", params.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *PassThruProvider) LoadAuthorizationCode(ctx context.Context, client *Client, code string) (*AuthorizationCode, error) {
	rec, ok := p.codes.get(code)
	if !ok {
		return nil, nil
	}
	return &AuthorizationCode{
		Code:                          rec.code,
		ClientID:                      rec.params.ClientID,
		Scopes:                        rec.params.Scopes,
		RedirectURI:                   rec.params.RedirectURI,
		RedirectURIProvidedExplicitly: rec.params.RedirectURIProvidedExplicitly,
		CodeChallenge:                 rec.params.CodeChallenge,
	}, nil
}

func (p *PassThruProvider) ExchangeAuthorizationCodeFor(
	ctx context.Context, client *Client, code *AuthorizationCode,
) (*OAuthToken, error) {
	if p.ExchangeAuthorizationCode == nil {
		return nil, fmtErr("exchange_authorization_code: no hook configured")
	}
	p.codes.remove(code.Code)
	token, err := p.ExchangeAuthorizationCode(ctx, client, code)
	if err != nil {
		logger.FromContext(ctx).Error("pass-thru authorization code exchange failed", "client_id", client.ClientID, "error", err.Error())
		return nil, err
	}
	return token, nil
}

func (p *PassThruProvider) LoadRefreshToken(ctx context.Context, client *Client, refreshToken string) (*RefreshToken, error) {
	claims, ok := parseToken(p.SecretKey, refreshToken)
	if !ok || claims.ClientID != client.ClientID {
		return nil, nil
	}
	return &RefreshToken{Token: refreshToken, ClientID: claims.ClientID, Scopes: claims.Scopes, ExpiresAt: expiresAtPtr(claims)}, nil
}

// ExchangeRefreshToken mirrors the Python fixture's "refresh failure is
// not fatal": a nil ExchangeRefreshTokenFunc or a hook that itself returns
// nil both resolve to (nil, nil), never an error.
func (p *PassThruProvider) ExchangeRefreshToken(
	ctx context.Context, client *Client, refreshToken *RefreshToken, scopes []string,
) (*OAuthToken, error) {
	if p.ExchangeRefreshTokenFunc == nil {
		return nil, nil
	}
	token, err := p.ExchangeRefreshTokenFunc(ctx, client, refreshToken, scopes)
	if err != nil {
		logger.FromContext(ctx).Warn("pass-thru refresh token exchange failed", "client_id", client.ClientID, "error", err.Error())
		return nil, nil
	}
	return token, nil
}

func (p *PassThruProvider) LoadAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	claims, ok := parseToken(p.SecretKey, token)
	if !ok {
		return nil, nil
	}
	return &AccessToken{Token: token, ClientID: claims.ClientID, Scopes: claims.Scopes, ExpiresAt: expiresAtPtr(claims)}, nil
}

func (p *PassThruProvider) RevokeToken(ctx context.Context, token string) error {
	return ErrNotImplemented
}
