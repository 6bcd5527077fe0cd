package authserver

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// tokenClaims is the payload signed into every bearer/refresh token this
// package issues: enough to reconstruct an AccessToken/RefreshToken value
// without a server-side lookup. Upstream (third-party) exchanges nest the
// provider's own opaque token string under UpstreamToken so a later
// ExchangeRefreshToken call can hand it back to the upstream client.
type tokenClaims struct {
	jwt.RegisteredClaims
	ClientID      string   `json:"client_id"`
	Scopes        []string `json:"scopes,omitempty"`
	UpstreamToken string   `json:"upstream_token,omitempty"`
}

func signToken(secretKey, clientID string, scopes []string, upstream string, ttl time.Duration) (string, int64, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
		ClientID:      clientID,
		Scopes:        scopes,
		UpstreamToken: upstream,
	}
	if ttl > 0 {
		expiry := now.Add(ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expiry)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", 0, err
	}
	var expiresAt int64
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Unix()
	}
	return signed, expiresAt, nil
}

// parseToken decodes and verifies a token signed by signToken. Any
// verification failure (bad signature, expired, malformed) is reported as
// ok=false rather than an error: spec §4.6 treats an unresolvable
// refresh/access token as "not found", not a hard failure.
func parseToken(secretKey, raw string) (claims tokenClaims, ok bool) {
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secretKey), nil
	})
	if err != nil || !token.Valid {
		return tokenClaims{}, false
	}
	return claims, true
}

func expiresAtPtr(claims tokenClaims) *int64 {
	if claims.ExpiresAt == nil {
		return nil
	}
	v := claims.ExpiresAt.Unix()
	return &v
}
