// Package token issues and decodes the bearer tokens the auth gate
// checks against the session cache. The token itself carries only the
// identity claim; the session cache, not the token's signature or
// lifetime, is what makes a token valid or revoked. A decoded token
// with a good signature that has no session cache entry is still
// rejected by the caller.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatekeep/proxy/internal/logger"
	"github.com/gatekeep/proxy/internal/session"
)

// claims is the JWT payload: just enough to reconstruct a session.Claim.
// No exp, no iss, no refresh — revocation lives in the session cache.
type claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Codec issues and decodes tokens signed with a shared HMAC secret.
type Codec struct {
	secret []byte
}

// NewCodec builds a Codec around secret. An empty secret is allowed —
// every token is then signed with an empty key, which is cryptographically
// worthless, so this logs a loud warning rather than refusing to start.
func NewCodec(secret string) *Codec {
	if secret == "" {
		logger.Security().Warn().
			Msg("SIGNING_SECRET is empty — issued tokens are unsigned in practice, relying entirely on the session cache for authentication")
	}
	return &Codec{secret: []byte(secret)}
}

// Issue mints a signed token carrying claim.
func (c *Codec) Issue(claim session.Claim) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:   claim.UserID,
		Username: claim.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Decode verifies the token's signature and returns the claim it
// carries. It does not consult the session cache — callers must still
// check revocation there.
func (c *Codec) Decode(raw string) (session.Claim, error) {
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return c.secret, nil
	})
	if err != nil {
		return session.Claim{}, fmt.Errorf("token: decode: %w", err)
	}

	claim, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return session.Claim{}, fmt.Errorf("token: invalid token")
	}

	return session.Claim{UserID: claim.UserID, Username: claim.Username}, nil
}
