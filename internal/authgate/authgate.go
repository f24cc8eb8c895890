// Package authgate implements the three route gating policies: Public
// (no check), Bearer (token against the session cache), and
// Internal-only (Host header against an allow-regex). The bearer
// parser is shared verbatim between the HTTP gin middleware and the
// WebSocket proxy's first-message check, since the spec defines the
// grammar once for both transports.
package authgate

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gatekeep/proxy/internal/apperr"
	"github.com/gatekeep/proxy/internal/session"
	"github.com/gatekeep/proxy/internal/token"
)

// Gate holds the shared dependencies every policy needs.
type Gate struct {
	sessions     *session.Store
	codec        *token.Codec
	allowedHosts *regexp.Regexp
}

// New builds a Gate. allowedHostsPattern is matched full-match against
// the request Host, port stripped.
func New(sessions *session.Store, codec *token.Codec, allowedHostsPattern string) (*Gate, error) {
	re, err := regexp.Compile("^(?:" + allowedHostsPattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("authgate: compile ALLOWED_HOSTS: %w", err)
	}
	return &Gate{sessions: sessions, codec: codec, allowedHosts: re}, nil
}

// Public is a no-op middleware; it exists so every route, including
// public ones, is registered through the same gating vocabulary.
func Public() gin.HandlerFunc {
	return func(c *gin.Context) { c.Next() }
}

// InternalOnly rejects any request whose Host (port stripped) does not
// fully match the allow-regex, with a 404 rather than 403 so the
// existence of admin routes isn't leaked to the public surface.
func (g *Gate) InternalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host := hostWithoutPort(c.Request.Host)
		if !g.allowedHosts.MatchString(host) {
			apperr.AbortWithError(c, apperr.ForbiddenByHost("not found"))
			return
		}
		c.Next()
	}
}

// Bearer requires a valid Authorization header and admits the request
// only if the cached claim and the decoded token claim agree.
func (g *Gate) Bearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		claim, err := g.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			apperr.AbortWithError(c, apperr.AuthFailure("unauthorized"))
			return
		}
		c.Set("user_id", claim.UserID)
		c.Set("username", claim.Username)
		c.Next()
	}
}

// Authenticate runs the Bearer check against a raw header/frame value,
// shared by the HTTP middleware and the WebSocket proxy's first
// message. It admits only if the cached claim and the decoded token
// claim are deeply equal.
func (g *Gate) Authenticate(ctx context.Context, raw string) (session.Claim, error) {
	tok, ok := ParseBearer(raw)
	if !ok {
		return session.Claim{}, fmt.Errorf("authgate: no bearer token")
	}

	cached, err := g.sessions.Lookup(ctx, tok)
	if err != nil {
		return session.Claim{}, fmt.Errorf("authgate: no session for token")
	}

	decoded, err := g.codec.Decode(tok)
	if err != nil {
		return session.Claim{}, fmt.Errorf("authgate: decode failed: %w", err)
	}

	if cached != decoded {
		return session.Claim{}, fmt.Errorf("authgate: claim mismatch")
	}

	return cached, nil
}

// ParseBearer extracts the token from a string of the form
// "...bearer... <token>". The word immediately before the last run of
// whitespace must case-insensitively equal "bearer" as a whole word;
// the token is everything after that whitespace run.
func ParseBearer(raw string) (string, bool) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", false
	}
	scheme := fields[len(fields)-2]
	tok := fields[len(fields)-1]
	if !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	if tok == "" {
		return "", false
	}
	return tok, true
}

func hostWithoutPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
