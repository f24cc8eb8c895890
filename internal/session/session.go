// Package session implements the dual-mirror auth session cache
// described by the system's data model: one entry maps a bearer token
// to the identity claim it carries, a second maps a user_id to that
// user's current token. Both entries are written together on login and
// deleted together on logout or deactivation, so neither mirror can be
// consulted in isolation and trusted.
package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gatekeep/proxy/internal/cache"
)

// ErrNotFound is returned when a token or user_id has no session entry.
var ErrNotFound = errors.New("session: not found")

// Claim is the identity carried by a token, the minimal payload the
// token codec round-trips and the session cache stores under the
// token key.
type Claim struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Store is the session cache: a thin, domain-specific wrapper over the
// generic Redis client that enforces the dual-mirror write/delete
// discipline.
type Store struct {
	cache *cache.Cache
}

// New builds a Store over an already-connected cache client.
func New(c *cache.Cache) *Store {
	return &Store{cache: c}
}

// ttl is the cache entry lifetime. The session cache, not the token,
// is authoritative for revocation, so this is a generous cap against
// unbounded growth rather than a security boundary.
const ttl = 30 * 24 * time.Hour

// Put writes both mirrors for a freshly issued token, overwriting any
// prior token this user_id held.
func (s *Store) Put(ctx context.Context, token string, claim Claim) error {
	if err := s.cache.Set(ctx, cache.SessionTokenKey(token), claim, ttl); err != nil {
		return err
	}
	return s.cache.Set(ctx, cache.SessionUserKey(claim.UserID), token, ttl)
}

// Lookup resolves a bearer token to its identity claim. A miss means
// the token was never issued, was logged out, or belonged to a
// deactivated user — all of which are AuthFailure from the caller's
// perspective.
func (s *Store) Lookup(ctx context.Context, token string) (Claim, error) {
	var claim Claim
	if err := s.cache.Get(ctx, cache.SessionTokenKey(token), &claim); err != nil {
		return Claim{}, ErrNotFound
	}
	return claim, nil
}

// CurrentToken returns the token currently on file for user_id, used to
// make repeat logins idempotent instead of minting redundant tokens.
func (s *Store) CurrentToken(ctx context.Context, userID string) (string, error) {
	var token string
	if err := s.cache.Get(ctx, cache.SessionUserKey(userID), &token); err != nil {
		return "", ErrNotFound
	}
	return token, nil
}

// Delete removes both mirrors for a user's active session. Used by
// logout and deactivation.
// It looks the token up first so the token-keyed entry is always
// cleaned up too — deleting only the user_id mirror would leave an
// orphaned, still-valid token entry behind.
func (s *Store) Delete(ctx context.Context, userID string) error {
	token, err := s.CurrentToken(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.cache.Delete(ctx, cache.SessionTokenKey(token), cache.SessionUserKey(userID))
}

// probeKey is the prefix of the throwaway keys Probe sets and
// immediately deletes; each probe appends a nanosecond timestamp so
// overlapping probes do not share a key.
const probeKey = "session:readiness-probe"

// Probe exercises the cache with a set followed by a delete of a
// unique throwaway key, used by the readiness handler. It never deletes
// by value — only by the key it just set.
func (s *Store) Probe(ctx context.Context) error {
	key := probeKey + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if _, err := s.cache.SetNX(ctx, key, "1", time.Minute); err != nil {
		return err
	}
	return s.cache.Delete(ctx, key)
}

// DeleteToken removes both mirrors given the token itself, for a
// caller that has only the bearer token on hand. Logout does not use
// it; it calls Delete with the authenticated user_id.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	claim, err := s.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.cache.Delete(ctx, cache.SessionTokenKey(token), cache.SessionUserKey(claim.UserID))
}
