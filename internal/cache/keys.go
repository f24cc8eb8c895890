// Package cache provides Redis-based caching for gatekeep.
//
// This file defines the two key families behind the dual-mirror session
// cache: a token keyed entry holding the identity claim, and a user_id
// keyed entry holding that user's current token, deleted together on
// logout and on deactivation.
package cache

import "fmt"

// Key prefixes for the session cache's two mirrors.
const (
	PrefixSessionToken = "session:token"
	PrefixSessionUser  = "session:user"
)

// SessionTokenKey maps a bearer token to its identity claim.
func SessionTokenKey(token string) string {
	return fmt.Sprintf("%s:%s", PrefixSessionToken, token)
}

// SessionUserKey maps a user_id to their currently active token.
func SessionUserKey(userID string) string {
	return fmt.Sprintf("%s:%s", PrefixSessionUser, userID)
}
