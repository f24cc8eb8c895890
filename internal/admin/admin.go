// Package admin implements the Admin Surface: the handful of routes
// that create, inspect, and authenticate users, plus the liveness and
// readiness probes. Route policy (Public/Bearer/Internal-only) is
// applied by the caller via internal/authgate when wiring these
// handlers into the router.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gatekeep/proxy/internal/apperr"
	"github.com/gatekeep/proxy/internal/logger"
	"github.com/gatekeep/proxy/internal/session"
	"github.com/gatekeep/proxy/internal/store"
	"github.com/gatekeep/proxy/internal/token"
)

// Handler wraps the dependencies the admin surface needs.
type Handler struct {
	users    *store.UserStore
	sessions *session.Store
	codec    *token.Codec
}

// New builds a Handler.
func New(users *store.UserStore, sessions *session.Store, codec *token.Codec) *Handler {
	return &Handler{users: users, sessions: sessions, codec: codec}
}

// RegisterRoutes wires every admin endpoint onto group, applying the
// gating middleware the caller supplies per route class. Specific
// routes are registered before the wildcard /users/:id family so
// /users/me and /users/search win the match, per spec.md §4.5.
func (h *Handler) RegisterRoutes(group gin.IRouter, public, bearer, internalOnly gin.HandlerFunc) {
	group.POST("/auth/login", public, h.Login)
	group.POST("/auth/logout", bearer, h.Logout)

	group.GET("/auth/users/me", bearer, h.Me)
	group.POST("/auth/users/search", internalOnly, h.SearchUsers)

	group.POST("/auth/users", internalOnly, h.CreateUser)
	group.GET("/auth/users/:id", internalOnly, h.GetUser)
	group.POST("/auth/users/:id", internalOnly, h.UpdatePassword)
	group.POST("/auth/users/:id/deactivate", internalOnly, h.Deactivate)
	group.POST("/auth/users/:id/reactivate", internalOnly, h.Reactivate)

	group.GET("/auth/live", public, h.Live)
	group.GET("/auth/ready", public, h.Ready)
}

type loginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Login verifies credentials and issues (or reuses) a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		apperr.AbortWithError(c, apperr.AuthFailure("invalid credentials"))
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.VerifyPassword(ctx, req.Username, req.Password)
	if err != nil {
		apperr.AbortWithError(c, apperr.AuthFailure("invalid credentials"))
		return
	}

	claim := session.Claim{UserID: user.UserID, Username: user.Username}

	if existing, err := h.sessions.CurrentToken(ctx, user.UserID); err == nil {
		c.JSON(http.StatusOK, gin.H{"access_token": existing})
		return
	}

	tok, err := h.codec.Issue(claim)
	if err != nil {
		apperr.AbortWithError(c, apperr.Fatal("failed to issue token", err))
		return
	}
	if err := h.sessions.Put(ctx, tok, claim); err != nil {
		apperr.AbortWithError(c, apperr.DependencyError("session cache unavailable", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// Logout deletes both session mirror entries for the caller.
func (h *Handler) Logout(c *gin.Context) {
	userID, _ := c.Get("user_id")
	if err := h.sessions.Delete(c.Request.Context(), userID.(string)); err != nil {
		apperr.AbortWithError(c, apperr.DependencyError("session cache unavailable", err))
		return
	}
	c.Status(http.StatusOK)
}

type createUserRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// CreateUser mints a new active-partition user.
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBind(&req); err != nil {
		apperr.AbortWithError(c, apperr.BadRequest("invalid request body"))
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if err == store.ErrUsernameTaken {
			apperr.AbortWithError(c, apperr.ConflictOnCreate("username already exists"))
			return
		}
		apperr.AbortWithError(c, apperr.DependencyError("user store unavailable", err))
		return
	}

	c.Header("USER_ID", user.UserID)
	c.Status(http.StatusCreated)
}

// GetUser returns the active-partition identity for a user_id.
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.AbortWithError(c, apperr.NotFound("user not found"))
		return
	}
	c.JSON(http.StatusOK, user.Identity())
}

type updatePasswordRequest struct {
	Password string `form:"password" json:"password"`
}

// UpdatePassword re-hashes and overwrites a user's password. This does
// not rotate or revoke the user's active token — spec.md leaves this
// as an implementation choice and this repo preserves the existing
// session, matching the system it was modeled on.
func (h *Handler) UpdatePassword(c *gin.Context) {
	var req updatePasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		apperr.AbortWithError(c, apperr.BadRequest("invalid request body"))
		return
	}

	if err := h.users.UpdatePassword(c.Request.Context(), c.Param("id"), req.Password); err != nil {
		if err == store.ErrUserNotFound {
			apperr.AbortWithError(c, apperr.NotFound("user not found"))
			return
		}
		apperr.AbortWithError(c, apperr.DependencyError("user store unavailable", err))
		return
	}
	c.Status(http.StatusOK)
}

// Deactivate deletes the user's session mirrors then atomically moves
// their row to the deactivated partition.
func (h *Handler) Deactivate(c *gin.Context) {
	userID := c.Param("id")
	if err := h.sessions.Delete(c.Request.Context(), userID); err != nil {
		apperr.AbortWithError(c, apperr.DependencyError("session cache unavailable", err))
		return
	}
	if err := h.users.Deactivate(c.Request.Context(), userID); err != nil {
		if err == store.ErrUserNotFound {
			apperr.AbortWithError(c, apperr.NotFound("user not found"))
			return
		}
		apperr.AbortWithError(c, apperr.DependencyError("user store unavailable", err))
		return
	}
	c.Status(http.StatusOK)
}

// Reactivate atomically moves a user's row back to the active partition.
func (h *Handler) Reactivate(c *gin.Context) {
	userID := c.Param("id")
	if err := h.users.Reactivate(c.Request.Context(), userID); err != nil {
		if err == store.ErrUserNotFound {
			apperr.AbortWithError(c, apperr.NotFound("user not found"))
			return
		}
		apperr.AbortWithError(c, apperr.DependencyError("user store unavailable", err))
		return
	}
	c.Status(http.StatusOK)
}

// searchResultEntry and searchErrorEntry mirror the exact wire shape spec.md §4.5
// and §8 scenario 2 require, including the omit-when-empty rule.
type searchResultEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type searchErrorEntry struct {
	Message string `json:"message"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

// SearchUsers resolves repeated user_id/username values against the
// active partition.
func (h *Handler) SearchUsers(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		apperr.AbortWithError(c, apperr.BadRequest("invalid request body"))
		return
	}

	userIDs := c.Request.PostForm["user_id"]
	usernames := c.Request.PostForm["username"]

	if len(userIDs) > 0 && len(usernames) > 0 {
		// Literal plain-text body per spec, not the generic JSON error
		// envelope ErrorHandler would otherwise wrap this in.
		c.String(http.StatusBadRequest, "Cannot search with both 'user_id' and 'username'. Please choose one.")
		c.Abort()
		return
	}

	if len(userIDs) == 0 && len(usernames) == 0 {
		c.JSON(http.StatusOK, gin.H{"results": []searchResultEntry{}})
		return
	}

	results, errs := h.users.SearchUsers(c.Request.Context(), userIDs, usernames)

	body := gin.H{}
	if len(results) > 0 {
		entries := make([]searchResultEntry, 0, len(results))
		for _, r := range results {
			entries = append(entries, searchResultEntry{UserID: r.Identity.UserID, Username: r.Identity.Username})
		}
		body["results"] = entries
	}
	if len(errs) > 0 {
		entries := make([]searchErrorEntry, 0, len(errs))
		for _, e := range errs {
			entries = append(entries, searchErrorEntry{Message: e.Message, Key: e.Key, Value: e.Value})
		}
		body["errors"] = entries
	}

	c.JSON(http.StatusOK, body)
}

// Me returns the authenticated caller's identity.
func (h *Handler) Me(c *gin.Context) {
	userID, _ := c.Get("user_id")
	user, err := h.users.GetUser(c.Request.Context(), userID.(string))
	if err != nil {
		apperr.AbortWithError(c, apperr.NotFound("user not found"))
		return
	}
	c.JSON(http.StatusOK, user.Identity())
}

// Live is a static liveness probe.
func (h *Handler) Live(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Ready probes the cache (set+delete of a unique key) and the store
// (a no-match search) before declaring readiness.
func (h *Handler) Ready(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.sessions.Probe(ctx); err != nil {
		logger.Admin().Warn().Err(err).Msg("readiness probe: cache unreachable")
		c.String(http.StatusServiceUnavailable, "cache unavailable")
		return
	}

	if err := h.users.Probe(ctx); err != nil {
		logger.Admin().Warn().Err(err).Msg("readiness probe: store unreachable")
		c.String(http.StatusServiceUnavailable, "store unavailable")
		return
	}

	c.String(http.StatusOK, "OK")
}
