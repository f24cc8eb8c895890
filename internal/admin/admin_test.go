package admin

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatekeep/proxy/internal/cache"
	"github.com/gatekeep/proxy/internal/session"
	"github.com/gatekeep/proxy/internal/store"
	"github.com/gatekeep/proxy/internal/token"
)

type testEnv struct {
	router *gin.Engine
	mock   sqlmock.Sqlmock
	codec  *token.Codec
	sess   *session.Store
}

func setupAdminTest(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := store.NewDatabaseForTesting(mockDB)
	users := store.NewUserStore(db)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	c, err := cache.NewCacheFromClient(redisClient)
	require.NoError(t, err)

	sess := session.New(c)
	codec := token.NewCodec("test-secret")

	h := New(users, sess, codec)

	router := gin.New()
	identify := func(c *gin.Context) {
		userID := c.GetHeader("X-Test-User-Id")
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
	noop := func(c *gin.Context) { c.Next() }
	h.RegisterRoutes(router, noop, identify, noop)

	return &testEnv{router: router, mock: mock, codec: codec, sess: sess}
}

func TestLogin_Success(t *testing.T) {
	env := setupAdminTest(t)

	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"user_id", "username", "password"}).
		AddRow("id-1", "test", string(hashed))
	env.mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE username = \$1`).
		WithArgs("test").
		WillReturnRows(rows)

	form := url.Values{"username": {"test"}, "password": {"s3cret"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "access_token")
}

func TestLogin_BadCredentials(t *testing.T) {
	env := setupAdminTest(t)

	env.mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE username = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	form := url.Values{"username": {"ghost"}, "password": {"pw"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_SecondLoginReusesToken(t *testing.T) {
	env := setupAdminTest(t)

	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	require.NoError(t, err)

	expectLogin := func() {
		rows := sqlmock.NewRows([]string{"user_id", "username", "password"}).
			AddRow("id-1", "test", string(hashed))
		env.mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE username = \$1`).
			WithArgs("test").
			WillReturnRows(rows)
	}

	form := url.Values{"username": {"test"}, "password": {"s3cret"}}

	expectLogin()
	req1 := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req1.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w1 := httptest.NewRecorder()
	env.router.ServeHTTP(w1, req1)

	expectLogin()
	req2 := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w2 := httptest.NewRecorder()
	env.router.ServeHTTP(w2, req2)

	assert.Equal(t, w1.Body.String(), w2.Body.String())
}

func TestSearchUsers_BothKeysIsBadRequest(t *testing.T) {
	env := setupAdminTest(t)

	form := url.Values{"username": {"testuser"}, "user_id": {"asdf"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/users/search", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot search with both 'user_id' and 'username'. Please choose one.", w.Body.String())
}

func TestSearchUsers_UnknownUserID(t *testing.T) {
	env := setupAdminTest(t)

	env.mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE user_id = \$1`).
		WithArgs("unknown-id").
		WillReturnError(sql.ErrNoRows)

	form := url.Values{"user_id": {"unknown-id"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/users/search", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"Unable to find user_id"`)
	assert.NotContains(t, w.Body.String(), `"results"`)
}

func TestSearchUsers_NeitherKeyReturnsEmptyResults(t *testing.T) {
	env := setupAdminTest(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/users/search", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())
}

func TestMe_ReturnsIdentity(t *testing.T) {
	env := setupAdminTest(t)

	rows := sqlmock.NewRows([]string{"user_id", "username", "password"}).
		AddRow("id-1", "test", "hashed")
	env.mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE user_id = \$1`).
		WithArgs("id-1").
		WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/auth/users/me", nil)
	req.Header.Set("X-Test-User-Id", "id-1")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"id-1","username":"test"}`, w.Body.String())
}

func TestLive(t *testing.T) {
	env := setupAdminTest(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/live", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestReady_Success(t *testing.T) {
	env := setupAdminTest(t)

	env.mock.ExpectQuery(`SELECT user_id, username, password FROM users WHERE user_id = \$1`).
		WithArgs("__gatekeep_readiness_probe__").
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/auth/ready", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}
