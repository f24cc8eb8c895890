package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHTTPHandler_InjectsIdentityHeaders(t *testing.T) {
	var gotUserID, gotUsername string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = r.Header.Get("USER_ID")
		gotUsername = r.Header.Get("USERNAME")
		w.Header().Set("ETag", `"should-be-stripped"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("upstream body"))
	}))
	defer upstream.Close()

	gin.SetMode(gin.TestMode)
	handler := NewHTTPHandler(strings.TrimPrefix(upstream.URL, "http://"))

	r := gin.New()
	r.Any("/*path", func(c *gin.Context) {
		c.Set("user_id", "u1")
		c.Set("username", "alice")
		handler.ServeHTTP(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/foo/bar?x=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "upstream body", w.Body.String())
	assert.Equal(t, "u1", gotUserID)
	assert.Equal(t, "alice", gotUsername)
	assert.Empty(t, w.Header().Get("ETag"))
}

func TestHTTPHandler_PassesThroughUpstreamErrorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("teapot"))
	}))
	defer upstream.Close()

	gin.SetMode(gin.TestMode)
	handler := NewHTTPHandler(strings.TrimPrefix(upstream.URL, "http://"))

	r := gin.New()
	r.Any("/*path", func(c *gin.Context) {
		c.Set("user_id", "u1")
		c.Set("username", "alice")
		handler.ServeHTTP(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "teapot", w.Body.String())
}

func TestHTTPHandler_PassesBodyThrough(t *testing.T) {
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	gin.SetMode(gin.TestMode)
	handler := NewHTTPHandler(strings.TrimPrefix(upstream.URL, "http://"))

	r := gin.New()
	r.Any("/*path", func(c *gin.Context) {
		c.Set("user_id", "u1")
		c.Set("username", "alice")
		handler.ServeHTTP(c)
	})

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("hello upstream"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "hello upstream", gotBody)
}
