// Package proxy forwards authenticated traffic to the upstream: http.go
// for request/response passthrough, websocket.go for the bidirectional
// WebSocket relay. Both assume Bearer gating has already run and the
// authenticated claim is available on the gin context / first frame.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/gatekeep/proxy/internal/logger"
)

// excludedResponseHeaders are stripped from the upstream response
// before relaying it to the client: Content-Length and
// Transfer-Encoding are re-computed by the transport, and ETag is
// deliberately suppressed since the proxy never computes its own.
var excludedResponseHeaders = map[string]bool{
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Etag":              true,
}

// HTTPHandler relays client requests to a fixed upstream host,
// injecting the authenticated identity as headers.
type HTTPHandler struct {
	upstream *url.URL
	client   *http.Client
}

// NewHTTPHandler builds a handler proxying to upstreamHost (host:port,
// no scheme — always dialed over plain HTTP to the internal upstream).
func NewHTTPHandler(upstreamHost string) *HTTPHandler {
	return &HTTPHandler{
		upstream: &url.URL{Scheme: "http", Host: upstreamHost},
		client: &http.Client{
			Timeout: 0, // upstream calls are bounded by the client's own context, not a blanket deadline
		},
	}
}

// ServeHTTP builds an upstream request identical to the inbound one
// (method, URI, headers, body) plus the USER_ID/USERNAME identity
// headers, and relays the upstream's response verbatim.
func (h *HTTPHandler) ServeHTTP(c *gin.Context) {
	log := logger.Proxy()

	target := *h.upstream
	target.Path = c.Request.URL.Path
	target.RawQuery = c.Request.URL.RawQuery

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target.String(), c.Request.Body)
	if err != nil {
		log.Error().Err(err).Msg("failed to build upstream request")
		c.Status(http.StatusBadGateway)
		return
	}

	req.Header = c.Request.Header.Clone()
	userID, _ := c.Get("user_id")
	username, _ := c.Get("username")
	req.Header.Set("USER_ID", fmt.Sprintf("%v", userID))
	req.Header.Set("USERNAME", fmt.Sprintf("%v", username))

	resp, err := h.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("path", target.Path).Msg("upstream request failed")
		c.Status(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if excludedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}

	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		log.Warn().Err(err).Msg("error streaming upstream response body")
	}
}
