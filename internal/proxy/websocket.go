package proxy

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gatekeep/proxy/internal/authgate"
	"github.com/gatekeep/proxy/internal/logger"
)

// connState is the per-connection WebSocket proxy state machine.
type connState int

const (
	stateAwaitingAuth connState = iota
	stateConnectingUpstream
	stateOpen
	stateClosed
)

const (
	authTimeout = 2 * time.Second

	// dialTimeout bounds the upstream dial the same way authTimeout
	// bounds the client's auth frame: an unreachable or wedged upstream
	// must not leave the connection (and its pending queue) hanging
	// forever.
	dialTimeout = 2 * time.Second

	// pendingQueueCapacity bounds the buffer of client messages
	// received while the upstream dial is still in flight. The source
	// this is modeled on leaves this unbounded; a slow or wedged
	// upstream dial combined with a fast client could otherwise grow
	// this without limit, so overflow closes the connection instead.
	pendingQueueCapacity = 256

	// closePolicyViolation is used for pending-queue overflow: a
	// resource-protection failure, not an authentication failure, so
	// it is distinct from the 4001 used for auth rejection.
	closePolicyViolation = 1008
	closeUnauthorized    = 4001
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler runs the per-connection auth-then-relay state
// machine against a fixed upstream host.
type WebSocketHandler struct {
	upstreamHost string
	gate         *authgate.Gate
}

// NewWebSocketHandler builds a handler dialing upstreamHost (host:port)
// for each accepted client connection.
func NewWebSocketHandler(upstreamHost string, gate *authgate.Gate) *WebSocketHandler {
	return &WebSocketHandler{upstreamHost: upstreamHost, gate: gate}
}

// ServeHTTP upgrades the inbound connection and drives it through
// AWAITING_AUTH -> CONNECTING_UPSTREAM -> OPEN -> CLOSED.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WebSocket()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsConn{
		client:       conn,
		state:        stateAwaitingAuth,
		gate:         h.gate,
		upstreamHost: h.upstreamHost,
		requestURI:   r.URL.RequestURI(),
	}
	c.run()
}

// wsConn owns one client<->upstream relay for the lifetime of a
// connection.
type wsConn struct {
	client   *websocket.Conn
	upstream *websocket.Conn

	gate         *authgate.Gate
	upstreamHost string
	requestURI   string

	mu    sync.Mutex
	state connState

	claim struct {
		userID   string
		username string
	}

	pending []wsMessage
}

// wsMessage is a single frame read off either socket, carrying its
// gorilla message type (TextMessage or BinaryMessage) alongside the
// payload so the relay can forward it unchanged — the proxy is a
// transparent pipe after auth, not a binary-only one.
type wsMessage struct {
	msgType int
	data    []byte
}

func (c *wsConn) run() {
	defer c.client.Close()

	timer := time.NewTimer(authTimeout)
	defer timer.Stop()

	msgCh := make(chan wsMessage, 1)
	errCh := make(chan error, 1)
	go c.readLoop(msgCh, errCh)

	select {
	case msg := <-msgCh:
		timer.Stop()
		c.handleAuthMessage(msg.data, msgCh, errCh)
	case <-timer.C:
		c.closeClient(closeUnauthorized, "authentication timeout")
		return
	case err := <-errCh:
		logger.WebSocket().Debug().Err(err).Msg("client disconnected before authenticating")
		return
	}
}

// readLoop pumps raw client frames into msgCh until the connection
// errors or closes; it runs for the whole lifetime of the connection,
// feeding the pending queue once past AWAITING_AUTH. The message type
// is carried alongside the payload so later relaying can preserve it.
func (c *wsConn) readLoop(msgCh chan<- wsMessage, errCh chan<- error) {
	for {
		mt, data, err := c.client.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		msgCh <- wsMessage{msgType: mt, data: data}
	}
}

func (c *wsConn) handleAuthMessage(raw []byte, msgCh <-chan wsMessage, errCh <-chan error) {
	claim, err := c.gate.Authenticate(context.Background(), string(raw))
	if err != nil {
		c.closeClient(closeUnauthorized, "unauthorized")
		return
	}

	c.mu.Lock()
	c.state = stateConnectingUpstream
	c.claim.userID = claim.UserID
	c.claim.username = claim.Username
	c.mu.Unlock()

	// Dial upstream asynchronously while this goroutine keeps draining
	// msgCh into the pending queue — a single owner for c.pending, so
	// there is no concurrent-write hazard to guard against. The dial is
	// bounded by dialCtx so a hung upstream can't wedge this goroutine
	// (and the pending queue behind it) forever.
	dialCtx, cancelDial := context.WithTimeout(context.Background(), dialTimeout)
	defer cancelDial()

	dialDone := make(chan struct{})
	var upstream *websocket.Conn
	var dialErr error
	go func() {
		upstream, dialErr = c.dialUpstream(dialCtx)
		close(dialDone)
	}()

	for dialing := true; dialing; {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				cancelDial()
				<-dialDone
				if upstream != nil {
					upstream.Close()
				}
				return
			}
			if len(c.pending) >= pendingQueueCapacity {
				cancelDial()
				<-dialDone
				if upstream != nil {
					upstream.Close()
				}
				c.closeClient(closePolicyViolation, "pending message queue exceeded")
				return
			}
			c.pending = append(c.pending, msg)
		case err := <-errCh:
			logger.WebSocket().Debug().Err(err).Msg("client disconnected while connecting upstream")
			cancelDial()
			<-dialDone
			if upstream != nil {
				upstream.Close()
			}
			return
		case <-dialDone:
			dialing = false
		}
	}

	if dialErr != nil {
		logger.WebSocket().Warn().Err(dialErr).Msg("upstream dial failed")
		c.closeClient(closeUnauthorized, "upstream unavailable")
		return
	}

	c.mu.Lock()
	c.upstream = upstream
	c.mu.Unlock()

	preamble := fmt.Sprintf("USER_ID: %s", c.claim.userID)
	if err := upstream.WriteMessage(websocket.TextMessage, []byte(preamble)); err != nil {
		c.teardown()
		return
	}

	for _, buffered := range c.pending {
		if err := upstream.WriteMessage(buffered.msgType, buffered.data); err != nil {
			c.teardown()
			return
		}
	}
	c.pending = nil

	c.mu.Lock()
	c.state = stateOpen
	c.mu.Unlock()

	c.relay(msgCh, errCh)
}

func (c *wsConn) dialUpstream(ctx context.Context) (*websocket.Conn, error) {
	u := "ws://" + c.upstreamHost + c.requestURI
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	return conn, err
}

// relay runs the OPEN-state bidirectional forwarding loop until either
// side closes.
func (c *wsConn) relay(msgCh <-chan wsMessage, errCh <-chan error) {
	upstreamMsgCh := make(chan wsMessage, 1)
	upstreamErrCh := make(chan error, 1)
	go func() {
		for {
			mt, data, err := c.upstream.ReadMessage()
			if err != nil {
				upstreamErrCh <- err
				return
			}
			upstreamMsgCh <- wsMessage{msgType: mt, data: data}
		}
	}()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				c.teardown()
				return
			}
			if err := c.upstream.WriteMessage(msg.msgType, msg.data); err != nil {
				c.teardown()
				return
			}
		case <-errCh:
			c.teardown()
			return
		case msg, ok := <-upstreamMsgCh:
			if !ok {
				c.closeClient(closeUnauthorized, "upstream closed")
				return
			}
			if err := c.client.WriteMessage(msg.msgType, msg.data); err != nil {
				c.teardown()
				return
			}
		case <-upstreamErrCh:
			// Upstream closure propagates to the client as 401 per the
			// spec's revocation-propagation requirement: this proxy has
			// no periodic cache re-check, so an upstream-side close is
			// the only revocation signal it can observe mid-session.
			c.closeClient(closeUnauthorized, "upstream closed")
			return
		}
	}
}

func (c *wsConn) closeClient(code int, reason string) {
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.client.Close()
	if c.upstream != nil {
		c.upstream.Close()
	}
}

func (c *wsConn) teardown() {
	c.mu.Lock()
	c.state = stateClosed
	upstream := c.upstream
	c.mu.Unlock()

	c.client.Close()
	if upstream != nil {
		upstream.Close()
	}
}
