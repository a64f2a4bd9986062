// Package live maintains the client side of a document's push channel:
// one WebSocket whose messages are dispatched by their type tag.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"draftsync/internal/hub"

	"github.com/gorilla/websocket"
)

// ConnState is the connection's lifecycle position.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosing    ConnState = "closing"
	StateClosed     ConnState = "closed"
)

// Handler consumes one decoded push message.
type Handler func(msg hub.Message)

// Conn is a live push-channel subscription for one document. Delivery is
// best-effort: anything missed while disconnected is recovered by the
// reconciler's fetch-on-load, not replayed here.
type Conn struct {
	logger *slog.Logger

	mu       sync.Mutex
	state    ConnState
	handlers map[string]Handler
	onClose  func(err error)
	ws       *websocket.Conn
}

// Dial opens the push channel for docID. userID rides along for the
// server's identity layer; clientID must match the one sent on saves so
// the server can skip echoing our own updates back.
func Dial(ctx context.Context, serverURL, docID, userID, clientID string, logger *slog.Logger) (*Conn, error) {
	wsURL, err := pushURL(serverURL, docID, clientID)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		logger:   logger,
		state:    StateConnecting,
		handlers: make(map[string]Handler),
	}

	header := http.Header{}
	header.Set("X-User-ID", userID)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		c.setState(StateClosed)
		if resp != nil {
			return nil, fmt.Errorf("dialing push channel: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing push channel: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()

	return c, nil
}

// State returns the connection's lifecycle position.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers the handler for a message type. Messages with no registered
// handler are dropped; that is what keeps old clients compatible with new
// message kinds.
func (c *Conn) On(msgType string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = fn
}

// OnClose registers a callback for when the channel terminates, with the
// read error that ended it (nil for a clean local Close).
func (c *Conn) OnClose(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Listen reads and dispatches messages until the connection ends. It blocks;
// run it in its own goroutine.
func (c *Conn) Listen() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	var msg hub.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// Malformed frames are not fatal to the channel.
		c.logger.Warn("dropping malformed push message", "error", err)
		return
	}

	c.mu.Lock()
	fn := c.handlers[msg.Type]
	c.mu.Unlock()

	if fn == nil {
		c.logger.Debug("ignoring push message of unknown type", "type", msg.Type)
		return
	}
	fn(msg)
}

// Close shuts the channel down cleanly.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	ws := c.ws
	c.mu.Unlock()

	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return ws.Close()
}

// finish records termination and notifies the close callback once.
func (c *Conn) finish(err error) {
	c.mu.Lock()
	wasClosing := c.state == StateClosing
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	fn := c.onClose
	c.mu.Unlock()

	if wasClosing {
		err = nil // local Close, not a failure
	}
	if err != nil {
		c.logger.Info("push channel closed", "error", err)
	}
	if fn != nil {
		fn(err)
	}
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// pushURL converts the HTTP base URL into the ws:// subscription endpoint.
func pushURL(serverURL, docID, clientID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/api/ws/" + docID
	q := u.Query()
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
