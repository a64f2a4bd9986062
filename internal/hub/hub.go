package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Transport is the minimal connection surface the hub needs: send a text
// frame, ping, and terminate. The WebSocket adapter lives with the HTTP
// handler; tests use an in-memory fake.
type Transport interface {
	WriteText(data []byte) error
	Ping() error
	Close() error
}

// Conn is one live registration: a transport bound to a document and the
// client identity that owns it. The client identity lets a broadcast skip
// the connection that originated the change.
type Conn struct {
	ClientID string

	transport Transport
	writeMu   sync.Mutex // transports do not tolerate concurrent writes
	alive     bool       // guarded by the owning hub's mutex
}

// NewConn wraps a transport for registration with a hub.
func NewConn(clientID string, t Transport) *Conn {
	return &Conn{ClientID: clientID, transport: t, alive: true}
}

// Pong marks the connection alive for the next heartbeat round. Wire it to
// the transport's pong callback.
func (c *Conn) Pong(h *Hub) {
	h.mu.Lock()
	c.alive = true
	h.mu.Unlock()
}

func (c *Conn) writeText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteText(data)
}

func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Ping()
}

// Hub is the in-memory fan-out registry: per-document sets of live
// connections. It is an injected instance, constructed in main and handed
// to whoever needs to broadcast; there is no package-level registry.
// Delivery is at-most-once, best-effort: a client disconnected at broadcast
// time simply misses the update and recovers via fetch-on-load.
type Hub struct {
	mu     sync.Mutex
	docs   map[string]map[*Conn]struct{}
	logger *slog.Logger

	heartbeat time.Duration
	done      chan struct{}
	stopOnce  sync.Once
}

// New creates a hub. heartbeat is the ping interval; connections that
// missed the previous ping's pong are terminated on the next round.
func New(heartbeat time.Duration, logger *slog.Logger) *Hub {
	return &Hub{
		docs:      make(map[string]map[*Conn]struct{}),
		logger:    logger,
		heartbeat: heartbeat,
		done:      make(chan struct{}),
	}
}

// Start begins the heartbeat loop in its own goroutine.
func (h *Hub) Start() {
	go func() {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				h.sweep()
			}
		}
	}()
}

// Stop terminates the heartbeat loop and closes every connection.
// Safe to call multiple times.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for docID, conns := range h.docs {
		for conn := range conns {
			conn.transport.Close()
		}
		delete(h.docs, docID)
	}
}

// Register adds a connection to the set for a document, creating the set on
// first registration.
func (h *Hub) Register(docID string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.docs[docID] == nil {
		h.docs[docID] = make(map[*Conn]struct{})
	}
	h.docs[docID][conn] = struct{}{}

	h.logger.Debug("connection registered",
		"doc_id", docID,
		"client_id", conn.ClientID,
		"total", len(h.docs[docID]),
	)
}

// Unregister removes a connection. The document's entry is deleted entirely
// once its set becomes empty, so the map does not grow across document
// lifetimes.
func (h *Hub) Unregister(docID string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(docID, conn)
}

func (h *Hub) removeLocked(docID string, conn *Conn) {
	conns, ok := h.docs[docID]
	if !ok {
		return
	}
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.docs, docID)
	}

	h.logger.Debug("connection unregistered",
		"doc_id", docID,
		"client_id", conn.ClientID,
		"remaining", len(conns),
	)
}

// Broadcast delivers msg to every open connection registered under docID
// except the one matching excludeClientID, so the author of a save does not
// re-apply its own update. Connections that fail the write are dropped.
func (h *Hub) Broadcast(docID string, msg Message, excludeClientID string) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("broadcast marshal failed", "doc_id", docID, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.docs[docID]))
	for conn := range h.docs[docID] {
		if excludeClientID != "" && conn.ClientID == excludeClientID {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	// Writes happen outside the registry lock; a slow peer must not stall
	// register/unregister for everyone else.
	for _, conn := range targets {
		if err := conn.writeText(payload); err != nil {
			h.logger.Warn("broadcast write failed, dropping connection",
				"doc_id", docID,
				"client_id", conn.ClientID,
				"error", err,
			)
			conn.transport.Close()
			h.mu.Lock()
			h.removeLocked(docID, conn)
			h.mu.Unlock()
		}
	}
}

// Connections reports how many live connections a document currently has.
func (h *Hub) Connections(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.docs[docID])
}

// sweep runs one heartbeat round: any connection that failed to answer the
// previous ping is forcibly terminated, everything else is pinged again.
// This bounds the cost of half-open connections left by crashed clients.
func (h *Hub) sweep() {
	type target struct {
		docID string
		conn  *Conn
	}

	h.mu.Lock()
	var dead, live []target
	for docID, conns := range h.docs {
		for conn := range conns {
			if !conn.alive {
				dead = append(dead, target{docID, conn})
				continue
			}
			conn.alive = false
			live = append(live, target{docID, conn})
		}
	}
	for _, t := range dead {
		h.removeLocked(t.docID, t.conn)
	}
	h.mu.Unlock()

	for _, t := range dead {
		h.logger.Info("terminating unresponsive connection",
			"doc_id", t.docID,
			"client_id", t.conn.ClientID,
		)
		t.conn.transport.Close()
	}

	for _, t := range live {
		if err := t.conn.ping(); err != nil {
			h.mu.Lock()
			h.removeLocked(t.docID, t.conn)
			h.mu.Unlock()
			t.conn.transport.Close()
		}
	}
}
