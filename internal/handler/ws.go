package handler

import (
	"log/slog"
	"net/http"
	"time"

	"draftsync/internal/domain/services"
	"draftsync/internal/httputil"
	"draftsync/internal/hub"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	// Must exceed the hub heartbeat interval, or healthy connections get
	// read-deadline errors between pings.
	wsPongWait = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Identity comes from the auth layer in front of this handler; the
	// push channel carries no credentials, so cross-origin dials are not
	// an escalation.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades live-connection requests and registers them with the hub
type WSHandler struct {
	docService services.DocumentService
	hub        *hub.Hub
	logger     *slog.Logger
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(docService services.DocumentService, h *hub.Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		docService: docService,
		hub:        h,
		logger:     logger,
	}
}

// wsTransport adapts a gorilla connection to the hub's Transport interface
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteText(data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// Subscribe opens a live connection for a document
// GET /api/ws/{id}?client_id=...
// The connection's lifetime bounds the registration: registered after the
// upgrade, unregistered when the transport closes.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	docID := r.PathValue("id")
	if docID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "document ID is required")
		return
	}

	// Ownership check before the upgrade so unauthorized callers get a
	// proper HTTP status instead of a dropped socket.
	if _, err := h.docService.GetDocument(r.Context(), userID, docID); err != nil {
		handleError(w, err)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Warn("websocket upgrade failed", "doc_id", docID, "error", err)
		return
	}

	conn := hub.NewConn(clientID, &wsTransport{conn: wsConn})
	h.hub.Register(docID, conn)

	wsConn.SetReadDeadline(time.Now().Add(wsPongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.Pong(h.hub)
		return nil
	})

	h.logger.Info("live connection opened", "doc_id", docID, "client_id", clientID)

	// The push channel is one-way; inbound frames are drained only to
	// service pong handling and to observe the close.
	for {
		if _, _, err := wsConn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(docID, conn)
	wsConn.Close()
	h.logger.Info("live connection closed", "doc_id", docID, "client_id", clientID)
}
