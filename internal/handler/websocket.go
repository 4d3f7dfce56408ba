package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CageChen/dfsselect/internal/fs"
)

// WebSocket message types.
const (
	WSTypeNext      = "next"
	WSTypeCommit    = "commit"
	WSTypeBatch     = "batch"
	WSTypeCommitted = "committed"
	WSTypeError     = "error"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // consumers are pipelines, not browsers
	},
}

// WSRequest is a message sent by a consumer. Type "next" (the default)
// selects a batch; "commit" records a checkpoint.
type WSRequest struct {
	Type       string  `json:"type"`
	Checkpoint *string `json:"checkpoint,omitempty"`
	Limit      *int64  `json:"limit,omitempty"`
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSError is the payload of an error message.
type WSError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// WSHandler serves the pull channel: every request a consumer sends is
// answered with exactly one reply. Nothing is pushed unprompted.
type WSHandler struct {
	src     *Source
	logger  *zap.Logger
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(src *Source, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		src:     src,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
}

// HandleWS handles WebSocket upgrade and connection
func (h *WSHandler) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() {
		h.removeClient(conn)
		_ = conn.Close()
	}()

	h.addClient(conn)
	ctx := c.Request.Context()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}

		reply := h.handleRequest(ctx, data)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (h *WSHandler) handleRequest(ctx context.Context, data []byte) WSMessage {
	var req WSRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorMessage(http.StatusBadRequest, "invalid request: "+err.Error())
	}

	switch req.Type {
	case "", WSTypeNext:
		res, err := h.src.Select(ctx, req.Checkpoint, req.Limit)
		if err != nil {
			return errorMessage(statusCode(err), err.Error())
		}
		if res.Files == nil {
			res.Files = []fs.FileStatus{}
		}
		return WSMessage{Type: WSTypeBatch, Payload: res}
	case WSTypeCommit:
		if req.Checkpoint == nil {
			return errorMessage(http.StatusBadRequest, "commit requires a checkpoint")
		}
		if err := h.src.Commit(ctx, *req.Checkpoint); err != nil {
			return errorMessage(statusCode(err), err.Error())
		}
		return WSMessage{Type: WSTypeCommitted, Payload: map[string]string{"checkpoint": *req.Checkpoint}}
	default:
		return errorMessage(http.StatusBadRequest, "unknown message type "+req.Type)
	}
}

func errorMessage(status int, msg string) WSMessage {
	return WSMessage{Type: WSTypeError, Payload: WSError{Status: status, Error: msg}}
}

// Clients returns the number of open connections.
func (h *WSHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll sends a close frame to every consumer, used on shutdown.
func (h *WSHandler) CloseAll() {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, client := range clients {
		_ = client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}

func (h *WSHandler) addClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *WSHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}
