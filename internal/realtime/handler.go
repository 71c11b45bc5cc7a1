package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/campuskit/checkpoint/internal/models"
)

// TokenVerifier validates a client-supplied access token.
type TokenVerifier interface {
	ValidateAccessToken(tokenString string) (*models.TokenClaims, error)
}

// SessionResolver looks up a session so joins can index the course group
// alongside the session group.
type SessionResolver interface {
	GetByID(ctx context.Context, id string) (*models.AttendanceSession, error)
}

// ClientMessage is the inbound protocol: authenticate, join_session,
// leave_session.
type ClientMessage struct {
	Action    string `json:"action"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type ackMessage struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Handler upgrades HTTP requests into hub-managed connections.
type Handler struct {
	hub       *Hub
	tokens    TokenVerifier
	sessions  SessionResolver
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	readLimit int64
}

func NewHandler(hub *Hub, tokens TokenVerifier, sessions SessionResolver, readLimit int64, logger *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		tokens:   tokens,
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		readLimit: readLimit,
	}
}

// ServeHTTP upgrades the connection and runs the read/write pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := newClient(uuid.New().String(), h.hub, conn)
	h.hub.register <- client

	go client.writePump()
	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		select {
		case h.hub.unregister <- c:
		case <-h.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(h.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", slog.String("conn_id", c.id), slog.Any("error", err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.ack(c, msg.Action, false, "malformed message")
			continue
		}

		h.handleMessage(c, msg)
	}
}

func (h *Handler) handleMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "authenticate":
		claims, err := h.tokens.ValidateAccessToken(msg.Token)
		if err != nil {
			h.ack(c, msg.Action, false, "invalid token")
			return
		}
		h.hub.authenticate(c, claims.UserID, claims.Role)
		h.ack(c, msg.Action, true, "")

	case "join_session":
		if c.UserID() == "" {
			h.ack(c, msg.Action, false, "authenticate first")
			return
		}
		if msg.SessionID == "" {
			h.ack(c, msg.Action, false, "session_id required")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		session, err := h.sessions.GetByID(ctx, msg.SessionID)
		cancel()
		if err != nil {
			h.ack(c, msg.Action, false, "session not found")
			return
		}

		h.hub.joinSession(c, session.ID, session.CourseID)
		h.ack(c, msg.Action, true, "")

	case "leave_session":
		h.hub.leaveSession(c, msg.SessionID)
		h.ack(c, msg.Action, true, "")

	default:
		h.ack(c, msg.Action, false, "unknown action")
	}
}

func (h *Handler) ack(c *Client, action string, ok bool, message string) {
	data, err := json.Marshal(ackMessage{Type: "ack", Action: action, OK: ok, Message: message})
	if err != nil {
		return
	}
	c.send(data)
}
