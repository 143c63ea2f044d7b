package agent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// WSHandler manages live chat connections over WebSocket.
type WSHandler struct {
	service Service
	logger  *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*wsConn // conversationID -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	done chan struct{}
}

// WSInbound is what the portal chat widget sends.
type WSInbound struct {
	Type      string `json:"type"` // "message", "ping"
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// WSOutbound is what we send to the widget.
type WSOutbound struct {
	Type      string      `json:"type"` // "message", "typing", "history", "session", "pong", "error"
	Text      string      `json:"text,omitempty"`
	Role      string      `json:"role,omitempty"` // "assistant" or "user"
	SessionID string      `json:"session_id,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Messages  []WSHistory `json:"messages,omitempty"`
}

// WSHistory is a simplified message for history replays.
type WSHistory struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// NewWSHandler creates a WebSocket chat handler.
func NewWSHandler(service Service, logger *logging.Logger) *WSHandler {
	if service == nil {
		panic("agent: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WSHandler{
		service:  service,
		logger:   logger,
		sessions: make(map[string]*wsConn),
	}
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *WSHandler) serveWS(conn *websocket.Conn, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		_ = websocket.JSON.Send(conn, WSOutbound{Type: "error", Text: "missing practice context"})
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}

	convID := ConversationID(practiceID, sessionID)

	_ = websocket.JSON.Send(conn, WSOutbound{
		Type:      "session",
		SessionID: sessionID,
	})

	// Replay history if the session already exists.
	if msgs, err := h.service.History(r.Context(), practiceID, sessionID); err == nil && len(msgs) > 0 {
		history := make([]WSHistory, 0, len(msgs))
		for _, m := range msgs {
			history = append(history, WSHistory{Role: m.Role, Text: m.Content})
		}
		_ = websocket.JSON.Send(conn, WSOutbound{Type: "history", Messages: history})
	}

	wsc := &wsConn{conn: conn, done: make(chan struct{})}
	h.mu.Lock()
	h.sessions[convID] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[convID] == wsc {
			delete(h.sessions, convID)
		}
		h.mu.Unlock()
		close(wsc.done)
	}()

	h.logger.Info("chat socket opened", "practice_id", practiceID, "session_id", sessionID)

	for {
		var msg WSInbound
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("chat socket closed", "practice_id", practiceID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, WSOutbound{Type: "pong"})
			continue
		}

		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		h.processMessage(r.Context(), conn, practiceID, sessionID, msg.Text)
	}
}

func (h *WSHandler) processMessage(ctx context.Context, conn *websocket.Conn, practiceID, sessionID, text string) {
	_ = websocket.JSON.Send(conn, WSOutbound{Type: "typing"})

	reply, err := h.service.Chat(ctx, ChatRequest{
		PracticeID: practiceID,
		SessionID:  sessionID,
		Message:    text,
	})
	if err != nil {
		h.logger.Error("chat socket turn failed", "error", err, "practice_id", practiceID)
		_ = websocket.JSON.Send(conn, WSOutbound{
			Type: "error",
			Text: "Sorry, something went wrong. Please try again.",
		})
		return
	}

	_ = websocket.JSON.Send(conn, WSOutbound{
		Type:      "message",
		Role:      "assistant",
		Text:      reply.Reply,
		SessionID: reply.SessionID,
		Timestamp: reply.Timestamp.Format(time.RFC3339),
	})
}

// SendToSession pushes a message to an active WebSocket session, if any.
func (h *WSHandler) SendToSession(convID string, msg WSOutbound) {
	h.mu.RLock()
	wsc, ok := h.sessions[convID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	_ = websocket.JSON.Send(wsc.conn, msg)
}
