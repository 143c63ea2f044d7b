package scheduling

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

const (
	boardWriteWait  = 10 * time.Second
	boardPongWait   = 60 * time.Second
	boardPingPeriod = 54 * time.Second

	// Slow consumers are dropped rather than backing up the schedule.
	boardSendBuffer = 32
)

// BoardEvent is the frame pushed to connected front-desk clients.
type BoardEvent struct {
	Type        string       `json:"type"`
	Appointment *Appointment `json:"appointment"`
}

type boardClient struct {
	practiceID string
	conn       *websocket.Conn
	send       chan []byte
}

// Board fans appointment changes out to websocket clients, keyed by practice
// so one clinic never sees another's schedule.
type Board struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.RWMutex
	clients map[*boardClient]struct{}
}

func NewBoard(logger *logging.Logger) *Board {
	if logger == nil {
		logger = logging.Default()
	}
	return &Board{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens before the upgrade; the board is same-origin
			// plus token protected at the router.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*boardClient]struct{}),
	}
}

// ServeWS upgrades the connection and streams board events until the client
// disconnects. practiceID must already be authenticated.
func (b *Board) ServeWS(w http.ResponseWriter, r *http.Request, practiceID string) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("board upgrade failed", "error", err)
		return
	}

	client := &boardClient{
		practiceID: practiceID,
		conn:       conn,
		send:       make(chan []byte, boardSendBuffer),
	}

	b.mu.Lock()
	b.clients[client] = struct{}{}
	b.mu.Unlock()

	b.logger.Info("board client connected", "practice_id", practiceID)

	go b.writePump(client)
	go b.readPump(client)
}

// BroadcastAppointment pushes an event to every client watching the
// appointment's practice.
func (b *Board) BroadcastAppointment(event string, appt *Appointment) {
	if appt == nil {
		return
	}
	payload, err := json.Marshal(BoardEvent{Type: event, Appointment: appt})
	if err != nil {
		b.logger.Error("board marshal failed", "error", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if client.practiceID != appt.PracticeID {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Buffer full; the write pump will close this client out.
			go b.drop(client)
		}
	}
}

// ClientCount reports connected clients, for tests and health output.
func (b *Board) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Board) drop(client *boardClient) {
	b.mu.Lock()
	_, present := b.clients[client]
	delete(b.clients, client)
	b.mu.Unlock()
	if present {
		close(client.send)
	}
}

// readPump discards inbound frames; the board is outbound only. It exists to
// process control frames and detect disconnects.
func (b *Board) readPump(client *boardClient) {
	defer func() {
		b.drop(client)
		client.conn.Close()
	}()
	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(boardPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(boardPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Board) writePump(client *boardClient) {
	ticker := time.NewTicker(boardPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(boardWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(boardWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
