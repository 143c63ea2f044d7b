package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func dialBoard(t *testing.T, board *Board, practiceID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		board.ServeWS(w, r, practiceID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial board: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, board *Board, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for board.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d board clients, have %d", want, board.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBoardBroadcast(t *testing.T) {
	board := NewBoard(logging.Default())
	conn := dialBoard(t, board, "prac-1")
	waitForClients(t, board, 1)

	appt := &Appointment{ID: "appt-1", PracticeID: "prac-1", Status: StatusBooked}
	board.BroadcastAppointment("appointment.booked", appt)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}

	var event BoardEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if event.Type != "appointment.booked" {
		t.Fatalf("expected appointment.booked, got %q", event.Type)
	}
	if event.Appointment == nil || event.Appointment.ID != "appt-1" {
		t.Fatalf("unexpected appointment payload: %+v", event.Appointment)
	}
}

func TestBoardScopedToPractice(t *testing.T) {
	board := NewBoard(logging.Default())
	conn := dialBoard(t, board, "prac-1")
	waitForClients(t, board, 1)

	// The other practice's event must never reach this client, so the
	// next frame it reads has to be the prac-1 booking.
	board.BroadcastAppointment("appointment.booked", &Appointment{ID: "other", PracticeID: "prac-2"})
	board.BroadcastAppointment("appointment.booked", &Appointment{ID: "mine", PracticeID: "prac-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}

	var event BoardEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if event.Appointment.ID != "mine" {
		t.Fatalf("client received another practice's event: %+v", event.Appointment)
	}
}

func TestBoardClientDisconnect(t *testing.T) {
	board := NewBoard(logging.Default())
	conn := dialBoard(t, board, "prac-1")
	waitForClients(t, board, 1)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for board.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never deregistered, count=%d", board.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBoardBroadcastNoClients(t *testing.T) {
	board := NewBoard(logging.Default())
	// Must not panic or block with nobody connected.
	board.BroadcastAppointment("appointment.booked", &Appointment{ID: "appt-1", PracticeID: "prac-1"})
	board.BroadcastAppointment("appointment.cancelled", nil)
	if board.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", board.ClientCount())
	}
}
