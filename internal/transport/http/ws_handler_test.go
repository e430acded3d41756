package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketParticipantStream(t *testing.T) {
	server := newTestServer(t)

	u := "ws" + server.URL[len("http"):] + "/ws/participants?testId=n5-mock-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect the initial count before anyone starts.
	if active := readCount(t, conn); active != 0 {
		t.Fatalf("expected 0 participants, got %d", active)
	}

	if status, body := call(t, server, http.MethodPost, "/api/v1/tests/n5-mock-1/session", "u1", nil); status != http.StatusCreated {
		t.Fatalf("start: %d %s", status, body)
	}

	seen := false
	for i := 0; i < 10 && !seen; i++ {
		seen = readCount(t, conn) == 1
	}
	if !seen {
		t.Fatalf("expected a push with 1 participant")
	}
}

func TestWebSocketRequiresTestID(t *testing.T) {
	server := newTestServer(t)

	u := "ws" + server.URL[len("http"):] + "/ws/participants"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

type failingCounter struct{}

func (failingCounter) GetActiveCount(context.Context, string) (int, error) {
	return 0, errors.New("counter unavailable")
}

func TestWebSocketReportsCounterError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(NewWSHandler(failingCounter{}, 20*time.Millisecond).ServeWS))
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "?testId=n5-mock-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var msg struct {
		Type    string       `json:"type"`
		Payload errorPayload `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if msg.Type != "error" || msg.Payload.Message != "counter unavailable" {
		t.Fatalf("unexpected frame %+v", msg)
	}
}

func readCount(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	var msg struct {
		Type    string        `json:"type"`
		Payload countResponse `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if msg.Type != "participants" {
		t.Fatalf("expected participants message, got %s", msg.Type)
	}
	return msg.Payload.Active
}
