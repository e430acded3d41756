package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ActiveCounter is the slice of the exam service the participant stream needs.
type ActiveCounter interface {
	GetActiveCount(ctx context.Context, testID string) (int, error)
}

// WSHandler pushes the live participant count of a test at a fixed interval.
// It is a convenience over polling GET /tests/{testID}/participants; counts
// are point-in-time and may skip values between pushes.
type WSHandler struct {
	counter  ActiveCounter
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewWSHandler(counter ActiveCounter, interval time.Duration) *WSHandler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &WSHandler{
		counter:  counter,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades the request and streams {"type":"participants"} messages until the client leaves.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	testID := r.URL.Query().Get("testId")
	if testID == "" {
		http.Error(w, "missing testId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so close and ping control messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.push(r.Context(), conn, testID); err != nil {
			log.Debug().Err(err).Str("testID", testID).Msg("ws write error")
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *WSHandler) push(ctx context.Context, conn *websocket.Conn, testID string) error {
	n, err := h.counter.GetActiveCount(ctx, testID)
	_ = conn.SetWriteDeadline(time.Now().Add(h.interval))
	if err != nil {
		return conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
	}
	return conn.WriteJSON(outboundMessage[countResponse]{
		Type:    "participants",
		Payload: countResponse{TestID: testID, Active: n},
	})
}
