package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/tender-docs/constants"
)

const (
	streamPollInterval = 2 * time.Second
	streamWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// batchEvent is one progress message on the batch stream.
type batchEvent struct {
	Type    string `json:"type"` // progress, completed, error
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// batchStream pushes the batch aggregate on every item change until the batch
// completes, then closes the connection.
func (s *Server) batchStream(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	if _, err := s.deps.Jobs.BatchStatus(r.Context(), batchID); err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection to websocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The client sends nothing; reading only detects a close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev batchEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Debug("batch stream write failed", "batch_id", batchID, "error", err)
			return false
		}
		return true
	}

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()
	tracker := s.deps.Jobs.Tracker()
	for {
		changed := tracker.Changed(batchID)
		b, err := s.deps.Jobs.BatchStatus(r.Context(), batchID)
		if err != nil {
			send(batchEvent{Type: "error", Error: err.Error()})
			return
		}
		if b.Status == constants.BatchStatusCompleted {
			if send(batchEvent{Type: "completed", Payload: b}) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch completed"),
					time.Now().Add(time.Second))
			}
			return
		}
		if !send(batchEvent{Type: "progress", Payload: b}) {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case <-changed:
		case <-ticker.C:
		}
	}
}
