package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sandboxrun/engine/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope sent to a streaming client: a status
// snapshot on every poll tick, and the full terminal submission once
// its status becomes terminal.
type wsMessage struct {
	Type       string            `json:"type"` // "status" | "terminal" | "error"
	Status     types.Status      `json:"status,omitempty"`
	Submission *types.Submission `json:"submission,omitempty"`
	Error      string            `json:"error,omitempty"`
}

const pollInterval = 200 * time.Millisecond

// StreamSubmission handles GET /api/v1/stream/{token}: it upgrades to a
// WebSocket and pushes status updates until the submission reaches a
// terminal state or the client disconnects. A client may send the JSON
// message {"action":"cancel"} to cancel the submission mid-stream.
func (h *Handler) StreamSubmission(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sub, err := h.store.GetByToken(r.Context(), token)
	if err != nil {
		http.Error(w, "submission not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("handler: websocket upgrade failed")
		return
	}
	defer conn.Close()

	go h.readControlMessages(conn, sub.ID)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		current, err := h.store.Get(r.Context(), sub.ID)
		if err != nil {
			_ = conn.WriteJSON(wsMessage{Type: "error", Error: "submission lookup failed"})
			return
		}

		if current.Status.IsTerminal() {
			_ = conn.WriteJSON(wsMessage{Type: "terminal", Status: current.Status, Submission: current})
			return
		}
		if err := conn.WriteJSON(wsMessage{Type: "status", Status: current.Status}); err != nil {
			return
		}
	}
}

// readControlMessages drains inbound client frames, acting on "cancel"
// and otherwise discarding anything else, since the stream is primarily
// server-to-client.
func (h *Handler) readControlMessages(conn *websocket.Conn, submissionID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var payload struct {
			Action string `json:"action"`
		}
		if json.Unmarshal(data, &payload) != nil || payload.Action != "cancel" {
			continue
		}
		if err := h.dispatcher.Cancel(context.Background(), submissionID); err != nil {
			h.logger.WithError(err).Warn("handler: websocket-triggered cancel failed")
		}
	}
}
