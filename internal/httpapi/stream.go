package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream tails the egress topic as Server-Sent Events. Each connection
// gets its own consumer with a fresh group id starting at the latest offset;
// the consumer is closed when the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}
	if s.newTail == nil {
		s.writeError(w, http.StatusServiceUnavailable, "message broker unavailable", "")
		return
	}

	filterID := r.URL.Query().Get("portfolio_id")
	tail := s.newTail()
	defer tail.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		msg, err := tail.ReadMessage(ctx)
		if err != nil {
			// Client disconnect or consumer failure; either way we are done.
			return
		}
		payload, ok := filterPayload(msg.Value, filterID)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleWebsocket mirrors the SSE tail over a websocket for clients that
// prefer a bidirectional transport.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.newTail == nil {
		s.writeError(w, http.StatusServiceUnavailable, "message broker unavailable", "")
		return
	}
	filterID := r.URL.Query().Get("portfolio_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	tail := s.newTail()
	defer tail.Close()

	// Drain client frames so close handshakes are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := tail.ReadMessage(ctx)
		if err != nil {
			return
		}
		payload, ok := filterPayload(msg.Value, filterID)
		if !ok {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// filterPayload applies the optional portfolio_id filter to an egress
// payload. Undecodable payloads are skipped.
func filterPayload(payload []byte, filterID string) ([]byte, bool) {
	if filterID == "" {
		return payload, true
	}
	var probe struct {
		PortfolioID string `json:"portfolio_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, false
	}
	return payload, probe.PortfolioID == filterID
}
