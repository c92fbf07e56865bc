package httpapi

import (
	"fmt"
	"net/http"
	"time"
)

// keepAliveInterval is how often an idle event stream receives a comment
const keepAliveInterval = 15 * time.Second

// StreamEvents handles GET /events. Every message of the notification
// channel is relayed verbatim as one server-sent event.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, h.log, fmt.Errorf("streaming unsupported"))
		return
	}

	msgs, leave := h.hub.Subscribe()
	defer leave()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Debug().Msg("events: client connected")
	defer h.log.Debug().Msg("events: client disconnected")

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
