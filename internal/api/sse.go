package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const sseKeepAlive = 15 * time.Second

// sseEvents handles the SSE (Server-Sent Events) endpoint.
// Clients receive the current state immediately, then stream updates as they happen.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id := uuid.New().String()
	if _, ok := h.events.Last(); !ok {
		sendSSE(w, flusher, h.ctrl.State())
	}
	ch := h.events.Subscribe(id)
	defer h.events.Unsubscribe(id)

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()

	for {
		select {
		case state, ok := <-ch:
			if !ok {
				return
			}
			sendSSE(w, flusher, state)
		case <-ping.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
