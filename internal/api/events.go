package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openlot/parkwatch/internal/monitoring"
)

// streamEvents serves the SSE stream. Each bus event becomes one SSE
// message; if this subscriber's queue overflowed, a resync message is
// sent first so the client knows to refetch full state.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)
	monitoring.Logf("[api] event stream opened (%s)", id)
	defer monitoring.Logf("[api] event stream closed (%s)", id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if s.bus.NeedsResync(id) {
				fmt.Fprintf(w, "event: resync\ndata: {}\n\n")
				s.bus.ClearResync(id)
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				monitoring.Logf("[api] failed to encode event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
