package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jdahl/transcoded/internal/jobs"
)

// JobStream handles GET /api/jobs/{id}/stream (SSE endpoint).
// The stream opens with the latest snapshot, carries progress events as
// they happen, and ends after the terminal event. A subscriber that
// connects after the job finished gets just the terminal event.
func (h *Handler) JobStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	eventCh, err := h.orch.Subscribe(id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	defer h.orch.Unsubscribe(id, eventCh)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				// Terminal event already delivered; the stream is over.
				return
			}
			writeEvent(w, flusher, event)
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event jobs.Event) {
	payload := struct {
		Type jobs.EventType `json:"type"`
		Job  jobView        `json:"job"`
	}{
		Type: event.Type,
		Job:  viewOf(event.Job),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	flusher.Flush()
}
