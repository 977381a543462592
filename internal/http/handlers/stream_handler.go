package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/slotgrid/internal/http/response"
	"github.com/diagnosis/slotgrid/internal/service"
	"github.com/diagnosis/slotgrid/pkg/events"
	"github.com/diagnosis/slotgrid/pkg/logger"
)

// StreamHandler serves GET /events/{id}/stream as server-sent events.
type StreamHandler struct {
	Events      service.EventService
	Broadcaster events.Broadcaster
}

func NewStreamHandler(evs service.EventService, b events.Broadcaster) *StreamHandler {
	return &StreamHandler{Events: evs, Broadcaster: b}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	ok, err := h.Events.Exists(r.Context(), eventID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if !ok {
		response.NotFound(w, "event not found")
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise end the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.DebugContext(r.Context(), "stream: write deadline not adjustable", "error", err)
	}

	sub := h.Broadcaster.Subscribe(eventID)
	defer h.Broadcaster.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.ErrorContext(r.Context(), "stream: flush unsupported", "error", err)
		return
	}

	logger.DebugContext(r.Context(), "stream opened", "event_id", eventID)
	defer logger.DebugContext(r.Context(), "stream closed", "event_id", eventID)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-sub.C:
			if !open {
				return
			}
			if err := writeFrame(w, msg); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if msg.Type == events.TypeEventDeleted {
				return
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, msg events.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
	return err
}
