package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"transitmap/internal/routedata"
)

const keepAliveInterval = 30 * time.Second

// MapEvents streams map updates for the session via Server-Sent Events.
// Every coordinator change sends "layers" (JSON), "panel" and "banners"
// (HTML); the client redraws from those alone.
func (h *Handler) MapEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	if h.metrics != nil {
		h.metrics.SSEOpened()
		defer h.metrics.SSEClosed()
	}

	// An open stream keeps the session alive
	release := sess.Watch()
	defer release()

	changes, unsubscribe := sess.Map.Subscribe()
	defer unsubscribe()

	// Send current state immediately
	h.sendMapEvents(ctx, w, flusher, sess.Map.Snapshot())

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-changes:
			h.sendMapEvents(ctx, w, flusher, sess.Map.Snapshot())
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-sess.Done():
			// Ending the stream makes EventSource reconnect to a live session
			return
		case <-ctx.Done():
			return
		}
	}
}

// sendMapEvents renders the current state and writes it as three events.
func (h *Handler) sendMapEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, st routedata.State) {
	u, err := h.buildUpdate(ctx, st)
	if err != nil {
		h.logger.Error("rendering SSE map update", "error", err)
		return
	}
	layers, err := json.Marshal(u.Layers)
	if err != nil {
		h.logger.Error("encoding SSE layers", "error", err)
		return
	}
	writeEvent(w, "layers", layers)
	writeEvent(w, "panel", []byte(u.Panel))
	writeEvent(w, "banners", []byte(u.Banners))
	flusher.Flush()
}

// writeEvent writes one SSE event: the event name, then data lines (each
// line prefixed with "data: ").
func writeEvent(w http.ResponseWriter, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range bytes.Split(data, []byte("\n")) {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
