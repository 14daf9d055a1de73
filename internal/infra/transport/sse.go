package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/runoshun/autocrew/internal/domain"
)

// SSEHandler streams events as Server-Sent Events using the WebSocket envelope.
// Each event is sent as "event: <type>" followed by one JSON data line.
type SSEHandler struct {
	bus               domain.EventSubscriber
	KeepAliveInterval time.Duration
}

// NewSSEHandler creates a handler subscribing to bus per request.
func NewSSEHandler(bus domain.EventSubscriber) *SSEHandler {
	return &SSEHandler{bus: bus, KeepAliveInterval: DefaultPingInterval}
}

// ServeHTTP streams until the client disconnects.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	featureID := r.URL.Query().Get("feature")
	events := make(chan domain.Event, 64)

	// The callback blocks on a full channel; the bus keeps queueing for this
	// subscriber, so nothing is dropped while the client keeps up.
	unsubscribe := h.bus.Subscribe(func(e domain.Event) {
		if !matchFeature(e, featureID) {
			return
		}
		select {
		case events <- e:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(h.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e := <-events:
			data, err := json.Marshal(NewEnvelope(e))
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
