package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/runoshun/autocrew/internal/domain"
)

// DefaultPingInterval is how often idle WebSocket clients are pinged.
const DefaultPingInterval = 30 * time.Second

const writeWait = 10 * time.Second

// WebSocketHandler streams events as JSON frames. The optional "feature"
// query parameter narrows the stream to one feature plus global events.
// Clients get only events published after they connect.
type WebSocketHandler struct {
	bus          domain.EventSubscriber
	logger       domain.Logger
	upgrader     websocket.Upgrader
	PingInterval time.Duration
}

// NewWebSocketHandler creates a handler subscribing to bus per connection.
// Handshakes from origins the policy rejects fail with 403.
func NewWebSocketHandler(bus domain.EventSubscriber, logger domain.Logger, origins *OriginPolicy) *WebSocketHandler {
	return &WebSocketHandler{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     origins.Allow,
		},
		PingInterval: DefaultPingInterval,
	}
}

// ServeHTTP upgrades the connection and forwards events until the client goes away.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		return
	}
	defer func() { _ = conn.Close() }()

	clientID := uuid.NewString()
	featureID := r.URL.Query().Get("feature")
	h.logger.Debug(featureID, "transport", fmt.Sprintf("websocket client %s connected", clientID))

	// Frames are written only from the subscriber goroutine; pings use
	// WriteControl, which gorilla allows concurrently with other writes.
	unsubscribe := h.bus.Subscribe(func(e domain.Event) {
		if !matchFeature(e, featureID) {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(NewEnvelope(e)); err != nil {
			_ = conn.Close()
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)
	go h.ping(conn, done)

	pongWait := 2 * h.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Inbound frames are ignored; reading drives pong and close handling.
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug(featureID, "transport", fmt.Sprintf("websocket client %s disconnected", clientID))
			return
		}
	}
}

func (h *WebSocketHandler) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
