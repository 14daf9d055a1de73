package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/runoshun/autocrew/internal/domain"
)

// Publisher is the subset of *nats.Conn used by the bridge.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSBridge forwards every event to a NATS subject named <prefix>.<type>.
type NATSBridge struct {
	pub    Publisher
	logger domain.Logger
	prefix string
}

// NewNATSBridge creates a bridge. An empty prefix uses domain.DefaultSubjectPrefix.
func NewNATSBridge(pub Publisher, prefix string, logger domain.Logger) *NATSBridge {
	if prefix == "" {
		prefix = domain.DefaultSubjectPrefix
	}
	return &NATSBridge{pub: pub, prefix: prefix, logger: logger}
}

// Subject returns the subject an event type is published on.
func (b *NATSBridge) Subject(t domain.EventType) string {
	return b.prefix + "." + string(t)
}

// Attach subscribes the bridge to bus and returns the unsubscribe function.
func (b *NATSBridge) Attach(bus domain.EventSubscriber) func() {
	return bus.Subscribe(b.Forward)
}

// Forward publishes one event. Failures are logged and never retried.
func (b *NATSBridge) Forward(e domain.Event) {
	data, err := json.Marshal(NewEnvelope(e))
	if err != nil {
		b.logger.Warn(e.FeatureID, "transport", fmt.Sprintf("encode %s for nats: %v", e.Type, err))
		return
	}
	if err := b.pub.Publish(b.Subject(e.Type), data); err != nil {
		b.logger.Warn(e.FeatureID, "transport", fmt.Sprintf("publish %s to nats: %v", e.Type, err))
	}
}

// ConnectNATS dials the configured server with unlimited reconnects.
func ConnectNATS(cfg domain.NATSConfig, logger domain.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("autocrew"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("", "transport", fmt.Sprintf("nats disconnected: %v", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("", "transport", "nats reconnected to "+nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}
