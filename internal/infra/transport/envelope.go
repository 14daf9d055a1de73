// Package transport forwards event bus traffic to WebSocket, SSE, NATS and log consumers.
package transport

import (
	"time"

	"github.com/runoshun/autocrew/internal/domain"
)

// Envelope is the wire frame of an event.
type Envelope struct {
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload,omitempty"`
	Type      domain.EventType `json:"type"`
	FeatureID string           `json:"featureId,omitempty"`
}

// NewEnvelope wraps an event for the wire.
func NewEnvelope(e domain.Event) Envelope {
	return Envelope{
		Type:      e.Type,
		FeatureID: e.FeatureID,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
	}
}

// matchFeature reports whether e should reach a client filtering on featureID.
// Global events always pass so a filtered client still sees scheduler state.
func matchFeature(e domain.Event, featureID string) bool {
	return featureID == "" || e.FeatureID == "" || e.FeatureID == featureID
}
