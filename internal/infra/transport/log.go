package transport

import (
	"encoding/json"
	"fmt"

	"github.com/runoshun/autocrew/internal/domain"
)

// LogForwarder writes every event through a Logger under the "event" category.
// Streaming agent output is logged at debug level; errors at error level.
type LogForwarder struct {
	logger domain.Logger
}

// NewLogForwarder creates a LogForwarder.
func NewLogForwarder(logger domain.Logger) *LogForwarder {
	return &LogForwarder{logger: logger}
}

// Attach subscribes the forwarder to bus and returns the unsubscribe function.
func (f *LogForwarder) Attach(bus domain.EventSubscriber) func() {
	return bus.Subscribe(f.Forward)
}

// Forward logs one event.
func (f *LogForwarder) Forward(e domain.Event) {
	msg := string(e.Type)
	if e.Payload != nil {
		if data, err := json.Marshal(e.Payload); err == nil {
			msg = fmt.Sprintf("%s %s", e.Type, data)
		}
	}

	switch e.Type {
	case domain.EventAutoModeError, domain.EventAutoModeFatal, domain.EventFeatureError:
		f.logger.Error(e.FeatureID, "event", msg)
	case domain.EventFeatureProgress, domain.EventFeatureToolUse, domain.EventFeatureToolResult:
		f.logger.Debug(e.FeatureID, "event", msg)
	default:
		f.logger.Info(e.FeatureID, "event", msg)
	}
}
