package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/autocrew/internal/domain"
	mocks "github.com/runoshun/autocrew/internal/testutil"
)

func TestCollector_RunLifecycle(t *testing.T) {
	c := NewCollector()
	bus := mocks.NewEventRecorder()
	detach := c.Attach(bus)
	defer detach()

	bus.Publish(domain.Event{Type: domain.EventAutoModeStarted})
	bus.Publish(domain.Event{Type: domain.EventFeatureStarted, FeatureID: "a"})
	bus.Publish(domain.Event{Type: domain.EventFeatureStarted, FeatureID: "b"})
	assert.InDelta(t, 2, testutil.ToFloat64(c.running), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.autoModeActive), 0)

	bus.Publish(domain.Event{
		Type:      domain.EventFeatureStatusChanged,
		FeatureID: "a",
		Payload:   domain.StatusChangedPayload{From: domain.StatusInProgress, To: domain.StatusVerified},
	})
	bus.Publish(domain.Event{
		Type:      domain.EventFeatureComplete,
		FeatureID: "a",
		Payload:   domain.CompletePayload{Mode: domain.ModeImplement, Outcome: domain.OutcomeSuccess, Status: domain.StatusVerified},
	})
	bus.Publish(domain.Event{Type: domain.EventAutoModeStopped})

	assert.InDelta(t, 1, testutil.ToFloat64(c.running), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(c.autoModeActive), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.runs.WithLabelValues("implement", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.transitions.WithLabelValues("verified")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.events.WithLabelValues("feature_started")), 0)
}

func TestCollector_ErrorsByPhase(t *testing.T) {
	c := NewCollector()

	c.Observe(domain.Event{Type: domain.EventAutoModeError, Payload: domain.ErrorPayload{Phase: "worktree"}})
	c.Observe(domain.Event{Type: domain.EventFeatureError})

	assert.InDelta(t, 1, testutil.ToFloat64(c.errors.WithLabelValues("worktree")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.errors.WithLabelValues("unknown")), 0)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.Observe(domain.Event{Type: domain.EventAutoModeIdle})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `autocrew_events_total{type="auto_mode_idle"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
