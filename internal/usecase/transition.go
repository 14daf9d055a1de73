package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/runoshun/autocrew/internal/domain"
)

// maxTransitionAttempts bounds the re-read and retry loop on version conflicts.
const maxTransitionAttempts = 3

// Transitioner applies status changes through the store's versioned update.
type Transitioner struct {
	features domain.FeatureRepository
	events   domain.EventPublisher
	clock    domain.Clock
}

// NewTransitioner creates a new Transitioner.
func NewTransitioner(features domain.FeatureRepository, events domain.EventPublisher, clock domain.Clock) *Transitioner {
	return &Transitioner{
		features: features,
		events:   events,
		clock:    clock,
	}
}

// Apply moves the feature to target under pipeline p.
// The feature is re-read before every attempt so that a conflicting writer is never
// overwritten blindly. A feature already in target only has its summary updated.
func (t *Transitioner) Apply(ctx context.Context, id string, target domain.Status, summary *string, p *domain.Pipeline) (*domain.Feature, error) {
	for attempt := 1; ; attempt++ {
		f, err := t.features.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get feature: %w", err)
		}

		if f.Status == target && summary == nil {
			return f, nil
		}
		if f.Status != target && !f.Status.CanTransitionTo(target, p) {
			return f, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, f.Status, target)
		}

		updated, err := t.features.UpdateStatus(ctx, domain.StatusUpdate{
			Summary:         summary,
			ID:              id,
			Status:          target,
			ExpectedVersion: f.Version,
		})
		if errors.Is(err, domain.ErrConcurrentUpdate) && attempt < maxTransitionAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}

		if f.Status != target {
			publish(t.events, t.clock, domain.EventFeatureStatusChanged, id, domain.StatusChangedPayload{
				From: f.Status,
				To:   target,
			})
		}
		return updated, nil
	}
}

// publish emits an event stamped with the clock.
func publish(events domain.EventPublisher, clock domain.Clock, typ domain.EventType, featureID string, payload any) {
	events.Publish(domain.Event{
		Timestamp: clock.Now(),
		Payload:   payload,
		ID:        uuid.NewString(),
		Type:      typ,
		FeatureID: featureID,
	})
}
