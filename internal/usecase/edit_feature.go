package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/runoshun/autocrew/internal/domain"
)

// EditFeatureInput contains the parameters for editing a feature.
type EditFeatureInput struct {
	Content         domain.FeatureContent // Fields to change; nil fields are kept
	ID              string                // Feature ID (required)
	ExpectedVersion int64                 // Version the caller edited, 0 to skip the check
}

// EditFeatureOutput contains the result of editing a feature.
type EditFeatureOutput struct {
	Feature *domain.Feature // The updated feature
}

// EditFeature is the use case for editing the user content of a feature.
// Status is never written here; edits and scheduler transitions meet only at the
// store's versioned update.
type EditFeature struct {
	features domain.FeatureRepository
	logger   domain.Logger
}

// NewEditFeature creates a new EditFeature use case.
func NewEditFeature(features domain.FeatureRepository, logger domain.Logger) *EditFeature {
	return &EditFeature{
		features: features,
		logger:   logger,
	}
}

// Execute applies the edit.
func (uc *EditFeature) Execute(ctx context.Context, in EditFeatureInput) (*EditFeatureOutput, error) {
	if in.Content.IsEmpty() {
		return nil, domain.ErrNoFieldsToUpdate
	}
	if in.Content.Description != nil && strings.TrimSpace(*in.Content.Description) == "" {
		return nil, domain.ErrEmptyDescription
	}
	if in.Content.ReasoningEffort != nil {
		effort, err := domain.ParseReasoningEffort(string(*in.Content.ReasoningEffort))
		if err != nil {
			return nil, err
		}
		in.Content.ReasoningEffort = &effort
	}

	updated, err := uc.features.UpdateContent(ctx, in.ID, in.ExpectedVersion, in.Content)
	if err != nil {
		return nil, fmt.Errorf("update feature: %w", err)
	}

	if uc.logger != nil {
		uc.logger.Info(updated.ID, "feature", fmt.Sprintf("edited (version %d)", updated.Version))
	}

	return &EditFeatureOutput{Feature: updated}, nil
}
