// Package usecase contains the application use cases.
package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/runoshun/autocrew/internal/domain"
)

// AddFeatureInput contains the parameters for creating a new feature.
type AddFeatureInput struct {
	ID              string                 // Feature ID (optional, generated when empty)
	Description     string                 // Feature description (required)
	Category        string                 // Board category (optional)
	Model           string                 // Model override (optional)
	ReasoningEffort domain.ReasoningEffort // Effort override (optional)
	Steps           []string               // Implementation steps (optional)
	Images          []string               // Attached image paths (optional)
	Dependencies    []string               // Features that must be verified first (optional)
	SkipTests       bool                   // Route successful runs to manual review
}

// AddFeatureOutput contains the result of creating a new feature.
type AddFeatureOutput struct {
	Feature *domain.Feature // The created feature
}

// AddFeature is the use case for creating a new feature.
type AddFeature struct {
	features domain.FeatureRepository
	clock    domain.Clock
	logger   domain.Logger
}

// NewAddFeature creates a new AddFeature use case.
func NewAddFeature(features domain.FeatureRepository, clock domain.Clock, logger domain.Logger) *AddFeature {
	return &AddFeature{
		features: features,
		clock:    clock,
		logger:   logger,
	}
}

// Execute creates a new backlog feature with the given input.
func (uc *AddFeature) Execute(ctx context.Context, in AddFeatureInput) (*AddFeatureOutput, error) {
	// Validate description
	if strings.TrimSpace(in.Description) == "" {
		return nil, domain.ErrEmptyDescription
	}
	effort, err := domain.ParseReasoningEffort(string(in.ReasoningEffort))
	if err != nil {
		return nil, err
	}

	id := in.ID
	if id == "" {
		id = domain.NewFeatureID(uc.clock.Now())
	}
	if err := domain.ValidateFeatureID(id); err != nil {
		return nil, err
	}

	// The store checks dependencies against the graph inside its critical section.
	created, err := uc.features.Create(ctx, &domain.Feature{
		ID:              id,
		Status:          domain.StatusBacklog,
		Category:        in.Category,
		Description:     in.Description,
		Model:           in.Model,
		ReasoningEffort: effort,
		Steps:           in.Steps,
		Images:          in.Images,
		Dependencies:    domain.NormalizeDependencies(in.Dependencies),
		SkipTests:       in.SkipTests,
	})
	if err != nil {
		return nil, fmt.Errorf("create feature: %w", err)
	}

	if uc.logger != nil {
		uc.logger.Info(created.ID, "feature", fmt.Sprintf("created: %q", created.Title()))
	}

	return &AddFeatureOutput{Feature: created}, nil
}
