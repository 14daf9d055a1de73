package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/runoshun/autocrew/internal/domain"
)

// SetDependenciesInput contains the parameters for replacing a feature's dependencies.
type SetDependenciesInput struct {
	ID              string   // Feature ID (required)
	Dependencies    []string // New dependency set; empty clears it
	ExpectedVersion int64    // Version the caller edited, 0 to skip the check
}

// SetDependenciesOutput contains the result of SetDependencies.
type SetDependenciesOutput struct {
	Feature  *domain.Feature // The updated feature
	Blocking []string        // Dependencies that are not verified yet
}

// SetDependencies is the use case for editing the dependency graph.
// Edits that would close a cycle are rejected and leave the graph unchanged.
type SetDependencies struct {
	features domain.FeatureRepository
	logger   domain.Logger
}

// NewSetDependencies creates a new SetDependencies use case.
func NewSetDependencies(features domain.FeatureRepository, logger domain.Logger) *SetDependencies {
	return &SetDependencies{
		features: features,
		logger:   logger,
	}
}

// Execute replaces the dependency set.
func (uc *SetDependencies) Execute(ctx context.Context, in SetDependenciesInput) (*SetDependenciesOutput, error) {
	deps := domain.NormalizeDependencies(in.Dependencies)

	updated, err := uc.features.SetDependencies(ctx, in.ID, in.ExpectedVersion, deps)
	if err != nil {
		return nil, fmt.Errorf("set dependencies: %w", err)
	}

	all, err := uc.features.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	byID := make(map[string]*domain.Feature, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}

	if uc.logger != nil {
		uc.logger.Info(updated.ID, "feature", "dependencies set to ["+strings.Join(deps, ", ")+"]")
	}

	return &SetDependenciesOutput{
		Feature:  updated,
		Blocking: updated.BlockingDependencies(byID),
	}, nil
}
