package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/runoshun/autocrew/internal/domain"
)

// ListFeaturesInput contains the parameters for listing features.
type ListFeaturesInput struct {
	Category string          // Filter by category (empty = all)
	Statuses []domain.Status // Filter by status (empty = all)
}

// FeatureListItem is a feature together with its scheduling state.
type FeatureListItem struct {
	Feature  *domain.Feature
	Blocking []string // Dependencies that are not verified yet
	Running  bool     // A run is active in this process
}

// ListFeaturesOutput contains the result of listing features.
type ListFeaturesOutput struct {
	Items []FeatureListItem // In insertion order
}

// ListFeatures is the use case for listing features.
type ListFeatures struct {
	features domain.FeatureRepository
	runs     *RunRegistry
}

// NewListFeatures creates a new ListFeatures use case.
// runs may be nil when no scheduler lives in this process.
func NewListFeatures(features domain.FeatureRepository, runs *RunRegistry) *ListFeatures {
	return &ListFeatures{
		features: features,
		runs:     runs,
	}
}

// Execute lists features matching the given filters.
func (uc *ListFeatures) Execute(ctx context.Context, in ListFeaturesInput) (*ListFeaturesOutput, error) {
	all, err := uc.features.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}

	byID := make(map[string]*domain.Feature, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}

	out := &ListFeaturesOutput{Items: []FeatureListItem{}}
	for _, f := range all {
		if in.Category != "" && f.Category != in.Category {
			continue
		}
		if len(in.Statuses) > 0 && !slices.Contains(in.Statuses, f.Status) {
			continue
		}
		out.Items = append(out.Items, FeatureListItem{
			Feature:  f,
			Blocking: f.BlockingDependencies(byID),
			Running:  uc.runs != nil && uc.runs.Has(f.ID),
		})
	}
	return out, nil
}
