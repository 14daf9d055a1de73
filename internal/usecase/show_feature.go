package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/runoshun/autocrew/internal/domain"
)

// ShowFeatureInput contains the parameters for showing a feature.
type ShowFeatureInput struct {
	ID         string // Feature ID to show
	RunID      string // Run whose transcript to load (empty = last run)
	Transcript bool   // Load the run transcript
}

// ShowFeatureOutput contains the feature and its related information.
type ShowFeatureOutput struct {
	Feature    *domain.Feature
	Run        *domain.RunRecord        // The run selected by RunID, or the last run
	Blocking   []string                 // Dependencies that are not verified yet
	Dependents []string                 // Features that depend on this one
	Transcript []domain.TranscriptEntry // Set when requested and available
	Running    bool
}

// ShowFeature is the use case for displaying feature details.
type ShowFeature struct {
	features    domain.FeatureRepository
	transcripts domain.TranscriptStore
	runs        *RunRegistry
}

// NewShowFeature creates a new ShowFeature use case.
func NewShowFeature(features domain.FeatureRepository, transcripts domain.TranscriptStore, runs *RunRegistry) *ShowFeature {
	return &ShowFeature{
		features:    features,
		transcripts: transcripts,
		runs:        runs,
	}
}

// Execute retrieves a feature with its dependency context and optional transcript.
func (uc *ShowFeature) Execute(ctx context.Context, in ShowFeatureInput) (*ShowFeatureOutput, error) {
	f, err := uc.features.Get(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("get feature: %w", err)
	}

	all, err := uc.features.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	byID := make(map[string]*domain.Feature, len(all))
	dependents := []string{}
	for _, other := range all {
		byID[other.ID] = other
		if slices.Contains(other.Dependencies, f.ID) {
			dependents = append(dependents, other.ID)
		}
	}

	out := &ShowFeatureOutput{
		Feature:    f,
		Blocking:   f.BlockingDependencies(byID),
		Dependents: dependents,
		Running:    uc.runs != nil && uc.runs.Has(f.ID),
		Run:        f.LastRun(),
	}
	if in.RunID != "" {
		run, ok := f.Run(in.RunID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, in.RunID)
		}
		out.Run = run
	}

	if in.Transcript && out.Run != nil && out.Run.AgentOutputRef != "" && uc.transcripts != nil {
		entries, err := uc.transcripts.Read(out.Run.AgentOutputRef)
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		out.Transcript = entries
	}

	return out, nil
}
