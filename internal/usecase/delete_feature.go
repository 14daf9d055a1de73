package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/runoshun/autocrew/internal/domain"
)

// DeleteFeatureInput contains the parameters for deleting a feature.
type DeleteFeatureInput struct {
	ID    string // Feature ID to delete
	Force bool   // Discard uncommitted worktree changes and drop dependency edges pointing here
}

// DeleteFeatureOutput contains the result of deleting a feature.
type DeleteFeatureOutput struct {
	Dependents      []string // Features whose dependency on the deleted one was removed
	WorktreeRemoved bool
}

// DeleteFeature is the use case for deleting a feature, its transcripts and its worktree.
type DeleteFeature struct {
	features  domain.FeatureRepository
	worktrees domain.WorktreeManager
	runs      *RunRegistry
	locks     domain.RunLocker
	events    domain.EventPublisher
	clock     domain.Clock
	logger    domain.Logger
}

// NewDeleteFeature creates a new DeleteFeature use case.
func NewDeleteFeature(
	features domain.FeatureRepository,
	worktrees domain.WorktreeManager,
	runs *RunRegistry,
	locks domain.RunLocker,
	events domain.EventPublisher,
	clock domain.Clock,
	logger domain.Logger,
) *DeleteFeature {
	return &DeleteFeature{
		features:  features,
		worktrees: worktrees,
		runs:      runs,
		locks:     locks,
		events:    events,
		clock:     clock,
		logger:    logger,
	}
}

// ErrHasDependents is returned when other features still depend on the one being deleted.
var ErrHasDependents = errors.New("other features depend on this feature")

// Execute deletes the feature. A feature with a live run in any process is never
// deleted; one that looks mid-run without a live owner needs Force.
func (uc *DeleteFeature) Execute(ctx context.Context, in DeleteFeatureInput) (*DeleteFeatureOutput, error) {
	release, err := lockIdle(uc.runs, uc.locks, in.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	f, err := uc.features.Get(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("get feature: %w", err)
	}
	if !in.Force {
		if last := f.LastRun(); f.Status == domain.StatusInProgress || (last != nil && !last.IsSealed()) {
			return nil, fmt.Errorf("%w: %s is %s (use --force after a crash)", domain.ErrRunActive, f.ID, f.Status)
		}
	}

	all, err := uc.features.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	var dependents []*domain.Feature
	for _, other := range all {
		if slices.Contains(other.Dependencies, f.ID) {
			dependents = append(dependents, other)
		}
	}
	if len(dependents) > 0 && !in.Force {
		return nil, fmt.Errorf("%w: %d dependent feature(s)", ErrHasDependents, len(dependents))
	}

	out := &DeleteFeatureOutput{Dependents: []string{}}

	// Worktree first so that a dirty checkout blocks the deletion.
	if f.Worktree != nil {
		err := uc.worktrees.Remove(ctx, f.ID, domain.RemoveOptions{Force: in.Force, DeleteBranch: true})
		if err != nil && !errors.Is(err, domain.ErrWorktreeNotFound) {
			return nil, fmt.Errorf("remove worktree: %w", err)
		}
		out.WorktreeRemoved = err == nil
		if out.WorktreeRemoved {
			publish(uc.events, uc.clock, domain.EventWorktreeRemoved, f.ID, domain.WorktreePayload{
				Path:   f.Worktree.Path,
				Branch: f.Worktree.Branch,
			})
		}
	}

	for _, d := range dependents {
		deps := slices.DeleteFunc(slices.Clone(d.Dependencies), func(id string) bool { return id == f.ID })
		if _, err := uc.features.SetDependencies(ctx, d.ID, 0, deps); err != nil {
			return nil, fmt.Errorf("drop dependency of %s: %w", d.ID, err)
		}
		out.Dependents = append(out.Dependents, d.ID)
	}

	if err := uc.features.Delete(ctx, f.ID); err != nil {
		return nil, fmt.Errorf("delete feature: %w", err)
	}

	if uc.logger != nil {
		uc.logger.Info(f.ID, "feature", "deleted")
	}

	return out, nil
}
