package usecase

import (
	"context"
	"fmt"

	"github.com/runoshun/autocrew/internal/domain"
)

// ShowDiffInput contains the parameters for showing a feature's diff.
type ShowDiffInput struct {
	ID string // Feature ID
}

// ShowDiffOutput contains the diff of a feature's worktree.
type ShowDiffOutput struct {
	Status *domain.WorktreeStatus
	Diff   string // Unified diff against HEAD
}

// ShowDiff is the use case for displaying the changes made in a feature's worktree.
type ShowDiff struct {
	features  domain.FeatureRepository
	worktrees domain.WorktreeManager
}

// NewShowDiff creates a new ShowDiff use case.
func NewShowDiff(features domain.FeatureRepository, worktrees domain.WorktreeManager) *ShowDiff {
	return &ShowDiff{
		features:  features,
		worktrees: worktrees,
	}
}

// Execute returns the diff and status of the feature's worktree.
func (uc *ShowDiff) Execute(ctx context.Context, in ShowDiffInput) (*ShowDiffOutput, error) {
	f, err := uc.features.Get(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("get feature: %w", err)
	}
	if f.Worktree == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorktreeNotFound, f.ID)
	}

	status, err := uc.worktrees.Status(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	diff, err := uc.worktrees.Diff(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("worktree diff: %w", err)
	}

	return &ShowDiffOutput{Status: status, Diff: diff}, nil
}
