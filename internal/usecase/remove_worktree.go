package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/runoshun/autocrew/internal/domain"
)

// RemoveWorktreeInput contains the parameters for removing a feature's worktree.
type RemoveWorktreeInput struct {
	ID           string // Feature ID
	Force        bool   // Discard uncommitted changes
	DeleteBranch bool   // Also delete the feature branch
}

// RemoveWorktreeOutput contains the result of removing a worktree.
type RemoveWorktreeOutput struct {
	Path   string
	Branch string
}

// RemoveWorktree is the use case for removing a feature's worktree on request.
type RemoveWorktree struct {
	features  domain.FeatureRepository
	worktrees domain.WorktreeManager
	runs      *RunRegistry
	locks     domain.RunLocker
	events    domain.EventPublisher
	clock     domain.Clock
}

// NewRemoveWorktree creates a new RemoveWorktree use case.
func NewRemoveWorktree(
	features domain.FeatureRepository,
	worktrees domain.WorktreeManager,
	runs *RunRegistry,
	locks domain.RunLocker,
	events domain.EventPublisher,
	clock domain.Clock,
) *RemoveWorktree {
	return &RemoveWorktree{
		features:  features,
		worktrees: worktrees,
		runs:      runs,
		locks:     locks,
		events:    events,
		clock:     clock,
	}
}

// Execute removes the worktree and clears the feature's linkage.
// The feature itself may already be gone.
func (uc *RemoveWorktree) Execute(ctx context.Context, in RemoveWorktreeInput) (*RemoveWorktreeOutput, error) {
	release, err := lockIdle(uc.runs, uc.locks, in.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	f, err := uc.features.Get(ctx, in.ID)
	if err != nil && !errors.Is(err, domain.ErrFeatureNotFound) {
		return nil, fmt.Errorf("get feature: %w", err)
	}

	out := &RemoveWorktreeOutput{Branch: domain.BranchName(in.ID)}
	if f != nil && f.Worktree != nil {
		out.Path = f.Worktree.Path
		out.Branch = f.Worktree.Branch
	}

	if err := uc.worktrees.Remove(ctx, in.ID, domain.RemoveOptions{Force: in.Force, DeleteBranch: in.DeleteBranch}); err != nil {
		return nil, fmt.Errorf("remove worktree: %w", err)
	}

	if f != nil && f.Worktree != nil {
		if _, err := uc.features.SetWorktree(ctx, f.ID, nil); err != nil {
			return nil, fmt.Errorf("clear worktree: %w", err)
		}
	}

	publish(uc.events, uc.clock, domain.EventWorktreeRemoved, in.ID, domain.WorktreePayload{
		Path:   out.Path,
		Branch: out.Branch,
	})

	return out, nil
}
