package usecase

import (
	"context"
	"fmt"

	"github.com/runoshun/autocrew/internal/domain"
)

// ListWorktreesInput contains the parameters for listing worktrees.
type ListWorktreesInput struct {
	IncludeMain bool // Include the main worktree and foreign worktrees
}

// WorktreeListItem is a worktree with its owning feature.
type WorktreeListItem struct {
	Feature *domain.Feature // nil for orphaned and foreign worktrees
	Info    domain.WorktreeInfo
}

// ListWorktreesOutput contains the result of listing worktrees.
type ListWorktreesOutput struct {
	Worktrees []WorktreeListItem
	Missing   []domain.WorktreeInfo // Tracked, but the directory is gone
}

// ListWorktrees is the use case for listing feature worktrees.
type ListWorktrees struct {
	features  domain.FeatureRepository
	worktrees domain.WorktreeManager
}

// NewListWorktrees creates a new ListWorktrees use case.
func NewListWorktrees(features domain.FeatureRepository, worktrees domain.WorktreeManager) *ListWorktrees {
	return &ListWorktrees{
		features:  features,
		worktrees: worktrees,
	}
}

// Execute lists worktrees joined with their features.
func (uc *ListWorktrees) Execute(ctx context.Context, in ListWorktreesInput) (*ListWorktreesOutput, error) {
	listing, err := uc.worktrees.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	byID, err := featuresByID(ctx, uc.features)
	if err != nil {
		return nil, err
	}

	out := &ListWorktreesOutput{
		Worktrees: []WorktreeListItem{},
		Missing:   listing.Removed,
	}
	for _, wt := range listing.Worktrees {
		if wt.FeatureID == "" && !in.IncludeMain {
			continue
		}
		out.Worktrees = append(out.Worktrees, WorktreeListItem{
			Info:    wt,
			Feature: byID[wt.FeatureID],
		})
	}
	return out, nil
}

// featuresByID indexes every stored feature.
func featuresByID(ctx context.Context, features domain.FeatureRepository) (map[string]*domain.Feature, error) {
	all, err := features.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	byID := make(map[string]*domain.Feature, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}
	return byID, nil
}
