package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/runoshun/autocrew/internal/domain"
)

// ReconcileWorktreesInput contains the parameters for reconciling worktrees.
type ReconcileWorktreesInput struct {
	DryRun bool // If true, only report what would be cleaned up
	Force  bool // Remove orphaned worktrees even with uncommitted changes
}

// ReconcileWorktreesOutput contains the result of reconciliation.
type ReconcileWorktreesOutput struct {
	Orphaned  []domain.WorktreeInfo // Worktrees whose feature no longer exists
	Missing   []domain.WorktreeInfo // Tracked worktrees whose directory is gone
	StaleRefs []string              // Features linked to a worktree that no longer exists
	Skipped   map[string]string     // Feature ID -> reason the entry was left alone
}

// ReconcileWorktrees is the use case for cleaning up worktrees that drifted
// from the feature store.
type ReconcileWorktrees struct {
	features  domain.FeatureRepository
	worktrees domain.WorktreeManager
	runs      *RunRegistry
	logger    domain.Logger
}

// NewReconcileWorktrees creates a new ReconcileWorktrees use case.
func NewReconcileWorktrees(
	features domain.FeatureRepository,
	worktrees domain.WorktreeManager,
	runs *RunRegistry,
	logger domain.Logger,
) *ReconcileWorktrees {
	return &ReconcileWorktrees{
		features:  features,
		worktrees: worktrees,
		runs:      runs,
		logger:    logger,
	}
}

// Execute detects orphaned and missing worktrees and, unless DryRun, removes or forgets them.
func (uc *ReconcileWorktrees) Execute(ctx context.Context, in ReconcileWorktreesInput) (*ReconcileWorktreesOutput, error) {
	out := &ReconcileWorktreesOutput{
		Orphaned:  []domain.WorktreeInfo{},
		Missing:   []domain.WorktreeInfo{},
		StaleRefs: []string{},
		Skipped:   map[string]string{},
	}

	// 1. Collect the current state
	listing, err := uc.worktrees.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	byID, err := featuresByID(ctx, uc.features)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool)
	for _, wt := range listing.Worktrees {
		if wt.FeatureID == "" {
			continue
		}
		present[wt.FeatureID] = true
		if _, ok := byID[wt.FeatureID]; !ok {
			out.Orphaned = append(out.Orphaned, wt)
		}
	}
	out.Missing = append(out.Missing, listing.Removed...)

	for _, f := range byID {
		if f.Worktree != nil && !present[f.ID] {
			out.StaleRefs = append(out.StaleRefs, f.ID)
		}
	}
	slices.Sort(out.StaleRefs)

	if in.DryRun {
		return out, nil
	}

	// 2. Remove orphans, forget missing entries, clear stale links
	for _, wt := range out.Orphaned {
		err := uc.worktrees.Remove(ctx, wt.FeatureID, domain.RemoveOptions{Force: in.Force, DeleteBranch: true})
		if err != nil {
			out.Skipped[wt.FeatureID] = err.Error()
			uc.warn(wt.FeatureID, "keep orphaned worktree: "+err.Error())
			continue
		}
		uc.info(wt.FeatureID, "removed orphaned worktree "+wt.Path)
	}
	for _, wt := range out.Missing {
		if err := uc.worktrees.Remove(ctx, wt.FeatureID, domain.RemoveOptions{}); err != nil {
			out.Skipped[wt.FeatureID] = err.Error()
			uc.warn(wt.FeatureID, "forget missing worktree: "+err.Error())
		}
	}
	for _, id := range out.StaleRefs {
		if uc.runs != nil && uc.runs.Has(id) {
			out.Skipped[id] = domain.ErrRunActive.Error()
			continue
		}
		if _, err := uc.features.SetWorktree(ctx, id, nil); err != nil {
			return nil, fmt.Errorf("clear worktree of %s: %w", id, err)
		}
		uc.info(id, "cleared stale worktree link")
	}

	return out, nil
}

func (uc *ReconcileWorktrees) info(featureID, msg string) {
	if uc.logger != nil {
		uc.logger.Info(featureID, "worktree", msg)
	}
}

func (uc *ReconcileWorktrees) warn(featureID, msg string) {
	if uc.logger != nil {
		uc.logger.Warn(featureID, "worktree", msg)
	}
}
