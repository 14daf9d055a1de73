package domain

// WorktreeInfo describes an isolated checkout owned by a feature.
// Fields are ordered to minimize memory padding.
type WorktreeInfo struct {
	FeatureID             string `json:"featureId,omitempty"` // Empty for the main worktree and foreign worktrees
	Path                  string `json:"path"`
	Branch                string `json:"branch"`
	IsMain                bool   `json:"isMain"`
	HasUncommittedChanges bool   `json:"hasUncommittedChanges"`
	Reused                bool   `json:"reused,omitempty"`  // Create found an existing checkout
	Missing               bool   `json:"missing,omitempty"` // Tracked, but the directory is gone
}

// Ref returns the linkage stored on the feature record.
func (w *WorktreeInfo) Ref() *WorktreeRef {
	return &WorktreeRef{Path: w.Path, Branch: w.Branch}
}

// WorktreeStatus is the working-tree state of a checkout.
type WorktreeStatus struct {
	ChangedFiles []string `json:"changedFiles"`
	HasChanges   bool     `json:"hasChanges"`
}

// WorktreeListing is the result of listing worktrees.
// Removed holds tracked entries whose directory vanished outside of the manager.
type WorktreeListing struct {
	Worktrees []WorktreeInfo `json:"worktrees"`
	Removed   []WorktreeInfo `json:"removedWorktrees"`
}

// RemoveOptions configures worktree removal.
type RemoveOptions struct {
	Force        bool // Discard uncommitted changes
	DeleteBranch bool // Also delete the feature branch
}
