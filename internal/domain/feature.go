// Package domain contains core business entities and interfaces.
package domain

import (
	"slices"
	"time"
)

// Feature is a unit of work tracked through the board lifecycle.
// Fields are ordered to minimize memory padding.
type Feature struct {
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Worktree        *WorktreeRef    `json:"worktree,omitempty"`        // Set while a worktree exists
	ID              string          `json:"id"`                        // Immutable
	Status          Status          `json:"status"`                    // Written only through the store's status update
	Category        string          `json:"category,omitempty"`        // User content
	Description     string          `json:"description"`               // User content
	Summary         string          `json:"summary,omitempty"`         // Last completion summary
	Model           string          `json:"model,omitempty"`           // Per-feature model override
	ReasoningEffort ReasoningEffort `json:"reasoningEffort,omitempty"` // Per-feature effort override
	Steps           []string        `json:"steps,omitempty"`
	Images          []string        `json:"images,omitempty"`
	Dependencies    []string        `json:"dependencies,omitempty"`
	RunHistory      []RunRecord     `json:"runHistory,omitempty"` // Append-only
	Seq             int64           `json:"seq"`                  // Insertion order
	Version         int64           `json:"version"`              // Incremented by every mutation
	SkipTests       bool            `json:"skipTests,omitempty"`  // Route successful runs to manual review
}

// WorktreeRef links a feature to its isolated checkout.
type WorktreeRef struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

// Clone returns a deep copy of the feature.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	c := *f
	if f.Worktree != nil {
		wt := *f.Worktree
		c.Worktree = &wt
	}
	c.Steps = slices.Clone(f.Steps)
	c.Images = slices.Clone(f.Images)
	c.Dependencies = slices.Clone(f.Dependencies)
	if f.RunHistory != nil {
		c.RunHistory = make([]RunRecord, len(f.RunHistory))
		for i, r := range f.RunHistory {
			r.ToolInvocations = slices.Clone(r.ToolInvocations)
			c.RunHistory[i] = r
		}
	}
	return &c
}

// LastRun returns the most recent run record, or nil if the feature never ran.
func (f *Feature) LastRun() *RunRecord {
	if len(f.RunHistory) == 0 {
		return nil
	}
	return &f.RunHistory[len(f.RunHistory)-1]
}

// Run returns the run record with the given ID.
func (f *Feature) Run(runID string) (*RunRecord, bool) {
	for i := range f.RunHistory {
		if f.RunHistory[i].ID == runID {
			return &f.RunHistory[i], true
		}
	}
	return nil, false
}

// LastSessionID returns the agent session of the most recent run that reported one.
func (f *Feature) LastSessionID() string {
	for i := len(f.RunHistory) - 1; i >= 0; i-- {
		if f.RunHistory[i].SessionID != "" {
			return f.RunHistory[i].SessionID
		}
	}
	return ""
}

// ConsecutiveFailures counts failed or timed-out runs since the last successful one.
// Cancelled runs are skipped.
func (f *Feature) ConsecutiveFailures() int {
	n := 0
	for i := len(f.RunHistory) - 1; i >= 0; i-- {
		switch f.RunHistory[i].Outcome {
		case OutcomeSuccess:
			return n
		case OutcomeFailure, OutcomeTimeout:
			n++
		}
	}
	return n
}

// DependenciesMet returns true if every dependency is verified.
// Unknown dependencies count as unmet.
func (f *Feature) DependenciesMet(byID map[string]*Feature) bool {
	return len(f.BlockingDependencies(byID)) == 0
}

// BlockingDependencies returns the dependency IDs that are not yet verified.
func (f *Feature) BlockingDependencies(byID map[string]*Feature) []string {
	var blocking []string
	for _, id := range f.Dependencies {
		dep, ok := byID[id]
		if !ok || dep.Status != StatusVerified {
			blocking = append(blocking, id)
		}
	}
	return blocking
}

// Title returns a short single-line label for the feature.
func (f *Feature) Title() string {
	const maxLen = 60
	line := f.Description
	for i := 0; i < len(line); i++ {
		if line[i] == '\n' {
			line = line[:i]
			break
		}
	}
	if r := []rune(line); len(r) > maxLen {
		return string(r[:maxLen-3]) + "..."
	}
	return line
}

// FeatureContent holds user-editable fields. Nil fields are left unchanged;
// a non-nil empty slice clears the list.
type FeatureContent struct {
	Category        *string
	Description     *string
	Model           *string
	ReasoningEffort *ReasoningEffort
	SkipTests       *bool
	Steps           []string
	Images          []string
}

// IsEmpty returns true if no field is set.
func (c FeatureContent) IsEmpty() bool {
	return c.Category == nil && c.Description == nil && c.Model == nil &&
		c.ReasoningEffort == nil && c.SkipTests == nil && c.Steps == nil && c.Images == nil
}

// Apply writes the set fields onto f.
func (c FeatureContent) Apply(f *Feature) {
	if c.Category != nil {
		f.Category = *c.Category
	}
	if c.Description != nil {
		f.Description = *c.Description
	}
	if c.Model != nil {
		f.Model = *c.Model
	}
	if c.ReasoningEffort != nil {
		f.ReasoningEffort = *c.ReasoningEffort
	}
	if c.SkipTests != nil {
		f.SkipTests = *c.SkipTests
	}
	if c.Steps != nil {
		f.Steps = slices.Clone(c.Steps)
	}
	if c.Images != nil {
		f.Images = slices.Clone(c.Images)
	}
}

// StatusUpdate is the only sanctioned way to change a feature's status and summary.
type StatusUpdate struct {
	Summary         *string // nil leaves the summary unchanged
	ID              string
	Status          Status
	ExpectedVersion int64 // Version the caller observed
}
