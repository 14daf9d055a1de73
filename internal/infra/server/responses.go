package server

import (
	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/usecase"
)

type errorResponse struct {
	Error string `json:"error"`
}

// featureItem is one row of GET /api/features.
type featureItem struct {
	*domain.Feature
	Blocking []string `json:"blocking"`
	Running  bool     `json:"running"`
}

type featureList struct {
	Features []featureItem `json:"features"`
}

func newFeatureList(items []usecase.FeatureListItem) featureList {
	out := featureList{Features: make([]featureItem, 0, len(items))}
	for _, it := range items {
		out.Features = append(out.Features, featureItem{
			Feature:  it.Feature,
			Blocking: nonNil(it.Blocking),
			Running:  it.Running,
		})
	}
	return out
}

// featureDetail is the body of GET /api/features/{id}.
type featureDetail struct {
	Feature    *domain.Feature          `json:"feature"`
	Blocking   []string                 `json:"blocking"`
	Dependents []string                 `json:"dependents"`
	Transcript []domain.TranscriptEntry `json:"transcript,omitempty"`
	Running    bool                     `json:"running"`
}

type worktreeItem struct {
	domain.WorktreeInfo
	Status domain.Status `json:"status,omitempty"` // Empty for orphaned worktrees
}

type worktreeList struct {
	Worktrees []worktreeItem        `json:"worktrees"`
	Missing   []domain.WorktreeInfo `json:"missing"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInfo(s []domain.WorktreeInfo) []domain.WorktreeInfo {
	if s == nil {
		return []domain.WorktreeInfo{}
	}
	return s
}
