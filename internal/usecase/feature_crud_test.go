package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() *testutil.MockClock {
	return &testutil.MockClock{NowTime: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestAddFeature_Execute(t *testing.T) {
	// Setup
	repo := testutil.NewMockFeatureRepository()
	logger := testutil.NewMockLogger()
	uc := NewAddFeature(repo, fixedClock(), logger)

	// Execute
	out, err := uc.Execute(context.Background(), AddFeatureInput{
		Description:     "Add login page\nwith OAuth",
		Category:        "ui",
		ReasoningEffort: "HIGH",
		Steps:           []string{"form", "callback"},
	})

	// Assert
	require.NoError(t, err)
	f := out.Feature
	assert.True(t, strings.HasPrefix(f.ID, "feature-1740830400000-"), f.ID)
	assert.Equal(t, domain.StatusBacklog, f.Status)
	assert.Equal(t, domain.EffortHigh, f.ReasoningEffort)
	assert.Equal(t, "ui", f.Category)
	assert.Equal(t, int64(1), f.Version)
	assert.NotNil(t, repo.Snapshot(f.ID))
	require.Len(t, logger.Snapshot(), 1)
	assert.Contains(t, logger.Snapshot()[0].Msg, "Add login page")
}

func TestAddFeature_Execute_Validation(t *testing.T) {
	repo := testutil.NewMockFeatureRepository()
	repo.Add(&domain.Feature{ID: "base", Status: domain.StatusBacklog})
	uc := NewAddFeature(repo, fixedClock(), nil)

	tests := []struct {
		wantErr error
		name    string
		in      AddFeatureInput
	}{
		{name: "empty description", in: AddFeatureInput{Description: "  \n"}, wantErr: domain.ErrEmptyDescription},
		{name: "unsafe id", in: AddFeatureInput{ID: "../x", Description: "d"}, wantErr: domain.ErrInvalidFeatureID},
		{name: "unknown dependency", in: AddFeatureInput{Description: "d", Dependencies: []string{"nope"}}, wantErr: domain.ErrUnknownDependency},
		{name: "self dependency", in: AddFeatureInput{ID: "self", Description: "d", Dependencies: []string{"self"}}, wantErr: domain.ErrUnknownDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Execute(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("invalid effort", func(t *testing.T) {
		_, err := uc.Execute(context.Background(), AddFeatureInput{Description: "d", ReasoningEffort: "extreme"})
		assert.ErrorContains(t, err, "invalid reasoning effort")
	})

	t.Run("known dependency", func(t *testing.T) {
		out, err := uc.Execute(context.Background(), AddFeatureInput{Description: "d", Dependencies: []string{"base", "base", ""}})
		require.NoError(t, err)
		assert.Equal(t, []string{"base"}, out.Feature.Dependencies)
	})
}

func TestEditFeature_Execute(t *testing.T) {
	// Setup
	repo := testutil.NewMockFeatureRepository()
	repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusInProgress, Description: "old"})
	uc := NewEditFeature(repo, nil)

	desc := "new"
	effort := domain.ReasoningEffort(" Low ")

	// Execute
	out, err := uc.Execute(context.Background(), EditFeatureInput{
		ID:              "f1",
		ExpectedVersion: 1,
		Content:         domain.FeatureContent{Description: &desc, ReasoningEffort: &effort},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "new", out.Feature.Description)
	assert.Equal(t, domain.EffortLow, out.Feature.ReasoningEffort)
	assert.Equal(t, domain.StatusInProgress, out.Feature.Status, "edits never touch status")
	assert.Equal(t, int64(2), out.Feature.Version)
}

func TestEditFeature_Execute_Errors(t *testing.T) {
	repo := testutil.NewMockFeatureRepository()
	repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusBacklog, Description: "old"})
	uc := NewEditFeature(repo, nil)
	empty := " "
	desc := "x"

	_, err := uc.Execute(context.Background(), EditFeatureInput{ID: "f1"})
	require.ErrorIs(t, err, domain.ErrNoFieldsToUpdate)

	_, err = uc.Execute(context.Background(), EditFeatureInput{ID: "f1", Content: domain.FeatureContent{Description: &empty}})
	require.ErrorIs(t, err, domain.ErrEmptyDescription)

	_, err = uc.Execute(context.Background(), EditFeatureInput{ID: "f1", ExpectedVersion: 7, Content: domain.FeatureContent{Description: &desc}})
	require.ErrorIs(t, err, domain.ErrConcurrentUpdate)

	_, err = uc.Execute(context.Background(), EditFeatureInput{ID: "missing", Content: domain.FeatureContent{Description: &desc}})
	require.ErrorIs(t, err, domain.ErrFeatureNotFound)

	assert.Equal(t, "old", repo.Snapshot("f1").Description)
}

func TestSetDependencies_Execute(t *testing.T) {
	// Setup
	repo := testutil.NewMockFeatureRepository()
	repo.Add(&domain.Feature{ID: "a", Status: domain.StatusVerified})
	repo.Add(&domain.Feature{ID: "b", Status: domain.StatusBacklog})
	repo.Add(&domain.Feature{ID: "c", Status: domain.StatusBacklog, Dependencies: []string{"b"}})
	uc := NewSetDependencies(repo, nil)

	// Execute
	out, err := uc.Execute(context.Background(), SetDependenciesInput{ID: "b", Dependencies: []string{"a"}})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Feature.Dependencies)
	assert.Empty(t, out.Blocking)

	t.Run("cycle is rejected and the graph is unchanged", func(t *testing.T) {
		_, err := uc.Execute(context.Background(), SetDependenciesInput{ID: "b", Dependencies: []string{"c"}})
		require.ErrorIs(t, err, domain.ErrCyclicDependency)

		var cyc *domain.CyclicDependencyError
		require.ErrorAs(t, err, &cyc)
		assert.Equal(t, "c", cyc.DependencyID)
		assert.Equal(t, []string{"a"}, repo.Snapshot("b").Dependencies)
	})

	t.Run("blocking dependencies are reported", func(t *testing.T) {
		out, err := uc.Execute(context.Background(), SetDependenciesInput{ID: "a", Dependencies: []string{}})
		require.NoError(t, err)
		assert.Empty(t, out.Feature.Dependencies)

		out, err = uc.Execute(context.Background(), SetDependenciesInput{ID: "c", Dependencies: []string{"a", "b"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, out.Blocking)
	})
}

func TestDeleteFeature_Execute(t *testing.T) {
	newFixture := func() (*testutil.MockFeatureRepository, *testutil.MockWorktreeManager, *RunRegistry, *testutil.EventRecorder, *DeleteFeature) {
		repo := testutil.NewMockFeatureRepository()
		wt := testutil.NewMockWorktreeManager("/data")
		runs := NewRunRegistry()
		events := testutil.NewEventRecorder()
		return repo, wt, runs, events, NewDeleteFeature(repo, wt, runs, testutil.NewMockRunLocker(), events, fixedClock(), nil)
	}

	t.Run("removes worktree with branch and the record", func(t *testing.T) {
		repo, wt, _, events, uc := newFixture()
		info, err := wt.Create(context.Background(), "f1")
		require.NoError(t, err)
		repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusFailed, Worktree: info.Ref()})

		out, err := uc.Execute(context.Background(), DeleteFeatureInput{ID: "f1"})

		require.NoError(t, err)
		assert.True(t, out.WorktreeRemoved)
		assert.Nil(t, repo.Snapshot("f1"))
		assert.Equal(t, []string{"f1"}, wt.Removed)
		assert.Len(t, events.OfType(domain.EventWorktreeRemoved, "f1"), 1)
	})

	t.Run("refuses while a run is active", func(t *testing.T) {
		repo, _, runs, _, uc := newFixture()
		repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusInProgress})
		_, err := runs.reserve("f1", domain.ModeImplement, func() {}, time.Now())
		require.NoError(t, err)

		_, err = uc.Execute(context.Background(), DeleteFeatureInput{ID: "f1", Force: true})

		require.ErrorIs(t, err, domain.ErrRunActive)
		assert.NotNil(t, repo.Snapshot("f1"))
	})

	t.Run("refuses while another process runs it", func(t *testing.T) {
		repo := testutil.NewMockFeatureRepository()
		wt := testutil.NewMockWorktreeManager("/data")
		locks := testutil.NewMockRunLocker()
		info, err := wt.Create(context.Background(), "f1")
		require.NoError(t, err)
		repo.Add(&domain.Feature{
			ID:         "f1",
			Status:     domain.StatusInProgress,
			Worktree:   info.Ref(),
			RunHistory: []domain.RunRecord{{ID: "r1", Mode: domain.ModeImplement}},
		})
		release, err := locks.TryLock("f1")
		require.NoError(t, err)
		defer release()
		uc := NewDeleteFeature(repo, wt, NewRunRegistry(), locks, testutil.NewEventRecorder(), fixedClock(), nil)

		_, err = uc.Execute(context.Background(), DeleteFeatureInput{ID: "f1", Force: true})

		require.ErrorIs(t, err, domain.ErrRunActive)
		assert.NotNil(t, repo.Snapshot("f1"))
		assert.Empty(t, wt.Removed)
	})

	t.Run("open run without an owner needs force", func(t *testing.T) {
		repo, wt, _, _, uc := newFixture()
		info, err := wt.Create(context.Background(), "f1")
		require.NoError(t, err)
		repo.Add(&domain.Feature{
			ID:         "f1",
			Status:     domain.StatusInProgress,
			Worktree:   info.Ref(),
			RunHistory: []domain.RunRecord{{ID: "r1", Mode: domain.ModeImplement}},
		})

		_, err = uc.Execute(context.Background(), DeleteFeatureInput{ID: "f1"})
		require.ErrorIs(t, err, domain.ErrRunActive)
		assert.Empty(t, wt.Removed)

		_, err = uc.Execute(context.Background(), DeleteFeatureInput{ID: "f1", Force: true})
		require.NoError(t, err)
		assert.Nil(t, repo.Snapshot("f1"))
	})

	t.Run("dirty worktree blocks unless forced", func(t *testing.T) {
		repo, wt, _, _, uc := newFixture()
		info, err := wt.Create(context.Background(), "f1")
		require.NoError(t, err)
		wt.Worktrees["f1"].HasUncommittedChanges = true
		repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusFailed, Worktree: info.Ref()})

		_, err = uc.Execute(context.Background(), DeleteFeatureInput{ID: "f1"})
		require.ErrorIs(t, err, domain.ErrUncommittedChanges)
		assert.NotNil(t, repo.Snapshot("f1"))

		_, err = uc.Execute(context.Background(), DeleteFeatureInput{ID: "f1", Force: true})
		require.NoError(t, err)
		assert.Nil(t, repo.Snapshot("f1"))
	})

	t.Run("dependents block unless forced", func(t *testing.T) {
		repo, _, _, _, uc := newFixture()
		repo.Add(&domain.Feature{ID: "base", Status: domain.StatusVerified})
		repo.Add(&domain.Feature{ID: "child", Status: domain.StatusBacklog, Dependencies: []string{"base", "other"}})
		repo.Add(&domain.Feature{ID: "other", Status: domain.StatusVerified})

		_, err := uc.Execute(context.Background(), DeleteFeatureInput{ID: "base"})
		require.ErrorIs(t, err, ErrHasDependents)

		out, err := uc.Execute(context.Background(), DeleteFeatureInput{ID: "base", Force: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"child"}, out.Dependents)
		assert.Equal(t, []string{"other"}, repo.Snapshot("child").Dependencies)
	})

	t.Run("not found", func(t *testing.T) {
		_, _, _, _, uc := newFixture()
		_, err := uc.Execute(context.Background(), DeleteFeatureInput{ID: "missing"})
		assert.ErrorIs(t, err, domain.ErrFeatureNotFound)
	})
}

func TestListFeatures_Execute(t *testing.T) {
	// Setup
	repo := testutil.NewMockFeatureRepository()
	repo.Add(&domain.Feature{ID: "a", Status: domain.StatusVerified, Category: "api"})
	repo.Add(&domain.Feature{ID: "b", Status: domain.StatusBacklog, Category: "ui", Dependencies: []string{"a", "c"}})
	repo.Add(&domain.Feature{ID: "c", Status: domain.StatusInProgress, Category: "ui"})
	runs := NewRunRegistry()
	_, err := runs.reserve("c", domain.ModeImplement, func() {}, time.Now())
	require.NoError(t, err)
	uc := NewListFeatures(repo, runs)

	// Execute
	all, err := uc.Execute(context.Background(), ListFeaturesInput{})
	require.NoError(t, err)
	ui, err := uc.Execute(context.Background(), ListFeaturesInput{Category: "ui", Statuses: []domain.Status{domain.StatusBacklog}})
	require.NoError(t, err)

	// Assert
	require.Len(t, all.Items, 3)
	assert.Equal(t, "a", all.Items[0].Feature.ID)
	assert.Equal(t, []string{"c"}, all.Items[1].Blocking)
	assert.True(t, all.Items[2].Running)
	assert.False(t, all.Items[0].Running)

	require.Len(t, ui.Items, 1)
	assert.Equal(t, "b", ui.Items[0].Feature.ID)
}

func TestShowFeature_Execute(t *testing.T) {
	// Setup
	repo := testutil.NewMockFeatureRepository()
	transcripts := testutil.NewMockTranscriptStore()
	w, ref, err := transcripts.Open("f1", "r2")
	require.NoError(t, err)
	require.NoError(t, w.Append(domain.TextMessage("hello")))

	repo.Add(&domain.Feature{
		ID:           "f1",
		Status:       domain.StatusWaitingApproval,
		Dependencies: []string{"base"},
		RunHistory: []domain.RunRecord{
			{ID: "r1", Mode: domain.ModeImplement, Outcome: domain.OutcomeFailure},
			{ID: "r2", Mode: domain.ModeImplement, Outcome: domain.OutcomeSuccess, AgentOutputRef: ref},
		},
	})
	repo.Add(&domain.Feature{ID: "base", Status: domain.StatusBacklog})
	repo.Add(&domain.Feature{ID: "child", Status: domain.StatusBacklog, Dependencies: []string{"f1"}})
	uc := NewShowFeature(repo, transcripts, nil)

	// Execute
	out, err := uc.Execute(context.Background(), ShowFeatureInput{ID: "f1", Transcript: true})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "r2", out.Run.ID)
	assert.Equal(t, []string{"base"}, out.Blocking)
	assert.Equal(t, []string{"child"}, out.Dependents)
	require.Len(t, out.Transcript, 1)
	assert.Equal(t, domain.TextMessage("hello"), out.Transcript[0].Message)

	t.Run("selects a run by id", func(t *testing.T) {
		out, err := uc.Execute(context.Background(), ShowFeatureInput{ID: "f1", RunID: "r1", Transcript: true})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeFailure, out.Run.Outcome)
		assert.Empty(t, out.Transcript)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := uc.Execute(context.Background(), ShowFeatureInput{ID: "f1", RunID: "nope"})
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})
}

func TestShowDiff_Execute(t *testing.T) {
	// Setup
	repo := testutil.NewMockFeatureRepository()
	wt := testutil.NewMockWorktreeManager("/data")
	wt.DiffText = "diff --git a/x b/x\n"
	info, err := wt.Create(context.Background(), "f1")
	require.NoError(t, err)
	wt.Worktrees["f1"].HasUncommittedChanges = true
	repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusWaitingApproval, Worktree: info.Ref()})
	repo.Add(&domain.Feature{ID: "f2", Status: domain.StatusBacklog})
	uc := NewShowDiff(repo, wt)

	// Execute
	out, err := uc.Execute(context.Background(), ShowDiffInput{ID: "f1"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "diff --git a/x b/x\n", out.Diff)
	assert.True(t, out.Status.HasChanges)

	_, err = uc.Execute(context.Background(), ShowDiffInput{ID: "f2"})
	assert.ErrorIs(t, err, domain.ErrWorktreeNotFound)
}
