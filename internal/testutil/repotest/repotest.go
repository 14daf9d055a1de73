// Package repotest checks that a domain.FeatureRepository honors the
// versioning, sealing and dependency rules shared by every backend.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/autocrew/internal/domain"
)

// Factory returns an empty repository for one subtest.
type Factory func(t *testing.T) domain.FeatureRepository

// Run executes the repository contract against repositories created by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newRepo(t)) })
	t.Run("ListInsertionOrder", func(t *testing.T) { testListOrder(t, newRepo(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newRepo(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
	t.Run("UpdateStatusVersioning", func(t *testing.T) { testUpdateStatusVersioning(t, newRepo(t)) })
	t.Run("ConcurrentUpdateStatus", func(t *testing.T) { testConcurrentUpdateStatus(t, newRepo(t)) })
	t.Run("UpdateContent", func(t *testing.T) { testUpdateContent(t, newRepo(t)) })
	t.Run("SetDependenciesRejectsCycle", func(t *testing.T) { testDependencyCycle(t, newRepo(t)) })
	t.Run("SetDependenciesUnknown", func(t *testing.T) { testDependencyUnknown(t, newRepo(t)) })
	t.Run("ConcurrentDependencyEdits", func(t *testing.T) { testConcurrentDependencyEdits(t, newRepo(t)) })
	t.Run("RunLifecycle", func(t *testing.T) { testRunLifecycle(t, newRepo(t)) })
	t.Run("SetWorktree", func(t *testing.T) { testSetWorktree(t, newRepo(t)) })
}

func create(t *testing.T, repo domain.FeatureRepository, id string, deps ...string) *domain.Feature {
	t.Helper()
	f, err := repo.Create(context.Background(), &domain.Feature{
		ID:           id,
		Description:  "Implement " + id,
		Dependencies: deps,
	})
	require.NoError(t, err)
	return f
}

func testCreateAndGet(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()

	created, err := repo.Create(ctx, &domain.Feature{
		ID:          "feature-1",
		Category:    "core",
		Description: "Add login",
		Steps:       []string{"a", "b"},
		SkipTests:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBacklog, created.Status)
	assert.Equal(t, int64(1), created.Version)
	assert.NotZero(t, created.Seq)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.Get(ctx, "feature-1")
	require.NoError(t, err)
	assert.Equal(t, "Add login", got.Description)
	assert.Equal(t, "core", got.Category)
	assert.Equal(t, []string{"a", "b"}, got.Steps)
	assert.True(t, got.SkipTests)
	assert.Equal(t, created.Version, got.Version)

	_, err = repo.Create(ctx, &domain.Feature{ID: "feature-1", Description: "dup"})
	assert.Error(t, err)

	generated, err := repo.Create(ctx, &domain.Feature{Description: "no id"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func testListOrder(t *testing.T, repo domain.FeatureRepository) {
	for _, id := range []string{"zeta", "alpha", "mid"} {
		create(t, repo, id)
	}

	list, err := repo.List(context.Background())

	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "zeta", list[0].ID)
	assert.Equal(t, "alpha", list[1].ID)
	assert.Equal(t, "mid", list[2].ID)
}

func testGetNotFound(t *testing.T, repo domain.FeatureRepository) {
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrFeatureNotFound)

	_, err = repo.UpdateStatus(context.Background(), domain.StatusUpdate{ID: "missing", Status: domain.StatusFailed})
	assert.ErrorIs(t, err, domain.ErrFeatureNotFound)
}

func testDelete(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()
	create(t, repo, "feature-1")

	require.NoError(t, repo.Delete(ctx, "feature-1"))

	_, err := repo.Get(ctx, "feature-1")
	assert.ErrorIs(t, err, domain.ErrFeatureNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "feature-1"), domain.ErrFeatureNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testUpdateStatusVersioning(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()
	f := create(t, repo, "feature-1")
	summary := "done"

	updated, err := repo.UpdateStatus(ctx, domain.StatusUpdate{
		ID:              f.ID,
		ExpectedVersion: f.Version,
		Status:          domain.StatusInProgress,
		Summary:         &summary,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, updated.Status)
	assert.Equal(t, "done", updated.Summary)
	assert.Equal(t, f.Version+1, updated.Version)

	// Stale version is rejected and nothing changes.
	_, err = repo.UpdateStatus(ctx, domain.StatusUpdate{
		ID:              f.ID,
		ExpectedVersion: f.Version,
		Status:          domain.StatusFailed,
	})
	var conflict *domain.ConcurrentUpdateConflict
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, f.Version, conflict.Expected)
	assert.Equal(t, updated.Version, conflict.Actual)

	got, err := repo.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)

	// A nil summary leaves it unchanged.
	again, err := repo.UpdateStatus(ctx, domain.StatusUpdate{ID: f.ID, Status: domain.StatusVerified})
	require.NoError(t, err)
	assert.Equal(t, "done", again.Summary)
}

func testConcurrentUpdateStatus(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()
	f := create(t, repo, "feature-1")

	targets := []domain.Status{domain.StatusVerified, domain.StatusFailed}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, status := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = repo.UpdateStatus(ctx, domain.StatusUpdate{
				ID:              f.ID,
				ExpectedVersion: f.Version,
				Status:          status,
			})
		}()
	}
	close(start)
	wg.Wait()

	var winner domain.Status
	successes := 0
	for i, err := range errs {
		if err == nil {
			successes++
			winner = targets[i]
			continue
		}
		assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	}
	require.Equal(t, 1, successes, "exactly one writer must win")

	got, err := repo.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, got.Status)
	assert.Equal(t, f.Version+1, got.Version)
}

func testUpdateContent(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()
	f := create(t, repo, "feature-1")
	desc := "Rewritten"

	updated, err := repo.UpdateContent(ctx, f.ID, f.Version, domain.FeatureContent{
		Description: &desc,
		Steps:       []string{"one"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Rewritten", updated.Description)
	assert.Equal(t, []string{"one"}, updated.Steps)
	assert.Equal(t, domain.StatusBacklog, updated.Status)

	_, err = repo.UpdateContent(ctx, f.ID, f.Version, domain.FeatureContent{Description: &desc})
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
}

func testDependencyCycle(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()
	a := create(t, repo, "feature-a")
	b := create(t, repo, "feature-b")
	create(t, repo, "feature-c", "feature-b")

	// b depends on a.
	_, err := repo.SetDependencies(ctx, b.ID, 0, []string{a.ID})
	require.NoError(t, err)

	// a -> c would close a -> c -> b -> a.
	_, err = repo.SetDependencies(ctx, a.ID, 0, []string{"feature-c"})
	var cyc *domain.CyclicDependencyError
	require.True(t, errors.As(err, &cyc), "got %v", err)
	assert.ErrorIs(t, err, domain.ErrCyclicDependency)

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Dependencies)

	_, err = repo.SetDependencies(ctx, a.ID, 0, []string{a.ID})
	assert.ErrorIs(t, err, domain.ErrCyclicDependency)
}

func testDependencyUnknown(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()
	a := create(t, repo, "feature-a")

	_, err := repo.SetDependencies(ctx, a.ID, 0, []string{"ghost"})
	assert.ErrorIs(t, err, domain.ErrUnknownDependency)

	_, err = repo.Create(ctx, &domain.Feature{ID: "feature-b", Description: "b", Dependencies: []string{"ghost"}})
	assert.ErrorIs(t, err, domain.ErrUnknownDependency)
}

func testConcurrentDependencyEdits(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()
	create(t, repo, "feature-a")
	create(t, repo, "feature-b")

	// a -> b and b -> a racing: at most one may be accepted.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	edits := [][2]string{{"feature-a", "feature-b"}, {"feature-b", "feature-a"}}
	for i, e := range edits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.SetDependencies(ctx, e[0], 0, []string{e[1]})
		}()
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, domain.ErrCyclicDependency)
		}
	}
	assert.Equal(t, 1, accepted)
}

func testRunLifecycle(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()
	f := create(t, repo, "feature-1")

	started, err := repo.StartRun(ctx, f.ID, domain.RunRecord{ID: "run-1", Mode: domain.ModeImplement})
	require.NoError(t, err)
	require.Len(t, started.RunHistory, 1)
	assert.False(t, started.RunHistory[0].IsSealed())
	assert.False(t, started.RunHistory[0].StartedAt.IsZero())

	_, err = repo.StartRun(ctx, f.ID, domain.RunRecord{ID: "run-2", Mode: domain.ModeImplement})
	assert.ErrorIs(t, err, domain.ErrRunActive)

	sealed, err := repo.SealRun(ctx, f.ID, "run-1", domain.RunSeal{
		Outcome:   domain.OutcomeSuccess,
		SessionID: "sess-1",
		Summary:   "ok",
		ToolInvocations: []domain.ToolInvocation{
			{Name: "Read", Kind: domain.ToolRead},
		},
	})
	require.NoError(t, err)
	run := sealed.LastRun()
	assert.Equal(t, domain.OutcomeSuccess, run.Outcome)
	assert.Equal(t, "sess-1", run.SessionID)
	assert.Len(t, run.ToolInvocations, 1)
	assert.False(t, run.EndedAt.IsZero())

	_, err = repo.SealRun(ctx, f.ID, "run-1", domain.RunSeal{Outcome: domain.OutcomeFailure})
	assert.ErrorIs(t, err, domain.ErrRunSealed)

	_, err = repo.SealRun(ctx, f.ID, "nope", domain.RunSeal{Outcome: domain.OutcomeFailure})
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	// A new run may start once the previous one is sealed.
	for i := 2; i <= 3; i++ {
		runID := fmt.Sprintf("run-%d", i)
		_, err = repo.StartRun(ctx, f.ID, domain.RunRecord{ID: runID, Mode: domain.ModeResume})
		require.NoError(t, err)
		_, err = repo.SealRun(ctx, f.ID, runID, domain.RunSeal{Outcome: domain.OutcomeFailure})
		require.NoError(t, err)
	}

	got, err := repo.Get(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, got.RunHistory, 3)
	assert.Equal(t, domain.OutcomeSuccess, got.RunHistory[0].Outcome)
	assert.Equal(t, "sess-1", got.LastSessionID())
	assert.Equal(t, 2, got.ConsecutiveFailures())
}

func testSetWorktree(t *testing.T, repo domain.FeatureRepository) {
	ctx := context.Background()
	f := create(t, repo, "feature-1")

	updated, err := repo.SetWorktree(ctx, f.ID, &domain.WorktreeRef{Path: "/tmp/wt", Branch: "autocrew/feature-1"})
	require.NoError(t, err)
	require.NotNil(t, updated.Worktree)
	assert.Equal(t, "/tmp/wt", updated.Worktree.Path)

	cleared, err := repo.SetWorktree(ctx, f.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, cleared.Worktree)
}
