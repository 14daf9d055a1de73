package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// missingWorktreeManager reports extra tracked-but-missing entries.
type missingWorktreeManager struct {
	*testutil.MockWorktreeManager
	missing []domain.WorktreeInfo
}

func (m *missingWorktreeManager) ListAll(ctx context.Context) (*domain.WorktreeListing, error) {
	listing, err := m.MockWorktreeManager.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	listing.Removed = append(listing.Removed, m.missing...)
	return listing, nil
}

func TestListWorktrees_Execute(t *testing.T) {
	// Setup
	repo := testutil.NewMockFeatureRepository()
	wt := testutil.NewMockWorktreeManager("/data")
	info, err := wt.Create(context.Background(), "f1")
	require.NoError(t, err)
	_, err = wt.Create(context.Background(), "gone")
	require.NoError(t, err)
	wt.Worktrees["main"] = &domain.WorktreeInfo{Path: "/repo", Branch: "main", IsMain: true}
	repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusInProgress, Worktree: info.Ref()})
	uc := NewListWorktrees(repo, wt)

	// Execute
	out, err := uc.Execute(context.Background(), ListWorktreesInput{})

	// Assert
	require.NoError(t, err)
	require.Len(t, out.Worktrees, 2)
	assert.Equal(t, "f1", out.Worktrees[0].Info.FeatureID)
	assert.Equal(t, "f1", out.Worktrees[0].Feature.ID)
	assert.Equal(t, "gone", out.Worktrees[1].Info.FeatureID)
	assert.Nil(t, out.Worktrees[1].Feature)

	withMain, err := uc.Execute(context.Background(), ListWorktreesInput{IncludeMain: true})
	require.NoError(t, err)
	assert.Len(t, withMain.Worktrees, 3)
}

func TestRemoveWorktree_Execute(t *testing.T) {
	// Setup
	repo := testutil.NewMockFeatureRepository()
	wt := testutil.NewMockWorktreeManager("/data")
	events := testutil.NewEventRecorder()
	runs := NewRunRegistry()
	info, err := wt.Create(context.Background(), "f1")
	require.NoError(t, err)
	repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusWaitingApproval, Worktree: info.Ref()})
	uc := NewRemoveWorktree(repo, wt, runs, testutil.NewMockRunLocker(), events, fixedClock())

	// Execute
	out, err := uc.Execute(context.Background(), RemoveWorktreeInput{ID: "f1", DeleteBranch: true})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, info.Path, out.Path)
	assert.Equal(t, domain.BranchName("f1"), out.Branch)
	assert.Nil(t, repo.Snapshot("f1").Worktree)
	assert.Equal(t, []string{"f1"}, wt.Removed)
	removed := events.OfType(domain.EventWorktreeRemoved, "f1")
	require.Len(t, removed, 1)
	assert.Equal(t, domain.WorktreePayload{Path: info.Path, Branch: info.Branch}, removed[0].Payload)
}

func TestRemoveWorktree_Execute_Guards(t *testing.T) {
	repo := testutil.NewMockFeatureRepository()
	wt := testutil.NewMockWorktreeManager("/data")
	runs := NewRunRegistry()
	info, err := wt.Create(context.Background(), "f1")
	require.NoError(t, err)
	wt.Worktrees["f1"].HasUncommittedChanges = true
	repo.Add(&domain.Feature{ID: "f1", Status: domain.StatusInProgress, Worktree: info.Ref()})
	locks := testutil.NewMockRunLocker()
	uc := NewRemoveWorktree(repo, wt, runs, locks, testutil.NewEventRecorder(), fixedClock())

	t.Run("dirty without force", func(t *testing.T) {
		_, err := uc.Execute(context.Background(), RemoveWorktreeInput{ID: "f1"})
		require.ErrorIs(t, err, domain.ErrUncommittedChanges)
		assert.NotNil(t, repo.Snapshot("f1").Worktree)
	})

	t.Run("active run", func(t *testing.T) {
		run, err := runs.reserve("f1", domain.ModeImplement, func() {}, time.Now())
		require.NoError(t, err)
		defer runs.release(run)

		_, err = uc.Execute(context.Background(), RemoveWorktreeInput{ID: "f1", Force: true})
		assert.ErrorIs(t, err, domain.ErrRunActive)
	})

	t.Run("run lock held by another process", func(t *testing.T) {
		release, err := locks.TryLock("f1")
		require.NoError(t, err)
		defer release()

		_, err = uc.Execute(context.Background(), RemoveWorktreeInput{ID: "f1", Force: true})
		assert.ErrorIs(t, err, domain.ErrRunActive)
		assert.NotNil(t, repo.Snapshot("f1").Worktree)
	})

	t.Run("feature already deleted", func(t *testing.T) {
		_, err := wt.Create(context.Background(), "orphan")
		require.NoError(t, err)

		out, err := uc.Execute(context.Background(), RemoveWorktreeInput{ID: "orphan"})
		require.NoError(t, err)
		assert.Equal(t, domain.BranchName("orphan"), out.Branch)
	})
}

func TestReconcileWorktrees_Execute(t *testing.T) {
	newFixture := func() (*testutil.MockFeatureRepository, *missingWorktreeManager, *ReconcileWorktrees) {
		repo := testutil.NewMockFeatureRepository()
		wt := &missingWorktreeManager{MockWorktreeManager: testutil.NewMockWorktreeManager("/data")}

		live, err := wt.Create(context.Background(), "live")
		require.NoError(t, err)
		_, err = wt.Create(context.Background(), "orphan")
		require.NoError(t, err)
		wt.missing = []domain.WorktreeInfo{{FeatureID: "vanished", Path: "/data/worktrees/vanished", Missing: true}}

		repo.Add(&domain.Feature{ID: "live", Status: domain.StatusInProgress, Worktree: live.Ref()})
		repo.Add(&domain.Feature{ID: "vanished", Status: domain.StatusFailed, Worktree: &domain.WorktreeRef{Path: "/data/worktrees/vanished"}})
		return repo, wt, NewReconcileWorktrees(repo, wt, NewRunRegistry(), testutil.NewMockLogger())
	}

	t.Run("dry run reports without changing anything", func(t *testing.T) {
		repo, wt, uc := newFixture()

		out, err := uc.Execute(context.Background(), ReconcileWorktreesInput{DryRun: true})

		require.NoError(t, err)
		require.Len(t, out.Orphaned, 1)
		assert.Equal(t, "orphan", out.Orphaned[0].FeatureID)
		require.Len(t, out.Missing, 1)
		assert.Equal(t, "vanished", out.Missing[0].FeatureID)
		assert.Equal(t, []string{"vanished"}, out.StaleRefs)
		assert.Empty(t, wt.Removed)
		assert.NotNil(t, repo.Snapshot("vanished").Worktree)
	})

	t.Run("cleans up", func(t *testing.T) {
		repo, wt, uc := newFixture()

		out, err := uc.Execute(context.Background(), ReconcileWorktreesInput{})

		require.NoError(t, err)
		assert.Empty(t, out.Skipped)
		assert.Equal(t, []string{"orphan", "vanished"}, wt.Removed)
		assert.Nil(t, repo.Snapshot("vanished").Worktree)
		assert.NotNil(t, repo.Snapshot("live").Worktree)
	})

	t.Run("dirty orphan is skipped", func(t *testing.T) {
		_, wt, uc := newFixture()
		wt.Worktrees["orphan"].HasUncommittedChanges = true

		out, err := uc.Execute(context.Background(), ReconcileWorktreesInput{})

		require.NoError(t, err)
		assert.Contains(t, out.Skipped, "orphan")
		assert.Equal(t, []string{"vanished"}, wt.Removed)
	})
}

func TestInitRepo_Execute(t *testing.T) {
	t.Run("fresh repository", func(t *testing.T) {
		dataDir := t.TempDir()
		manager := testutil.NewMockConfigManager()
		manager.RepoConfigInfo = domain.ConfigInfo{Path: domain.ConfigPath(dataDir)}

		out, err := NewInitRepo(manager, dataDir).Execute(context.Background(), InitRepoInput{})

		require.NoError(t, err)
		assert.True(t, manager.InitRepoCalled)
		assert.False(t, out.AlreadyInitialized)
		assert.DirExists(t, domain.FeaturesDir(dataDir))
		assert.DirExists(t, domain.WorktreesDir(dataDir))
	})

	t.Run("existing config", func(t *testing.T) {
		manager := testutil.NewMockConfigManager()
		manager.InitRepoErr = domain.ErrConfigExists

		out, err := NewInitRepo(manager, t.TempDir()).Execute(context.Background(), InitRepoInput{})

		require.NoError(t, err)
		assert.True(t, out.AlreadyInitialized)
	})

	t.Run("write failure", func(t *testing.T) {
		manager := testutil.NewMockConfigManager()
		manager.InitRepoErr = assert.AnError

		_, err := NewInitRepo(manager, t.TempDir()).Execute(context.Background(), InitRepoInput{})

		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestInitConfig_Execute(t *testing.T) {
	t.Run("creates repo config", func(t *testing.T) {
		manager := testutil.NewMockConfigManager()
		manager.RepoConfigInfo = domain.ConfigInfo{Path: "/repo/.git/autocrew/config.toml"}

		out, err := NewInitConfig(manager).Execute(context.Background(), InitConfigInput{})

		require.NoError(t, err)
		assert.Equal(t, "/repo/.git/autocrew/config.toml", out.Path)
		assert.True(t, manager.InitRepoCalled)
		assert.False(t, manager.InitGlobalCalled)
	})

	t.Run("creates global config", func(t *testing.T) {
		manager := testutil.NewMockConfigManager()
		manager.GlobalConfigInfo = domain.ConfigInfo{Path: "/home/test/.config/autocrew/config.toml"}

		out, err := NewInitConfig(manager).Execute(context.Background(), InitConfigInput{Global: true})

		require.NoError(t, err)
		assert.Equal(t, "/home/test/.config/autocrew/config.toml", out.Path)
		assert.True(t, manager.InitGlobalCalled)
	})

	t.Run("returns error when global config already exists", func(t *testing.T) {
		manager := testutil.NewMockConfigManager()
		manager.InitGlobalErr = domain.ErrConfigExists

		_, err := NewInitConfig(manager).Execute(context.Background(), InitConfigInput{Global: true})

		assert.ErrorIs(t, err, domain.ErrConfigExists)
	})
}

func TestShowConfig_Execute(t *testing.T) {
	// Setup
	manager := testutil.NewMockConfigManager()
	manager.RepoConfigInfo = domain.ConfigInfo{Path: "/repo/config.toml", Content: "[auto]\n", Exists: true}
	cfg := domain.NewDefaultConfig()
	cfg.Warnings = []string{"unknown key auto.colour"}
	uc := NewShowConfig(manager, &testutil.MockConfigLoader{Config: cfg})

	// Execute
	out, err := uc.Execute(context.Background(), ShowConfigInput{})

	// Assert
	require.NoError(t, err)
	assert.True(t, out.RepoConfig.Exists)
	assert.False(t, out.GlobalConfig.Exists)
	assert.Equal(t, domain.DefaultMaxConcurrency, out.Effective.Auto.MaxConcurrency)
	assert.Equal(t, []string{"unknown key auto.colour"}, out.Warnings)

	_, err = NewShowConfig(manager, &testutil.MockConfigLoader{Err: assert.AnError}).Execute(context.Background(), ShowConfigInput{})
	assert.ErrorIs(t, err, assert.AnError)
}
