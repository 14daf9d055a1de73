package worktree

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/infra/git"
	"github.com/runoshun/autocrew/internal/infra/runner"
)

// setupTestRepo creates a temporary git repository for testing.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	repoRoot := t.TempDir()

	runGit(t, repoRoot, "init", "-b", "main")
	runGit(t, repoRoot, "config", "user.email", "test@example.com")
	runGit(t, repoRoot, "config", "user.name", "Test User")

	// Create initial commit (required for worktrees)
	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "README.md"), []byte("# Test\n"), 0o644))
	runGit(t, repoRoot, "add", ".")
	runGit(t, repoRoot, "commit", "-m", "Initial commit")

	return repoRoot
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
}

func newTestManager(t *testing.T, repoRoot string, opts Options) *Manager {
	t.Helper()
	client, err := git.NewClient(repoRoot)
	require.NoError(t, err)
	if opts.DataDir == "" {
		opts.DataDir = domain.RepoDataDir(client.RepoRoot())
	}
	return NewManager(client, opts)
}

func TestManager_Create_NewBranch(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})

	info, err := m.Create(context.Background(), "feature-1")

	require.NoError(t, err)
	assert.Equal(t, domain.WorktreePath(m.dataDir, "feature-1"), info.Path)
	assert.Equal(t, "autocrew/feature-1", info.Branch)
	assert.False(t, info.Reused)
	assert.FileExists(t, filepath.Join(info.Path, "README.md"))

	client, err := git.NewClient(repoRoot)
	require.NoError(t, err)
	exists, err := client.BranchExists(context.Background(), "autocrew/feature-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestManager_Create_ReusesExisting(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})
	ctx := context.Background()

	first, err := m.Create(ctx, "feature-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(first.Path, "work.txt"), []byte("wip"), 0o644))

	second, err := m.Create(ctx, "feature-1")

	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Path, second.Path)
	// Work in progress survives reuse.
	assert.FileExists(t, filepath.Join(second.Path, "work.txt"))
}

func TestManager_Create_DistinctFeaturesGetDisjointPaths(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})
	ctx := context.Background()

	a, err := m.Create(ctx, "feature-a")
	require.NoError(t, err)
	b, err := m.Create(ctx, "feature-b")
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	assert.NotEqual(t, a.Branch, b.Branch)
}

func TestManager_Create_ExistingBranch(t *testing.T) {
	repoRoot := setupTestRepo(t)
	runGit(t, repoRoot, "branch", "autocrew/feature-1")
	m := newTestManager(t, repoRoot, Options{})

	info, err := m.Create(context.Background(), "feature-1")

	require.NoError(t, err)
	assert.Equal(t, "autocrew/feature-1", info.Branch)
	assert.DirExists(t, info.Path)
}

func TestManager_Create_BranchCheckedOutElsewhere(t *testing.T) {
	repoRoot := setupTestRepo(t)
	other := filepath.Join(t.TempDir(), "other")
	runGit(t, repoRoot, "worktree", "add", "-b", "autocrew/feature-1", other, "main")
	m := newTestManager(t, repoRoot, Options{})

	_, err := m.Create(context.Background(), "feature-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWorktree)
	assert.ErrorIs(t, err, domain.ErrBranchCheckedOut)
}

func TestManager_Create_OrphanedRegistration(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})
	ctx := context.Background()

	info, err := m.Create(ctx, "feature-1")
	require.NoError(t, err)

	// Simulate an external deletion that leaves git's registration intact.
	require.NoError(t, os.RemoveAll(info.Path))

	again, err := m.Create(ctx, "feature-1")

	require.NoError(t, err, "Create should auto-recover from orphaned worktree")
	assert.Equal(t, info.Path, again.Path)
	assert.DirExists(t, again.Path)
}

func TestManager_Create_InvalidFeatureID(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})

	_, err := m.Create(context.Background(), "../escape")

	assert.ErrorIs(t, err, domain.ErrWorktree)
	assert.ErrorIs(t, err, domain.ErrInvalidFeatureID)
}

func TestManager_Create_NoCommits(t *testing.T) {
	repoRoot := t.TempDir()
	runGit(t, repoRoot, "init", "-b", "main")
	m := newTestManager(t, repoRoot, Options{})

	_, err := m.Create(context.Background(), "feature-1")

	assert.ErrorIs(t, err, domain.ErrWorktree)
	assert.ErrorIs(t, err, domain.ErrNoCommits)
}

func TestManager_Create_SetupScript(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{
		Runner:      runner.NewClient(),
		SetupScript: `echo "$AUTOCREW_FEATURE_ID" > setup_test.txt`,
	})

	info, err := m.Create(context.Background(), "feature-1")

	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(info.Path, "setup_test.txt"))
	require.NoError(t, err)
	assert.Equal(t, "feature-1\n", string(content))
}

func TestManager_Create_SetupScriptFailure(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{
		Runner:      runner.NewClient(),
		SetupScript: "exit 3",
	})

	_, err := m.Create(context.Background(), "feature-1")

	require.Error(t, err)
	var wtErr *domain.WorktreeError
	require.True(t, errors.As(err, &wtErr))
	assert.Equal(t, "setup", wtErr.Op)
	assert.NoDirExists(t, domain.WorktreePath(m.dataDir, "feature-1"))
}

func TestManager_StatusAndDiff(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})
	ctx := context.Background()

	info, err := m.Create(ctx, "feature-1")
	require.NoError(t, err)

	status, err := m.Status(ctx, "feature-1")
	require.NoError(t, err)
	assert.False(t, status.HasChanges)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "README.md"), []byte("# Changed\n"), 0o644))

	status, err = m.Status(ctx, "feature-1")
	require.NoError(t, err)
	assert.True(t, status.HasChanges)
	assert.Equal(t, []string{"README.md"}, status.ChangedFiles)

	diff, err := m.Diff(ctx, "feature-1")
	require.NoError(t, err)
	assert.Contains(t, diff, "+# Changed")
}

func TestManager_Status_NotFound(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})

	_, err := m.Status(context.Background(), "feature-1")

	assert.ErrorIs(t, err, domain.ErrWorktreeNotFound)
}

func TestManager_Remove(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})
	ctx := context.Background()

	info, err := m.Create(ctx, "feature-1")
	require.NoError(t, err)

	err = m.Remove(ctx, "feature-1", domain.RemoveOptions{})

	require.NoError(t, err)
	assert.NoDirExists(t, info.Path)

	// Branch is kept by default.
	client, err := git.NewClient(repoRoot)
	require.NoError(t, err)
	exists, err := client.BranchExists(ctx, info.Branch)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestManager_Remove_DeleteBranch(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})
	ctx := context.Background()

	info, err := m.Create(ctx, "feature-1")
	require.NoError(t, err)

	err = m.Remove(ctx, "feature-1", domain.RemoveOptions{DeleteBranch: true})

	require.NoError(t, err)
	client, err := git.NewClient(repoRoot)
	require.NoError(t, err)
	exists, err := client.BranchExists(ctx, info.Branch)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestManager_Remove_WithUncommittedChanges(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})
	ctx := context.Background()

	info, err := m.Create(ctx, "feature-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "dirty.txt"), []byte("x"), 0o644))

	err = m.Remove(ctx, "feature-1", domain.RemoveOptions{})
	assert.ErrorIs(t, err, domain.ErrUncommittedChanges)
	assert.DirExists(t, info.Path)

	err = m.Remove(ctx, "feature-1", domain.RemoveOptions{Force: true})
	require.NoError(t, err)
	assert.NoDirExists(t, info.Path)
}

func TestManager_Remove_DeletedExternally(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})
	ctx := context.Background()

	info, err := m.Create(ctx, "feature-1")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(info.Path))

	listing, err := m.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, listing.Removed, 1)
	assert.Equal(t, "feature-1", listing.Removed[0].FeatureID)
	assert.True(t, listing.Removed[0].Missing)

	err = m.Remove(ctx, "feature-1", domain.RemoveOptions{})
	require.NoError(t, err)

	listing, err = m.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, listing.Removed)
	require.Len(t, listing.Worktrees, 1)
	assert.True(t, listing.Worktrees[0].IsMain)
}

func TestManager_Remove_NeverCreated(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})

	err := m.Remove(context.Background(), "feature-1", domain.RemoveOptions{})

	assert.NoError(t, err)
}

func TestManager_ListAll(t *testing.T) {
	repoRoot := setupTestRepo(t)
	m := newTestManager(t, repoRoot, Options{})
	ctx := context.Background()

	a, err := m.Create(ctx, "feature-a")
	require.NoError(t, err)
	_, err = m.Create(ctx, "feature-b")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(a.Path, "dirty.txt"), []byte("x"), 0o644))

	listing, err := m.ListAll(ctx)

	require.NoError(t, err)
	require.Len(t, listing.Worktrees, 3)
	assert.True(t, listing.Worktrees[0].IsMain)

	byID := make(map[string]domain.WorktreeInfo)
	for _, wt := range listing.Worktrees[1:] {
		byID[wt.FeatureID] = wt
	}
	assert.True(t, byID["feature-a"].HasUncommittedChanges)
	assert.False(t, byID["feature-b"].HasUncommittedChanges)
	assert.Empty(t, listing.Removed)
}

func TestParseWorktreeList(t *testing.T) {
	input := `worktree /path/to/main
HEAD abc123def456
branch refs/heads/main

worktree /path/to/feature
HEAD def456abc123
branch refs/heads/autocrew/feature-1

`

	worktrees, err := parseWorktreeList(input)

	require.NoError(t, err)
	require.Len(t, worktrees, 2)

	assert.Equal(t, "/path/to/main", worktrees[0].Path)
	assert.Equal(t, "main", worktrees[0].Branch)

	assert.Equal(t, "/path/to/feature", worktrees[1].Path)
	assert.Equal(t, "autocrew/feature-1", worktrees[1].Branch)
}

func TestParseWorktreeList_Empty(t *testing.T) {
	worktrees, err := parseWorktreeList("")

	require.NoError(t, err)
	assert.Empty(t, worktrees)
}

func TestParseWorktreeList_DetachedHead(t *testing.T) {
	// Detached HEAD doesn't have a branch line
	input := `worktree /path/to/detached
HEAD abc123def456
detached
`

	worktrees, err := parseWorktreeList(input)

	require.NoError(t, err)
	require.Len(t, worktrees, 1)
	assert.Equal(t, "/path/to/detached", worktrees[0].Path)
	assert.Equal(t, "", worktrees[0].Branch)
}
