// Package worktree manages per-feature git worktrees.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/infra/backoff"
	"github.com/runoshun/autocrew/internal/infra/git"
	"github.com/runoshun/autocrew/internal/infra/jsonstore"
)

// Ensure Manager implements domain.WorktreeManager.
var _ domain.WorktreeManager = (*Manager)(nil)

// SetupRunner runs the post-create setup script inside a new worktree.
type SetupRunner interface {
	Run(ctx context.Context, dir, script string, env ...string) error
}

// Options configures a Manager.
type Options struct {
	Runner      SetupRunner   // Required when SetupScript is set
	Logger      domain.Logger // May be nil
	Clock       domain.Clock  // Defaults to the real clock
	DataDir     string        // autocrew data directory, parent of worktrees/
	SetupScript string        // Shell script run in each new worktree
	Retry       backoff.Policy
	// ProbeLimit bounds concurrent dirty-state probes in ListAll.
	ProbeLimit int
}

// trackingData is the content of worktrees.json.
type trackingData struct {
	Worktrees map[string]trackedWorktree `json:"worktrees"`
}

type trackedWorktree struct {
	CreatedAt time.Time `json:"createdAt"`
	Path      string    `json:"path"`
	Branch    string    `json:"branch"`
}

// Manager creates and removes feature worktrees.
// git worktree commands mutate shared repository metadata, so they are
// serialized within the process; worktrees.json is additionally guarded by a file lock.
type Manager struct {
	git       *git.Client
	inspector *git.Inspector
	runner    SetupRunner
	logger    domain.Logger
	clock     domain.Clock
	tracking  *jsonstore.File[trackingData]
	dataDir   string
	setup     string
	retry     backoff.Policy
	probes    int
	mu        sync.Mutex
}

// NewManager creates a Manager for the repository behind client.
func NewManager(client *git.Client, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = domain.RealClock{}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = backoff.DefaultPolicy
	}
	if opts.ProbeLimit <= 0 {
		opts.ProbeLimit = 4
	}
	return &Manager{
		git:       client,
		inspector: git.NewInspector(client.RepoRoot()),
		runner:    opts.Runner,
		logger:    opts.Logger,
		clock:     opts.Clock,
		tracking:  jsonstore.New[trackingData](domain.WorktreeTrackingPath(opts.DataDir)),
		dataDir:   opts.DataDir,
		setup:     opts.SetupScript,
		retry:     opts.Retry,
		probes:    opts.ProbeLimit,
	}
}

// Create returns the feature's worktree, creating it when needed.
//
// An existing registration at the feature's path is reused. An existing
// feature branch is checked out rather than recreated, unless it is already
// checked out in another worktree.
func (m *Manager) Create(ctx context.Context, featureID string) (*domain.WorktreeInfo, error) {
	if err := domain.ValidateFeatureID(featureID); err != nil {
		return nil, &domain.WorktreeError{Op: "create", FeatureID: featureID, Err: err}
	}
	repo, err := m.inspector.Inspect()
	if err != nil {
		return nil, &domain.WorktreeError{Op: "create", FeatureID: featureID, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := domain.WorktreePath(m.dataDir, featureID)
	branch := domain.BranchName(featureID)

	registered, err := m.list(ctx)
	if err != nil {
		return nil, m.wrap("create", featureID, err)
	}

	for _, wt := range registered {
		switch {
		case samePath(wt.Path, path):
			if !dirExists(wt.Path) {
				// Registered but deleted on disk; prune so add can reuse the path.
				if err := m.prune(ctx); err != nil {
					return nil, m.wrap("create", featureID, err)
				}
				continue
			}
			if wt.Branch != branch {
				return nil, &domain.WorktreeError{
					Op:        "create",
					FeatureID: featureID,
					Err:       fmt.Errorf("path %s is checked out on %q", path, wt.Branch),
				}
			}
			info := &domain.WorktreeInfo{FeatureID: featureID, Path: path, Branch: branch, Reused: true}
			if err := m.track(featureID, info); err != nil {
				return nil, err
			}
			m.debug(featureID, "reusing worktree at "+path)
			return info, nil
		case wt.Branch == branch && dirExists(wt.Path):
			return nil, &domain.WorktreeError{
				Op:        "create",
				FeatureID: featureID,
				Err:       fmt.Errorf("%w: %s at %s", domain.ErrBranchCheckedOut, branch, wt.Path),
			}
		}
	}

	if dirExists(path) {
		// A leftover directory that git does not know about would make add fail.
		entries, _ := os.ReadDir(path)
		if len(entries) > 0 {
			return nil, &domain.WorktreeError{
				Op:        "create",
				FeatureID: featureID,
				Err:       fmt.Errorf("%s exists and is not a registered worktree", path),
			}
		}
	}

	exists, err := m.git.BranchExists(ctx, branch)
	if err != nil {
		return nil, m.wrap("create", featureID, err)
	}

	var args []string
	if exists {
		args = []string{"worktree", "add", path, branch}
	} else {
		base := repo.HeadBranch
		if base == "" {
			base = repo.HeadHash
		}
		args = []string{"worktree", "add", "-b", branch, path, base}
	}

	if err := os.MkdirAll(domain.WorktreesDir(m.dataDir), 0o750); err != nil {
		return nil, m.wrap("create", featureID, err)
	}

	err = backoff.Retry(ctx, m.retry, func(ctx context.Context) error {
		_, err := m.git.Run(ctx, "", args...)
		if err == nil {
			return nil
		}
		stderr := git.StderrOf(err)
		switch {
		case strings.Contains(stderr, "already registered"):
			// Worktree is registered but directory is missing
			if pruneErr := m.prune(ctx); pruneErr != nil {
				return backoff.Permanent(pruneErr)
			}
			return err
		case isLockContention(stderr):
			m.debug(featureID, "git lock contention, retrying: "+stderr)
			return err
		default:
			return backoff.Permanent(err)
		}
	})
	if err != nil {
		return nil, m.wrap("create", featureID, err)
	}

	info := &domain.WorktreeInfo{FeatureID: featureID, Path: path, Branch: branch}

	if m.setup != "" && m.runner != nil {
		env := []string{
			"AUTOCREW_FEATURE_ID=" + featureID,
			"AUTOCREW_REPO_ROOT=" + m.git.RepoRoot(),
			"AUTOCREW_WORKTREE=" + path,
		}
		if err := m.runner.Run(ctx, path, m.setup, env...); err != nil {
			_, _ = m.git.Run(context.WithoutCancel(ctx), "", "worktree", "remove", "--force", path)
			return nil, &domain.WorktreeError{Op: "setup", FeatureID: featureID, Err: err}
		}
	}

	if err := m.track(featureID, info); err != nil {
		return nil, err
	}
	m.info(featureID, fmt.Sprintf("created worktree %s on %s", path, branch))
	return info, nil
}

// Status reports changed files in the feature's worktree.
func (m *Manager) Status(ctx context.Context, featureID string) (*domain.WorktreeStatus, error) {
	path, err := m.existingPath(featureID)
	if err != nil {
		return nil, err
	}
	files, err := m.git.StatusPorcelain(ctx, path)
	if err != nil {
		return nil, m.wrap("status", featureID, err)
	}
	return &domain.WorktreeStatus{ChangedFiles: files, HasChanges: len(files) > 0}, nil
}

// Diff returns the unified diff of the feature's worktree against HEAD.
func (m *Manager) Diff(ctx context.Context, featureID string) (string, error) {
	path, err := m.existingPath(featureID)
	if err != nil {
		return "", err
	}
	out, err := m.git.Diff(ctx, path)
	if err != nil {
		return "", m.wrap("diff", featureID, err)
	}
	return out, nil
}

// Remove deletes the feature's worktree.
// A worktree whose directory was deleted externally is pruned and forgotten
// without error. A dirty worktree is kept unless opts.Force is set.
func (m *Manager) Remove(ctx context.Context, featureID string, opts domain.RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.trackedPath(featureID)
	branch := domain.BranchName(featureID)

	if !dirExists(path) {
		if err := m.prune(ctx); err != nil {
			return m.wrap("remove", featureID, err)
		}
	} else {
		args := []string{"worktree", "remove", path}
		if opts.Force {
			args = []string{"worktree", "remove", "--force", path}
		}
		if _, err := m.git.Run(ctx, "", args...); err != nil {
			stderr := git.StderrOf(err)
			switch {
			case strings.Contains(stderr, "contains modified or untracked files") ||
				strings.Contains(stderr, "is dirty"):
				return &domain.WorktreeError{Op: "remove", FeatureID: featureID, Err: domain.ErrUncommittedChanges, Stderr: stderr}
			case strings.Contains(stderr, "is not a working tree") && opts.Force:
				// Not registered with git; the directory is ours to delete.
				if rmErr := os.RemoveAll(path); rmErr != nil {
					return m.wrap("remove", featureID, rmErr)
				}
			default:
				return m.wrap("remove", featureID, err)
			}
		}
	}

	if err := m.forget(featureID); err != nil {
		return err
	}

	if opts.DeleteBranch {
		exists, err := m.git.BranchExists(ctx, branch)
		if err != nil {
			return m.wrap("remove", featureID, err)
		}
		if exists {
			if err := m.git.DeleteBranch(ctx, branch, opts.Force); err != nil {
				return m.wrap("remove", featureID, err)
			}
		}
	}

	m.info(featureID, "removed worktree "+path)
	return nil
}

// ListAll returns the registered worktrees and the tracked ones whose directory vanished.
func (m *Manager) ListAll(ctx context.Context) (*domain.WorktreeListing, error) {
	m.mu.Lock()
	registered, err := m.list(ctx)
	m.mu.Unlock()
	if err != nil {
		return nil, m.wrap("list", "", err)
	}

	tracked, err := m.loadTracking()
	if err != nil {
		return nil, err
	}

	listing := &domain.WorktreeListing{Worktrees: []domain.WorktreeInfo{}, Removed: []domain.WorktreeInfo{}}
	seen := make(map[string]bool)

	for i, wt := range registered {
		wt.IsMain = i == 0
		if !wt.IsMain {
			wt.FeatureID = m.featureIDFor(wt)
		}
		if wt.FeatureID != "" {
			seen[wt.FeatureID] = true
		}
		if !dirExists(wt.Path) {
			wt.Missing = true
			listing.Removed = append(listing.Removed, wt)
			continue
		}
		listing.Worktrees = append(listing.Worktrees, wt)
	}

	for id, tw := range tracked {
		if seen[id] {
			continue
		}
		if !dirExists(tw.Path) {
			listing.Removed = append(listing.Removed, domain.WorktreeInfo{
				FeatureID: id,
				Path:      tw.Path,
				Branch:    tw.Branch,
				Missing:   true,
			})
		}
	}

	// Dirty-state probes run in parallel; each touches a distinct worktree.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.probes)
	for i := range listing.Worktrees {
		wt := &listing.Worktrees[i]
		g.Go(func() error {
			dirty, err := m.git.HasUncommittedChanges(gctx, wt.Path)
			if err != nil {
				return m.wrap("list", wt.FeatureID, err)
			}
			wt.HasUncommittedChanges = dirty
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(listing.Removed, func(a, b domain.WorktreeInfo) int {
		return strings.Compare(a.FeatureID, b.FeatureID)
	})
	return listing, nil
}

// featureIDFor derives the owning feature from the branch or the path.
func (m *Manager) featureIDFor(wt domain.WorktreeInfo) string {
	if id, ok := domain.ParseBranchFeatureID(wt.Branch); ok {
		return id
	}
	dir := domain.WorktreesDir(m.dataDir)
	if samePath(filepath.Dir(wt.Path), dir) {
		return filepath.Base(wt.Path)
	}
	return ""
}

func (m *Manager) list(ctx context.Context) ([]domain.WorktreeInfo, error) {
	out, err := m.git.Run(ctx, "", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(out)
}

// prune removes stale worktree entries.
// This cleans up worktree registrations where the directory no longer exists.
func (m *Manager) prune(ctx context.Context) error {
	if _, err := m.git.Run(ctx, "", "worktree", "prune"); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	return nil
}

func (m *Manager) existingPath(featureID string) (string, error) {
	path := m.trackedPath(featureID)
	if !dirExists(path) {
		return "", &domain.WorktreeError{Op: "lookup", FeatureID: featureID, Err: domain.ErrWorktreeNotFound}
	}
	return path, nil
}

// trackedPath returns the tracked path, falling back to the deterministic one.
func (m *Manager) trackedPath(featureID string) string {
	tracked, err := m.loadTracking()
	if err == nil {
		if tw, ok := tracked[featureID]; ok && tw.Path != "" {
			return tw.Path
		}
	}
	return domain.WorktreePath(m.dataDir, featureID)
}

func (m *Manager) loadTracking() (map[string]trackedWorktree, error) {
	var out map[string]trackedWorktree
	err := m.tracking.Read(func(d *trackingData) error {
		out = d.Worktrees
		return nil
	})
	if errors.Is(err, jsonstore.ErrNotExist) {
		return map[string]trackedWorktree{}, nil
	}
	if err != nil {
		return nil, m.wrap("tracking", "", err)
	}
	if out == nil {
		out = map[string]trackedWorktree{}
	}
	return out, nil
}

func (m *Manager) track(featureID string, info *domain.WorktreeInfo) error {
	err := m.tracking.Update(func(d *trackingData) error {
		if d.Worktrees == nil {
			d.Worktrees = make(map[string]trackedWorktree)
		}
		created := m.clock.Now()
		if prev, ok := d.Worktrees[featureID]; ok && !prev.CreatedAt.IsZero() {
			created = prev.CreatedAt
		}
		d.Worktrees[featureID] = trackedWorktree{CreatedAt: created, Path: info.Path, Branch: info.Branch}
		return nil
	})
	if err != nil {
		return m.wrap("tracking", featureID, err)
	}
	return nil
}

func (m *Manager) forget(featureID string) error {
	err := m.tracking.Update(func(d *trackingData) error {
		delete(d.Worktrees, featureID)
		return nil
	})
	if err != nil {
		return m.wrap("tracking", featureID, err)
	}
	return nil
}

func (m *Manager) wrap(op, featureID string, err error) error {
	var wtErr *domain.WorktreeError
	if errors.As(err, &wtErr) {
		return err
	}
	return &domain.WorktreeError{Op: op, FeatureID: featureID, Stderr: git.StderrOf(err), Err: err}
}

func (m *Manager) info(featureID, msg string) {
	if m.logger != nil {
		m.logger.Info(featureID, "worktree", msg)
	}
}

func (m *Manager) debug(featureID, msg string) {
	if m.logger != nil {
		m.logger.Debug(featureID, "worktree", msg)
	}
}

func isLockContention(stderr string) bool {
	return strings.Contains(stderr, ".lock") &&
		(strings.Contains(stderr, "File exists") || strings.Contains(stderr, "Unable to create"))
}

func dirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

// samePath compares paths after resolving symlinks where possible.
func samePath(a, b string) bool {
	return resolve(a) == resolve(b)
}

func resolve(p string) string {
	p = filepath.Clean(p)
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	// The leaf may not exist; resolve the parent instead.
	if r, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		return filepath.Join(r, filepath.Base(p))
	}
	return p
}
