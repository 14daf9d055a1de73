// Package git provides git operations.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/runoshun/autocrew/internal/domain"
)

// CommandError reports a failed git invocation with its stderr.
type CommandError struct {
	Err      error
	Stderr   string
	Args     []string
	ExitCode int
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// StderrOf returns the stderr carried by a *CommandError in err's chain.
func StderrOf(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	return ""
}

// Client runs git commands against one repository.
type Client struct {
	repoRoot string // Main repository root (parent of .git)
	gitDir   string // Common .git directory
}

// NewClient creates a new git client by detecting the repository root from the given directory.
// It handles both regular repositories and worktrees.
func NewClient(dir string) (*Client, error) {
	repoRoot, gitDir, err := findGitRoot(dir)
	if err != nil {
		return nil, err
	}
	return &Client{
		repoRoot: repoRoot,
		gitDir:   gitDir,
	}, nil
}

// RepoRoot returns the repository root directory.
func (c *Client) RepoRoot() string {
	return c.repoRoot
}

// GitDir returns the .git directory path.
func (c *Client) GitDir() string {
	return c.gitDir
}

// Run executes git with args in dir (the repository root when empty) and returns stdout.
func (c *Client) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if dir == "" {
		dir = c.repoRoot
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.String(), &CommandError{
			Args:     args,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return stdout.String(), nil
}

// BranchExists checks if a local branch exists.
func (c *Client) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := c.Run(ctx, "", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	// Exit code 1 means ref not found
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check branch existence: %w", err)
}

// DeleteBranch deletes a branch.
// If force is true, it uses -D (force delete), otherwise -d.
func (c *Client) DeleteBranch(ctx context.Context, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := c.Run(ctx, "", "branch", flag, branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

// StatusPorcelain returns the changed paths of the working tree in dir,
// untracked files included.
func (c *Client) StatusPorcelain(ctx context.Context, dir string) ([]string, error) {
	out, err := c.Run(ctx, dir, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		// Renames are reported as "old -> new".
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, strings.Trim(path, `"`))
	}
	return files, nil
}

// HasUncommittedChanges checks for uncommitted changes in a directory.
func (c *Client) HasUncommittedChanges(ctx context.Context, dir string) (bool, error) {
	files, err := c.StatusPorcelain(ctx, dir)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// Diff returns the unified diff of dir's working tree against HEAD.
func (c *Client) Diff(ctx context.Context, dir string) (string, error) {
	out, err := c.Run(ctx, dir, "diff", "HEAD")
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	return out, nil
}

// findGitRoot finds the git repository root and .git directory from the given directory.
// This works correctly both in the main repository and inside worktrees.
func findGitRoot(dir string) (repoRoot, gitDir string, err error) {
	cmd := exec.Command("git", "rev-parse", "--git-common-dir")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", "", domain.ErrNotGitRepository
	}
	gitDir = strings.TrimSpace(string(out))

	// Make gitDir absolute if it's relative
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(dir, gitDir)
	}
	gitDir = filepath.Clean(gitDir)

	// repoRoot is the parent of .git directory
	repoRoot = filepath.Dir(gitDir)

	return repoRoot, gitDir, nil
}
