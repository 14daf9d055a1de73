package git

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/runoshun/autocrew/internal/domain"
)

// RepoInfo summarizes the state of a repository's HEAD.
type RepoInfo struct {
	HeadBranch string // Empty when HEAD is detached
	HeadHash   string
}

// Inspector reads repository metadata in-process with go-git.
type Inspector struct {
	dir string
}

// NewInspector creates an Inspector for the repository containing dir.
func NewInspector(dir string) *Inspector {
	return &Inspector{dir: dir}
}

func (i *Inspector) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(i.dir, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, domain.ErrNotGitRepository
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// Inspect validates that the directory is a repository with at least one commit.
// It returns domain.ErrNotGitRepository or domain.ErrNoCommits otherwise.
func (i *Inspector) Inspect() (*RepoInfo, error) {
	repo, err := i.open()
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, domain.ErrNoCommits
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	info := &RepoInfo{HeadHash: head.Hash().String()}
	if head.Name().IsBranch() {
		info.HeadBranch = head.Name().Short()
	}
	return info, nil
}

// BranchHash returns the commit a local branch points to, or "" if it does not exist.
func (i *Inspector) BranchHash(branch string) (string, error) {
	repo, err := i.open()
	if err != nil {
		return "", err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	return ref.Hash().String(), nil
}
