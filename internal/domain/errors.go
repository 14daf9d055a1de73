package domain

import (
	"errors"
	"fmt"
)

// Domain errors.
var (
	ErrFeatureNotFound     = errors.New("feature not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrInvalidFeatureID    = errors.New("invalid feature id")
	ErrRunActive           = errors.New("feature already has an active run")
	ErrNoActiveRun         = errors.New("feature has no active run")
	ErrRunNotFound         = errors.New("run not found")
	ErrRunSealed           = errors.New("run record is sealed")
	ErrNotGitRepository    = errors.New("not a git repository (or any of the parent directories)")
	ErrNoCommits           = errors.New("repository has no commits")
	ErrWorktreeNotFound    = errors.New("worktree not found")
	ErrUncommittedChanges  = errors.New("uncommitted changes exist")
	ErrBranchCheckedOut    = errors.New("branch is checked out in another worktree")
	ErrUnknownDependency   = errors.New("dependency refers to unknown feature")
	ErrEmptyDescription    = errors.New("description cannot be empty")
	ErrNoFieldsToUpdate    = errors.New("no fields to update")
	ErrSchedulerRunning    = errors.New("auto mode is already running")
	ErrSchedulerNotRunning = errors.New("auto mode is not running")
	ErrUnknownProvider     = errors.New("unknown agent provider")
	ErrInvalidPipeline     = errors.New("invalid pipeline definition")
	ErrNotInitialized      = errors.New("autocrew not initialized (run 'autocrew init' first)")
	ErrAlreadyInitialized  = errors.New("autocrew already initialized")
	ErrConfigExists        = errors.New("config file already exists")
)

// Error kinds. Typed errors below match these with errors.Is.
var (
	ErrWorktree         = errors.New("worktree error")
	ErrExecutorLaunch   = errors.New("executor launch failed")
	ErrExecutorTimeout  = errors.New("executor timed out")
	ErrCyclicDependency = errors.New("cyclic dependency")
	ErrConcurrentUpdate = errors.New("concurrent update conflict")
	ErrFatalStore       = errors.New("feature store unavailable")
)

// WorktreeError reports a failed worktree operation.
// Stderr holds the underlying VCS command output when there is one.
type WorktreeError struct {
	Err       error
	Op        string
	FeatureID string
	Stderr    string
}

func (e *WorktreeError) Error() string {
	msg := fmt.Sprintf("worktree %s", e.Op)
	if e.FeatureID != "" {
		msg += " for " + e.FeatureID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *WorktreeError) Unwrap() error { return e.Err }

// Is reports ErrWorktree as the kind of every WorktreeError.
func (e *WorktreeError) Is(target error) bool { return target == ErrWorktree }

// ExecutorLaunchError reports that an agent process could not be started.
type ExecutorLaunchError struct {
	Err      error
	Provider string
}

func (e *ExecutorLaunchError) Error() string {
	return fmt.Sprintf("launch %s agent: %v", e.Provider, e.Err)
}

func (e *ExecutorLaunchError) Unwrap() error { return e.Err }

func (e *ExecutorLaunchError) Is(target error) bool { return target == ErrExecutorLaunch }

// CyclicDependencyError is returned when a dependency edit would close a cycle.
type CyclicDependencyError struct {
	FeatureID    string
	DependencyID string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s cannot depend on %s", e.FeatureID, e.DependencyID)
}

func (e *CyclicDependencyError) Is(target error) bool { return target == ErrCyclicDependency }

// ConcurrentUpdateConflict is returned when a writer's expected version is stale.
// The caller must re-read the feature and retry.
type ConcurrentUpdateConflict struct {
	FeatureID string
	Expected  int64
	Actual    int64
}

func (e *ConcurrentUpdateConflict) Error() string {
	return fmt.Sprintf("concurrent update of %s: expected version %d, found %d", e.FeatureID, e.Expected, e.Actual)
}

func (e *ConcurrentUpdateConflict) Is(target error) bool { return target == ErrConcurrentUpdate }

// FatalStoreError wraps storage failures that make the store unusable.
type FatalStoreError struct {
	Err error
	Op  string
}

func (e *FatalStoreError) Error() string {
	return fmt.Sprintf("feature store %s: %v", e.Op, e.Err)
}

func (e *FatalStoreError) Unwrap() error { return e.Err }

func (e *FatalStoreError) Is(target error) bool { return target == ErrFatalStore }
