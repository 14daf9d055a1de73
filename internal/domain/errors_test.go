package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrors_Is(t *testing.T) {
	cause := errors.New("exit status 128")

	wt := fmt.Errorf("create: %w", &WorktreeError{Op: "add", FeatureID: "f", Stderr: "fatal: bad", Err: cause})
	assert.ErrorIs(t, wt, ErrWorktree)
	assert.ErrorIs(t, wt, cause)
	assert.Contains(t, wt.Error(), "fatal: bad")

	launch := &ExecutorLaunchError{Provider: "claude", Err: cause}
	assert.ErrorIs(t, launch, ErrExecutorLaunch)
	assert.NotErrorIs(t, launch, ErrWorktree)

	conflict := &ConcurrentUpdateConflict{FeatureID: "f", Expected: 1, Actual: 2}
	assert.ErrorIs(t, conflict, ErrConcurrentUpdate)

	fatal := &FatalStoreError{Op: "read", Err: cause}
	assert.ErrorIs(t, fatal, ErrFatalStore)
	assert.ErrorIs(t, fatal, cause)

	var asConflict *ConcurrentUpdateConflict
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", conflict), &asConflict))
	assert.Equal(t, int64(2), asConflict.Actual)
}
