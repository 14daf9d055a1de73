package runlock

import (
	"testing"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_ExcludesOtherHolders(t *testing.T) {
	// Setup
	dataDir := t.TempDir()
	first := New(dataDir)
	second := New(dataDir)

	// Execute
	release, err := first.TryLock("f1")
	require.NoError(t, err)
	_, errHeld := second.TryLock("f1")
	otherRelease, errOther := second.TryLock("f2")

	// Assert
	assert.ErrorIs(t, errHeld, domain.ErrRunActive)
	require.NoError(t, errOther)
	otherRelease()
	release()
	assert.FileExists(t, domain.RunLockPath(dataDir, "f1"))
}

func TestLocker_ReleaseAllowsRelock(t *testing.T) {
	// Setup
	dataDir := t.TempDir()
	l := New(dataDir)
	release, err := l.TryLock("f1")
	require.NoError(t, err)

	// Execute
	release()
	release()
	again, err := New(dataDir).TryLock("f1")

	// Assert
	require.NoError(t, err)
	again()
}
