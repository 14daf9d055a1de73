package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Run_Success(t *testing.T) {
	dir := t.TempDir()
	client := NewClient()

	err := client.Run(context.Background(), dir, `echo "$AUTOCREW_FEATURE_ID" > output.txt`, "AUTOCREW_FEATURE_ID=feature-1")
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "output.txt"))
	require.NoError(t, err)
	assert.Equal(t, "feature-1\n", string(content))
}

func TestClient_Run_ScriptError(t *testing.T) {
	err := NewClient().Run(context.Background(), t.TempDir(), `echo oops >&2; exit 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute script")
	assert.Contains(t, err.Error(), "oops")
}

func TestClient_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewClient().Run(ctx, t.TempDir(), `sleep 5`)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
