package watch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/infra/featurestore"
	"github.com/runoshun/autocrew/internal/testutil"
)

func startWatcher(t *testing.T, dataDir string) (*FeatureWatcher, *testutil.EventRecorder) {
	t.Helper()
	rec := testutil.NewEventRecorder()
	w, err := New(dataDir, rec, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return w, rec
}

func updates(rec *testutil.EventRecorder) []domain.Event {
	var out []domain.Event
	for _, e := range rec.Events() {
		if e.Type == domain.EventFeatureUpdated {
			out = append(out, e)
		}
	}
	return out
}

func TestFeatureWatcher_IgnoresOwnWrites(t *testing.T) {
	dataDir := t.TempDir()
	store := featurestore.New(dataDir, nil)
	w, rec := startWatcher(t, dataDir)
	store.SetWriteHook(w.Observe)
	ctx := context.Background()

	_, err := store.Create(ctx, &domain.Feature{ID: "f1", Description: "one"})
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, domain.StatusUpdate{ID: "f1", Status: domain.StatusInProgress})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "f1"))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, updates(rec))
}

func TestFeatureWatcher_ExternalEdit(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()
	// Another process owns this store; the watcher never hears about its writes.
	external := featurestore.New(dataDir, nil)
	_, err := external.Create(ctx, &domain.Feature{ID: "f1", Description: "one"})
	require.NoError(t, err)

	_, rec := startWatcher(t, dataDir)

	_, err = external.UpdateContent(ctx, "f1", 0, domain.FeatureContent{Description: ptr("edited")})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(updates(rec)) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := updates(rec)[0]
	assert.Equal(t, "f1", got.FeatureID)
	assert.Equal(t, domain.FeatureUpdatedPayload{Version: 2}, got.Payload)
}

func TestFeatureWatcher_ExternalCreateAndDelete(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()
	_, rec := startWatcher(t, dataDir)
	external := featurestore.New(dataDir, nil)

	_, err := external.Create(ctx, &domain.Feature{ID: "f2", Description: "two"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(updates(rec)) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.RemoveAll(domain.FeatureDir(dataDir, "f2")))
	require.Eventually(t, func() bool { return len(updates(rec)) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.FeatureUpdatedPayload{Deleted: true}, updates(rec)[1].Payload)
}

func ptr[T any](v T) *T { return &v }
