package featurestore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/testutil/repotest"
)

func TestStore_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) domain.FeatureRepository {
		return New(t.TempDir(), nil)
	})
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := New(dir, nil)
	_, err := first.Create(ctx, &domain.Feature{ID: "feature-1", Description: "one"})
	require.NoError(t, err)

	second := New(dir, nil)
	got, err := second.Get(ctx, "feature-1")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Description)

	// Seq keeps increasing across instances.
	f2, err := second.Create(ctx, &domain.Feature{ID: "feature-2", Description: "two"})
	require.NoError(t, err)
	assert.Greater(t, f2.Seq, got.Seq)
}

func TestStore_CorruptRecordIsFatal(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := New(dir, nil)
	_, err := s.Create(ctx, &domain.Feature{ID: "feature-1", Description: "one"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(domain.FeatureRecordPath(dir, "feature-1"), []byte("{broken"), 0o600))

	_, err = s.Get(ctx, "feature-1")
	assert.ErrorIs(t, err, domain.ErrFatalStore)

	_, err = s.List(ctx)
	assert.ErrorIs(t, err, domain.ErrFatalStore)

	_, err = s.UpdateStatus(ctx, domain.StatusUpdate{ID: "feature-1", Status: domain.StatusFailed})
	assert.ErrorIs(t, err, domain.ErrFatalStore)
}

func TestStore_IgnoresStrayDirectories(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	require.NoError(t, os.MkdirAll(domain.FeatureDir(dir, "half-created"), 0o750))

	list, err := s.List(context.Background())

	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_DeleteRemovesTranscripts(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := New(dir, nil)
	ts := NewTranscriptStore(dir, nil)
	_, err := s.Create(ctx, &domain.Feature{ID: "feature-1", Description: "one"})
	require.NoError(t, err)

	w, _, err := ts.Open("feature-1", "run-1")
	require.NoError(t, err)
	require.NoError(t, w.Append(domain.TextMessage("hi")))
	require.NoError(t, w.Close())

	require.NoError(t, s.Delete(ctx, "feature-1"))
	assert.NoDirExists(t, domain.FeatureDir(dir, "feature-1"))
}

func TestStore_UpdateContentRequiresFields(t *testing.T) {
	s := New(t.TempDir(), nil)

	_, err := s.UpdateContent(context.Background(), "feature-1", 0, domain.FeatureContent{})

	assert.ErrorIs(t, err, domain.ErrNoFieldsToUpdate)
}

func TestStore_WriteHook(t *testing.T) {
	s := New(t.TempDir(), nil)
	ctx := context.Background()
	type write struct {
		id      string
		version int64
	}
	var writes []write
	s.SetWriteHook(func(id string, version int64) {
		writes = append(writes, write{id, version})
	})

	_, err := s.Create(ctx, &domain.Feature{ID: "feature-1", Description: "one"})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, domain.StatusUpdate{ID: "feature-1", Status: domain.StatusInProgress})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, domain.StatusUpdate{ID: "feature-1", ExpectedVersion: 1, Status: domain.StatusBacklog})
	require.Error(t, err)
	require.NoError(t, s.Delete(ctx, "feature-1"))

	assert.Equal(t, []write{{"feature-1", 1}, {"feature-1", 2}, {"feature-1", 0}}, writes)
}
