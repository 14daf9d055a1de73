package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/testutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // default
		{"", slog.LevelInfo},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLevel(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestLogger_Info(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo)
	defer func() { _ = logger.Close() }()

	logger.Info("f1", "executor", "test message")

	content, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)
	assert.Contains(t, string(content), "[INFO]")
	assert.Contains(t, string(content), "[feature-f1]")
	assert.Contains(t, string(content), "[executor]")
	assert.Contains(t, string(content), "test message")

	featureContent, err := os.ReadFile(domain.FeatureLogPath(dataDir, "f1"))
	require.NoError(t, err)
	assert.Equal(t, string(content), string(featureContent))
}

func TestLogger_GlobalLogOnly(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo)
	defer func() { _ = logger.Close() }()

	logger.Info("", "scheduler", "global message")

	content, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)
	assert.Contains(t, string(content), "[global]")
	assert.Contains(t, string(content), "global message")

	entries, err := os.ReadDir(filepath.Join(dataDir, "logs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLogger_LevelFiltering(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelWarn) // Only warn and above
	defer func() { _ = logger.Close() }()

	logger.Debug("f1", "executor", "debug message")
	logger.Info("f1", "executor", "info message")
	logger.Warn("f1", "executor", "warn message")
	logger.Error("f1", "executor", "error message")

	content, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "debug message")
	assert.NotContains(t, string(content), "info message")
	assert.Contains(t, string(content), "warn message")
	assert.Contains(t, string(content), "error message")
}

func TestLogger_DisabledWhenEmptyDataDir(t *testing.T) {
	logger := New("", slog.LevelInfo)
	defer func() { _ = logger.Close() }()

	// Should not panic or touch the filesystem.
	logger.Info("f1", "executor", "test message")
	logger.Error("", "scheduler", "error message")
}

func TestLogger_LogFormat(t *testing.T) {
	dataDir := t.TempDir()
	clock := &testutil.MockClock{NowTime: time.Date(2025, 12, 30, 9, 32, 51, 0, time.UTC)}
	logger := New(dataDir, slog.LevelInfo).WithClock(clock)
	defer func() { _ = logger.Close() }()

	logger.Info("feature-42-abc", "transition", `feature moved: "in_progress"`)

	content, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, `[2025-12-30 09:32:51] [INFO] [feature-42-abc] [transition] feature moved: "in_progress"`, lines[0])
}

func TestLogger_MultipleFeatureFiles(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo)
	defer func() { _ = logger.Close() }()

	logger.Info("a", "executor", "message for a")
	logger.Info("b", "executor", "message for b")
	logger.Info("a", "executor", "another message for a")

	globalContent, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)
	assert.Contains(t, string(globalContent), "message for a")
	assert.Contains(t, string(globalContent), "message for b")

	aContent, err := os.ReadFile(domain.FeatureLogPath(dataDir, "a"))
	require.NoError(t, err)
	assert.Contains(t, string(aContent), "another message for a")
	assert.NotContains(t, string(aContent), "message for b")

	bContent, err := os.ReadFile(domain.FeatureLogPath(dataDir, "b"))
	require.NoError(t, err)
	assert.NotContains(t, string(bContent), "message for a")
}

func TestLogger_UnsafeFeatureIDStaysGlobal(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo)
	defer func() { _ = logger.Close() }()

	logger.Info("../escape", "executor", "message")

	content, err := os.ReadFile(domain.GlobalLogPath(dataDir))
	require.NoError(t, err)
	assert.Contains(t, string(content), "message")
	_, err = os.Stat(filepath.Join(dataDir, "escape.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := New("", slog.LevelInfo).WithConsole(&buf)

	logger.Warn("", "scheduler", "to console")

	assert.Contains(t, buf.String(), "[WARN] [global] [scheduler] to console")
}

func TestLogger_Close(t *testing.T) {
	dataDir := t.TempDir()
	logger := New(dataDir, slog.LevelInfo)

	logger.Info("f1", "executor", "test message")

	assert.NoError(t, logger.Close())
	assert.FileExists(t, domain.GlobalLogPath(dataDir))
	assert.FileExists(t, domain.FeatureLogPath(dataDir, "f1"))

	// Writing after close reopens the files.
	logger.Info("f1", "executor", "after close")
	assert.NoError(t, logger.Close())
}
