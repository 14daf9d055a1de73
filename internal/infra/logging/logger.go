// Package logging provides file-based logging for autocrew.
// It outputs logs to both a global log file (.git/autocrew/logs/autocrew.log)
// and feature-specific log files (.git/autocrew/logs/feature-<id>.log).
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runoshun/autocrew/internal/domain"
)

// Ensure Logger implements domain.Logger interface.
var _ domain.Logger = (*Logger)(nil)

// Logger wraps slog levels with file-based output support.
// Fields are ordered to minimize memory padding.
type Logger struct {
	console      io.Writer // Optional mirror of the global log
	clock        domain.Clock
	globalFile   *os.File
	featureFiles map[string]*os.File
	dataDir      string
	mu           sync.Mutex
	level        slog.Level
}

// New creates a new Logger that writes to the autocrew log directory.
// If dataDir is empty, file logging is disabled.
func New(dataDir string, level slog.Level) *Logger {
	return &Logger{
		dataDir:      dataDir,
		level:        level,
		clock:        domain.RealClock{},
		featureFiles: make(map[string]*os.File),
	}
}

// WithConsole mirrors every entry to w, typically stderr of a foreground command.
func (l *Logger) WithConsole(w io.Writer) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
	return l
}

// WithClock replaces the timestamp source.
func (l *Logger) WithClock(c domain.Clock) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = c
	return l
}

// ParseLevel parses a log level string into slog.Level.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openLog opens path for appending, creating the logs directory first.
// Caller must hold l.mu.
func (l *Logger) openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	// G302: Log files are append-only and need read access by repository users
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // Log file readable by owner and group
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// globalLocked returns the global log file. Caller must hold l.mu.
func (l *Logger) globalLocked() (*os.File, error) {
	if l.globalFile != nil {
		return l.globalFile, nil
	}
	f, err := l.openLog(domain.GlobalLogPath(l.dataDir))
	if err != nil {
		return nil, err
	}
	l.globalFile = f
	return f, nil
}

// featureLocked returns the feature log file. Caller must hold l.mu.
func (l *Logger) featureLocked(featureID string) (*os.File, error) {
	if f, ok := l.featureFiles[featureID]; ok {
		return f, nil
	}
	if err := domain.ValidateFeatureID(featureID); err != nil {
		return nil, err
	}
	f, err := l.openLog(domain.FeatureLogPath(l.dataDir, featureID))
	if err != nil {
		return nil, err
	}
	l.featureFiles[featureID] = f
	return f, nil
}

// Close closes all open log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lastErr error
	if l.globalFile != nil {
		if err := l.globalFile.Close(); err != nil {
			lastErr = err
		}
		l.globalFile = nil
	}
	for id, f := range l.featureFiles {
		if err := f.Close(); err != nil {
			lastErr = err
		}
		delete(l.featureFiles, id)
	}
	return lastErr
}

// formatLog formats a log entry in the specified format.
// Format: [2025-12-30 09:32:51] [INFO] [feature-1] [category] message
func formatLog(t time.Time, level slog.Level, featureID, category, msg string) string {
	scope := "global"
	if featureID != "" {
		scope = domain.FeatureLabel(featureID)
	}
	return fmt.Sprintf("[%s] [%s] [%s] [%s] %s\n",
		t.Format("2006-01-02 15:04:05"),
		levelToString(level),
		scope,
		category,
		msg,
	)
}

func levelToString(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case slog.LevelWarn:
		return "WARN"
	case slog.LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// log writes a log entry to appropriate files based on featureID.
// An empty featureID logs only to the global log; otherwise the entry
// goes to both the global and the feature log.
func (l *Logger) log(level slog.Level, featureID, category, msg string) {
	if level < l.level {
		return // Skip if below minimum level
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := formatLog(l.clock.Now(), level, featureID, category, msg)

	if l.console != nil {
		_, _ = io.WriteString(l.console, entry)
	}
	if l.dataDir == "" {
		return // File logging disabled
	}

	if gf, err := l.globalLocked(); err == nil {
		_, _ = io.WriteString(gf, entry)
	}
	if featureID != "" {
		if ff, err := l.featureLocked(featureID); err == nil {
			_, _ = io.WriteString(ff, entry)
		}
	}
}

// Info logs an info message.
func (l *Logger) Info(featureID, category, msg string) {
	l.log(slog.LevelInfo, featureID, category, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(featureID, category, msg string) {
	l.log(slog.LevelDebug, featureID, category, msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(featureID, category, msg string) {
	l.log(slog.LevelWarn, featureID, category, msg)
}

// Error logs an error message.
func (l *Logger) Error(featureID, category, msg string) {
	l.log(slog.LevelError, featureID, category, msg)
}

// NopLogger discards every entry.
type NopLogger struct{}

var _ domain.Logger = NopLogger{}

func (NopLogger) Info(string, string, string)  {}
func (NopLogger) Debug(string, string, string) {}
func (NopLogger) Warn(string, string, string)  {}
func (NopLogger) Error(string, string, string) {}
