package featurestore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/runoshun/autocrew/internal/domain"
)

// Ensure TranscriptStore implements domain.TranscriptStore.
var _ domain.TranscriptStore = (*TranscriptStore)(nil)

// maxTranscriptLine bounds a single transcript entry when reading.
const maxTranscriptLine = 16 * 1024 * 1024

// TranscriptStore keeps one append-only JSONL file per run.
// References are paths relative to the data directory.
type TranscriptStore struct {
	clock   domain.Clock
	dataDir string
}

// NewTranscriptStore creates a TranscriptStore rooted at dataDir.
func NewTranscriptStore(dataDir string, clock domain.Clock) *TranscriptStore {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &TranscriptStore{clock: clock, dataDir: dataDir}
}

// Open creates (or reopens for append) the transcript of a run.
func (s *TranscriptStore) Open(featureID, runID string) (domain.TranscriptWriter, string, error) {
	if err := domain.ValidateFeatureID(featureID); err != nil {
		return nil, "", err
	}
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return nil, "", fmt.Errorf("invalid run id %q", runID)
	}
	path := domain.TranscriptPath(s.dataDir, featureID, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, "", fmt.Errorf("create transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("open transcript: %w", err)
	}
	ref, err := filepath.Rel(s.dataDir, path)
	if err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("transcript ref: %w", err)
	}
	return &transcriptWriter{file: f, clock: s.clock}, filepath.ToSlash(ref), nil
}

// Read returns the entries of a transcript in append order.
// A trailing partial line left by a crash is ignored.
func (s *TranscriptStore) Read(ref string) ([]domain.TranscriptEntry, error) {
	path := filepath.Join(s.dataDir, filepath.FromSlash(ref))
	if rel, err := filepath.Rel(s.dataDir, path); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("invalid transcript ref %q", ref)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var entries []domain.TranscriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTranscriptLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.TranscriptEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return entries, nil
}

type transcriptWriter struct {
	file  *os.File
	clock domain.Clock
	mu    sync.Mutex
}

// Append writes one message as a single line.
func (w *transcriptWriter) Append(msg domain.AgentMessage) error {
	line, err := json.Marshal(domain.TranscriptEntry{Timestamp: w.clock.Now(), Message: msg})
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Close flushes and closes the transcript. Calling it twice is a no-op.
func (w *transcriptWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
