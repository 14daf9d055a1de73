// Package watch detects feature records edited outside the running store.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/runoshun/autocrew/internal/domain"
)

// DefaultDebounce collapses the burst of events produced by one atomic write.
const DefaultDebounce = 100 * time.Millisecond

// Options configures a FeatureWatcher.
type Options struct {
	Logger   domain.Logger
	Debounce time.Duration // 0 for DefaultDebounce
}

// FeatureWatcher publishes feature_updated when a feature record on disk
// reaches a version this process did not write, or disappears without a
// store deletion. Writes made by the store are reported through Observe.
// Fields are ordered to minimize memory padding.
type FeatureWatcher struct {
	watcher     *fsnotify.Watcher
	pub         domain.EventPublisher
	logger      domain.Logger
	known       map[string]int64 // Last version seen per feature
	timers      map[string]*time.Timer
	dataDir     string
	featuresDir string
	debounce    time.Duration
	mu          sync.Mutex
}

// New starts watching the features directory of dataDir, creating it if needed.
func New(dataDir string, pub domain.EventPublisher, opts Options) (*FeatureWatcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	dir := domain.FeaturesDir(dataDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create features directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &FeatureWatcher{
		watcher:     fw,
		pub:         pub,
		logger:      opts.Logger,
		known:       make(map[string]int64),
		timers:      make(map[string]*time.Timer),
		dataDir:     dataDir,
		featuresDir: dir,
		debounce:    opts.Debounce,
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("read features directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || domain.ValidateFeatureID(e.Name()) != nil {
			continue
		}
		w.watchFeature(e.Name())
		if f, err := w.readRecord(e.Name()); err == nil {
			w.known[e.Name()] = f.Version
		}
	}
	return w, nil
}

// Observe records a write made by this process. Version 0 marks a deletion.
func (w *FeatureWatcher) Observe(featureID string, version int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if version == 0 {
		delete(w.known, featureID)
		return
	}
	w.known[featureID] = version
}

// Run processes filesystem events until ctx is done.
func (w *FeatureWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log("watcher error: " + err.Error())
		}
	}
}

// Close stops the watcher and pending checks.
func (w *FeatureWatcher) Close() error {
	w.mu.Lock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *FeatureWatcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.featuresDir, ev.Name)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	id := parts[0]
	if domain.ValidateFeatureID(id) != nil {
		return
	}

	switch len(parts) {
	case 1:
		if ev.Has(fsnotify.Create) {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				w.watchFeature(id)
				w.schedule(id)
			}
		}
		if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			w.schedule(id)
		}
	case 2:
		if parts[1] == domain.FeatureFileName {
			w.schedule(id)
		}
	}
}

func (w *FeatureWatcher) watchFeature(id string) {
	dir := filepath.Join(w.featuresDir, id)
	if err := w.watcher.Add(dir); err != nil {
		w.log(fmt.Sprintf("watch %s: %v", dir, err))
	}
}

// schedule runs check for id once events for it have been quiet for the debounce period.
func (w *FeatureWatcher) schedule(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[id]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[id] = time.AfterFunc(w.debounce, func() { w.check(id) })
}

func (w *FeatureWatcher) check(id string) {
	f, err := w.readRecord(id)

	w.mu.Lock()
	delete(w.timers, id)
	last, seen := w.known[id]
	var payload *domain.FeatureUpdatedPayload
	switch {
	case errors.Is(err, os.ErrNotExist):
		if seen {
			delete(w.known, id)
			payload = &domain.FeatureUpdatedPayload{Deleted: true}
		}
	case err != nil:
		// Usually an editor mid-save; the next event retries.
	case !seen || f.Version != last:
		w.known[id] = f.Version
		payload = &domain.FeatureUpdatedPayload{Version: f.Version}
	}
	w.mu.Unlock()

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log(fmt.Sprintf("read %s: %v", id, err))
	}
	if payload != nil {
		w.pub.Publish(domain.Event{Type: domain.EventFeatureUpdated, FeatureID: id, Payload: *payload})
	}
}

func (w *FeatureWatcher) readRecord(id string) (*domain.Feature, error) {
	data, err := os.ReadFile(domain.FeatureRecordPath(w.dataDir, id))
	if err != nil {
		return nil, err
	}
	var f domain.Feature
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (w *FeatureWatcher) log(msg string) {
	if w.logger != nil {
		w.logger.Debug("", "watch", msg)
	}
}
