package usecase

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/runoshun/autocrew/internal/domain"
)

// RunningFeature describes one live run.
type RunningFeature struct {
	StartedAt time.Time      `json:"startedAt"`
	FeatureID string         `json:"featureId"`
	RunID     string         `json:"runId,omitempty"` // Empty until the run record is opened
	Mode      domain.RunMode `json:"mode"`
}

// RunResult is the final state of a finished run.
type RunResult struct {
	Err     error // Infrastructure failure that aborted the run
	RunID   string
	Outcome domain.RunOutcome
	Status  domain.Status
	Summary string
}

// activeRun is the registry entry of one run.
type activeRun struct {
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	result    RunResult
	featureID string
	runID     string
	mode      domain.RunMode
}

func (r *activeRun) finish(res RunResult) {
	r.result = res
	close(r.done)
}

// RunRegistry tracks the live runs of a scheduler. It holds at most one run per feature.
type RunRegistry struct {
	runs map[string]*activeRun
	mu   sync.Mutex
}

// NewRunRegistry creates an empty RunRegistry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*activeRun)}
}

// reserve claims featureID for a new run. Returns ErrRunActive if one is live.
func (r *RunRegistry) reserve(featureID string, mode domain.RunMode, cancel context.CancelFunc, now time.Time) (*activeRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[featureID]; ok {
		return nil, domain.ErrRunActive
	}
	run := &activeRun{
		startedAt: now,
		cancel:    cancel,
		done:      make(chan struct{}),
		featureID: featureID,
		mode:      mode,
	}
	r.runs[featureID] = run
	return run, nil
}

// release drops the entry if it still belongs to run.
func (r *RunRegistry) release(run *activeRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.runs[run.featureID]; ok && cur == run {
		delete(r.runs, run.featureID)
	}
}

func (r *RunRegistry) setRunID(run *activeRun, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.runID = runID
}

func (r *RunRegistry) get(featureID string) (*activeRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[featureID]
	return run, ok
}

func (r *RunRegistry) all() []*activeRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*activeRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out
}

// Count returns the number of live runs.
func (r *RunRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Has reports whether featureID has a live run.
func (r *RunRegistry) Has(featureID string) bool {
	_, ok := r.get(featureID)
	return ok
}

// IDs returns the set of features with a live run.
func (r *RunRegistry) IDs() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[string]bool, len(r.runs))
	for id := range r.runs {
		ids[id] = true
	}
	return ids
}

// Snapshot lists the live runs, oldest first.
func (r *RunRegistry) Snapshot() []RunningFeature {
	r.mu.Lock()
	out := make([]RunningFeature, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, RunningFeature{
			StartedAt: run.startedAt,
			FeatureID: run.featureID,
			RunID:     run.runID,
			Mode:      run.mode,
		})
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b RunningFeature) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.FeatureID, b.FeatureID)
	})
	return out
}

// RunHandle lets a caller wait for a run started on demand.
type RunHandle struct {
	run *activeRun
}

// FeatureID returns the feature the run belongs to.
func (h *RunHandle) FeatureID() string {
	return h.run.featureID
}

// Done is closed once the run has applied its final status.
func (h *RunHandle) Done() <-chan struct{} {
	return h.run.done
}

// Wait blocks until the run finishes or ctx is done.
func (h *RunHandle) Wait(ctx context.Context) (RunResult, error) {
	select {
	case <-h.run.done:
		return h.run.result, nil
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}

// lockIdle claims a feature with no live run for a maintenance operation.
// It checks the in-process registry, then takes the cross-process run lock,
// which the caller releases when done. A nil locker skips the second check.
func lockIdle(runs *RunRegistry, locks domain.RunLocker, id string) (func(), error) {
	if runs != nil && runs.Has(id) {
		return nil, domain.ErrRunActive
	}
	if locks == nil {
		return func() {}, nil
	}
	release, err := locks.TryLock(id)
	if err != nil {
		return nil, err
	}
	return release, nil
}
