// Package featurestore persists features as one JSON file per feature.
package featurestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/infra/jsonstore"
)

// Ensure Store implements domain.FeatureRepository.
var _ domain.FeatureRepository = (*Store)(nil)

// indexData is the store-wide document holding the insertion counter.
// Its lock also serializes operations that read the whole dependency graph.
type indexData struct {
	NextSeq int64 `json:"nextSeq"`
}

// Store is a file-backed domain.FeatureRepository.
// Each feature lives in features/<id>/feature.json. Writers of a feature are
// serialized by an in-process mutex and a flock on the record, so a separate
// CLI process and a running scheduler never interleave read-modify-write cycles.
type Store struct {
	clock   domain.Clock
	index   *jsonstore.File[indexData]
	locks   map[string]*sync.Mutex
	onWrite func(id string, version int64)
	dataDir string
	graphMu sync.Mutex
	locksMu sync.Mutex
}

// New creates a Store rooted at dataDir.
func New(dataDir string, clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Store{
		clock:   clock,
		index:   jsonstore.New[indexData](filepath.Join(domain.FeaturesDir(dataDir), "index.json")),
		locks:   make(map[string]*sync.Mutex),
		dataDir: dataDir,
	}
}

// SetWriteHook registers fn to be told about every record this store writes,
// just before the file is replaced. Deletions report version 0.
// It must be called before the store is shared.
func (s *Store) SetWriteHook(fn func(id string, version int64)) {
	s.onWrite = fn
}

func (s *Store) notify(id string, version int64) {
	if s.onWrite != nil {
		s.onWrite(id, version)
	}
}

// rejected marks an error produced by a mutation callback, as opposed to an I/O failure.
type rejected struct{ err error }

func (r *rejected) Error() string { return r.err.Error() }

func (s *Store) record(id string) *jsonstore.File[domain.Feature] {
	return jsonstore.New[domain.Feature](domain.FeatureRecordPath(s.dataDir, id))
}

func (s *Store) lockFeature(id string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Create stores a new feature. An empty ID is generated.
func (s *Store) Create(ctx context.Context, f *domain.Feature) (*domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next := f.Clone()
	now := s.clock.Now()
	if next.ID == "" {
		next.ID = domain.NewFeatureID(now)
	}
	if err := domain.ValidateFeatureID(next.ID); err != nil {
		return nil, err
	}
	if next.Status == "" {
		next.Status = domain.StatusBacklog
	}
	next.Dependencies = domain.NormalizeDependencies(next.Dependencies)
	next.CreatedAt = now
	next.UpdatedAt = now
	next.Version = 1

	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	err := s.index.Update(func(idx *indexData) error {
		if s.record(next.ID).Exists() {
			return &rejected{fmt.Errorf("feature %s already exists", next.ID)}
		}
		if len(next.Dependencies) > 0 {
			all, err := s.list()
			if err != nil {
				return err
			}
			if err := domain.ValidateDependencies(append(all, next), next.ID, next.Dependencies); err != nil {
				return &rejected{err}
			}
		}

		idx.NextSeq++
		next.Seq = idx.NextSeq

		unlock := s.lockFeature(next.ID)
		defer unlock()
		return s.record(next.ID).Update(func(rec *domain.Feature) error {
			*rec = *next
			s.notify(next.ID, next.Version)
			return nil
		})
	})
	if err != nil {
		return nil, s.classify("create", err)
	}
	return next, nil
}

// Get retrieves a feature by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if domain.ValidateFeatureID(id) != nil {
		return nil, domain.ErrFeatureNotFound
	}
	f, err := s.read(id)
	if err != nil {
		return nil, s.classify("get", err)
	}
	return f, nil
}

// List returns every feature ordered by Seq.
func (s *Store) List(ctx context.Context) ([]*domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	features, err := s.list()
	if err != nil {
		return nil, s.classify("list", err)
	}
	return features, nil
}

// Delete removes a feature together with its transcripts.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if domain.ValidateFeatureID(id) != nil {
		return domain.ErrFeatureNotFound
	}

	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	err := s.index.Lock(func() error {
		unlock := s.lockFeature(id)
		defer unlock()

		rec := s.record(id)
		if !rec.Exists() {
			return domain.ErrFeatureNotFound
		}
		s.notify(id, 0)
		if err := rec.Remove(); err != nil {
			return err
		}
		return os.RemoveAll(domain.FeatureDir(s.dataDir, id))
	})
	if err != nil {
		return s.classify("delete", err)
	}
	return nil
}

// UpdateStatus changes status and summary.
func (s *Store) UpdateStatus(ctx context.Context, u domain.StatusUpdate) (*domain.Feature, error) {
	return s.mutate(ctx, "update status", u.ID, u.ExpectedVersion, func(f *domain.Feature) error {
		if u.Status == "" {
			return domain.ErrInvalidStatus
		}
		f.Status = u.Status
		if u.Summary != nil {
			f.Summary = *u.Summary
		}
		return nil
	})
}

// UpdateContent applies user edits.
func (s *Store) UpdateContent(ctx context.Context, id string, expectedVersion int64, c domain.FeatureContent) (*domain.Feature, error) {
	if c.IsEmpty() {
		return nil, domain.ErrNoFieldsToUpdate
	}
	return s.mutate(ctx, "update content", id, expectedVersion, func(f *domain.Feature) error {
		c.Apply(f)
		return nil
	})
}

// SetDependencies replaces the dependency set. The cycle check and the write
// happen while holding the graph lock, so two edits cannot jointly close a cycle.
func (s *Store) SetDependencies(ctx context.Context, id string, expectedVersion int64, deps []string) (*domain.Feature, error) {
	deps = domain.NormalizeDependencies(deps)

	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	var out *domain.Feature
	err := s.index.Lock(func() error {
		all, err := s.list()
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(all, func(f *domain.Feature) bool { return f.ID == id }) {
			return domain.ErrFeatureNotFound
		}
		if err := domain.ValidateDependencies(all, id, deps); err != nil {
			return &rejected{err}
		}
		out, err = s.mutate(ctx, "set dependencies", id, expectedVersion, func(f *domain.Feature) error {
			f.Dependencies = deps
			return nil
		})
		return err
	})
	if err != nil {
		return nil, s.classify("set dependencies", err)
	}
	return out, nil
}

// SetWorktree records or clears the worktree linkage.
func (s *Store) SetWorktree(ctx context.Context, id string, ref *domain.WorktreeRef) (*domain.Feature, error) {
	return s.mutate(ctx, "set worktree", id, 0, func(f *domain.Feature) error {
		if ref == nil {
			f.Worktree = nil
			return nil
		}
		wt := *ref
		f.Worktree = &wt
		return nil
	})
}

// StartRun appends an open run record.
func (s *Store) StartRun(ctx context.Context, id string, run domain.RunRecord) (*domain.Feature, error) {
	if run.ID == "" {
		run.ID = domain.NewRunID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock.Now()
	}
	run.Outcome = ""
	return s.mutate(ctx, "start run", id, 0, func(f *domain.Feature) error {
		if last := f.LastRun(); last != nil && !last.IsSealed() {
			return domain.ErrRunActive
		}
		if _, ok := f.Run(run.ID); ok {
			return fmt.Errorf("run %s already recorded", run.ID)
		}
		f.RunHistory = append(f.RunHistory, run)
		return nil
	})
}

// SealRun closes a run record. Sealed records are never modified again.
func (s *Store) SealRun(ctx context.Context, id, runID string, seal domain.RunSeal) (*domain.Feature, error) {
	if seal.Outcome == "" {
		return nil, fmt.Errorf("seal run %s: outcome is required", runID)
	}
	if seal.EndedAt.IsZero() {
		seal.EndedAt = s.clock.Now()
	}
	return s.mutate(ctx, "seal run", id, 0, func(f *domain.Feature) error {
		r, ok := f.Run(runID)
		if !ok {
			return domain.ErrRunNotFound
		}
		if r.IsSealed() {
			return domain.ErrRunSealed
		}
		r.EndedAt = seal.EndedAt
		r.Outcome = seal.Outcome
		r.Detail = seal.Detail
		r.SessionID = seal.SessionID
		r.Summary = seal.Summary
		r.ToolInvocations = slices.Clone(seal.ToolInvocations)
		return nil
	})
}

// mutate runs fn on the current record under the feature's locks, checks the
// expected version, bumps Version and writes the result.
func (s *Store) mutate(ctx context.Context, op, id string, expected int64, fn func(*domain.Feature) error) (*domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if domain.ValidateFeatureID(id) != nil {
		return nil, domain.ErrFeatureNotFound
	}

	unlock := s.lockFeature(id)
	defer unlock()

	rec := s.record(id)
	if !rec.Exists() {
		return nil, domain.ErrFeatureNotFound
	}

	var out *domain.Feature
	err := rec.Update(func(f *domain.Feature) error {
		if f.ID == "" {
			// Deleted between the existence check and the lock.
			return &rejected{domain.ErrFeatureNotFound}
		}
		if expected != 0 && expected != f.Version {
			return &rejected{&domain.ConcurrentUpdateConflict{FeatureID: id, Expected: expected, Actual: f.Version}}
		}
		if err := fn(f); err != nil {
			return &rejected{err}
		}
		f.Version++
		f.UpdatedAt = s.clock.Now()
		out = f.Clone()
		s.notify(id, f.Version)
		return nil
	})
	if err != nil {
		return nil, s.classify(op, err)
	}
	return out, nil
}

func (s *Store) read(id string) (*domain.Feature, error) {
	var out *domain.Feature
	err := s.record(id).Read(func(f *domain.Feature) error {
		out = f
		return nil
	})
	if errors.Is(err, jsonstore.ErrNotExist) {
		return nil, domain.ErrFeatureNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) list() ([]*domain.Feature, error) {
	entries, err := os.ReadDir(domain.FeaturesDir(s.dataDir))
	if os.IsNotExist(err) {
		return []*domain.Feature{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read features directory: %w", err)
	}

	features := make([]*domain.Feature, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || domain.ValidateFeatureID(e.Name()) != nil {
			continue
		}
		f, err := s.read(e.Name())
		if errors.Is(err, domain.ErrFeatureNotFound) {
			// Directory left behind by a delete or a crashed create.
			continue
		}
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}

	slices.SortStableFunc(features, func(a, b *domain.Feature) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
	return features, nil
}

// classify separates rejections and domain errors from storage failures.
// Anything that is not a known domain outcome is a FatalStoreError.
func (s *Store) classify(op string, err error) error {
	var rej *rejected
	if errors.As(err, &rej) {
		return rej.err
	}
	var fatal *domain.FatalStoreError
	switch {
	case errors.As(err, &fatal),
		errors.Is(err, domain.ErrFeatureNotFound),
		errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, domain.ErrCyclicDependency),
		errors.Is(err, domain.ErrUnknownDependency),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &domain.FatalStoreError{Op: op, Err: err}
}
