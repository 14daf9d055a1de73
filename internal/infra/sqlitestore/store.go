// Package sqlitestore persists features in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/runoshun/autocrew/internal/domain"
)

// Ensure Store implements domain.FeatureRepository.
var _ domain.FeatureRepository = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS features (
	id      TEXT PRIMARY KEY,
	seq     INTEGER NOT NULL,
	version INTEGER NOT NULL,
	data    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS features_seq ON features(seq);
`

// Store is a SQLite-backed domain.FeatureRepository.
// The full record is stored as JSON; seq and version are mirrored into
// columns so ordering and the optimistic check run in SQL.
type Store struct {
	db      *sql.DB
	clock   domain.Clock
	dataDir string
}

// Open opens (creating if needed) the database at path.
// dataDir is where per-feature transcripts live, so Delete can remove them.
func Open(ctx context.Context, path, dataDir string, clock domain.Clock) (*Store, error) {
	if clock == nil {
		clock = domain.RealClock{}
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serializes writers inside the process; busy_timeout
	// covers other processes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}

	return &Store{db: db, clock: clock, dataDir: dataDir}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rejected marks an error produced by a mutation callback.
type rejected struct{ err error }

func (r *rejected) Error() string { return r.err.Error() }

// Create stores a new feature. An empty ID is generated.
func (s *Store) Create(ctx context.Context, f *domain.Feature) (*domain.Feature, error) {
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

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM features WHERE id = ?`, next.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return &rejected{fmt.Errorf("feature %s already exists", next.ID)}
		}
		if len(next.Dependencies) > 0 {
			all, err := listTx(ctx, tx)
			if err != nil {
				return err
			}
			if err := domain.ValidateDependencies(append(all, next), next.ID, next.Dependencies); err != nil {
				return &rejected{err}
			}
		}
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM features`).Scan(&next.Seq); err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO features (id, seq, version, data) VALUES (?, ?, ?, ?)`,
			next.ID, next.Seq, next.Version, string(data))
		return err
	})
	if err != nil {
		return nil, classify("create", err)
	}
	return next, nil
}

// Get retrieves a feature by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Feature, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM features WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrFeatureNotFound
	}
	if err != nil {
		return nil, classify("get", err)
	}
	f, err := decode(data)
	if err != nil {
		return nil, classify("get", err)
	}
	return f, nil
}

// List returns every feature ordered by Seq.
func (s *Store) List(ctx context.Context) ([]*domain.Feature, error) {
	var out []*domain.Feature
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = listTx(ctx, tx)
		return err
	})
	if err != nil {
		return nil, classify("list", err)
	}
	return out, nil
}

// Delete removes a feature and its transcripts.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE id = ?`, id)
	if err != nil {
		return classify("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete", err)
	}
	if n == 0 {
		return domain.ErrFeatureNotFound
	}
	if s.dataDir != "" && domain.ValidateFeatureID(id) == nil {
		_ = os.RemoveAll(domain.FeatureDir(s.dataDir, id))
	}
	return nil
}

// UpdateStatus changes status and summary.
func (s *Store) UpdateStatus(ctx context.Context, u domain.StatusUpdate) (*domain.Feature, error) {
	return s.mutate(ctx, "update status", u.ID, u.ExpectedVersion, func(_ *sql.Tx, f *domain.Feature) error {
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
	return s.mutate(ctx, "update content", id, expectedVersion, func(_ *sql.Tx, f *domain.Feature) error {
		c.Apply(f)
		return nil
	})
}

// SetDependencies replaces the dependency set. The graph is read and the
// edge set written in one immediate transaction.
func (s *Store) SetDependencies(ctx context.Context, id string, expectedVersion int64, deps []string) (*domain.Feature, error) {
	deps = domain.NormalizeDependencies(deps)
	return s.mutate(ctx, "set dependencies", id, expectedVersion, func(tx *sql.Tx, f *domain.Feature) error {
		all, err := listTx(ctx, tx)
		if err != nil {
			return err
		}
		if err := domain.ValidateDependencies(all, id, deps); err != nil {
			return &rejected{err}
		}
		f.Dependencies = deps
		return nil
	})
}

// SetWorktree records or clears the worktree linkage.
func (s *Store) SetWorktree(ctx context.Context, id string, ref *domain.WorktreeRef) (*domain.Feature, error) {
	return s.mutate(ctx, "set worktree", id, 0, func(_ *sql.Tx, f *domain.Feature) error {
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
	return s.mutate(ctx, "start run", id, 0, func(_ *sql.Tx, f *domain.Feature) error {
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

// SealRun closes a run record.
func (s *Store) SealRun(ctx context.Context, id, runID string, seal domain.RunSeal) (*domain.Feature, error) {
	if seal.Outcome == "" {
		return nil, fmt.Errorf("seal run %s: outcome is required", runID)
	}
	if seal.EndedAt.IsZero() {
		seal.EndedAt = s.clock.Now()
	}
	return s.mutate(ctx, "seal run", id, 0, func(_ *sql.Tx, f *domain.Feature) error {
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

// mutate reads, modifies and conditionally writes one record in a transaction.
// The UPDATE is guarded by the version that was read, so a writer in another
// process that slipped in between is detected as a conflict.
func (s *Store) mutate(ctx context.Context, op, id string, expected int64, fn func(*sql.Tx, *domain.Feature) error) (*domain.Feature, error) {
	var out *domain.Feature
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var data string
		var version int64
		err := tx.QueryRowContext(ctx, `SELECT data, version FROM features WHERE id = ?`, id).Scan(&data, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return &rejected{domain.ErrFeatureNotFound}
		}
		if err != nil {
			return err
		}
		if expected != 0 && expected != version {
			return &rejected{&domain.ConcurrentUpdateConflict{FeatureID: id, Expected: expected, Actual: version}}
		}

		f, err := decode(data)
		if err != nil {
			return err
		}
		if err := fn(tx, f); err != nil {
			var rej *rejected
			if errors.As(err, &rej) {
				return err
			}
			return &rejected{err}
		}
		f.Version = version + 1
		f.UpdatedAt = s.clock.Now()

		encoded, err := json.Marshal(f)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE features SET data = ?, version = ? WHERE id = ? AND version = ?`,
			string(encoded), f.Version, id, version)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &rejected{&domain.ConcurrentUpdateConflict{FeatureID: id, Expected: version, Actual: -1}}
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func listTx(ctx context.Context, tx *sql.Tx) ([]*domain.Feature, error) {
	rows, err := tx.QueryContext(ctx, `SELECT data FROM features ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	features := []*domain.Feature{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		f, err := decode(data)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func decode(data string) (*domain.Feature, error) {
	var f domain.Feature
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("decode feature record: %w", err)
	}
	return &f, nil
}

// classify separates rejections from database failures.
func classify(op string, err error) error {
	var rej *rejected
	if errors.As(err, &rej) {
		return rej.err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: feature already exists: %w", op, err)
	}
	return &domain.FatalStoreError{Op: op, Err: err}
}
