// Package testutil provides shared test utilities and mock implementations.
package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/runoshun/autocrew/internal/domain"
)

// MockClock is a test double for domain.Clock.
type MockClock struct {
	NowTime time.Time
}

// Now returns the configured time.
func (m *MockClock) Now() time.Time {
	return m.NowTime
}

// LogEntry is one message recorded by MockLogger.
type LogEntry struct {
	Level     string
	FeatureID string
	Category  string
	Msg       string
}

// MockLogger is a test double for domain.Logger that records every entry.
type MockLogger struct {
	Entries []LogEntry
	mu      sync.Mutex
}

// NewMockLogger creates a new MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) record(level, featureID, category, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, LogEntry{Level: level, FeatureID: featureID, Category: category, Msg: msg})
}

// Info records an info entry.
func (m *MockLogger) Info(featureID, category, msg string) { m.record("INFO", featureID, category, msg) }

// Debug records a debug entry.
func (m *MockLogger) Debug(featureID, category, msg string) { m.record("DEBUG", featureID, category, msg) }

// Warn records a warning entry.
func (m *MockLogger) Warn(featureID, category, msg string) { m.record("WARN", featureID, category, msg) }

// Error records an error entry.
func (m *MockLogger) Error(featureID, category, msg string) { m.record("ERROR", featureID, category, msg) }

// Snapshot returns a copy of the recorded entries.
func (m *MockLogger) Snapshot() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Entries)
}

// MockFeatureRepository is an in-memory domain.FeatureRepository.
// It honors the version and sealing rules of the real stores so that
// scheduler tests observe realistic conflicts.
type MockFeatureRepository struct {
	Features          map[string]*domain.Feature
	GetErr            error
	ListErr           error
	UpdateStatusErr   error
	StartRunErr       error
	StatusWrites      []domain.StatusUpdate // Successful UpdateStatus calls in order
	nextSeq           int64
	UpdateStatusCalls int
	mu                sync.Mutex
}

// Ensure MockFeatureRepository implements domain.FeatureRepository.
var _ domain.FeatureRepository = (*MockFeatureRepository)(nil)

// NewMockFeatureRepository creates a new MockFeatureRepository.
func NewMockFeatureRepository() *MockFeatureRepository {
	return &MockFeatureRepository{Features: make(map[string]*domain.Feature)}
}

// Add stores f directly, assigning Seq and Version when unset.
func (m *MockFeatureRepository) Add(f *domain.Feature) *domain.Feature {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	if f.Seq == 0 {
		f.Seq = m.nextSeq
	}
	if f.Version == 0 {
		f.Version = 1
	}
	m.Features[f.ID] = f.Clone()
	return f
}

// Snapshot returns a copy of a stored feature, or nil.
func (m *MockFeatureRepository) Snapshot(id string) *domain.Feature {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Features[id].Clone()
}

// SetListErr makes List fail with err, or succeed again when err is nil.
func (m *MockFeatureRepository) SetListErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListErr = err
}

// Create stores a new feature.
func (m *MockFeatureRepository) Create(_ context.Context, f *domain.Feature) (*domain.Feature, error) {
	m.mu.Lock()
	if _, ok := m.Features[f.ID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("feature %s already exists", f.ID)
	}
	all := make([]*domain.Feature, 0, len(m.Features))
	for _, existing := range m.Features {
		all = append(all, existing)
	}
	err := domain.ValidateDependencies(all, f.ID, f.Dependencies)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c := f.Clone()
	c.Seq = 0
	c.Version = 0
	return m.Add(c).Clone(), nil
}

// Get retrieves a feature by ID.
func (m *MockFeatureRepository) Get(_ context.Context, id string) (*domain.Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	f, ok := m.Features[id]
	if !ok {
		return nil, domain.ErrFeatureNotFound
	}
	return f.Clone(), nil
}

// List returns all features ordered by Seq.
func (m *MockFeatureRepository) List(_ context.Context) ([]*domain.Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]*domain.Feature, 0, len(m.Features))
	for _, f := range m.Features {
		out = append(out, f.Clone())
	}
	slices.SortFunc(out, func(a, b *domain.Feature) int { return int(a.Seq - b.Seq) })
	return out, nil
}

// Delete removes a feature.
func (m *MockFeatureRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Features[id]; !ok {
		return domain.ErrFeatureNotFound
	}
	delete(m.Features, id)
	return nil
}

// mutate applies fn under the lock after the version check.
func (m *MockFeatureRepository) mutate(id string, expected int64, fn func(f *domain.Feature) error) (*domain.Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Features[id]
	if !ok {
		return nil, domain.ErrFeatureNotFound
	}
	if expected != 0 && expected != f.Version {
		return nil, &domain.ConcurrentUpdateConflict{FeatureID: id, Expected: expected, Actual: f.Version}
	}
	next := f.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version++
	m.Features[id] = next
	return next.Clone(), nil
}

// UpdateStatus changes status and summary.
func (m *MockFeatureRepository) UpdateStatus(_ context.Context, u domain.StatusUpdate) (*domain.Feature, error) {
	m.mu.Lock()
	m.UpdateStatusCalls++
	err := m.UpdateStatusErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f, err := m.mutate(u.ID, u.ExpectedVersion, func(f *domain.Feature) error {
		f.Status = u.Status
		if u.Summary != nil {
			f.Summary = *u.Summary
		}
		return nil
	})
	if err == nil {
		m.mu.Lock()
		m.StatusWrites = append(m.StatusWrites, u)
		m.mu.Unlock()
	}
	return f, err
}

// UpdateContent applies user edits.
func (m *MockFeatureRepository) UpdateContent(_ context.Context, id string, expected int64, c domain.FeatureContent) (*domain.Feature, error) {
	return m.mutate(id, expected, func(f *domain.Feature) error {
		c.Apply(f)
		return nil
	})
}

// SetDependencies replaces the dependency set.
func (m *MockFeatureRepository) SetDependencies(_ context.Context, id string, expected int64, deps []string) (*domain.Feature, error) {
	m.mu.Lock()
	all := make([]*domain.Feature, 0, len(m.Features))
	for _, f := range m.Features {
		all = append(all, f)
	}
	err := domain.ValidateDependencies(all, id, deps)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.mutate(id, expected, func(f *domain.Feature) error {
		f.Dependencies = slices.Clone(deps)
		return nil
	})
}

// SetWorktree records the worktree linkage.
func (m *MockFeatureRepository) SetWorktree(_ context.Context, id string, ref *domain.WorktreeRef) (*domain.Feature, error) {
	return m.mutate(id, 0, func(f *domain.Feature) error {
		f.Worktree = ref
		return nil
	})
}

// StartRun appends an open run.
func (m *MockFeatureRepository) StartRun(_ context.Context, id string, run domain.RunRecord) (*domain.Feature, error) {
	m.mu.Lock()
	err := m.StartRunErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.mutate(id, 0, func(f *domain.Feature) error {
		if last := f.LastRun(); last != nil && !last.IsSealed() {
			return domain.ErrRunActive
		}
		f.RunHistory = append(f.RunHistory, run)
		return nil
	})
}

// SealRun closes a run.
func (m *MockFeatureRepository) SealRun(_ context.Context, id, runID string, seal domain.RunSeal) (*domain.Feature, error) {
	return m.mutate(id, 0, func(f *domain.Feature) error {
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
		r.ToolInvocations = seal.ToolInvocations
		return nil
	})
}

// MockWorktreeManager is a test double for domain.WorktreeManager.
type MockWorktreeManager struct {
	Worktrees map[string]*domain.WorktreeInfo
	CreateErr error
	RemoveErr error
	DiffText  string
	DataDir   string
	Created   []string
	Removed   []string
	mu        sync.Mutex
}

// Ensure MockWorktreeManager implements domain.WorktreeManager.
var _ domain.WorktreeManager = (*MockWorktreeManager)(nil)

// NewMockWorktreeManager creates a new MockWorktreeManager rooted at dataDir.
func NewMockWorktreeManager(dataDir string) *MockWorktreeManager {
	return &MockWorktreeManager{
		Worktrees: make(map[string]*domain.WorktreeInfo),
		DataDir:   dataDir,
	}
}

// Create returns a deterministic worktree for the feature.
func (m *MockWorktreeManager) Create(_ context.Context, featureID string) (*domain.WorktreeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if wt, ok := m.Worktrees[featureID]; ok {
		c := *wt
		c.Reused = true
		return &c, nil
	}
	wt := &domain.WorktreeInfo{
		FeatureID: featureID,
		Path:      domain.WorktreePath(m.DataDir, featureID),
		Branch:    domain.BranchName(featureID),
	}
	m.Worktrees[featureID] = wt
	m.Created = append(m.Created, featureID)
	c := *wt
	return &c, nil
}

// Status reports the configured dirty state.
func (m *MockWorktreeManager) Status(_ context.Context, featureID string) (*domain.WorktreeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.Worktrees[featureID]
	if !ok {
		return nil, domain.ErrWorktreeNotFound
	}
	return &domain.WorktreeStatus{HasChanges: wt.HasUncommittedChanges}, nil
}

// Diff returns DiffText.
func (m *MockWorktreeManager) Diff(_ context.Context, featureID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Worktrees[featureID]; !ok {
		return "", domain.ErrWorktreeNotFound
	}
	return m.DiffText, nil
}

// Remove forgets the worktree. Dirty worktrees require Force.
func (m *MockWorktreeManager) Remove(_ context.Context, featureID string, opts domain.RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	if wt, ok := m.Worktrees[featureID]; ok && wt.HasUncommittedChanges && !opts.Force {
		return domain.ErrUncommittedChanges
	}
	delete(m.Worktrees, featureID)
	m.Removed = append(m.Removed, featureID)
	return nil
}

// ListAll returns the tracked worktrees.
func (m *MockWorktreeManager) ListAll(_ context.Context) (*domain.WorktreeListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	listing := &domain.WorktreeListing{}
	for _, wt := range m.Worktrees {
		listing.Worktrees = append(listing.Worktrees, *wt)
	}
	slices.SortFunc(listing.Worktrees, func(a, b domain.WorktreeInfo) int {
		switch {
		case a.FeatureID < b.FeatureID:
			return -1
		case a.FeatureID > b.FeatureID:
			return 1
		}
		return 0
	})
	return listing, nil
}

// ScriptStep is one message of a scripted agent run.
type ScriptStep struct {
	Message domain.AgentMessage
	Delay   time.Duration // Wait before sending
}

// Script describes how MockExecutor answers one run.
type Script struct {
	LaunchErr error
	Steps     []ScriptStep
	// Hang keeps the stream open after the steps until ctx is done.
	Hang bool
}

// MockExecutor is a test double for domain.AgentExecutor that plays scripts.
// Script selects the script for a run; when nil, Default is used.
type MockExecutor struct {
	Script  func(opts domain.ExecuteOptions) Script
	Calls   []domain.ExecuteOptions
	Default Script
	live    int
	MaxLive int // Highest number of simultaneously open streams
	mu      sync.Mutex
}

// Ensure MockExecutor implements domain.AgentExecutor.
var _ domain.AgentExecutor = (*MockExecutor)(nil)

// Run plays the selected script on a channel.
// Like the real executor, it honors opts.Timeout (scaled by effort) and then
// emits a timeout result.
func (m *MockExecutor) Run(ctx context.Context, opts domain.ExecuteOptions) (<-chan domain.AgentMessage, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, opts)
	script := m.Default
	if m.Script != nil {
		script = m.Script(opts)
	}
	if script.LaunchErr != nil {
		m.mu.Unlock()
		return nil, script.LaunchErr
	}
	m.live++
	if m.live > m.MaxLive {
		m.MaxLive = m.live
	}
	m.mu.Unlock()

	var deadline <-chan time.Time
	if d := domain.ScaledTimeout(opts.Timeout, opts.Effort); d > 0 {
		timer := time.NewTimer(d)
		deadline = timer.C
		context.AfterFunc(ctx, func() { timer.Stop() })
	}

	out := make(chan domain.AgentMessage)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			m.live--
			m.mu.Unlock()
		}()

		send := func(msg domain.AgentMessage) bool {
			select {
			case out <- msg:
				return true
			case <-ctx.Done():
				return false
			}
		}
		timedOut := func() {
			send(domain.ResultMessage(domain.ResultTimeout, ""))
		}

		for _, st := range script.Steps {
			if st.Delay > 0 {
				select {
				case <-time.After(st.Delay):
				case <-deadline:
					timedOut()
					return
				case <-ctx.Done():
					return
				}
			}
			if !send(st.Message) {
				return
			}
		}
		if script.Hang {
			select {
			case <-deadline:
				timedOut()
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Live returns the number of open streams.
func (m *MockExecutor) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// CallCount returns the number of Run calls.
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// SuccessScript returns a script emitting texts followed by a success result.
func SuccessScript(texts ...string) Script {
	var steps []ScriptStep
	for _, t := range texts {
		steps = append(steps, ScriptStep{Message: domain.TextMessage(t)})
	}
	steps = append(steps, ScriptStep{Message: domain.ResultMessage(domain.ResultSuccess, "done")})
	return Script{Steps: steps}
}

// MockPromptBuilder is a test double for domain.PromptBuilder.
type MockPromptBuilder struct {
	Err      error
	Requests []domain.PromptRequest
	mu       sync.Mutex
}

// Build returns "<mode>:<feature id>".
func (m *MockPromptBuilder) Build(req domain.PromptRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return "", m.Err
	}
	return fmt.Sprintf("%s:%s", req.Mode, req.Feature.ID), nil
}

// MockTranscriptStore is an in-memory domain.TranscriptStore.
type MockTranscriptStore struct {
	Transcripts map[string][]domain.TranscriptEntry
	OpenErr     error
	mu          sync.Mutex
}

// NewMockTranscriptStore creates a new MockTranscriptStore.
func NewMockTranscriptStore() *MockTranscriptStore {
	return &MockTranscriptStore{Transcripts: make(map[string][]domain.TranscriptEntry)}
}

// Open returns a writer for featureID/runID.
func (m *MockTranscriptStore) Open(featureID, runID string) (domain.TranscriptWriter, string, error) {
	if m.OpenErr != nil {
		return nil, "", m.OpenErr
	}
	ref := featureID + "/" + runID
	m.mu.Lock()
	m.Transcripts[ref] = nil
	m.mu.Unlock()
	return &mockTranscriptWriter{store: m, ref: ref}, ref, nil
}

// Read returns the entries of ref.
func (m *MockTranscriptStore) Read(ref string) ([]domain.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.Transcripts[ref]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return slices.Clone(entries), nil
}

type mockTranscriptWriter struct {
	store *MockTranscriptStore
	ref   string
}

func (w *mockTranscriptWriter) Append(msg domain.AgentMessage) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.Transcripts[w.ref] = append(w.store.Transcripts[w.ref], domain.TranscriptEntry{Timestamp: time.Now(), Message: msg})
	return nil
}

func (w *mockTranscriptWriter) Close() error { return nil }

// EventRecorder is a synchronous domain.EventBus that records every event.
type EventRecorder struct {
	subs   map[int]func(domain.Event)
	events []domain.Event
	nextID int
	mu     sync.Mutex
}

// Ensure EventRecorder implements domain.EventBus.
var _ domain.EventBus = (*EventRecorder)(nil)

// NewEventRecorder creates a new EventRecorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{subs: make(map[int]func(domain.Event))}
}

// Publish records e and calls subscribers inline.
func (r *EventRecorder) Publish(e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	subs := make([]func(domain.Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

// Subscribe registers fn.
func (r *EventRecorder) Subscribe(fn func(domain.Event)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Events returns the recorded events.
func (r *EventRecorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// OfType returns the recorded events of type t, optionally limited to one feature.
func (r *EventRecorder) OfType(t domain.EventType, featureID string) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Type == t && (featureID == "" || e.FeatureID == featureID) {
			out = append(out, e)
		}
	}
	return out
}

// MockRunLocker is a test double for domain.RunLocker. Sharing one instance
// between schedulers stands in for processes sharing a repository.
type MockRunLocker struct {
	held map[string]bool
	mu   sync.Mutex
}

// Ensure MockRunLocker implements domain.RunLocker.
var _ domain.RunLocker = (*MockRunLocker)(nil)

// NewMockRunLocker creates a new MockRunLocker.
func NewMockRunLocker() *MockRunLocker {
	return &MockRunLocker{held: make(map[string]bool)}
}

// TryLock takes the lock of featureID or returns ErrRunActive.
func (m *MockRunLocker) TryLock(featureID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[featureID] {
		return nil, domain.ErrRunActive
	}
	m.held[featureID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.held, featureID)
		})
	}, nil
}

// Held reports whether featureID is locked.
func (m *MockRunLocker) Held(featureID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[featureID]
}

// MockPipelineLoader is a test double for domain.PipelineLoader.
type MockPipelineLoader struct {
	Pipeline *domain.Pipeline
	Err      error
}

// LoadPipeline returns the configured pipeline.
func (m *MockPipelineLoader) LoadPipeline() (*domain.Pipeline, error) {
	return m.Pipeline, m.Err
}

// MockConfigManager is a test double for domain.ConfigManager.
// Fields are ordered to minimize memory padding.
type MockConfigManager struct {
	InitRepoErr      error
	InitGlobalErr    error
	RepoConfigInfo   domain.ConfigInfo
	GlobalConfigInfo domain.ConfigInfo
	InitRepoCalled   bool
	InitGlobalCalled bool
}

// Ensure MockConfigManager implements domain.ConfigManager.
var _ domain.ConfigManager = (*MockConfigManager)(nil)

// NewMockConfigManager creates a new MockConfigManager.
func NewMockConfigManager() *MockConfigManager {
	return &MockConfigManager{}
}

// GetRepoConfigInfo returns RepoConfigInfo.
func (m *MockConfigManager) GetRepoConfigInfo() domain.ConfigInfo { return m.RepoConfigInfo }

// GetGlobalConfigInfo returns GlobalConfigInfo.
func (m *MockConfigManager) GetGlobalConfigInfo() domain.ConfigInfo { return m.GlobalConfigInfo }

// InitRepoConfig records the call.
func (m *MockConfigManager) InitRepoConfig() error {
	m.InitRepoCalled = true
	return m.InitRepoErr
}

// InitGlobalConfig records the call.
func (m *MockConfigManager) InitGlobalConfig() error {
	m.InitGlobalCalled = true
	return m.InitGlobalErr
}

// MockConfigLoader is a test double for domain.ConfigLoader.
type MockConfigLoader struct {
	Config *domain.Config
	Err    error
}

// Ensure MockConfigLoader implements domain.ConfigLoader.
var _ domain.ConfigLoader = (*MockConfigLoader)(nil)

// Load returns Config, or the defaults when unset.
func (m *MockConfigLoader) Load() (*domain.Config, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Config == nil {
		return domain.NewDefaultConfig(), nil
	}
	return m.Config, nil
}

// LoadGlobal behaves like Load.
func (m *MockConfigLoader) LoadGlobal() (*domain.Config, error) {
	return m.Load()
}
