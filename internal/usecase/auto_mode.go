package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/runoshun/autocrew/internal/domain"
)

// SchedulerState is the lifecycle state of auto mode.
type SchedulerState string

// Scheduler states.
const (
	StateIdle     SchedulerState = "idle"
	StateRunning  SchedulerState = "running"
	StateStopping SchedulerState = "stopping"
)

// AutoModeDeps holds the collaborators of the scheduler.
type AutoModeDeps struct {
	Features    domain.FeatureRepository
	Worktrees   domain.WorktreeManager
	Executor    domain.AgentExecutor
	Prompts     domain.PromptBuilder
	Transcripts domain.TranscriptStore
	Events      domain.EventPublisher
	Pipelines   domain.PipelineLoader
	Logger      domain.Logger
	Clock       domain.Clock
	Registry    *RunRegistry     // A fresh registry is used when nil
	Locks       domain.RunLocker // Cross-process run locks; in-process only when nil
	RepoRoot    string
	Agent       domain.AgentConfig
	Auto        domain.AutoConfig
}

// RunOptions configures an on-demand run.
type RunOptions struct {
	Resume bool // Continue the last agent session when there is one
}

// AutoModeStatus is a point-in-time view of the scheduler.
type AutoModeStatus struct {
	State          SchedulerState   `json:"state"`
	Running        []RunningFeature `json:"running"`
	RunningCount   int              `json:"runningCount"`
	MaxConcurrency int              `json:"maxConcurrency"`
}

// ReopenResult is the outcome of Reopen. Run is set when reopening started a run.
type ReopenResult struct {
	Feature *domain.Feature
	Run     *RunHandle
}

// exit reasons of the control loop.
type loopExit int

const (
	exitStopped loopExit = iota
	exitIdle
	exitFatal
)

// AutoMode is the scheduler: a single control loop that selects eligible features
// and drives up to MaxConcurrency runs at once. On-demand runs share its registry,
// so a feature never has two live runs.
type AutoMode struct {
	features    domain.FeatureRepository
	worktrees   domain.WorktreeManager
	executor    domain.AgentExecutor
	prompts     domain.PromptBuilder
	transcripts domain.TranscriptStore
	events      domain.EventPublisher
	pipelines   domain.PipelineLoader
	logger      domain.Logger
	clock       domain.Clock
	registry    *RunRegistry
	locks       domain.RunLocker
	transitions *Transitioner
	pipeline    *domain.Pipeline
	held        map[string]bool // Not reselected until restart or a manual run
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	stopped     chan struct{} // Closed when the current session returns to idle
	wake        chan struct{}
	fatalCh     chan error
	fatalErr    error
	repoRoot    string
	state       SchedulerState
	agent       domain.AgentConfig
	auto        domain.AutoConfig
	mu          sync.Mutex
}

// NewAutoMode creates a new AutoMode scheduler.
func NewAutoMode(deps AutoModeDeps) *AutoMode {
	registry := deps.Registry
	if registry == nil {
		registry = NewRunRegistry()
	}
	auto := deps.Auto
	if auto.MaxConcurrency < 1 {
		auto.MaxConcurrency = domain.DefaultMaxConcurrency
	}
	if auto.PollInterval <= 0 {
		auto.PollInterval = domain.DefaultPollInterval
	}
	locks := deps.Locks
	if locks == nil {
		locks = localLocks{}
	}
	return &AutoMode{
		features:    deps.Features,
		worktrees:   deps.Worktrees,
		executor:    deps.Executor,
		prompts:     deps.Prompts,
		transcripts: deps.Transcripts,
		events:      deps.Events,
		pipelines:   deps.Pipelines,
		logger:      deps.Logger,
		clock:       deps.Clock,
		registry:    registry,
		locks:       locks,
		transitions: NewTransitioner(deps.Features, deps.Events, deps.Clock),
		held:        make(map[string]bool),
		wake:        make(chan struct{}, 1),
		fatalCh:     make(chan error, 1),
		repoRoot:    deps.RepoRoot,
		state:       StateIdle,
		agent:       deps.Agent,
		auto:        auto,
	}
}

// Start begins auto mode. Runs left open by a process that is gone are sealed
// as cancelled and their features returned to backlog before the first selection.
func (a *AutoMode) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return domain.ErrSchedulerRunning
	}
	p, err := a.pipelines.LoadPipeline()
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("load pipeline: %w", err)
	}
	a.pipeline = p
	a.held = make(map[string]bool)
	a.fatalErr = nil
	a.state = StateRunning
	a.mu.Unlock()

	if err := a.recoverInterrupted(ctx, p); err != nil {
		a.setState(StateIdle)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	a.mu.Lock()
	if a.state != StateRunning {
		// Stopped during recovery.
		a.mu.Unlock()
		cancel()
		return nil
	}
	a.loopCancel = cancel
	a.loopDone = done
	a.stopped = make(chan struct{})
	a.mu.Unlock()

	a.logger.Info("", "scheduler", fmt.Sprintf("auto mode started (max concurrency %d)", a.auto.MaxConcurrency))
	a.publish(domain.EventAutoModeStarted, "", domain.AutoModePayload{
		MaxConcurrency: a.auto.MaxConcurrency,
		Running:        a.registry.Count(),
	})

	go a.run(loopCtx, done)
	return nil
}

// Stop ends auto mode. It stops selection, cancels every live run, and returns
// once each run has applied its final status. When ctx expires first the
// scheduler finishes stopping in the background.
func (a *AutoMode) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateIdle {
		a.mu.Unlock()
		return domain.ErrSchedulerNotRunning
	}
	owner := a.state == StateRunning
	a.state = StateStopping
	cancel, done := a.loopCancel, a.loopDone
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("stop auto mode: %w", ctx.Err())
		}
	}
	if !owner {
		// A concurrent exit already finished the shutdown.
		return nil
	}

	runs := a.cancelAll()
	if err := waitRuns(ctx, runs); err != nil {
		go func() {
			_ = waitRuns(context.Background(), runs)
			a.finishStop(domain.EventAutoModeStopped, nil)
		}()
		return fmt.Errorf("stop auto mode: %w", err)
	}
	a.finishStop(domain.EventAutoModeStopped, nil)
	return nil
}

// Wait blocks until the scheduler returns to idle or ctx is done.
// It returns the fatal store error that halted the loop, if any.
func (a *AutoMode) Wait(ctx context.Context) error {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped != nil {
		select {
		case <-stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatalErr
}

// RunFeature starts a single run outside of the selection loop.
// A feature in a pipeline stage runs that stage; any other feature that may enter
// in_progress runs in implement (or resume) mode.
func (a *AutoMode) RunFeature(ctx context.Context, id string, opts RunOptions) (*RunHandle, error) {
	f, err := a.features.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get feature: %w", err)
	}
	p, err := a.currentPipeline()
	if err != nil {
		return nil, err
	}
	mode, err := runModeFor(f, opts, p)
	if err != nil {
		return nil, err
	}
	a.unhold(id)
	return a.launch(ctx, f, mode, p)
}

// VerifyFeature starts a verification run for a feature waiting for approval.
func (a *AutoMode) VerifyFeature(ctx context.Context, id string) (*RunHandle, error) {
	f, err := a.features.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get feature: %w", err)
	}
	if f.Status != domain.StatusWaitingApproval {
		return nil, fmt.Errorf("%w: cannot verify a feature in %s", domain.ErrInvalidTransition, f.Status)
	}
	p, err := a.currentPipeline()
	if err != nil {
		return nil, err
	}
	return a.launch(ctx, f, domain.ModeVerify, p)
}

// ForceStop cancels the live run of one feature and waits for it to apply its
// final status. The feature is not reselected by the loop until a manual run.
func (a *AutoMode) ForceStop(ctx context.Context, id string) error {
	run, ok := a.registry.get(id)
	if !ok {
		return domain.ErrNoActiveRun
	}
	a.hold(id)
	a.logger.Info(id, "scheduler", "force stop requested")
	run.cancel()
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("force stop %s: %w", id, ctx.Err())
	}
}

// Approve accepts a feature waiting for approval and removes its worktree.
func (a *AutoMode) Approve(ctx context.Context, id string) (*domain.Feature, error) {
	if a.registry.Has(id) {
		return nil, domain.ErrRunActive
	}
	f, err := a.features.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get feature: %w", err)
	}
	if f.Status != domain.StatusWaitingApproval {
		return nil, fmt.Errorf("%w: cannot approve a feature in %s", domain.ErrInvalidTransition, f.Status)
	}
	p, err := a.currentPipeline()
	if err != nil {
		return nil, err
	}
	f, err = a.transitions.Apply(ctx, id, domain.StatusVerified, nil, p)
	if err != nil {
		return nil, err
	}
	a.cleanupWorktree(ctx, id)
	a.wakeLoop()
	return a.features.Get(ctx, id)
}

// Reopen puts a finished feature back to work. A verified feature starts a new
// implement run; a failed or waiting feature returns to backlog.
func (a *AutoMode) Reopen(ctx context.Context, id string) (*ReopenResult, error) {
	f, err := a.features.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get feature: %w", err)
	}
	switch f.Status {
	case domain.StatusVerified:
		h, err := a.RunFeature(ctx, id, RunOptions{})
		if err != nil {
			return nil, err
		}
		return &ReopenResult{Feature: f, Run: h}, nil
	case domain.StatusFailed, domain.StatusWaitingApproval:
		if a.registry.Has(id) {
			return nil, domain.ErrRunActive
		}
		p, err := a.currentPipeline()
		if err != nil {
			return nil, err
		}
		f, err = a.transitions.Apply(ctx, id, domain.StatusBacklog, nil, p)
		if err != nil {
			return nil, err
		}
		a.unhold(id)
		a.wakeLoop()
		return &ReopenResult{Feature: f}, nil
	default:
		return nil, fmt.Errorf("%w: cannot reopen a feature in %s", domain.ErrInvalidTransition, f.Status)
	}
}

// RunningCount returns the number of live runs.
func (a *AutoMode) RunningCount() int {
	return a.registry.Count()
}

// RunningFeatures lists the live runs.
func (a *AutoMode) RunningFeatures() []RunningFeature {
	return a.registry.Snapshot()
}

// State returns the scheduler state.
func (a *AutoMode) State() SchedulerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Status returns the scheduler state together with the live runs.
func (a *AutoMode) Status() AutoModeStatus {
	running := a.registry.Snapshot()
	return AutoModeStatus{
		State:          a.State(),
		Running:        running,
		RunningCount:   len(running),
		MaxConcurrency: a.auto.MaxConcurrency,
	}
}

// run drives the control loop and finishes a self-initiated shutdown.
func (a *AutoMode) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	exit, fatal := a.loop(ctx)
	if exit == exitStopped {
		return
	}

	a.mu.Lock()
	owner := a.state == StateRunning
	if owner {
		a.state = StateStopping
	}
	a.mu.Unlock()
	if !owner {
		return
	}

	_ = waitRuns(context.Background(), a.cancelAll())
	if exit == exitFatal {
		a.logger.Error("", "store", "auto mode halted: "+fatal.Error())
		a.finishStop(domain.EventAutoModeFatal, fatal)
		return
	}
	a.finishStop(domain.EventAutoModeStopped, nil)
}

// loop runs selection passes until it is cancelled, goes idle with ExitWhenIdle,
// or a run reports a fatal store error.
func (a *AutoMode) loop(ctx context.Context) (loopExit, error) {
	ticker := time.NewTicker(a.auto.PollInterval)
	defer ticker.Stop()

	idle := false
	for {
		if ctx.Err() != nil {
			return exitStopped, nil
		}

		launched, err := a.selectAndLaunch(ctx)
		if errors.Is(err, domain.ErrFatalStore) {
			return exitFatal, err
		}
		if err != nil {
			a.logger.Warn("", "scheduler", "selection pass: "+err.Error())
		}

		switch {
		case launched > 0:
			idle = false
		case a.registry.Count() == 0 && err == nil:
			if !idle {
				idle = true
				a.logger.Info("", "scheduler", "no eligible features")
				a.publish(domain.EventAutoModeIdle, "", domain.AutoModePayload{MaxConcurrency: a.auto.MaxConcurrency})
			}
			if a.auto.ExitWhenIdle {
				return exitIdle, nil
			}
		}

		select {
		case <-ctx.Done():
			return exitStopped, nil
		case err := <-a.fatalCh:
			return exitFatal, err
		case <-a.wake:
		case <-ticker.C:
		}
	}
}

// selectAndLaunch starts runs for eligible features while slots are free.
func (a *AutoMode) selectAndLaunch(ctx context.Context) (int, error) {
	slots := a.auto.MaxConcurrency - a.registry.Count()
	if slots <= 0 {
		return 0, nil
	}

	features, err := a.features.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list features: %w", err)
	}

	exclude := a.registry.IDs()
	a.mu.Lock()
	for id := range a.held {
		exclude[id] = true
	}
	p := a.pipeline
	a.mu.Unlock()

	launched := 0
	for _, f := range domain.SelectEligible(features, exclude, slots, p) {
		mode := domain.ModeImplement
		if f.Status.IsStage() {
			mode = domain.ModeStage
		}
		if _, err := a.launch(ctx, f, mode, p); err != nil {
			// A manual run grabbed the feature after the snapshot.
			continue
		}
		launched++
	}
	return launched, nil
}

// launch reserves the feature in the registry, takes its run lock, and runs the
// sequence in its own goroutine. The lock is held until the run has settled.
func (a *AutoMode) launch(ctx context.Context, f *domain.Feature, mode domain.RunMode, p *domain.Pipeline) (*RunHandle, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run, err := a.registry.reserve(f.ID, mode, cancel, a.clock.Now())
	if err != nil {
		cancel()
		return nil, err
	}
	unlock, err := a.locks.TryLock(f.ID)
	if err != nil {
		a.registry.release(run)
		cancel()
		return nil, fmt.Errorf("lock feature %s: %w", f.ID, err)
	}

	go func() {
		defer cancel()
		res := a.runSequence(runCtx, f, mode, p, run)
		unlock()
		a.registry.release(run)
		run.finish(res)
		a.wakeLoop()
	}()
	return &RunHandle{run: run}, nil
}

// recoverInterrupted seals runs left open without a live process and returns
// their features from in_progress to backlog. A feature whose run lock is held
// belongs to a live run in another process and is left alone.
func (a *AutoMode) recoverInterrupted(ctx context.Context, p *domain.Pipeline) error {
	features, err := a.features.List(ctx)
	if err != nil {
		return fmt.Errorf("list features: %w", err)
	}
	for _, f := range features {
		if a.registry.Has(f.ID) {
			continue
		}
		last := f.LastRun()
		if (last == nil || last.IsSealed()) && f.Status != domain.StatusInProgress {
			continue
		}
		if err := a.reclaim(ctx, f.ID, p); err != nil {
			return err
		}
	}
	return nil
}

// reclaim recovers one interrupted feature while holding its run lock.
func (a *AutoMode) reclaim(ctx context.Context, id string, p *domain.Pipeline) error {
	unlock, err := a.locks.TryLock(id)
	if errors.Is(err, domain.ErrRunActive) {
		a.logger.Debug(id, "scheduler", "run is live in another process")
		return nil
	}
	if err != nil {
		a.logger.Warn(id, "scheduler", "recover interrupted feature: "+err.Error())
		return nil
	}
	defer unlock()

	// Re-read under the lock: the other process may have settled in between.
	f, err := a.features.Get(ctx, id)
	if errors.Is(err, domain.ErrFeatureNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get feature: %w", err)
	}

	if last := f.LastRun(); last != nil && !last.IsSealed() {
		_, err := a.features.SealRun(ctx, id, last.ID, domain.RunSeal{
			EndedAt: a.clock.Now(),
			Outcome: domain.OutcomeCancelled,
			Detail:  "interrupted",
		})
		if errors.Is(err, domain.ErrFatalStore) {
			return fmt.Errorf("seal interrupted run: %w", err)
		}
		if err != nil && !errors.Is(err, domain.ErrRunSealed) {
			a.logger.Warn(id, "scheduler", "seal interrupted run: "+err.Error())
		}
	}
	if f.Status != domain.StatusInProgress {
		return nil
	}
	if _, err := a.transitions.Apply(ctx, id, domain.StatusBacklog, nil, p); err != nil {
		if errors.Is(err, domain.ErrFatalStore) {
			return err
		}
		a.logger.Warn(id, "scheduler", "recover interrupted feature: "+err.Error())
		return nil
	}
	a.logger.Info(id, "scheduler", "returned interrupted feature to backlog")
	return nil
}

// localLocks is the RunLocker of a scheduler without cross-process locks.
// The registry already excludes concurrent runs inside the process.
type localLocks struct{}

func (localLocks) TryLock(string) (func(), error) { return func() {}, nil }

// cancelAll cancels every live run, manual ones included, and returns them.
func (a *AutoMode) cancelAll() []*activeRun {
	runs := a.registry.all()
	for _, run := range runs {
		run.cancel()
	}
	return runs
}

func waitRuns(ctx context.Context, runs []*activeRun) error {
	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// finishStop marks the scheduler idle and announces it.
func (a *AutoMode) finishStop(typ domain.EventType, fatal error) {
	a.mu.Lock()
	a.state = StateIdle
	a.fatalErr = fatal
	a.loopCancel = nil
	if a.stopped != nil {
		close(a.stopped)
		a.stopped = nil
	}
	// Drain a fatal report that raced the shutdown.
	select {
	case <-a.fatalCh:
	default:
	}
	a.mu.Unlock()

	if typ == domain.EventAutoModeFatal {
		a.publish(typ, "", domain.ErrorPayload{
			Message: fatal.Error(),
			Phase:   "store",
			Kind:    errorKind(fatal),
		})
		return
	}
	a.logger.Info("", "scheduler", "auto mode stopped")
	a.publish(typ, "", domain.AutoModePayload{Running: a.registry.Count()})
}

// reportFatal hands a fatal store error to the control loop.
func (a *AutoMode) reportFatal(err error) {
	select {
	case a.fatalCh <- err:
	default:
	}
}

func (a *AutoMode) wakeLoop() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *AutoMode) hold(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held[id] = true
}

func (a *AutoMode) unhold(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.held, id)
}

func (a *AutoMode) isRunning() bool {
	return a.State() == StateRunning
}

func (a *AutoMode) setState(s SchedulerState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// currentPipeline returns the pipeline of the running loop, or a fresh load when idle.
func (a *AutoMode) currentPipeline() (*domain.Pipeline, error) {
	a.mu.Lock()
	if a.state != StateIdle {
		p := a.pipeline
		a.mu.Unlock()
		return p, nil
	}
	a.mu.Unlock()

	p, err := a.pipelines.LoadPipeline()
	if err != nil {
		return nil, fmt.Errorf("load pipeline: %w", err)
	}
	return p, nil
}

func (a *AutoMode) publish(typ domain.EventType, featureID string, payload any) {
	publish(a.events, a.clock, typ, featureID, payload)
}

// runModeFor picks the mode of an on-demand run.
func runModeFor(f *domain.Feature, opts RunOptions, p *domain.Pipeline) (domain.RunMode, error) {
	if f.Status.IsStage() {
		if _, _, ok := p.Stage(f.Status.StageID()); ok {
			return domain.ModeStage, nil
		}
		return "", fmt.Errorf("%w: unknown stage %s", domain.ErrInvalidStatus, f.Status.StageID())
	}
	if !f.Status.CanTransitionTo(domain.StatusInProgress, p) {
		return "", fmt.Errorf("%w: cannot run a feature in %s", domain.ErrInvalidTransition, f.Status)
	}
	if opts.Resume && f.LastSessionID() != "" {
		return domain.ModeResume, nil
	}
	return domain.ModeImplement, nil
}

// errorKind names the class of an error for error event payloads.
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrFatalStore):
		return "fatal_store"
	case errors.Is(err, domain.ErrWorktree):
		return "worktree"
	case errors.Is(err, domain.ErrExecutorLaunch):
		return "executor_launch"
	case errors.Is(err, domain.ErrExecutorTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "transition"
	default:
		return "internal"
	}
}
