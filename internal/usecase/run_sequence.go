package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/runoshun/autocrew/internal/domain"
)

// maxToolResultLen caps the tool output kept on a run record.
const maxToolResultLen = 2000

// Run sequence phases, used as log categories and in phase events.
const (
	phaseReserve    = "reserve"
	phaseWorktree   = "worktree"
	phasePrompt     = "prompt"
	phaseExecutor   = "executor"
	phaseStore      = "store"
	phaseTransition = "transition"
)

// runSequence takes one feature through a full run: reservation, worktree,
// prompt, agent stream, sealing and the status transition. Every error is
// handled here; a fatal store error is also reported to the control loop.
func (a *AutoMode) runSequence(ctx context.Context, f *domain.Feature, mode domain.RunMode, p *domain.Pipeline, run *activeRun) RunResult {
	id := f.ID
	// Store writes outlive cancellation so that a stopped run still settles.
	storeCtx := context.WithoutCancel(ctx)

	if mode == domain.ModeImplement || mode == domain.ModeResume {
		from := f.Status
		updated, err := a.features.UpdateStatus(storeCtx, domain.StatusUpdate{
			ID:              id,
			Status:          domain.StatusInProgress,
			ExpectedVersion: f.Version,
		})
		if err != nil {
			// Someone else changed the feature since selection; it is not ours to run.
			a.logger.Warn(id, phaseReserve, "reserve feature: "+err.Error())
			if errors.Is(err, domain.ErrFatalStore) {
				a.reportFatal(err)
			}
			a.publishError(id, phaseReserve, err)
			return RunResult{Err: err, Status: from}
		}
		f = updated
		a.publish(domain.EventFeatureStatusChanged, id, domain.StatusChangedPayload{From: from, To: domain.StatusInProgress})
	}

	var stage *domain.PipelineStage
	if mode == domain.ModeStage {
		st, _, ok := p.Stage(f.Status.StageID())
		if !ok {
			err := fmt.Errorf("%w: unknown stage %s", domain.ErrInvalidStatus, f.Status.StageID())
			return a.abortRun(storeCtx, f, mode, p, "", phasePrompt, err)
		}
		stage = &st
	}

	dir := a.repoRoot
	worktreePath := ""
	if a.auto.UseWorktrees {
		a.phase(id, phaseWorktree, "creating worktree")
		wt, err := a.worktrees.Create(ctx, id)
		if err != nil {
			return a.abortRun(storeCtx, f, mode, p, "", phaseWorktree, err)
		}
		updated, err := a.features.SetWorktree(storeCtx, id, wt.Ref())
		if err != nil {
			return a.abortRun(storeCtx, f, mode, p, "", phaseStore, fmt.Errorf("record worktree: %w", err))
		}
		f = updated
		a.publish(domain.EventWorktreeCreated, id, domain.WorktreePayload{Path: wt.Path, Branch: wt.Branch, Reused: wt.Reused})
		dir = wt.Path
		worktreePath = wt.Path
	}

	a.phase(id, phasePrompt, "building prompt")
	prompt, err := a.prompts.Build(domain.PromptRequest{
		Feature:     f,
		Stage:       stage,
		ProjectPath: dir,
		Mode:        mode,
	})
	if err != nil {
		return a.abortRun(storeCtx, f, mode, p, "", phasePrompt, fmt.Errorf("build prompt: %w", err))
	}

	runID := domain.NewRunID()
	transcript, ref, err := a.transcripts.Open(id, runID)
	if err != nil {
		a.logger.Warn(id, phaseStore, "open transcript: "+err.Error())
		transcript, ref = nil, ""
	}
	if transcript != nil {
		defer func() {
			if err := transcript.Close(); err != nil {
				a.logger.Warn(id, phaseStore, "close transcript: "+err.Error())
			}
		}()
	}

	record := domain.RunRecord{
		StartedAt:      a.clock.Now(),
		ID:             runID,
		Mode:           mode,
		AgentOutputRef: ref,
	}
	if stage != nil {
		record.StageID = stage.ID
	}
	if _, err := a.features.StartRun(storeCtx, id, record); err != nil {
		return a.abortRun(storeCtx, f, mode, p, "", phaseStore, fmt.Errorf("start run: %w", err))
	}
	a.registry.setRunID(run, runID)
	a.logger.Info(id, "scheduler", fmt.Sprintf("run %s started (%s)", runID, mode))
	a.publish(domain.EventFeatureStarted, id, domain.StartedPayload{
		RunID:        runID,
		Mode:         mode,
		StageID:      record.StageID,
		WorktreePath: worktreePath,
		Dir:          dir,
	})

	opts := domain.ExecuteOptions{
		Prompt:       prompt,
		Dir:          dir,
		Model:        firstNonEmpty(f.Model, a.agent.Model),
		Provider:     a.agent.Provider,
		Effort:       f.ReasoningEffort.Or(a.auto.ReasoningEffort),
		AllowedTools: a.agent.AllowedTools,
		Timeout:      a.auto.BaseTimeout,
	}
	if mode == domain.ModeResume {
		opts.ResumeSessionID = f.LastSessionID()
	}

	a.phase(id, phaseExecutor, "starting agent")
	stream, err := a.executor.Run(ctx, opts)
	if err != nil {
		return a.abortRun(storeCtx, f, mode, p, runID, phaseExecutor, err)
	}

	seal := a.consume(ctx, id, runID, stream, transcript)
	seal.EndedAt = a.clock.Now()
	if sealed, err := a.features.SealRun(storeCtx, id, runID, seal); err != nil {
		a.logger.Error(id, phaseStore, "seal run: "+err.Error())
		if errors.Is(err, domain.ErrFatalStore) {
			a.reportFatal(err)
		}
	} else {
		f = sealed
	}

	a.phase(id, phaseTransition, string(seal.Outcome))
	status := a.settle(storeCtx, f, mode, p, seal)

	a.logger.Info(id, "scheduler", fmt.Sprintf("run %s finished: %s -> %s", runID, seal.Outcome, status))
	if seal.Outcome.IsFailure() {
		a.publish(domain.EventFeatureError, id, domain.ErrorPayload{
			Message: firstNonEmpty(seal.Detail, string(seal.Outcome)),
			Phase:   phaseExecutor,
			Kind:    string(seal.Outcome),
		})
	}
	a.publish(domain.EventFeatureComplete, id, domain.CompletePayload{
		RunID:   runID,
		Mode:    mode,
		Outcome: seal.Outcome,
		Status:  status,
		Summary: seal.Summary,
	})

	return RunResult{
		RunID:   runID,
		Outcome: seal.Outcome,
		Status:  status,
		Summary: seal.Summary,
	}
}

// settle applies the status decided for the sealed run and returns the final status.
func (a *AutoMode) settle(ctx context.Context, f *domain.Feature, mode domain.RunMode, p *domain.Pipeline, seal domain.RunSeal) domain.Status {
	var target domain.Status
	if mode == domain.ModeVerify {
		target = domain.DecideVerifyStatus(seal.Outcome)
	} else {
		target = domain.DecideNextStatus(f, seal.Outcome, p)
	}

	var summary *string
	if seal.Outcome == domain.OutcomeSuccess && seal.Summary != "" {
		summary = &seal.Summary
	}

	updated, err := a.transitions.Apply(ctx, f.ID, target, summary, p)
	if err != nil {
		a.logger.Error(f.ID, phaseTransition, err.Error())
		if errors.Is(err, domain.ErrFatalStore) {
			a.reportFatal(err)
		}
		a.publishError(f.ID, phaseTransition, err)
		if updated != nil {
			return updated.Status
		}
		return f.Status
	}
	status := updated.Status

	if status == domain.StatusFailed && mode != domain.ModeVerify && a.shouldRetry(updated) {
		if retried, err := a.transitions.Apply(ctx, f.ID, domain.StatusBacklog, nil, p); err != nil {
			a.logger.Warn(f.ID, phaseTransition, "auto retry: "+err.Error())
		} else {
			a.logger.Info(f.ID, "scheduler", fmt.Sprintf("auto retry %d of %d", updated.ConsecutiveFailures(), a.auto.MaxAutoRetries))
			status = retried.Status
		}
	}

	if status == domain.StatusVerified {
		a.cleanupWorktree(ctx, f.ID)
	}
	return status
}

// shouldRetry reports whether the scheduler returns a failed feature to backlog.
func (a *AutoMode) shouldRetry(f *domain.Feature) bool {
	if a.auto.MaxAutoRetries <= 0 || !a.isRunning() {
		return false
	}
	return f.ConsecutiveFailures() <= a.auto.MaxAutoRetries
}

// consume drains the agent stream. Every message is written to the transcript
// before it is re-emitted, so both share the order of the stream.
func (a *AutoMode) consume(ctx context.Context, id, runID string, stream <-chan domain.AgentMessage, transcript domain.TranscriptWriter) domain.RunSeal {
	var seal domain.RunSeal
	pending := make(map[string]int)
	terminal := false
	appendFailed := false

	for msg := range stream {
		if transcript != nil && !appendFailed {
			if err := transcript.Append(msg); err != nil {
				appendFailed = true
				a.logger.Warn(id, phaseStore, "append transcript: "+err.Error())
			}
		}
		if msg.SessionID != "" {
			seal.SessionID = msg.SessionID
		}

		if msg.IsTerminal() {
			terminal = true
			seal.Outcome = outcomeOf(msg.Subtype)
			switch seal.Outcome {
			case domain.OutcomeSuccess:
				seal.Summary = msg.Result
			case domain.OutcomeTimeout:
				seal.Detail = firstNonEmpty(msg.Error, msg.Result, domain.ErrExecutorTimeout.Error())
			default:
				seal.Detail = firstNonEmpty(msg.Error, msg.Result)
			}
			continue
		}

		for _, b := range msg.Content {
			switch b.Kind {
			case domain.BlockText:
				if strings.TrimSpace(b.Text) == "" {
					continue
				}
				a.publish(domain.EventFeatureProgress, id, domain.ProgressPayload{RunID: runID, Text: b.Text})
			case domain.BlockToolUse:
				kind := b.ToolKind
				if kind == "" {
					kind = domain.ClassifyToolName(b.ToolName)
				}
				if b.ToolUseID != "" {
					pending[b.ToolUseID] = len(seal.ToolInvocations)
				}
				seal.ToolInvocations = append(seal.ToolInvocations, domain.ToolInvocation{
					ID:    b.ToolUseID,
					Name:  b.ToolName,
					Kind:  kind,
					Input: b.Input,
				})
				var input any
				if len(b.Input) > 0 {
					input = b.Input
				}
				a.publish(domain.EventFeatureToolUse, id, domain.ToolUsePayload{
					Input: input,
					RunID: runID,
					ID:    b.ToolUseID,
					Name:  b.ToolName,
					Kind:  kind,
				})
			case domain.BlockToolResult:
				if i, ok := pending[b.ToolUseID]; ok {
					seal.ToolInvocations[i].Result = truncate(b.Output, maxToolResultLen)
				}
				a.publish(domain.EventFeatureToolResult, id, domain.ToolResultPayload{
					RunID:   runID,
					ID:      b.ToolUseID,
					Output:  b.Output,
					IsError: b.IsError,
				})
			}
		}
	}

	if !terminal {
		if ctx.Err() != nil {
			seal.Outcome = domain.OutcomeCancelled
			seal.Detail = "cancelled"
		} else {
			seal.Outcome = domain.OutcomeFailure
			seal.Detail = "agent exited without a result"
		}
	}
	return seal
}

// abortRun handles an infrastructure failure before or at agent launch.
// The feature returns to its pre-run status, an open run is sealed as a failure,
// and the feature is held back from reselection.
func (a *AutoMode) abortRun(ctx context.Context, f *domain.Feature, mode domain.RunMode, p *domain.Pipeline, runID, phase string, cause error) RunResult {
	id := f.ID
	a.logger.Error(id, phase, cause.Error())
	if errors.Is(cause, domain.ErrFatalStore) {
		a.reportFatal(cause)
	}

	if runID != "" {
		_, err := a.features.SealRun(ctx, id, runID, domain.RunSeal{
			EndedAt: a.clock.Now(),
			Outcome: domain.OutcomeFailure,
			Detail:  cause.Error(),
		})
		if err != nil {
			a.logger.Warn(id, phaseStore, "seal run: "+err.Error())
		}
	}

	status := f.Status
	if mode == domain.ModeImplement || mode == domain.ModeResume {
		if updated, err := a.transitions.Apply(ctx, id, domain.StatusBacklog, nil, p); err != nil {
			a.logger.Error(id, phaseTransition, "revert to backlog: "+err.Error())
			if errors.Is(err, domain.ErrFatalStore) {
				a.reportFatal(err)
			}
		} else {
			status = updated.Status
		}
	}

	a.hold(id)
	a.publishError(id, phase, cause)
	return RunResult{Err: cause, RunID: runID, Status: status}
}

// cleanupWorktree removes the worktree of a verified feature. The branch is kept,
// and a worktree with uncommitted changes is left in place.
func (a *AutoMode) cleanupWorktree(ctx context.Context, id string) {
	if !a.auto.UseWorktrees {
		return
	}
	f, err := a.features.Get(ctx, id)
	if err != nil || f.Worktree == nil {
		return
	}
	ref := *f.Worktree

	err = a.worktrees.Remove(ctx, id, domain.RemoveOptions{})
	if errors.Is(err, domain.ErrUncommittedChanges) {
		a.logger.Info(id, phaseWorktree, "worktree kept: uncommitted changes")
		return
	}
	if err != nil {
		a.logger.Warn(id, phaseWorktree, "remove worktree: "+err.Error())
		a.publishError(id, phaseWorktree, err)
		return
	}
	if _, err := a.features.SetWorktree(ctx, id, nil); err != nil {
		a.logger.Warn(id, phaseStore, "clear worktree: "+err.Error())
	}
	a.publish(domain.EventWorktreeRemoved, id, domain.WorktreePayload{Path: ref.Path, Branch: ref.Branch})
}

func (a *AutoMode) phase(id, phase, msg string) {
	a.logger.Debug(id, phase, msg)
	a.publish(domain.EventFeaturePhase, id, domain.PhasePayload{Phase: phase, Message: msg})
}

// publishError emits a recoverable scheduler error for a feature.
func (a *AutoMode) publishError(id, phase string, err error) {
	a.publish(domain.EventAutoModeError, id, domain.ErrorPayload{
		Message: err.Error(),
		Phase:   phase,
		Kind:    errorKind(err),
	})
}

func outcomeOf(subtype domain.ResultSubtype) domain.RunOutcome {
	switch subtype {
	case domain.ResultSuccess:
		return domain.OutcomeSuccess
	case domain.ResultTimeout:
		return domain.OutcomeTimeout
	default:
		return domain.OutcomeFailure
	}
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
