package domain

import "strings"

// Status represents the lifecycle state of a feature.
type Status string

const (
	StatusBacklog         Status = "backlog"          // Queued, waiting to be picked up
	StatusInProgress      Status = "in_progress"      // Agent implementing
	StatusWaitingApproval Status = "waiting_approval" // Work complete, awaiting human sign-off
	StatusVerified        Status = "verified"         // Accepted
	StatusFailed          Status = "failed"           // Last run failed or timed out
)

// stagePrefix prefixes the status of a feature sitting in a pipeline stage.
const stagePrefix = "pipeline_"

// StageStatus returns the status for a pipeline stage.
func StageStatus(stageID string) Status {
	return Status(stagePrefix + stageID)
}

// IsStage returns true if the status names a pipeline stage.
func (s Status) IsStage() bool {
	return strings.HasPrefix(string(s), stagePrefix) && len(s) > len(stagePrefix)
}

// StageID returns the pipeline stage ID, or "" for built-in statuses.
func (s Status) StageID() string {
	if !s.IsStage() {
		return ""
	}
	return strings.TrimPrefix(string(s), stagePrefix)
}

// BuiltinStatuses returns the statuses that exist regardless of pipeline configuration.
func BuiltinStatuses() []Status {
	return []Status{
		StatusBacklog,
		StatusInProgress,
		StatusWaitingApproval,
		StatusVerified,
		StatusFailed,
	}
}

// transitions defines the allowed transitions between built-in statuses.
// Pipeline stages are handled in CanTransitionTo.
//
//	backlog → in_progress → [stage]* → waiting_approval → verified
//	              ↓              ↓             ↓
//	           failed ←──────────┴─────────────┘
var transitions = map[Status][]Status{
	StatusBacklog:         {StatusInProgress},
	StatusInProgress:      {StatusWaitingApproval, StatusVerified, StatusFailed, StatusBacklog},
	StatusWaitingApproval: {StatusVerified, StatusFailed, StatusInProgress, StatusBacklog},
	StatusVerified:        {StatusInProgress},
	StatusFailed:          {StatusBacklog, StatusInProgress},
}

// IsValid returns true if the status is built-in or a stage of the pipeline.
func (s Status) IsValid(p *Pipeline) bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	if s.IsStage() {
		_, _, ok := p.Stage(s.StageID())
		return ok
	}
	return false
}

// CanTransitionTo returns true if moving from s to target is legal under pipeline p.
// Stage statuses behave like in_progress and may only advance forward through the pipeline.
func (s Status) CanTransitionTo(target Status, p *Pipeline) bool {
	if !s.IsValid(p) || !target.IsValid(p) || s == target {
		return false
	}

	if s.IsStage() {
		if target.IsStage() {
			_, from, _ := p.Stage(s.StageID())
			_, to, _ := p.Stage(target.StageID())
			return to > from
		}
		return contains(transitions[StatusInProgress], target)
	}

	if target.IsStage() {
		return s == StatusInProgress
	}

	return contains(transitions[s], target)
}

// IsTerminal returns true if no agent work remains for the status.
// Verified can still be reopened by a user action.
func (s Status) IsTerminal() bool {
	return s == StatusVerified
}

// IsActive returns true if an agent is expected to be working on the feature.
func (s Status) IsActive() bool {
	return s == StatusInProgress || s.IsStage()
}

// Display returns a human-readable representation of the status.
func (s Status) Display() string {
	switch s {
	case StatusBacklog:
		return "Backlog"
	case StatusInProgress:
		return "In Progress"
	case StatusWaitingApproval:
		return "Waiting Approval"
	case StatusVerified:
		return "Verified"
	case StatusFailed:
		return "Failed"
	default:
		if s.IsStage() {
			return "Stage: " + s.StageID()
		}
		return string(s)
	}
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
