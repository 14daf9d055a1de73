package domain

import (
	"encoding/json"
	"time"
)

// RunOutcome is the sealed result of one agent run.
type RunOutcome string

const (
	OutcomeSuccess   RunOutcome = "success"
	OutcomeFailure   RunOutcome = "failure"
	OutcomeCancelled RunOutcome = "cancelled"
	OutcomeTimeout   RunOutcome = "timeout"
)

// IsFailure returns true for outcomes the state machine treats as failed.
func (o RunOutcome) IsFailure() bool {
	return o == OutcomeFailure || o == OutcomeTimeout
}

// RunMode selects the prompt and the transition rules for a run.
type RunMode string

const (
	ModeImplement RunMode = "implement"
	ModeResume    RunMode = "resume"
	ModeVerify    RunMode = "verify"
	ModeStage     RunMode = "stage"
)

// RunRecord is one attempt at a feature. It is sealed once Outcome is set.
type RunRecord struct {
	StartedAt       time.Time        `json:"startedAt"`
	EndedAt         time.Time        `json:"endedAt,omitempty"`
	ID              string           `json:"id"`
	Mode            RunMode          `json:"mode"`
	StageID         string           `json:"stageId,omitempty"`
	Outcome         RunOutcome       `json:"outcome,omitempty"`
	Detail          string           `json:"detail,omitempty"`
	AgentOutputRef  string           `json:"agentOutputRef,omitempty"`
	SessionID       string           `json:"sessionId,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
}

// IsSealed returns true once the run has ended.
func (r *RunRecord) IsSealed() bool {
	return r.Outcome != ""
}

// ToolInvocation records a single tool call made by the agent during a run.
type ToolInvocation struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name"`
	Kind   ToolKind        `json:"kind"`
	Input  json.RawMessage `json:"input,omitempty"`
	Result string          `json:"result,omitempty"`
}

// RunSeal carries the fields written when a run ends.
type RunSeal struct {
	EndedAt         time.Time
	Outcome         RunOutcome
	Detail          string
	SessionID       string
	Summary         string
	ToolInvocations []ToolInvocation
}
