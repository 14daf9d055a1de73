package domain

import "time"

// EventType is the tag of an Event.
type EventType string

// Auto-mode lifecycle events. They carry no FeatureID unless noted.
const (
	EventAutoModeStarted EventType = "auto_mode_started"
	EventAutoModeStopped EventType = "auto_mode_stopped"
	EventAutoModeIdle    EventType = "auto_mode_idle"
	EventAutoModeError   EventType = "auto_mode_error" // Recoverable, may carry a FeatureID
	EventAutoModeFatal   EventType = "auto_mode_fatal"
)

// Per-feature events.
const (
	EventFeatureStarted       EventType = "feature_started"
	EventFeaturePhase         EventType = "feature_phase"
	EventFeatureProgress      EventType = "feature_progress"
	EventFeatureToolUse       EventType = "feature_tool_use"
	EventFeatureToolResult    EventType = "feature_tool_result"
	EventFeatureError         EventType = "feature_error"
	EventFeatureComplete      EventType = "feature_complete"
	EventFeatureStatusChanged EventType = "feature_status_changed"
	EventFeatureUpdated       EventType = "feature_updated"
	EventWorktreeCreated      EventType = "worktree_created"
	EventWorktreeRemoved      EventType = "worktree_removed"
)

// Event is an ephemeral notification distributed by the event bus.
// An empty FeatureID marks a global event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	FeatureID string    `json:"featureId,omitempty"`
}

// PhasePayload reports a step of the run sequence (worktree, prompt, agent, transition).
type PhasePayload struct {
	Phase   string `json:"phase"`
	Message string `json:"message,omitempty"`
}

// ProgressPayload carries assistant text.
type ProgressPayload struct {
	RunID string `json:"runId"`
	Text  string `json:"text"`
}

// ToolUsePayload carries a normalized tool call.
type ToolUsePayload struct {
	Input any      `json:"input,omitempty"`
	RunID string   `json:"runId"`
	ID    string   `json:"id,omitempty"`
	Name  string   `json:"name"`
	Kind  ToolKind `json:"kind"`
}

// ToolResultPayload carries the result of a tool call.
type ToolResultPayload struct {
	RunID   string `json:"runId"`
	ID      string `json:"id,omitempty"`
	Output  string `json:"output"`
	IsError bool   `json:"isError,omitempty"`
}

// ErrorPayload carries a human-readable error.
type ErrorPayload struct {
	Message string `json:"message"`
	Phase   string `json:"phase,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// CompletePayload is emitted once a run's status transition has been applied.
type CompletePayload struct {
	RunID   string     `json:"runId"`
	Mode    RunMode    `json:"mode"`
	Outcome RunOutcome `json:"outcome"`
	Status  Status     `json:"status"`
	Summary string     `json:"summary,omitempty"`
}

// StatusChangedPayload is emitted for every status write.
type StatusChangedPayload struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

// WorktreePayload describes a created or removed worktree.
type WorktreePayload struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Reused bool   `json:"reused,omitempty"`
}

// AutoModePayload describes the scheduler state for lifecycle events.
type AutoModePayload struct {
	Message        string `json:"message,omitempty"`
	MaxConcurrency int    `json:"maxConcurrency,omitempty"`
	Running        int    `json:"running"`
}

// FeatureUpdatedPayload reports a feature record changed outside the running process.
type FeatureUpdatedPayload struct {
	Version int64 `json:"version,omitempty"`
	Deleted bool  `json:"deleted,omitempty"`
}

// StartedPayload is emitted once a run record has been opened.
type StartedPayload struct {
	RunID        string  `json:"runId"`
	Mode         RunMode `json:"mode"`
	StageID      string  `json:"stageId,omitempty"`
	WorktreePath string  `json:"worktreePath,omitempty"`
	Dir          string  `json:"dir"`
}
