package domain

import (
	"context"
	"time"
)

// FeatureRepository persists features and their run history.
// It is the only component allowed to write feature records. Every mutation
// increments Version; mutations taking an expected version reject stale callers
// with *ConcurrentUpdateConflict. An expected version of 0 skips the check but
// is still serialized against other writers.
type FeatureRepository interface {
	// Create stores a new feature, assigning Seq and Version.
	Create(ctx context.Context, f *Feature) (*Feature, error)

	// Get retrieves a feature by ID. Returns ErrFeatureNotFound if missing.
	Get(ctx context.Context, id string) (*Feature, error)

	// List returns every feature in insertion order.
	List(ctx context.Context) ([]*Feature, error)

	// Delete removes a feature and its transcripts.
	Delete(ctx context.Context, id string) error

	// UpdateStatus is the sanctioned path for status and summary changes.
	UpdateStatus(ctx context.Context, u StatusUpdate) (*Feature, error)

	// UpdateContent applies user edits.
	UpdateContent(ctx context.Context, id string, expectedVersion int64, c FeatureContent) (*Feature, error)

	// SetDependencies replaces the dependency set after checking for cycles
	// inside the same critical section.
	SetDependencies(ctx context.Context, id string, expectedVersion int64, deps []string) (*Feature, error)

	// SetWorktree records or clears (nil) the worktree linkage.
	SetWorktree(ctx context.Context, id string, ref *WorktreeRef) (*Feature, error)

	// StartRun appends an open run record. Returns ErrRunActive if the last run is not sealed.
	StartRun(ctx context.Context, id string, run RunRecord) (*Feature, error)

	// SealRun closes a run record. Returns ErrRunSealed if it was already sealed.
	SealRun(ctx context.Context, id, runID string, seal RunSeal) (*Feature, error)
}

// WorktreeManager creates and tracks per-feature checkouts.
type WorktreeManager interface {
	// Create returns the feature's checkout, creating it if necessary.
	Create(ctx context.Context, featureID string) (*WorktreeInfo, error)

	// Status reports the working-tree state of the feature's checkout.
	Status(ctx context.Context, featureID string) (*WorktreeStatus, error)

	// Diff returns the unified diff of the checkout against HEAD.
	Diff(ctx context.Context, featureID string) (string, error)

	// Remove deletes the checkout. A checkout already gone from disk is forgotten without error.
	Remove(ctx context.Context, featureID string, opts RemoveOptions) error

	// ListAll returns the registered worktrees and the tracked-but-missing ones.
	ListAll(ctx context.Context) (*WorktreeListing, error)
}

// ExecuteOptions configures a single agent run.
type ExecuteOptions struct {
	Prompt          string
	Dir             string          // Working directory
	Model           string          // Model identifier, empty for the provider default
	Provider        string          // Provider profile name
	ResumeSessionID string          // Provider session to resume
	Effort          ReasoningEffort // Scales Timeout
	AllowedTools    []string
	Timeout         time.Duration // Base timeout, 0 for none
}

// AgentExecutor runs an AI coding agent.
// The returned channel yields assistant messages and at most one result, then closes.
// A channel that closes without a result is an abnormal end. Cancelling ctx stops the
// agent promptly. Launch failures are returned as *ExecutorLaunchError.
type AgentExecutor interface {
	Run(ctx context.Context, opts ExecuteOptions) (<-chan AgentMessage, error)
}

// PromptRequest is the input to a PromptBuilder.
type PromptRequest struct {
	Feature     *Feature
	Stage       *PipelineStage // Set for ModeStage
	ProjectPath string
	Mode        RunMode
}

// PromptBuilder renders the agent prompt for a run.
type PromptBuilder interface {
	Build(req PromptRequest) (string, error)
}

// TranscriptEntry is one persisted agent message.
type TranscriptEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Message   AgentMessage `json:"message"`
}

// TranscriptWriter appends agent messages to a run transcript.
type TranscriptWriter interface {
	Append(msg AgentMessage) error
	Close() error
}

// TranscriptStore owns append-only run transcripts.
type TranscriptStore interface {
	// Open creates the transcript of a run and returns its reference.
	Open(featureID, runID string) (TranscriptWriter, string, error)

	// Read returns the entries of a transcript in append order.
	Read(ref string) ([]TranscriptEntry, error)
}

// EventPublisher emits events.
type EventPublisher interface {
	Publish(e Event)
}

// EventSubscriber registers event callbacks. The returned function unsubscribes
// and is safe to call more than once.
type EventSubscriber interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}

// EventBus is both a publisher and a subscriber registry.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// Logger writes operational logs. An empty featureID logs globally.
type Logger interface {
	Info(featureID, category, msg string)
	Debug(featureID, category, msg string)
	Warn(featureID, category, msg string)
	Error(featureID, category, msg string)
}

// ConfigLoader loads configuration from files.
type ConfigLoader interface {
	// Load returns the merged configuration (default <- global <- repo).
	Load() (*Config, error)

	// LoadGlobal returns only the global configuration.
	LoadGlobal() (*Config, error)
}

// RunLocker guards features against concurrent runs across processes.
// A held lock proves that a live process owns the feature's run; the lock is
// released when the holder exits, crashed or not.
type RunLocker interface {
	// TryLock acquires the run lock of a feature without blocking.
	// Returns ErrRunActive when another holder owns it.
	TryLock(featureID string) (release func(), err error)
}

// PipelineLoader loads the configured pipeline stages.
type PipelineLoader interface {
	LoadPipeline() (*Pipeline, error)
}

// Clock provides time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// ConfigManager manages configuration files.
type ConfigManager interface {
	// GetRepoConfigInfo returns information about the repository config file.
	GetRepoConfigInfo() ConfigInfo

	// GetGlobalConfigInfo returns information about the global config file.
	GetGlobalConfigInfo() ConfigInfo

	// InitRepoConfig writes the config and pipeline templates into the data directory.
	// Returns ErrConfigExists if the config file already exists.
	InitRepoConfig() error

	// InitGlobalConfig writes the global config template.
	InitGlobalConfig() error
}
