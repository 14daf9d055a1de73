package domain

import "time"

// Config represents the application configuration.
type Config struct {
	Providers map[string]ProviderConfig `toml:"providers"` // [providers.<name>] overrides
	Warnings  []string                  `toml:"-"`
	Agent     AgentConfig               `toml:"agent"`
	NATS      NATSConfig                `toml:"nats"`
	Server    ServerConfig              `toml:"server"`
	Store     StoreConfig               `toml:"store"`
	Log       LogConfig                 `toml:"log"`
	Worktree  WorktreeConfig            `toml:"worktree"`
	Auto      AutoConfig                `toml:"auto"`
}

// AutoConfig holds scheduler settings from the [auto] section.
// Fields are ordered to minimize memory padding.
type AutoConfig struct {
	ReasoningEffort ReasoningEffort `toml:"reasoning_effort"` // Default effort for features without one
	BaseTimeout     time.Duration   `toml:"base_timeout"`     // Per-run base timeout, scaled by effort
	PollInterval    time.Duration   `toml:"poll_interval"`    // Selection pass interval while idle
	MaxConcurrency  int             `toml:"max_concurrency"`
	MaxAutoRetries  int             `toml:"max_auto_retries"` // 0 disables automatic retry
	UseWorktrees    bool            `toml:"use_worktrees"`
	ExitWhenIdle    bool            `toml:"exit_when_idle"`
}

// AgentConfig holds agent settings from the [agent] section.
type AgentConfig struct {
	Provider     string   `toml:"provider"`
	Model        string   `toml:"model"`
	AllowedTools []string `toml:"allowed_tools"`
}

// ProviderConfig overrides the command line of a provider profile.
type ProviderConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// StoreConfig selects the feature store backend from the [store] section.
type StoreConfig struct {
	Backend string `toml:"backend"` // "json" (default) or "sqlite"
}

// ServerConfig holds HTTP server settings from the [server] section.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"` // Browser origins trusted besides loopback
}

// NATSConfig holds the optional event bridge settings from the [nats] section.
type NATSConfig struct {
	URL           string `toml:"url"` // Empty disables the bridge
	SubjectPrefix string `toml:"subject_prefix"`
}

// WorktreeConfig holds worktree settings from the [worktree] section.
type WorktreeConfig struct {
	SetupScript string `toml:"setup_script"` // Run with sh -c in every new worktree
}

// ConfigInfo holds information about a config file.
type ConfigInfo struct {
	Path    string
	Content string
	Exists  bool
}

// LogConfig holds logging settings from the [log] section.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Store backends.
const (
	StoreBackendJSON   = "json"
	StoreBackendSQLite = "sqlite"
)

// Default configuration values.
const (
	DefaultMaxConcurrency = 3
	DefaultBaseTimeout    = 30 * time.Minute
	DefaultPollInterval   = 2 * time.Second
	DefaultProvider       = "claude"
	DefaultServerAddr     = "127.0.0.1:3008"
	DefaultSubjectPrefix  = "autocrew"
	DefaultLogLevel       = "info"
)

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Providers: make(map[string]ProviderConfig),
		Auto: AutoConfig{
			MaxConcurrency:  DefaultMaxConcurrency,
			UseWorktrees:    true,
			BaseTimeout:     DefaultBaseTimeout,
			ReasoningEffort: EffortNone,
			PollInterval:    DefaultPollInterval,
		},
		Agent: AgentConfig{
			Provider: DefaultProvider,
		},
		Store:  StoreConfig{Backend: StoreBackendJSON},
		Server: ServerConfig{Addr: DefaultServerAddr},
		NATS:   NATSConfig{SubjectPrefix: DefaultSubjectPrefix},
		Log:    LogConfig{Level: DefaultLogLevel},
	}
}
