package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/autocrew/internal/domain"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, domain.ConfigFileName), []byte(content), 0o644))
}

func TestLoader_Load_Defaults(t *testing.T) {
	loader := NewLoaderWithGlobalDir(t.TempDir(), t.TempDir())

	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, domain.NewDefaultConfig(), cfg)
}

func TestLoader_Load_RepoConfigOnly(t *testing.T) {
	dataDir := t.TempDir()
	writeConfig(t, dataDir, `
[auto]
max_concurrency = 5
use_worktrees = false
base_timeout = "90s"
reasoning_effort = "high"
max_auto_retries = 2
exit_when_idle = true

[agent]
provider = "codex"
model = "gpt-5"
allowed_tools = ["Read", "Edit"]

[providers.codex]
command = "/opt/codex"
args = ["--verbose"]

[worktree]
setup_script = "npm ci"

[store]
backend = "sqlite"

[server]
addr = "127.0.0.1:4000"
allowed_origins = ["http://devbox.local:5173"]

[nats]
url = "nats://localhost:4222"

[log]
level = "debug"
`)

	cfg, err := NewLoaderWithGlobalDir(dataDir, t.TempDir()).Load()

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Auto.MaxConcurrency)
	assert.False(t, cfg.Auto.UseWorktrees)
	assert.Equal(t, 90*time.Second, cfg.Auto.BaseTimeout)
	assert.Equal(t, domain.EffortHigh, cfg.Auto.ReasoningEffort)
	assert.Equal(t, 2, cfg.Auto.MaxAutoRetries)
	assert.True(t, cfg.Auto.ExitWhenIdle)
	assert.Equal(t, domain.DefaultPollInterval, cfg.Auto.PollInterval)
	assert.Equal(t, "codex", cfg.Agent.Provider)
	assert.Equal(t, "gpt-5", cfg.Agent.Model)
	assert.Equal(t, []string{"Read", "Edit"}, cfg.Agent.AllowedTools)
	assert.Equal(t, domain.ProviderConfig{Command: "/opt/codex", Args: []string{"--verbose"}}, cfg.Providers["codex"])
	assert.Equal(t, "npm ci", cfg.Worktree.SetupScript)
	assert.Equal(t, domain.StoreBackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "127.0.0.1:4000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://devbox.local:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, domain.DefaultSubjectPrefix, cfg.NATS.SubjectPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Empty(t, cfg.Warnings)
}

func TestLoader_Load_MergeRepoOverridesGlobal(t *testing.T) {
	dataDir := t.TempDir()
	globalDir := t.TempDir()
	writeConfig(t, globalDir, `
[auto]
max_concurrency = 8
base_timeout = 600

[agent]
provider = "opencode"
model = "global-model"

[providers.claude]
command = "/global/claude"
args = ["--a"]
`)
	writeConfig(t, dataDir, `
[agent]
model = "repo-model"

[providers.claude]
args = ["--b"]
`)

	cfg, err := NewLoaderWithGlobalDir(dataDir, globalDir).Load()

	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Auto.MaxConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.Auto.BaseTimeout)
	assert.Equal(t, "opencode", cfg.Agent.Provider)
	assert.Equal(t, "repo-model", cfg.Agent.Model)
	// Provider overrides merge per key.
	assert.Equal(t, "/global/claude", cfg.Providers["claude"].Command)
	assert.Equal(t, []string{"--b"}, cfg.Providers["claude"].Args)
}

func TestLoader_Load_RepoCanDisableGlobalBool(t *testing.T) {
	dataDir := t.TempDir()
	globalDir := t.TempDir()
	writeConfig(t, globalDir, "[auto]\nexit_when_idle = true\n")
	writeConfig(t, dataDir, "[auto]\nexit_when_idle = false\n")

	cfg, err := NewLoaderWithGlobalDir(dataDir, globalDir).Load()

	require.NoError(t, err)
	assert.False(t, cfg.Auto.ExitWhenIdle)
}

func TestLoader_Load_UnknownKeysWarn(t *testing.T) {
	dataDir := t.TempDir()
	writeConfig(t, dataDir, `
[auto]
max_concurency = 2

[bogus]
x = 1
`)

	cfg, err := NewLoaderWithGlobalDir(dataDir, t.TempDir()).Load()

	require.NoError(t, err)
	require.Len(t, cfg.Warnings, 2)
	assert.Contains(t, cfg.Warnings[0], "unknown key in [auto]: max_concurency")
	assert.Contains(t, cfg.Warnings[1], "unknown section: bogus")
}

func TestLoader_Load_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"syntax", "[auto\n", "parse config"},
		{"wrong type", "[auto]\nmax_concurrency = \"lots\"\n", "expected integer"},
		{"bad duration", "[auto]\nbase_timeout = \"soon\"\n", "base_timeout"},
		{"bad effort", "[auto]\nreasoning_effort = \"extreme\"\n", "invalid reasoning effort"},
		{"zero concurrency", "[auto]\nmax_concurrency = 0\n", "max_concurrency must be at least 1"},
		{"bad backend", "[store]\nbackend = \"redis\"\n", "[store].backend"},
		{"bad level", "[log]\nlevel = \"loud\"\n", "[log].level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := t.TempDir()
			writeConfig(t, dataDir, tt.content)

			_, err := NewLoaderWithGlobalDir(dataDir, t.TempDir()).Load()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoader_LoadGlobal_IgnoresRepo(t *testing.T) {
	dataDir := t.TempDir()
	globalDir := t.TempDir()
	writeConfig(t, globalDir, "[agent]\nprovider = \"cursor\"\n")
	writeConfig(t, dataDir, "[agent]\nprovider = \"codex\"\n")

	cfg, err := NewLoaderWithGlobalDir(dataDir, globalDir).LoadGlobal()

	require.NoError(t, err)
	assert.Equal(t, "cursor", cfg.Agent.Provider)
}

func TestConfigTemplate_LoadsCleanly(t *testing.T) {
	dataDir := t.TempDir()
	writeConfig(t, dataDir, ConfigTemplate)

	cfg, err := NewLoaderWithGlobalDir(dataDir, t.TempDir()).Load()

	require.NoError(t, err)
	assert.Empty(t, cfg.Warnings)
	assert.Equal(t, domain.NewDefaultConfig().Auto, cfg.Auto)
}
