package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand_ShowsSourcesAndEffectiveConfig(t *testing.T) {
	// Setup
	env := newTestEnv(t)
	manager := env.container.ConfigManager.(*testutil.MockConfigManager)
	manager.GlobalConfigInfo = domain.ConfigInfo{Path: "/home/u/.config/autocrew/config.toml"}
	manager.RepoConfigInfo = domain.ConfigInfo{Path: "/repo/.git/autocrew/config.toml", Exists: true}

	// Execute
	out, err := execute(t, newConfigCommand(env.container))

	// Assert
	require.NoError(t, err)
	assert.Contains(t, out, "- /home/u/.config/autocrew/config.toml (not found)")
	assert.Contains(t, out, "- /repo/.git/autocrew/config.toml\n")
	assert.Contains(t, out, "[Effective Config]")
	assert.Contains(t, out, "max_concurrency = 3")
	assert.Contains(t, out, "base_timeout = '30m0s'")
}

func TestFormatEffectiveConfig_RoundTripsThroughTOML(t *testing.T) {
	// Setup
	cfg := domain.NewDefaultConfig()
	cfg.Providers["codex"] = domain.ProviderConfig{Command: "codex", Args: []string{"exec"}}
	var buf bytes.Buffer

	// Execute
	err := formatEffectiveConfig(&buf, cfg)

	// Assert
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, toml.Unmarshal(buf.Bytes(), &decoded))
	auto := decoded["auto"].(map[string]any)
	assert.Equal(t, "2s", auto["poll_interval"])
	providers := decoded["providers"].(map[string]any)
	assert.Equal(t, "codex", providers["codex"].(map[string]any)["command"])
	assert.False(t, strings.Contains(buf.String(), "Warnings"))
}
