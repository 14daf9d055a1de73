// Package config provides configuration loading functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/runoshun/autocrew/internal/domain"
)

// Ensure Loader implements domain.ConfigLoader.
var _ domain.ConfigLoader = (*Loader)(nil)

// Loader loads configuration from TOML files.
type Loader struct {
	dataDir       string // Path to .git/autocrew directory
	globalConfDir string // Path to global config directory (e.g., ~/.config/autocrew)
}

// NewLoader creates a new Loader.
func NewLoader(dataDir string) *Loader {
	return &Loader{
		dataDir:       dataDir,
		globalConfDir: defaultGlobalConfigDir(),
	}
}

// NewLoaderWithGlobalDir creates a new Loader with a custom global config directory.
// This is useful for testing.
func NewLoaderWithGlobalDir(dataDir, globalConfDir string) *Loader {
	return &Loader{
		dataDir:       dataDir,
		globalConfDir: globalConfDir,
	}
}

// defaultGlobalConfigDir returns the default global config directory.
func defaultGlobalConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return domain.GlobalDataDir(configHome)
}

// Load returns the merged configuration.
// Merge order: default <- global <- repo (later takes precedence).
// Keys absent from a file leave the lower layer untouched.
func (l *Loader) Load() (*domain.Config, error) {
	cfg := domain.NewDefaultConfig()
	if l.globalConfDir != "" {
		if err := l.applyFile(cfg, domain.ConfigPath(l.globalConfDir)); err != nil {
			return nil, err
		}
	}
	if err := l.applyFile(cfg, domain.ConfigPath(l.dataDir)); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadGlobal returns the defaults overlaid with the global configuration only.
func (l *Loader) LoadGlobal() (*domain.Config, error) {
	cfg := domain.NewDefaultConfig()
	if l.globalConfDir == "" {
		return cfg, nil
	}
	if err := l.applyFile(cfg, domain.ConfigPath(l.globalConfDir)); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays the file at path onto cfg. A missing file is not an error.
func (l *Loader) applyFile(cfg *domain.Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	warnings, err := apply(cfg, raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	for _, w := range warnings {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s: %s", path, w))
	}
	return nil
}

// apply writes the keys present in raw onto cfg and returns warnings for unknown keys.
func apply(cfg *domain.Config, raw map[string]any) ([]string, error) {
	var warnings []string
	unknown := func(section, key string) {
		warnings = append(warnings, fmt.Sprintf("unknown key in [%s]: %s", section, key))
	}

	for section, value := range raw {
		m, ok := value.(map[string]any)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown section: %s", section))
			continue
		}
		f := fields{section: section, m: m}

		switch section {
		case "auto":
			for k := range m {
				var err error
				switch k {
				case "max_concurrency":
					err = f.int(k, &cfg.Auto.MaxConcurrency)
				case "max_auto_retries":
					err = f.int(k, &cfg.Auto.MaxAutoRetries)
				case "use_worktrees":
					err = f.bool(k, &cfg.Auto.UseWorktrees)
				case "exit_when_idle":
					err = f.bool(k, &cfg.Auto.ExitWhenIdle)
				case "base_timeout":
					err = f.duration(k, &cfg.Auto.BaseTimeout)
				case "poll_interval":
					err = f.duration(k, &cfg.Auto.PollInterval)
				case "reasoning_effort":
					var s string
					if err = f.string(k, &s); err == nil {
						cfg.Auto.ReasoningEffort, err = domain.ParseReasoningEffort(s)
					}
				default:
					unknown(section, k)
				}
				if err != nil {
					return nil, err
				}
			}
		case "agent":
			for k := range m {
				var err error
				switch k {
				case "provider":
					err = f.string(k, &cfg.Agent.Provider)
				case "model":
					err = f.string(k, &cfg.Agent.Model)
				case "allowed_tools":
					err = f.strings(k, &cfg.Agent.AllowedTools)
				default:
					unknown(section, k)
				}
				if err != nil {
					return nil, err
				}
			}
		case "providers":
			for name, v := range m {
				pm, ok := v.(map[string]any)
				if !ok {
					unknown(section, name)
					continue
				}
				pf := fields{section: "providers." + name, m: pm}
				pc := cfg.Providers[name]
				for k := range pm {
					var err error
					switch k {
					case "command":
						err = pf.string(k, &pc.Command)
					case "args":
						err = pf.strings(k, &pc.Args)
					default:
						unknown(pf.section, k)
					}
					if err != nil {
						return nil, err
					}
				}
				if cfg.Providers == nil {
					cfg.Providers = make(map[string]domain.ProviderConfig)
				}
				cfg.Providers[name] = pc
			}
		case "store":
			for k := range m {
				var err error
				switch k {
				case "backend":
					err = f.string(k, &cfg.Store.Backend)
				default:
					unknown(section, k)
				}
				if err != nil {
					return nil, err
				}
			}
		case "server":
			for k := range m {
				var err error
				switch k {
				case "addr":
					err = f.string(k, &cfg.Server.Addr)
				case "allowed_origins":
					err = f.strings(k, &cfg.Server.AllowedOrigins)
				default:
					unknown(section, k)
				}
				if err != nil {
					return nil, err
				}
			}
		case "nats":
			for k := range m {
				var err error
				switch k {
				case "url":
					err = f.string(k, &cfg.NATS.URL)
				case "subject_prefix":
					err = f.string(k, &cfg.NATS.SubjectPrefix)
				default:
					unknown(section, k)
				}
				if err != nil {
					return nil, err
				}
			}
		case "worktree":
			for k := range m {
				var err error
				switch k {
				case "setup_script":
					err = f.string(k, &cfg.Worktree.SetupScript)
				default:
					unknown(section, k)
				}
				if err != nil {
					return nil, err
				}
			}
		case "log":
			for k := range m {
				var err error
				switch k {
				case "level":
					err = f.string(k, &cfg.Log.Level)
				default:
					unknown(section, k)
				}
				if err != nil {
					return nil, err
				}
			}
		default:
			warnings = append(warnings, fmt.Sprintf("unknown section: %s", section))
		}
	}

	sort.Strings(warnings)
	return warnings, nil
}

// fields reads typed values out of one raw TOML table.
type fields struct {
	m       map[string]any
	section string
}

func (f fields) typeError(key, want string) error {
	return fmt.Errorf("[%s].%s: expected %s, got %T", f.section, key, want, f.m[key])
}

func (f fields) string(key string, dst *string) error {
	s, ok := f.m[key].(string)
	if !ok {
		return f.typeError(key, "string")
	}
	*dst = s
	return nil
}

func (f fields) int(key string, dst *int) error {
	n, ok := f.m[key].(int64)
	if !ok {
		return f.typeError(key, "integer")
	}
	*dst = int(n)
	return nil
}

func (f fields) bool(key string, dst *bool) error {
	b, ok := f.m[key].(bool)
	if !ok {
		return f.typeError(key, "boolean")
	}
	*dst = b
	return nil
}

func (f fields) strings(key string, dst *[]string) error {
	list, ok := f.m[key].([]any)
	if !ok {
		return f.typeError(key, "array of strings")
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return f.typeError(key, "array of strings")
		}
		out = append(out, s)
	}
	*dst = out
	return nil
}

// duration accepts a Go duration string ("90s", "30m") or an integer number of seconds.
func (f fields) duration(key string, dst *time.Duration) error {
	switch v := f.m[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("[%s].%s: %w", f.section, key, err)
		}
		*dst = d
	case int64:
		*dst = time.Duration(v) * time.Second
	default:
		return f.typeError(key, "duration string or seconds")
	}
	return nil
}

// validate rejects merged configurations the scheduler cannot run with.
func validate(cfg *domain.Config) error {
	if cfg.Auto.MaxConcurrency < 1 {
		return fmt.Errorf("[auto].max_concurrency must be at least 1, got %d", cfg.Auto.MaxConcurrency)
	}
	if cfg.Auto.MaxAutoRetries < 0 {
		return fmt.Errorf("[auto].max_auto_retries must not be negative, got %d", cfg.Auto.MaxAutoRetries)
	}
	if cfg.Auto.BaseTimeout < 0 {
		return fmt.Errorf("[auto].base_timeout must not be negative")
	}
	if cfg.Auto.PollInterval <= 0 {
		return fmt.Errorf("[auto].poll_interval must be positive")
	}
	switch cfg.Store.Backend {
	case domain.StoreBackendJSON, domain.StoreBackendSQLite:
	default:
		return fmt.Errorf("[store].backend must be %q or %q, got %q", domain.StoreBackendJSON, domain.StoreBackendSQLite, cfg.Store.Backend)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("[log].level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	return nil
}
