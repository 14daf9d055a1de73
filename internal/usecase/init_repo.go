package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/runoshun/autocrew/internal/domain"
)

// InitRepoInput contains the parameters for initializing a repository.
type InitRepoInput struct{}

// InitRepoOutput contains the result of initializing a repository.
type InitRepoOutput struct {
	DataDir            string // Path to the autocrew data directory
	ConfigPath         string
	AlreadyInitialized bool // The config existed; directories were still ensured
}

// InitRepo is the use case for preparing a repository for autocrew.
type InitRepo struct {
	configManager domain.ConfigManager
	dataDir       string
}

// NewInitRepo creates a new InitRepo use case.
func NewInitRepo(configManager domain.ConfigManager, dataDir string) *InitRepo {
	return &InitRepo{
		configManager: configManager,
		dataDir:       dataDir,
	}
}

// Execute writes the config templates and creates the data directory layout.
func (uc *InitRepo) Execute(_ context.Context, _ InitRepoInput) (*InitRepoOutput, error) {
	out := &InitRepoOutput{
		DataDir:    uc.dataDir,
		ConfigPath: uc.configManager.GetRepoConfigInfo().Path,
	}

	if err := uc.configManager.InitRepoConfig(); err != nil {
		if !errors.Is(err, domain.ErrConfigExists) {
			return nil, fmt.Errorf("init config: %w", err)
		}
		out.AlreadyInitialized = true
	}

	dirs := []string{
		domain.FeaturesDir(uc.dataDir),
		domain.WorktreesDir(uc.dataDir),
		filepath.Dir(domain.GlobalLogPath(uc.dataDir)),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return out, nil
}
