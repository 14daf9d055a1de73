package usecase

import (
	"context"
	"fmt"

	"github.com/runoshun/autocrew/internal/domain"
)

// ShowConfigInput contains the parameters for showing configuration.
type ShowConfigInput struct{}

// ShowConfigOutput contains the configuration files and the merged result.
type ShowConfigOutput struct {
	Effective    *domain.Config // default <- global <- repo
	Warnings     []string       // Unknown keys and sections found while loading
	GlobalConfig domain.ConfigInfo
	RepoConfig   domain.ConfigInfo
}

// ShowConfig is the use case for displaying configuration.
type ShowConfig struct {
	configManager domain.ConfigManager
	configLoader  domain.ConfigLoader
}

// NewShowConfig creates a new ShowConfig use case.
func NewShowConfig(configManager domain.ConfigManager, configLoader domain.ConfigLoader) *ShowConfig {
	return &ShowConfig{
		configManager: configManager,
		configLoader:  configLoader,
	}
}

// Execute returns the config file contents and the effective configuration.
func (uc *ShowConfig) Execute(_ context.Context, _ ShowConfigInput) (*ShowConfigOutput, error) {
	cfg, err := uc.configLoader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &ShowConfigOutput{
		GlobalConfig: uc.configManager.GetGlobalConfigInfo(),
		RepoConfig:   uc.configManager.GetRepoConfigInfo(),
		Effective:    cfg,
		Warnings:     cfg.Warnings,
	}, nil
}
