// Package app provides the dependency injection container for the application.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/infra/config"
	"github.com/runoshun/autocrew/internal/infra/eventbus"
	"github.com/runoshun/autocrew/internal/infra/executor"
	"github.com/runoshun/autocrew/internal/infra/featurestore"
	"github.com/runoshun/autocrew/internal/infra/git"
	"github.com/runoshun/autocrew/internal/infra/logging"
	"github.com/runoshun/autocrew/internal/infra/metrics"
	"github.com/runoshun/autocrew/internal/infra/prompt"
	"github.com/runoshun/autocrew/internal/infra/runlock"
	"github.com/runoshun/autocrew/internal/infra/runner"
	"github.com/runoshun/autocrew/internal/infra/server"
	"github.com/runoshun/autocrew/internal/infra/sqlitestore"
	"github.com/runoshun/autocrew/internal/infra/transport"
	"github.com/runoshun/autocrew/internal/infra/watch"
	"github.com/runoshun/autocrew/internal/infra/worktree"
	"github.com/runoshun/autocrew/internal/usecase"
)

// Config holds the application paths.
type Config struct {
	RepoRoot   string // Root directory of the git repository
	GitDir     string // Path to .git directory
	DataDir    string // Path to .git/autocrew directory
	PromptsDir string // Optional <mode>.tmpl overrides
}

// newConfig creates a new Config from the git client.
func newConfig(gitClient *git.Client) Config {
	dataDir := domain.RepoDataDir(gitClient.RepoRoot())
	return Config{
		RepoRoot:   gitClient.RepoRoot(),
		GitDir:     gitClient.GitDir(),
		DataDir:    dataDir,
		PromptsDir: filepath.Join(dataDir, "prompts"),
	}
}

// Container provides dependency injection for the application.
// It holds all port implementations and provides factory methods for use cases.
type Container struct {
	// Ports (interfaces bound to implementations)
	Features      domain.FeatureRepository
	Transcripts   domain.TranscriptStore
	Worktrees     domain.WorktreeManager
	Executor      domain.AgentExecutor
	Prompts       domain.PromptBuilder
	Pipelines     domain.PipelineLoader
	ConfigLoader  domain.ConfigLoader
	ConfigManager domain.ConfigManager
	Clock         domain.Clock
	Locks         domain.RunLocker

	// Pointer fields
	Bus       *eventbus.Bus
	Logger    *logging.Logger
	Registry  *usecase.RunRegistry
	Metrics   *metrics.Collector
	AppConfig *domain.Config

	jsonStore *featurestore.Store // Set for the json backend; feeds the watcher
	auto      *usecase.AutoMode
	closers   []func() error

	// Configuration
	Config Config
}

// New creates a new Container by detecting the git repository from the given directory.
func New(dir string) (*Container, error) {
	// Detect git repository
	gitClient, err := git.NewClient(dir)
	if err != nil {
		return nil, err
	}
	cfg := newConfig(gitClient)

	// Load app config to determine the store backend
	configLoader := config.NewLoader(cfg.DataDir)
	appConfig, err := configLoader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	clock := domain.RealClock{}
	logger := logging.New(cfg.DataDir, logging.ParseLevel(appConfig.Log.Level))
	for _, w := range appConfig.Warnings {
		logger.Warn("", "config", w)
	}

	c := &Container{
		Transcripts:   featurestore.NewTranscriptStore(cfg.DataDir, clock),
		Pipelines:     config.NewPipelineLoader(cfg.DataDir),
		ConfigLoader:  configLoader,
		ConfigManager: config.NewManager(cfg.DataDir),
		Clock:         clock,
		Locks:         runlock.New(cfg.DataDir),
		Bus:           eventbus.New(eventbus.Options{Logger: logger, Clock: clock}),
		Logger:        logger,
		Registry:      usecase.NewRunRegistry(),
		AppConfig:     appConfig,
		Config:        cfg,
	}

	// Create feature repository based on config
	switch appConfig.Store.Backend {
	case domain.StoreBackendSQLite:
		store, err := sqlitestore.Open(context.Background(), domain.SQLitePath(cfg.DataDir), cfg.DataDir, clock)
		if err != nil {
			return nil, err
		}
		c.Features = store
		c.closers = append(c.closers, store.Close)
	default:
		c.jsonStore = featurestore.New(cfg.DataDir, clock)
		c.Features = c.jsonStore
	}

	c.Worktrees = worktree.NewManager(gitClient, worktree.Options{
		Runner:      runner.NewClient(),
		Logger:      logger,
		Clock:       clock,
		DataDir:     cfg.DataDir,
		SetupScript: appConfig.Worktree.SetupScript,
	})
	c.Executor = executor.New(executor.Options{
		Providers: appConfig.Providers,
		Logger:    logger,
	})

	builder := prompt.NewBuilder()
	if err := builder.LoadOverrides(cfg.PromptsDir); err != nil {
		return nil, err
	}
	c.Prompts = builder

	// Every event reaches the log files.
	unsubscribe := transport.NewLogForwarder(logger).Attach(c.Bus)
	c.closers = append(c.closers, func() error { unsubscribe(); return nil })

	return c, nil
}

// Deps holds explicitly provided ports for NewWithDeps.
type Deps struct {
	Features      domain.FeatureRepository
	Transcripts   domain.TranscriptStore
	Worktrees     domain.WorktreeManager
	Executor      domain.AgentExecutor
	Prompts       domain.PromptBuilder
	Pipelines     domain.PipelineLoader
	ConfigLoader  domain.ConfigLoader
	ConfigManager domain.ConfigManager
	Clock         domain.Clock
	Locks         domain.RunLocker // File locks under DataDir when nil
	AppConfig     *domain.Config   // Defaults when nil
}

// NewWithDeps creates a Container with explicitly provided dependencies.
// This is useful for testing.
func NewWithDeps(cfg Config, deps Deps) *Container {
	clock := deps.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	appConfig := deps.AppConfig
	if appConfig == nil {
		appConfig = domain.NewDefaultConfig()
	}
	locks := deps.Locks
	if locks == nil {
		locks = runlock.New(cfg.DataDir)
	}
	logger := logging.New(cfg.DataDir, slog.LevelError).WithClock(clock)
	return &Container{
		Features:      deps.Features,
		Transcripts:   deps.Transcripts,
		Worktrees:     deps.Worktrees,
		Executor:      deps.Executor,
		Prompts:       deps.Prompts,
		Pipelines:     deps.Pipelines,
		ConfigLoader:  deps.ConfigLoader,
		ConfigManager: deps.ConfigManager,
		Clock:         clock,
		Locks:         locks,
		Bus:           eventbus.New(eventbus.Options{Logger: logger, Clock: clock}),
		Logger:        logger,
		Registry:      usecase.NewRunRegistry(),
		AppConfig:     appConfig,
		Config:        cfg,
	}
}

// WithConsole mirrors log output to w for foreground commands.
func (c *Container) WithConsole(w io.Writer) *Container {
	c.Logger.WithConsole(w)
	return c
}

// RequireInitialized returns ErrNotInitialized if "autocrew init" was never run.
func (c *Container) RequireInitialized() error {
	if _, err := os.Stat(domain.ConfigPath(c.Config.DataDir)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ErrNotInitialized
		}
		return err
	}
	return nil
}

// StartServices attaches the long-running event consumers used by "auto" and "serve":
// the Prometheus collector, the external-edit watcher (json backend) and the
// NATS bridge when configured. They stop when ctx is done or on Close.
func (c *Container) StartServices(ctx context.Context) error {
	c.Metrics = metrics.NewCollector()
	unsubscribe := c.Metrics.Attach(c.Bus)
	c.closers = append(c.closers, func() error { unsubscribe(); return nil })

	if c.jsonStore != nil {
		w, err := watch.New(c.Config.DataDir, c.Bus, watch.Options{Logger: c.Logger})
		if err != nil {
			return err
		}
		c.jsonStore.SetWriteHook(w.Observe)
		c.closers = append(c.closers, w.Close)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.Logger.Warn("", "watch", err.Error())
			}
		}()
	}

	if url := c.AppConfig.NATS.URL; url != "" {
		nc, err := transport.ConnectNATS(c.AppConfig.NATS, c.Logger)
		if err != nil {
			return err
		}
		detach := transport.NewNATSBridge(nc, c.AppConfig.NATS.SubjectPrefix, c.Logger).Attach(c.Bus)
		c.closers = append(c.closers, func() error {
			detach()
			return nc.Drain()
		})
		c.Logger.Info("", "transport", "forwarding events to "+url)
	}
	return nil
}

// Close releases every resource held by the container.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	c.Bus.Close()
	if err := c.Logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// UseCase factory methods

// AutoMode returns the process-wide scheduler.
func (c *Container) AutoMode() *usecase.AutoMode {
	if c.auto == nil {
		c.auto = usecase.NewAutoMode(usecase.AutoModeDeps{
			Features:    c.Features,
			Worktrees:   c.Worktrees,
			Executor:    c.Executor,
			Prompts:     c.Prompts,
			Transcripts: c.Transcripts,
			Events:      c.Bus,
			Pipelines:   c.Pipelines,
			Logger:      c.Logger,
			Clock:       c.Clock,
			Registry:    c.Registry,
			Locks:       c.Locks,
			RepoRoot:    c.Config.RepoRoot,
			Agent:       c.AppConfig.Agent,
			Auto:        c.AppConfig.Auto,
		})
	}
	return c.auto
}

// Server returns the HTTP control API wired to the scheduler.
func (c *Container) Server() *server.Server {
	opts := server.Options{
		Scheduler:     c.AutoMode(),
		Events:        c.Bus,
		Logger:        c.Logger,
		ListFeatures:  c.ListFeaturesUseCase(),
		ShowFeature:   c.ShowFeatureUseCase(),
		ListWorktrees: c.ListWorktreesUseCase(),

		AllowedOrigins: c.AppConfig.Server.AllowedOrigins,
	}
	if c.Metrics != nil {
		opts.Metrics = c.Metrics.Handler()
	}
	return server.New(opts)
}

// InitRepoUseCase returns a new InitRepo use case.
func (c *Container) InitRepoUseCase() *usecase.InitRepo {
	return usecase.NewInitRepo(c.ConfigManager, c.Config.DataDir)
}

// InitConfigUseCase returns a new InitConfig use case.
func (c *Container) InitConfigUseCase() *usecase.InitConfig {
	return usecase.NewInitConfig(c.ConfigManager)
}

// ShowConfigUseCase returns a new ShowConfig use case.
func (c *Container) ShowConfigUseCase() *usecase.ShowConfig {
	return usecase.NewShowConfig(c.ConfigManager, c.ConfigLoader)
}

// AddFeatureUseCase returns a new AddFeature use case.
func (c *Container) AddFeatureUseCase() *usecase.AddFeature {
	return usecase.NewAddFeature(c.Features, c.Clock, c.Logger)
}

// EditFeatureUseCase returns a new EditFeature use case.
func (c *Container) EditFeatureUseCase() *usecase.EditFeature {
	return usecase.NewEditFeature(c.Features, c.Logger)
}

// SetDependenciesUseCase returns a new SetDependencies use case.
func (c *Container) SetDependenciesUseCase() *usecase.SetDependencies {
	return usecase.NewSetDependencies(c.Features, c.Logger)
}

// DeleteFeatureUseCase returns a new DeleteFeature use case.
func (c *Container) DeleteFeatureUseCase() *usecase.DeleteFeature {
	return usecase.NewDeleteFeature(c.Features, c.Worktrees, c.Registry, c.Locks, c.Bus, c.Clock, c.Logger)
}

// ListFeaturesUseCase returns a new ListFeatures use case.
func (c *Container) ListFeaturesUseCase() *usecase.ListFeatures {
	return usecase.NewListFeatures(c.Features, c.Registry)
}

// ShowFeatureUseCase returns a new ShowFeature use case.
func (c *Container) ShowFeatureUseCase() *usecase.ShowFeature {
	return usecase.NewShowFeature(c.Features, c.Transcripts, c.Registry)
}

// ShowDiffUseCase returns a new ShowDiff use case.
func (c *Container) ShowDiffUseCase() *usecase.ShowDiff {
	return usecase.NewShowDiff(c.Features, c.Worktrees)
}

// ListWorktreesUseCase returns a new ListWorktrees use case.
func (c *Container) ListWorktreesUseCase() *usecase.ListWorktrees {
	return usecase.NewListWorktrees(c.Features, c.Worktrees)
}

// RemoveWorktreeUseCase returns a new RemoveWorktree use case.
func (c *Container) RemoveWorktreeUseCase() *usecase.RemoveWorktree {
	return usecase.NewRemoveWorktree(c.Features, c.Worktrees, c.Registry, c.Locks, c.Bus, c.Clock)
}

// ReconcileWorktreesUseCase returns a new ReconcileWorktrees use case.
func (c *Container) ReconcileWorktreesUseCase() *usecase.ReconcileWorktrees {
	return usecase.NewReconcileWorktrees(c.Features, c.Worktrees, c.Registry, c.Logger)
}
