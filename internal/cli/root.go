// Package cli provides the command-line interface for autocrew.
package cli

import (
	"fmt"

	"github.com/runoshun/autocrew/internal/app"
	"github.com/spf13/cobra"
)

// Command group IDs.
const (
	groupSetup    = "setup"
	groupFeature  = "feature"
	groupAuto     = "auto"
	groupWorktree = "worktree"
)

// skipInitCheck lists commands that work before "autocrew init".
var skipInitCheck = map[string]bool{
	"init":       true,
	"config":     true,
	"status":     true,
	"help":       true,
	"completion": true,
}

// NewRootCommand creates the root command for autocrew.
// It receives the container for dependency injection and version for display.
func NewRootCommand(c *app.Container, version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "autocrew",
		Short: "Autonomous feature board for AI coding agents",
		Long: `autocrew drives AI coding agents through a board of features.

Each feature moves backlog -> in_progress -> [pipeline stages] -> waiting_approval
-> verified. Auto mode picks eligible features (dependencies verified, not running)
and runs up to max_concurrency agents at once, each in its own git worktree.

Use "autocrew auto" for a foreground scheduler, or "autocrew serve" to expose the
scheduler over HTTP with a live event stream.`,
		Version: version,
		// SilenceUsage prevents usage from being printed on errors
		SilenceUsage: true,
		// SilenceErrors prevents Cobra from printing errors (we handle it in main)
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip if container is nil (e.g. in tests)
			if c == nil {
				return nil
			}

			for _, w := range c.AppConfig.Warnings {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
			}

			if skipInitCheck[topLevelName(cmd)] {
				return nil
			}
			return c.RequireInitialized()
		},
	}

	// Define command groups
	root.AddGroup(
		&cobra.Group{ID: groupSetup, Title: "Setup Commands:"},
		&cobra.Group{ID: groupFeature, Title: "Feature Management:"},
		&cobra.Group{ID: groupAuto, Title: "Agent Runs:"},
		&cobra.Group{ID: groupWorktree, Title: "Worktrees:"},
	)

	// Setup commands
	initCmd := newInitCommand(c)
	initCmd.GroupID = groupSetup

	configCmd := newConfigCommand(c)
	configCmd.GroupID = groupSetup

	// Feature management commands
	featureCmd := newFeatureCommand(c)
	featureCmd.GroupID = groupFeature

	// Run commands
	autoCmd := newAutoCommand(c)
	autoCmd.GroupID = groupAuto

	runCmd := newRunCommand(c)
	runCmd.GroupID = groupAuto

	verifyCmd := newVerifyCommand(c)
	verifyCmd.GroupID = groupAuto

	serveCmd := newServeCommand(c)
	serveCmd.GroupID = groupAuto

	statusCmd := newStatusCommand(c)
	statusCmd.GroupID = groupAuto

	// Worktree commands
	worktreeCmd := newWorktreeCommand(c)
	worktreeCmd.GroupID = groupWorktree

	diffCmd := newDiffCommand(c)
	diffCmd.GroupID = groupWorktree

	// Add subcommands
	root.AddCommand(
		initCmd,
		configCmd,
		featureCmd,
		autoCmd,
		runCmd,
		verifyCmd,
		serveCmd,
		statusCmd,
		worktreeCmd,
		diffCmd,
	)

	return root
}

// topLevelName returns the name of the direct child of the root that cmd belongs to.
func topLevelName(cmd *cobra.Command) string {
	for cmd.HasParent() && cmd.Parent().HasParent() {
		cmd = cmd.Parent()
	}
	return cmd.Name()
}
