package cli

import (
	"fmt"

	"github.com/runoshun/autocrew/internal/app"
	"github.com/runoshun/autocrew/internal/usecase"
	"github.com/spf13/cobra"
)

// newInitCommand creates the init command.
func newInitCommand(c *app.Container) *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize repository for autocrew",
		Long: `Initialize a repository for autocrew.

This command creates the .git/autocrew/ directory with:
- config.toml: commented configuration template
- features/: one directory per feature (record and run transcripts)
- worktrees/: checkouts used by agent runs
- logs/: global and per-feature log files

Running init again keeps the existing config and only ensures the directories.

With --global, the user-wide config file is written instead.

Preconditions:
- Current directory must be inside a git repository`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if global {
				out, err := c.InitConfigUseCase().Execute(cmd.Context(), usecase.InitConfigInput{Global: true})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created global config: %s\n", out.Path)
				return nil
			}

			out, err := c.InitRepoUseCase().Execute(cmd.Context(), usecase.InitRepoInput{})
			if err != nil {
				return err
			}

			if out.AlreadyInitialized {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "autocrew already initialized in %s (config kept)\n", out.DataDir)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Initialized autocrew in %s\n", out.DataDir)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n", out.ConfigPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Write the user-wide config instead")

	return cmd
}
