package cli

import (
	"fmt"

	"github.com/runoshun/autocrew/internal/app"
	"github.com/runoshun/autocrew/internal/usecase"
	"github.com/spf13/cobra"
)

// newDiffCommand creates the diff command.
func newDiffCommand(c *app.Container) *cobra.Command {
	var stat bool

	cmd := &cobra.Command{
		Use:   "diff <feature-id>",
		Short: "Show the changes made in a feature worktree",
		Long: `Show the uncommitted changes in the worktree of a feature as a unified diff.

Use --stat to list only the changed files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.ShowDiffUseCase().Execute(cmd.Context(), usecase.ShowDiffInput{ID: args[0]})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if !out.Status.HasChanges {
				_, _ = fmt.Fprintln(w, "No changes")
				return nil
			}
			if stat {
				for _, file := range out.Status.ChangedFiles {
					_, _ = fmt.Fprintln(w, file)
				}
				_, _ = fmt.Fprintf(w, "%d file(s) changed\n", len(out.Status.ChangedFiles))
				return nil
			}
			_, _ = fmt.Fprint(w, out.Diff)
			return nil
		},
	}

	cmd.Flags().BoolVar(&stat, "stat", false, "List changed files only")

	return cmd
}
