package cli

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/runoshun/autocrew/internal/app"
	"github.com/runoshun/autocrew/internal/usecase"
	"github.com/spf13/cobra"
)

// newWorktreeCommand creates the worktree command.
func newWorktreeCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "worktree",
		Aliases: []string{"wt"},
		Short:   "Manage feature worktrees",
		Long:    `Inspect and clean up the git worktrees that agent runs work in.`,
		// No RunE: shows subcommand list when called without arguments
	}

	cmd.AddCommand(
		newWorktreeListCommand(c),
		newWorktreeRemoveCommand(c),
		newWorktreeReconcileCommand(c),
	)

	return cmd
}

// newWorktreeListCommand creates the worktree list subcommand.
func newWorktreeListCommand(c *app.Container) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List worktrees",
		Long: `List feature worktrees with their branch and state.

A worktree whose feature no longer exists is shown as orphaned. Tracked
worktrees whose directory was removed outside of autocrew are listed as missing.
Use --all to include the main worktree and worktrees not created by autocrew.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := c.ListWorktreesUseCase().Execute(cmd.Context(), usecase.ListWorktreesInput{IncludeMain: all})
			if err != nil {
				return err
			}

			printWorktreeList(cmd.OutOrStdout(), out, newStyler(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include the main and foreign worktrees")

	return cmd
}

// printWorktreeList prints worktrees in a table.
func printWorktreeList(w io.Writer, out *usecase.ListWorktreesOutput, st styler) {
	if len(out.Worktrees) == 0 && len(out.Missing) == 0 {
		_, _ = fmt.Fprintln(w, "No worktrees")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(tw, "FEATURE\tBRANCH\tSTATE\t%-*s PATH\n", statusWidth, "STATUS")
	for _, item := range out.Worktrees {
		feature := item.Info.FeatureID
		status := fmt.Sprintf("%-*s", statusWidth, "-")
		switch {
		case item.Info.IsMain:
			feature = "(main)"
		case item.Feature != nil:
			status = st.Status(item.Feature.Status)
		case feature == "":
			feature = "(foreign)"
		}

		state := "clean"
		if item.Info.HasUncommittedChanges {
			state = "dirty"
		}
		if item.Feature == nil && item.Info.FeatureID != "" {
			state += ",orphaned"
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\n", feature, item.Info.Branch, state, status, item.Info.Path)
	}
	_ = tw.Flush()

	if len(out.Missing) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "Missing (run \"autocrew worktree reconcile\" to forget them):")
		for _, m := range out.Missing {
			_, _ = fmt.Fprintf(w, "  %s  %s\n", m.FeatureID, m.Path)
		}
	}
}

// newWorktreeRemoveCommand creates the worktree remove subcommand.
func newWorktreeRemoveCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Force        bool
		DeleteBranch bool
	}

	cmd := &cobra.Command{
		Use:     "remove <feature-id>",
		Aliases: []string{"rm"},
		Short:   "Remove the worktree of a feature",
		Long: `Remove the worktree of a feature. The feature itself is kept.

Refused while the feature has an active run. Without --force, refused when the
worktree has uncommitted changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.RemoveWorktreeUseCase().Execute(cmd.Context(), usecase.RemoveWorktreeInput{
				ID:           args[0],
				Force:        opts.Force,
				DeleteBranch: opts.DeleteBranch,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed worktree %s\n", out.Path)
			if opts.DeleteBranch {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted branch %s\n", out.Branch)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Discard uncommitted changes")
	cmd.Flags().BoolVar(&opts.DeleteBranch, "delete-branch", false, "Also delete the feature branch")

	return cmd
}

// newWorktreeReconcileCommand creates the worktree reconcile subcommand.
func newWorktreeReconcileCommand(c *app.Container) *cobra.Command {
	var opts struct {
		DryRun bool
		Force  bool
	}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Clean up worktrees out of sync with the board",
		Long: `Bring worktrees and feature records back in sync.

- Orphaned worktrees (feature deleted) are removed together with their branch.
- Missing worktrees (directory deleted by hand) are forgotten.
- Features still linked to a worktree that no longer exists are unlinked.

Worktrees with uncommitted changes and features with a live run are skipped.

Examples:
  # Show what would be cleaned up
  autocrew worktree reconcile --dry-run

  # Clean up, discarding changes in orphaned worktrees
  autocrew worktree reconcile --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := c.ReconcileWorktreesUseCase().Execute(cmd.Context(), usecase.ReconcileWorktreesInput{
				DryRun: opts.DryRun,
				Force:  opts.Force,
			})
			if err != nil {
				return err
			}

			printReconcile(cmd.OutOrStdout(), out, opts.DryRun)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "Only report what would be cleaned up")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Remove orphaned worktrees with uncommitted changes")

	return cmd
}

// printReconcile prints the result of a reconcile pass.
func printReconcile(w io.Writer, out *usecase.ReconcileWorktreesOutput, dryRun bool) {
	if len(out.Orphaned) == 0 && len(out.Missing) == 0 && len(out.StaleRefs) == 0 && len(out.Skipped) == 0 {
		_, _ = fmt.Fprintln(w, "Nothing to reconcile")
		return
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}

	for _, o := range out.Orphaned {
		if _, skipped := out.Skipped[o.FeatureID]; skipped {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s orphaned worktree %s (%s)\n", verb, o.Path, o.Branch)
	}
	for _, m := range out.Missing {
		if _, skipped := out.Skipped[m.FeatureID]; skipped {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s missing worktree %s\n", verb, m.Path)
	}
	for _, id := range out.StaleRefs {
		if _, skipped := out.Skipped[id]; skipped {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s stale worktree link of %s\n", verb, id)
	}

	if len(out.Skipped) > 0 {
		ids := make([]string, 0, len(out.Skipped))
		for id := range out.Skipped {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "Skipped:")
		for _, id := range ids {
			_, _ = fmt.Fprintf(tw, "  %s\t%s\n", id, out.Skipped[id])
		}
		_ = tw.Flush()
	}
}
