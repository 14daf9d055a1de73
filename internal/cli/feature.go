package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/runoshun/autocrew/internal/app"
	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/usecase"
	"github.com/spf13/cobra"
)

// newFeatureCommand creates the feature command.
func newFeatureCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "feature",
		Aliases: []string{"f"},
		Short:   "Manage features on the board",
		Long:    `Create, inspect, edit and review the features that agents work on.`,
		// No RunE: shows subcommand list when called without arguments
	}

	cmd.AddCommand(
		newFeatureAddCommand(c),
		newFeatureListCommand(c),
		newFeatureShowCommand(c),
		newFeatureEditCommand(c),
		newFeatureDepsCommand(c),
		newFeatureDeleteCommand(c),
		newFeatureApproveCommand(c),
		newFeatureReopenCommand(c),
	)

	return cmd
}

// newFeatureAddCommand creates the feature add subcommand.
func newFeatureAddCommand(c *app.Container) *cobra.Command {
	var opts struct {
		ID           string
		Category     string
		Model        string
		Effort       string
		Steps        []string
		Images       []string
		Dependencies []string
		SkipTests    bool
	}

	cmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Add a feature to the backlog",
		Long: `Add a new feature in backlog status.

The first line of the description becomes the feature title.
A feature is picked up by auto mode once all of its dependencies are verified.

Examples:
  # Add a simple feature
  autocrew feature add "Add a --json flag to the list command"

  # Add a feature that waits for another one
  autocrew feature add "Document the JSON output" --dep feature-1740830400000-ab12cd34

  # Use a stronger reasoning effort and explicit steps
  autocrew feature add "Refactor the config loader" --effort high \
    --step "Split parsing from validation" --step "Add tests for unknown keys"

  # Route successful runs to manual review instead of running verification
  autocrew feature add "Tweak landing page copy" --skip-tests`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.AddFeatureUseCase().Execute(cmd.Context(), usecase.AddFeatureInput{
				ID:              opts.ID,
				Description:     args[0],
				Category:        opts.Category,
				Model:           opts.Model,
				ReasoningEffort: domain.ReasoningEffort(opts.Effort),
				Steps:           opts.Steps,
				Images:          opts.Images,
				Dependencies:    opts.Dependencies,
				SkipTests:       opts.SkipTests,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created feature %s: %s\n", out.Feature.ID, out.Feature.Title())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "Feature ID (generated when omitted)")
	cmd.Flags().StringVarP(&opts.Category, "category", "c", "", "Board category")
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Model override for this feature")
	cmd.Flags().StringVarP(&opts.Effort, "effort", "e", "", "Reasoning effort (none, minimal, low, medium, high, xhigh)")
	cmd.Flags().StringArrayVar(&opts.Steps, "step", nil, "Implementation step (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Images, "image", nil, "Attached image path (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Dependencies, "dep", "d", nil, "Feature that must be verified first (repeatable)")
	cmd.Flags().BoolVar(&opts.SkipTests, "skip-tests", false, "Skip verification and wait for manual approval")

	return cmd
}

// newFeatureListCommand creates the feature list subcommand.
func newFeatureListCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Category string
		Statuses []string
	}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List features",
		Long: `Display the features on the board in insertion order.

Output columns:
  ID, CATEGORY, BLOCKED BY, STATUS, TITLE

BLOCKED BY lists dependencies that are not verified yet. Features with an
active run in this process are marked with "*".

Examples:
  # List all features
  autocrew feature list

  # List features waiting for review
  autocrew feature list --status waiting_approval

  # List failed and backlog features of one category
  autocrew feature list --category api --status failed --status backlog`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses := make([]domain.Status, 0, len(opts.Statuses))
			for _, s := range opts.Statuses {
				statuses = append(statuses, domain.Status(s))
			}

			out, err := c.ListFeaturesUseCase().Execute(cmd.Context(), usecase.ListFeaturesInput{
				Category: opts.Category,
				Statuses: statuses,
			})
			if err != nil {
				return err
			}

			printFeatureList(cmd.OutOrStdout(), out.Items, newStyler(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Category, "category", "c", "", "Show only this category")
	cmd.Flags().StringArrayVarP(&opts.Statuses, "status", "s", nil, "Show only this status (repeatable)")

	return cmd
}

// printFeatureList prints features in a table.
func printFeatureList(w io.Writer, items []usecase.FeatureListItem, st styler) {
	if len(items) == 0 {
		_, _ = fmt.Fprintln(w, "No features")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	defer func() { _ = tw.Flush() }()

	// Header. STATUS is padded by the styler, so it shares a cell with TITLE.
	_, _ = fmt.Fprintf(tw, "ID\tCATEGORY\tBLOCKED BY\t%-*s TITLE\n", statusWidth, "STATUS")

	for _, item := range items {
		f := item.Feature

		id := f.ID
		if item.Running {
			id += " *"
		}

		category := "-"
		if f.Category != "" {
			category = f.Category
		}

		blocked := "-"
		if len(item.Blocking) > 0 {
			blocked = strings.Join(item.Blocking, ",")
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\n", id, category, blocked, st.Status(f.Status), f.Title())
	}
}

// newFeatureShowCommand creates the feature show subcommand.
func newFeatureShowCommand(c *app.Container) *cobra.Command {
	var opts struct {
		RunID      string
		Transcript bool
	}

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show feature details",
		Long: `Show a feature, its dependencies and its run history.

With --transcript, the agent transcript of the last run (or of --run) is printed.

Examples:
  # Show a feature
  autocrew feature show feature-1740830400000-ab12cd34

  # Show the transcript of the last run
  autocrew feature show feature-1740830400000-ab12cd34 --transcript`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.ShowFeatureUseCase().Execute(cmd.Context(), usecase.ShowFeatureInput{
				ID:         args[0],
				RunID:      opts.RunID,
				Transcript: opts.Transcript || opts.RunID != "",
			})
			if err != nil {
				return err
			}

			printFeatureDetails(cmd.OutOrStdout(), out, newStyler(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "Run whose transcript to print")
	cmd.Flags().BoolVarP(&opts.Transcript, "transcript", "t", false, "Print the agent transcript")

	return cmd
}

// printFeatureDetails prints the detail view of a feature.
func printFeatureDetails(w io.Writer, out *usecase.ShowFeatureOutput, st styler) {
	f := out.Feature

	_, _ = fmt.Fprintf(w, "%s %s\n", st.Bold(f.ID), f.Title())
	_, _ = fmt.Fprintf(w, "Status:       %s\n", st.Label(f.Status))
	if out.Running {
		_, _ = fmt.Fprintln(w, "Running:      yes")
	}
	if f.Category != "" {
		_, _ = fmt.Fprintf(w, "Category:     %s\n", f.Category)
	}
	if f.Model != "" {
		_, _ = fmt.Fprintf(w, "Model:        %s\n", f.Model)
	}
	if f.ReasoningEffort != "" {
		_, _ = fmt.Fprintf(w, "Effort:       %s\n", f.ReasoningEffort)
	}
	if f.SkipTests {
		_, _ = fmt.Fprintln(w, "Skip tests:   yes")
	}
	if len(f.Dependencies) > 0 {
		_, _ = fmt.Fprintf(w, "Depends on:   %s\n", strings.Join(f.Dependencies, ", "))
	}
	if len(out.Blocking) > 0 {
		_, _ = fmt.Fprintf(w, "Blocked by:   %s\n", strings.Join(out.Blocking, ", "))
	}
	if len(out.Dependents) > 0 {
		_, _ = fmt.Fprintf(w, "Dependents:   %s\n", strings.Join(out.Dependents, ", "))
	}
	if f.Worktree != nil {
		_, _ = fmt.Fprintf(w, "Worktree:     %s (%s)\n", f.Worktree.Path, f.Worktree.Branch)
	}
	_, _ = fmt.Fprintf(w, "Version:      %d\n", f.Version)
	_, _ = fmt.Fprintf(w, "Created:      %s\n", f.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Updated:      %s\n", f.UpdatedAt.Format(time.RFC3339))

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Description:")
	for _, line := range strings.Split(f.Description, "\n") {
		_, _ = fmt.Fprintf(w, "  %s\n", line)
	}

	if len(f.Steps) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "Steps:")
		for i, step := range f.Steps {
			_, _ = fmt.Fprintf(w, "  %d. %s\n", i+1, step)
		}
	}

	if f.Summary != "" {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "Summary:")
		_, _ = fmt.Fprintf(w, "  %s\n", f.Summary)
	}

	if len(f.RunHistory) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "Runs:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, run := range f.RunHistory {
			outcome := string(run.Outcome)
			if outcome == "" {
				outcome = "open"
			}
			mode := string(run.Mode)
			if run.StageID != "" {
				mode += ":" + run.StageID
			}
			_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
				run.ID, mode, outcome, run.StartedAt.Format(time.RFC3339), run.Detail)
		}
		_ = tw.Flush()
	}

	if out.Transcript != nil {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "Transcript (%s):\n", out.Run.ID)
		printTranscript(w, out.Transcript)
	}
}

// printTranscript prints transcript entries one block per line.
func printTranscript(w io.Writer, entries []domain.TranscriptEntry) {
	for _, e := range entries {
		ts := e.Timestamp.Format("15:04:05")
		m := e.Message
		if m.IsTerminal() {
			text := m.Result
			if m.Error != "" {
				text = m.Error
			}
			_, _ = fmt.Fprintf(w, "  %s [result:%s] %s\n", ts, m.Subtype, text)
			continue
		}
		for _, b := range m.Content {
			switch b.Kind {
			case domain.BlockText:
				_, _ = fmt.Fprintf(w, "  %s %s\n", ts, b.Text)
			case domain.BlockToolUse:
				_, _ = fmt.Fprintf(w, "  %s [tool] %s %s\n", ts, b.ToolName, string(b.Input))
			case domain.BlockToolResult:
				marker := "tool result"
				if b.IsError {
					marker = "tool error"
				}
				_, _ = fmt.Fprintf(w, "  %s [%s] %s\n", ts, marker, firstLine(b.Output))
			}
		}
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// newFeatureEditCommand creates the feature edit subcommand.
func newFeatureEditCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Description string
		Category    string
		Model       string
		Effort      string
		Steps       []string
		Images      []string
		Version     int64
		SkipTests   bool
		NoSkipTests bool
		ClearSteps  bool
	}

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit feature content",
		Long: `Edit the user content of a feature. Status is never changed by edit.

If no flags are provided, the description is opened in $EDITOR. The edit is
applied only if the feature was not changed in the meantime.

Pass --version to make a flag-based edit conditional on the feature version
shown by "autocrew feature show".

Examples:
  # Open the description in an editor
  autocrew feature edit feature-1740830400000-ab12cd34

  # Change the category and effort
  autocrew feature edit feature-1740830400000-ab12cd34 --category api --effort high

  # Replace the steps
  autocrew feature edit feature-1740830400000-ab12cd34 --step "Write the migration" --step "Backfill"

  # Clear the steps
  autocrew feature edit feature-1740830400000-ab12cd34 --clear-steps`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			flags := cmd.Flags()

			if flags.NFlag() == 0 {
				return editDescriptionWithEditor(cmd, c, id)
			}

			var content domain.FeatureContent
			if flags.Changed("description") {
				content.Description = &opts.Description
			}
			if flags.Changed("category") {
				content.Category = &opts.Category
			}
			if flags.Changed("model") {
				content.Model = &opts.Model
			}
			if flags.Changed("effort") {
				effort := domain.ReasoningEffort(opts.Effort)
				content.ReasoningEffort = &effort
			}
			if flags.Changed("step") {
				content.Steps = opts.Steps
			}
			if opts.ClearSteps {
				content.Steps = []string{}
			}
			if flags.Changed("image") {
				content.Images = opts.Images
			}
			if opts.SkipTests {
				skip := true
				content.SkipTests = &skip
			}
			if opts.NoSkipTests {
				skip := false
				content.SkipTests = &skip
			}

			out, err := c.EditFeatureUseCase().Execute(cmd.Context(), usecase.EditFeatureInput{
				ID:              id,
				Content:         content,
				ExpectedVersion: opts.Version,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated feature %s (version %d)\n", out.Feature.ID, out.Feature.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Description, "description", "", "New description")
	cmd.Flags().StringVarP(&opts.Category, "category", "c", "", "New category")
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "New model override (empty clears it)")
	cmd.Flags().StringVarP(&opts.Effort, "effort", "e", "", "New reasoning effort")
	cmd.Flags().StringArrayVar(&opts.Steps, "step", nil, "Replace the steps (repeatable)")
	cmd.Flags().BoolVar(&opts.ClearSteps, "clear-steps", false, "Remove all steps")
	cmd.Flags().StringArrayVar(&opts.Images, "image", nil, "Replace the attached images (repeatable)")
	cmd.Flags().BoolVar(&opts.SkipTests, "skip-tests", false, "Skip verification for this feature")
	cmd.Flags().BoolVar(&opts.NoSkipTests, "no-skip-tests", false, "Run verification for this feature")
	cmd.Flags().Int64Var(&opts.Version, "version", 0, "Apply only if the feature is at this version")
	cmd.MarkFlagsMutuallyExclusive("skip-tests", "no-skip-tests")
	cmd.MarkFlagsMutuallyExclusive("step", "clear-steps")

	return cmd
}

// editDescriptionWithEditor edits the description in $EDITOR against the version it was read at.
func editDescriptionWithEditor(cmd *cobra.Command, c *app.Container, id string) error {
	show, err := c.ShowFeatureUseCase().Execute(cmd.Context(), usecase.ShowFeatureInput{ID: id})
	if err != nil {
		return err
	}
	f := show.Feature

	edited, changed, err := editText("autocrew-"+f.ID+"-*.md", f.Description)
	if err != nil {
		return err
	}
	if !changed {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No changes made")
		return nil
	}

	out, err := c.EditFeatureUseCase().Execute(cmd.Context(), usecase.EditFeatureInput{
		ID:              f.ID,
		Content:         domain.FeatureContent{Description: &edited},
		ExpectedVersion: f.Version,
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated feature %s (version %d)\n", out.Feature.ID, out.Feature.Version)
	return nil
}

// newFeatureDepsCommand creates the feature deps subcommand.
func newFeatureDepsCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Version int64
		Clear   bool
	}

	cmd := &cobra.Command{
		Use:   "deps <id> [dependency-id...]",
		Short: "Replace the dependencies of a feature",
		Long: `Replace the set of features that must be verified before this one runs.

Edits that would create a dependency cycle are rejected.

Examples:
  # Depend on two features
  autocrew feature deps feature-b feature-a feature-c

  # Remove all dependencies
  autocrew feature deps feature-b --clear`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := args[1:]
			if len(deps) == 0 && !opts.Clear {
				return fmt.Errorf("no dependencies given (use --clear to remove all)")
			}

			out, err := c.SetDependenciesUseCase().Execute(cmd.Context(), usecase.SetDependenciesInput{
				ID:              args[0],
				Dependencies:    deps,
				ExpectedVersion: opts.Version,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(out.Feature.Dependencies) == 0 {
				_, _ = fmt.Fprintf(w, "Cleared dependencies of %s\n", out.Feature.ID)
				return nil
			}
			_, _ = fmt.Fprintf(w, "%s depends on: %s\n", out.Feature.ID, strings.Join(out.Feature.Dependencies, ", "))
			if len(out.Blocking) > 0 {
				_, _ = fmt.Fprintf(w, "Blocked by: %s\n", strings.Join(out.Blocking, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "Remove all dependencies")
	cmd.Flags().Int64Var(&opts.Version, "version", 0, "Apply only if the feature is at this version")

	return cmd
}

// newFeatureDeleteCommand creates the feature delete subcommand.
func newFeatureDeleteCommand(c *app.Container) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a feature",
		Long: `Delete a feature together with its run transcripts, worktree and branch.

A feature with a live run in any autocrew process cannot be deleted. Without
--force, deletion is also refused if the feature is still in progress, its
worktree has uncommitted changes, or other features depend on it. Use --force
to clean up after a crashed run; it also removes those dependency edges.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.DeleteFeatureUseCase().Execute(cmd.Context(), usecase.DeleteFeatureInput{
				ID:    args[0],
				Force: force,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Deleted feature %s\n", args[0])
			if out.WorktreeRemoved {
				_, _ = fmt.Fprintln(w, "Removed worktree")
			}
			if len(out.Dependents) > 0 {
				_, _ = fmt.Fprintf(w, "Dropped dependency from: %s\n", strings.Join(out.Dependents, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Discard uncommitted changes and drop dependency edges")

	return cmd
}

// newFeatureApproveCommand creates the feature approve subcommand.
func newFeatureApproveCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Accept a feature waiting for approval",
		Long: `Mark a feature in waiting_approval as verified and remove its worktree.

The feature branch is kept so the work can be merged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.AutoMode().Approve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Approved feature %s\n", f.ID)
			return nil
		},
	}
}

// newFeatureReopenCommand creates the feature reopen subcommand.
func newFeatureReopenCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Put a finished feature back to work",
		Long: `Reopen a feature.

A failed or waiting_approval feature returns to backlog, where auto mode
picks it up again. A verified feature starts a new implement run right away;
the command waits for that run to finish.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.AutoMode().Reopen(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if res.Run == nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reopened feature %s (now %s)\n", res.Feature.ID, res.Feature.Status)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reopened feature %s, running agent\n", res.Feature.ID)
			return waitRun(cmd, c, res.Run)
		},
	}
}
