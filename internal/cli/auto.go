package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runoshun/autocrew/internal/app"
	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/usecase"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long Ctrl-C waits for runs to apply their final status.
const shutdownTimeout = 30 * time.Second

// notifyContextFunc is a function variable for signal handling, allowing it to be mocked in tests.
var notifyContextFunc = func(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newAutoCommand creates the auto command.
func newAutoCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Concurrency  int
		ExitWhenIdle bool
	}

	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Run auto mode in the foreground",
		Long: `Run the scheduler in the foreground until interrupted.

Auto mode repeatedly selects backlog features whose dependencies are verified
and runs up to max_concurrency agents at once. Press Ctrl-C to stop: selection
ends, live runs are cancelled and their features return to backlog.

Runs left open by a crashed process are recovered on start.

Examples:
  # Run with the configured concurrency
  autocrew auto

  # Run two agents at a time and exit once nothing is eligible
  autocrew auto --concurrency 2 --exit-when-idle`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("concurrency") {
				c.AppConfig.Auto.MaxConcurrency = opts.Concurrency
			}
			if opts.ExitWhenIdle {
				c.AppConfig.Auto.ExitWhenIdle = true
			}
			c.WithConsole(cmd.ErrOrStderr())

			ctx, stop := notifyContextFunc(cmd.Context())
			defer stop()

			if err := c.StartServices(ctx); err != nil {
				return err
			}

			auto := c.AutoMode()
			if err := auto.Start(ctx); err != nil {
				return err
			}

			err := auto.Wait(ctx)
			if ctx.Err() == nil {
				// Stopped on its own: idle exit or fatal store error.
				return err
			}

			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Stopping auto mode...")
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()
			if err := auto.Stop(stopCtx); err != nil && !errors.Is(err, domain.ErrSchedulerNotRunning) {
				return err
			}
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Auto mode stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "n", 0, "Maximum number of concurrent runs")
	cmd.Flags().BoolVar(&opts.ExitWhenIdle, "exit-when-idle", false, "Stop once no feature is eligible and nothing is running")

	return cmd
}

// newRunCommand creates the run command.
func newRunCommand(c *app.Container) *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run an agent on one feature",
		Long: `Run an agent on a single feature in the foreground.

The feature moves to in_progress (or stays in its pipeline stage) and the
command returns once the run has applied its final status. Press Ctrl-C to
cancel the run.

Examples:
  # Implement a feature
  autocrew run feature-1740830400000-ab12cd34

  # Continue the last agent session of a failed feature
  autocrew run feature-1740830400000-ab12cd34 --resume`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.WithConsole(cmd.ErrOrStderr())
			h, err := c.AutoMode().RunFeature(cmd.Context(), args[0], usecase.RunOptions{Resume: resume})
			if err != nil {
				return err
			}
			return waitRun(cmd, c, h)
		},
	}

	cmd.Flags().BoolVarP(&resume, "resume", "r", false, "Continue the last agent session")

	return cmd
}

// newVerifyCommand creates the verify command.
func newVerifyCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Run a verification agent on one feature",
		Long: `Run a verification agent on a feature in waiting_approval.

On success the feature becomes verified and its worktree is removed; on failure
it stays in waiting_approval for review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.WithConsole(cmd.ErrOrStderr())
			h, err := c.AutoMode().VerifyFeature(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return waitRun(cmd, c, h)
		},
	}
}

// waitRun waits for an on-demand run, force-stopping it on Ctrl-C, and prints the result.
func waitRun(cmd *cobra.Command, c *app.Container, h *usecase.RunHandle) error {
	ctx, stop := notifyContextFunc(cmd.Context())
	defer stop()

	res, err := h.Wait(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Cancelling run...")
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
		defer cancel()
		if stopErr := c.AutoMode().ForceStop(stopCtx, h.FeatureID()); stopErr != nil && !errors.Is(stopErr, domain.ErrNoActiveRun) {
			return stopErr
		}
		if res, err = h.Wait(stopCtx); err != nil {
			return err
		}
	}

	printRunResult(cmd, h.FeatureID(), res)
	return res.Err
}

// printRunResult prints the final state of a run.
func printRunResult(cmd *cobra.Command, featureID string, res usecase.RunResult) {
	w := cmd.OutOrStdout()
	st := newStyler(w)
	_, _ = fmt.Fprintf(w, "Run %s finished: %s, feature %s is %s\n",
		res.RunID, res.Outcome, featureID, st.Label(res.Status))
	if res.Summary != "" {
		_, _ = fmt.Fprintf(w, "Summary: %s\n", res.Summary)
	}
}
