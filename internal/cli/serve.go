package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/runoshun/autocrew/internal/app"
	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/infra/backoff"
	"github.com/runoshun/autocrew/internal/usecase"
	"github.com/spf13/cobra"
)

// newServeCommand creates the serve command.
func newServeCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Addr string
		Auto bool
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API and event stream",
		Long: `Serve the HTTP control API until interrupted.

Endpoints:
  POST /api/auto/start, /api/auto/stop    control auto mode
  GET  /api/auto/status                   scheduler state and running features
  GET  /api/features[/{id}]               board and feature details
  POST /api/features/{id}/run|verify|stop on-demand runs and force stop
  GET  /api/worktrees                     worktrees of the repository
  GET  /api/events/ws, /api/events/stream live events (WebSocket, SSE)
  GET  /metrics                           Prometheus metrics

Examples:
  # Serve on the configured address
  autocrew serve

  # Serve on another port and start auto mode right away
  autocrew serve --addr 127.0.0.1:4000 --auto`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := opts.Addr
			if addr == "" {
				addr = c.AppConfig.Server.Addr
			}
			c.WithConsole(cmd.ErrOrStderr())

			ctx, stop := notifyContextFunc(cmd.Context())
			defer stop()

			if err := c.StartServices(ctx); err != nil {
				return err
			}

			auto := c.AutoMode()
			if opts.Auto {
				if err := auto.Start(ctx); err != nil {
					return err
				}
			}

			err := c.Server().ListenAndServe(ctx, addr, func(bound string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", bound)
			})

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()
			if stopErr := auto.Stop(stopCtx); stopErr != nil && !errors.Is(stopErr, domain.ErrSchedulerNotRunning) {
				err = errors.Join(err, stopErr)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (default from [server].addr)")
	cmd.Flags().BoolVar(&opts.Auto, "auto", false, "Start auto mode immediately")

	return cmd
}

// newStatusCommand creates the status command.
func newStatusCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Addr string
		Wait time.Duration
	}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running server",
		Long: `Query a running "autocrew serve" for the scheduler state and live runs.

With --wait, the server is polled until it answers or the duration passes.

Examples:
  # Query the server on the configured address
  autocrew status

  # Wait up to 10 seconds for a server that is still starting
  autocrew status --wait 10s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := opts.Addr
			if addr == "" && c != nil {
				addr = c.AppConfig.Server.Addr
			}
			if addr == "" {
				addr = domain.DefaultServerAddr
			}
			base := "http://" + strings.TrimPrefix(addr, "http://")

			client := &http.Client{Timeout: 5 * time.Second}
			if err := backoff.WaitReady(cmd.Context(), client, base+"/api/health", readyPolicy(opts.Wait)); err != nil {
				return fmt.Errorf("server not reachable at %s: %w", base, err)
			}

			status, err := fetchStatus(cmd.Context(), client, base)
			if err != nil {
				return err
			}

			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Server address (default from [server].addr)")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "Wait for the server to come up")

	return cmd
}

// readyPolicy polls every 500ms for up to wait, or probes once when wait is zero.
func readyPolicy(wait time.Duration) backoff.Policy {
	const interval = 500 * time.Millisecond
	return backoff.Policy{
		MaxAttempts: int(wait/interval) + 1,
		Initial:     interval,
		Max:         interval,
		Multiplier:  1,
	}
}

// fetchStatus reads GET /api/auto/status.
func fetchStatus(ctx context.Context, client *http.Client, base string) (*usecase.AutoModeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/auto/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("query status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var status usecase.AutoModeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// printStatus prints the scheduler state and the live runs.
func printStatus(w io.Writer, status *usecase.AutoModeStatus) {
	_, _ = fmt.Fprintf(w, "Auto mode: %s\n", status.State)
	_, _ = fmt.Fprintf(w, "Running:   %d/%d\n", status.RunningCount, status.MaxConcurrency)
	if len(status.Running) == 0 {
		return
	}

	_, _ = fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "FEATURE\tMODE\tRUN\tSTARTED")
	for _, r := range status.Running {
		runID := r.RunID
		if runID == "" {
			runID = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.FeatureID, r.Mode, runID, r.StartedAt.Format(time.RFC3339))
	}
}
