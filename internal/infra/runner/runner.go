// Package runner runs worktree setup scripts.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Client runs shell scripts with sh -c.
type Client struct{}

// NewClient creates a new script runner client.
func NewClient() *Client {
	return &Client{}
}

// Run executes script in dir. env entries ("KEY=value") are appended to the
// process environment. The combined output is included in the error on failure.
func (c *Client) Run(ctx context.Context, dir, script string, env ...string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	// Children of sh may keep the output pipe open after a cancel.
	cmd.WaitDelay = time.Second

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("execute script: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return nil
}
