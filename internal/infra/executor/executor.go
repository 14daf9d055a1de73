// Package executor runs AI coding agents as subprocesses and turns their
// output into structured agent messages.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/runoshun/autocrew/internal/domain"
)

// Ensure Executor implements domain.AgentExecutor.
var _ domain.AgentExecutor = (*Executor)(nil)

const (
	// maxLineSize bounds a single line of agent output.
	maxLineSize = 16 * 1024 * 1024
	// stderrTail is how much stderr is kept for error reporting.
	stderrTail = 8 * 1024
	// waitDelay bounds how long Wait blocks on open pipes after the process is killed.
	waitDelay = 2 * time.Second
)

// Options configures an Executor.
type Options struct {
	Providers map[string]domain.ProviderConfig // Command/args overrides by provider name
	Logger    domain.Logger                    // May be nil
	Env       []string                         // Extra "KEY=value" entries for every run
}

// Executor launches provider CLIs.
type Executor struct {
	overrides map[string]domain.ProviderConfig
	logger    domain.Logger
	env       []string
}

// New creates an Executor.
func New(opts Options) *Executor {
	return &Executor{
		overrides: opts.Providers,
		logger:    opts.Logger,
		env:       opts.Env,
	}
}

// Providers lists the supported provider names.
func Providers() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	return names
}

// Run starts the agent and streams its messages.
//
// The stream closes after at most one result message. When the scaled timeout
// expires the process is killed and a result with subtype timeout is sent. When
// ctx is cancelled the process is killed and the stream closes without a result.
func (e *Executor) Run(ctx context.Context, opts domain.ExecuteOptions) (<-chan domain.AgentMessage, error) {
	name := opts.Provider
	p, ok := profiles[name]
	if !ok {
		return nil, &domain.ExecutorLaunchError{Provider: name, Err: domain.ErrUnknownProvider}
	}

	command, args := e.commandLine(name, p, opts)
	if opts.Dir != "" {
		if st, err := os.Stat(opts.Dir); err != nil || !st.IsDir() {
			return nil, &domain.ExecutorLaunchError{Provider: name, Err: fmt.Errorf("working directory %s is not accessible", opts.Dir)}
		}
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	timeout := domain.ScaledTimeout(opts.Timeout, opts.Effort)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	// #nosec G204 - command comes from the provider table or user configuration
	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), e.env...)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)
	if p.stdinPrompt {
		cmd.Stdin = strings.NewReader(opts.Prompt)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &domain.ExecutorLaunchError{Provider: name, Err: err}
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &domain.ExecutorLaunchError{Provider: name, Err: err}
	}
	e.debug(fmt.Sprintf("started %s (pid %d) in %s, timeout %s", name, cmd.Process.Pid, opts.Dir, timeout))

	out := make(chan domain.AgentMessage)
	go func() {
		defer close(out)
		defer cancel()

		s := &stream{ctx: ctx, out: out}
		dec := p.decoder()
		scanLines(stdout, func(line []byte) {
			for _, msg := range dec.Decode(line) {
				s.send(msg)
			}
		})
		waitErr := cmd.Wait()

		switch {
		case ctx.Err() != nil:
			e.debug(fmt.Sprintf("%s cancelled", name))
		case s.terminated:
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			e.debug(fmt.Sprintf("%s timed out after %s", name, timeout))
			s.send(domain.AgentMessage{
				Type:      domain.MessageResult,
				Subtype:   domain.ResultTimeout,
				Error:     fmt.Sprintf("%v after %s", domain.ErrExecutorTimeout, timeout),
				SessionID: dec.SessionID(),
			})
		default:
			if msg, ok := dec.Finish(waitErr, stderr.String()); ok {
				s.send(msg)
			}
		}
	}()

	return out, nil
}

// commandLine resolves the binary and arguments, applying the
// [providers.<name>] overrides.
func (e *Executor) commandLine(name string, p profile, opts domain.ExecuteOptions) (string, []string) {
	command := p.command
	var extra []string
	if o, ok := e.overrides[name]; ok {
		if o.Command != "" {
			command = o.Command
		}
		extra = o.Args
	}
	return command, p.argv(opts, extra)
}

func (e *Executor) debug(msg string) {
	if e.logger != nil {
		e.logger.Debug("", "executor", msg)
	}
}

// stream forwards messages until the consumer goes away, enforcing a single result.
type stream struct {
	ctx        context.Context
	out        chan<- domain.AgentMessage
	terminated bool
}

func (s *stream) send(msg domain.AgentMessage) {
	if s.terminated {
		return
	}
	if msg.IsTerminal() {
		s.terminated = true
	}
	select {
	case s.out <- msg:
	case <-s.ctx.Done():
	}
}

// scanLines calls fn for each non-empty line of r, then drains r.
func scanLines(r io.Reader, fn func([]byte)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		fn(line)
	}
	// An oversized line stops the scanner; keep the pipe drained so the child can exit.
	_, _ = io.Copy(io.Discard, r)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
	mu  sync.Mutex
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

// exitMessage builds the result reported when a process ends without one of its own.
func exitMessage(waitErr error, stderr, sessionID string) domain.AgentMessage {
	detail := stderr
	if detail == "" {
		detail = waitErr.Error()
	} else {
		detail = waitErr.Error() + ": " + detail
	}
	return domain.AgentMessage{
		Type:      domain.MessageResult,
		Subtype:   domain.ResultError,
		Error:     "agent exited with error: " + detail,
		SessionID: sessionID,
	}
}
