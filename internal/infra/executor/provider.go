package executor

import (
	"strings"

	"github.com/runoshun/autocrew/internal/domain"
)

// decoder turns provider output lines into agent messages.
type decoder interface {
	// Decode parses one line. Unrecognized lines yield nothing.
	Decode(line []byte) []domain.AgentMessage
	// Finish returns the result to report when the process exited without sending one.
	Finish(waitErr error, stderr string) (domain.AgentMessage, bool)
	// SessionID returns the provider session seen so far.
	SessionID() string
}

// profile describes how to invoke one provider CLI.
// args returns the flags only; argv places the prompt.
type profile struct {
	args        func(domain.ExecuteOptions) []string
	decoder     func() decoder
	command     string
	stdinPrompt bool // Prompt is written to stdin instead of passed as an argument
}

// argv builds the argument list. Extra flags from configuration go after the
// profile flags and before a positional prompt, which must stay last.
func (p profile) argv(o domain.ExecuteOptions, extra []string) []string {
	args := append(p.args(o), extra...)
	if !p.stdinPrompt {
		args = append(args, o.Prompt)
	}
	return args
}

var profiles = map[string]profile{
	"claude": {
		command:     "claude",
		stdinPrompt: true,
		decoder:     func() decoder { return &streamJSONDecoder{} },
		args: func(o domain.ExecuteOptions) []string {
			args := []string{"-p", "--output-format", "stream-json", "--verbose"}
			if o.Model != "" {
				args = append(args, "--model", o.Model)
			}
			if o.ResumeSessionID != "" {
				args = append(args, "--resume", o.ResumeSessionID)
			}
			if len(o.AllowedTools) > 0 {
				args = append(args, "--allowedTools", strings.Join(o.AllowedTools, ","))
			}
			return args
		},
	},
	"cursor": {
		command: "cursor-agent",
		decoder: func() decoder { return &streamJSONDecoder{} },
		args: func(o domain.ExecuteOptions) []string {
			args := []string{"-p", "--output-format", "stream-json", "--force"}
			if o.Model != "" {
				args = append(args, "--model", o.Model)
			}
			if o.ResumeSessionID != "" {
				args = append(args, "--resume", o.ResumeSessionID)
			}
			return args
		},
	},
	"codex": {
		command: "codex",
		decoder: func() decoder { return &codexDecoder{} },
		args: func(o domain.ExecuteOptions) []string {
			args := []string{"exec"}
			if o.ResumeSessionID != "" {
				args = append(args, "resume", o.ResumeSessionID)
			}
			args = append(args, "--json", "--full-auto", "--skip-git-repo-check")
			if o.Model != "" {
				args = append(args, "--model", o.Model)
			}
			return args
		},
	},
	"opencode": {
		command: "opencode",
		decoder: func() decoder { return &textDecoder{} },
		args: func(o domain.ExecuteOptions) []string {
			args := []string{"run"}
			if o.Model != "" {
				args = append(args, "--model", o.Model)
			}
			if o.ResumeSessionID != "" {
				args = append(args, "--session", o.ResumeSessionID)
			}
			return args
		},
	},
}
