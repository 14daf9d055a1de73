package config

// ConfigTemplate is written by "autocrew init". Every key shows its default.
const ConfigTemplate = `# autocrew configuration

[auto]
# Features run concurrently at most.
max_concurrency = 3
# Isolate each feature in its own git worktree.
use_worktrees = true
# Base run timeout, scaled by reasoning effort
# (none=1x, minimal=1.5x, low=2x, medium=2.5x, high=3x, xhigh=4x).
base_timeout = "30m"
reasoning_effort = "none"
# Failed runs returned to the backlog automatically before giving up.
max_auto_retries = 0
poll_interval = "2s"
exit_when_idle = false

[agent]
# claude, codex, cursor or opencode
provider = "claude"
# model = ""
# allowed_tools = ["Read", "Edit", "Bash"]

# [providers.claude]
# command = "/usr/local/bin/claude"
# args = []

[worktree]
# Shell script run inside every new worktree.
# setup_script = "npm ci"

[store]
# json or sqlite
backend = "json"

[server]
addr = "127.0.0.1:3008"
# Browser pages may call the API only from loopback or these origins.
# allowed_origins = ["http://devbox.local:5173"]

[nats]
# Forward events to NATS when set.
# url = "nats://127.0.0.1:4222"
subject_prefix = "autocrew"

[log]
level = "info"
`

// PipelineTemplate is the pipeline definition written by "autocrew init".
const PipelineTemplate = `# Stages run in order after the implementation succeeds.
stages: []
# stages:
#   - id: review
#     name: Code review
#     instructions: Review the changes for correctness and style.
`
