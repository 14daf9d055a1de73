//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the agent in its own process group so that
// cancellation also kills the tools it spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
