//go:build !windows

package registry

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

func prepareCommandForTreeControl(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killCommandTree signals the process group so helpers spawned by the copy
// tool die with it.
func killCommandTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		killErr := syscall.Kill(-pgid, syscall.SIGKILL)
		if killErr == nil || killErr == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("kill process group %d: %w", pgid, killErr)
	}

	if err := cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("kill process %d: %w", cmd.Process.Pid, err)
	}
	return nil
}
