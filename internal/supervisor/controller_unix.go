//go:build !windows

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

type unixController struct{}

// DefaultController returns the controller for the running platform.
func DefaultController() ProcessGroupController { return unixController{} }

func (unixController) Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func (unixController) Terminate(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGTERM)
}

func (unixController) Kill(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return nil
	}
	var err error
	if pgid, gerr := unix.Getpgid(pid); gerr == nil && pgid > 0 {
		// Negative pid targets the whole group, including workers the child spawned.
		err = unix.Kill(-pgid, sig)
	} else {
		err = cmd.Process.Signal(sig)
	}
	if errors.Is(err, unix.ESRCH) || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
