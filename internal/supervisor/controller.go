package supervisor

import "os/exec"

// ProcessGroupController places a child in its own process group and
// signals the whole group. Implementations are platform specific; see
// DefaultController.
type ProcessGroupController interface {
	// Prepare adjusts cmd before it is started.
	Prepare(cmd *exec.Cmd)
	// Terminate asks every process in the group to exit.
	Terminate(cmd *exec.Cmd) error
	// Kill forcibly ends the child.
	Kill(cmd *exec.Cmd) error
}
