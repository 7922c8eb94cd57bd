//go:build windows

package sandboxexec

import "os/exec"

// setDetached is a no-op on Windows; process group detachment is
// POSIX-specific per spec §4.F step 9.
func setDetached(cmd *exec.Cmd) {}

// killProcessGroup kills the process directly; Windows has no POSIX
// process-group signal to send instead.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
}
