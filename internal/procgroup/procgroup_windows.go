// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set is a no-op on Windows; process groups are not used here.
func Set(cmd *exec.Cmd) {}

// Signal maps SIGKILL to Process.Kill. SIGTERM has no reliable Windows
// equivalent and is ignored; callers eventually escalate to SIGKILL.
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}
