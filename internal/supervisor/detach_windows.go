//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setDetached uses CREATE_NEW_PROCESS_GROUP so the child is insulated
// from Ctrl+Break delivered to our console, mirroring the Unix
// new-process-group behavior (spec §4.8).
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
