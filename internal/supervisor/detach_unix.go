//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setDetached puts the child in its own process group so it does not
// receive signals sent to our process group (spec §4.8: "spawn
// detached so the child does not inherit the controlling terminal").
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
