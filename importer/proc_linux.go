//go:build linux

package importer

import (
	"os/exec"
	"syscall"
)

// setPlatformSpecificAttrs makes the kernel kill git if the server dies
// in the middle of a clone.
func setPlatformSpecificAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
}
