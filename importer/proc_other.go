//go:build !linux

package importer

import "os/exec"

// Pdeathsig is Linux only: elsewhere the clone relies on the context
// cancellation of exec.CommandContext.
func setPlatformSpecificAttrs(*exec.Cmd) {}
