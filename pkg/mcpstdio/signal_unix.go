//go:build !windows

package mcpstdio

import (
	"os"
	"syscall"
)

// terminateSignal returns the graceful-shutdown signal for the current
// platform: SIGTERM everywhere except Windows, where it isn't supported.
func terminateSignal() os.Signal {
	return syscall.SIGTERM
}
