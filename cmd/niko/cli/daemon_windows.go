//go:build windows

package cli

import (
	"os"
)

// isProcessRunning reports whether the process can still be found. On
// Windows FindProcess opens a handle and fails once the process is gone.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

// stopProcess kills the process on Windows (no graceful SIGTERM support).
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
