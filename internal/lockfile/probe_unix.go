//go:build !windows

package lockfile

import (
	"errors"
	"syscall"
)

// ProcessAlive sends signal 0 to pid. EPERM means the process exists but
// belongs to another user.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
