//go:build windows

package lockfile

import "os"

// ProcessAlive reports whether a process with pid can be opened.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
