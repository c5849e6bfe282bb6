//go:build unix

package runstatus

import "syscall"

func processAlive(pid int) bool {
	// On unix, signal 0 checks existence/permission.
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
