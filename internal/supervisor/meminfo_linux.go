//go:build linux

package supervisor

import "golang.org/x/sys/unix"

// availableMemoryMB returns the system's free memory in megabytes, or
// 0 when it cannot be determined.
func availableMemoryMB() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return uint64(info.Freeram) * unit / (1000 * 1000)
}
