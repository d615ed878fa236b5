//go:build !linux

package supervisor

// availableMemoryMB is unsupported off Linux; callers fall back to the
// 500m heap floor.
func availableMemoryMB() uint64 {
	return 0
}
