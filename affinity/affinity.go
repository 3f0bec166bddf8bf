// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations
// live in separate files guarded by build tags.

package affinity

import "runtime"

// PinCurrentGoroutine locks the calling goroutine to its OS thread and pins
// that thread to the given logical CPU on supported platforms. Returns an
// error on unsupported platforms; the goroutine stays thread-locked either
// way, the caller owns the corresponding runtime.UnlockOSThread.
func PinCurrentGoroutine(cpuID int) error {
	runtime.LockOSThread()
	return setAffinityPlatform(cpuID)
}

// SetAffinity pins the current OS thread to a given logical CPU/core on
// supported platforms. On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}
