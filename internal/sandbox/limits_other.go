//go:build !linux

package sandbox

// applyLimits is a no-op where rlimits are unavailable; workers are still
// killed on their deadline.
func applyLimits(memoryBytes int64, cpuSeconds uint64) error {
	return nil
}
