//go:build linux

package sandbox

import (
	"bytes"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// applyLimits caps the address space the process may still map and its CPU
// time. The memory budget is added to what the runtime has already reserved.
func applyLimits(memoryBytes int64, cpuSeconds uint64) error {
	if memoryBytes > 0 {
		limit := uint64(memoryBytes) + mappedBytes()
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: limit, Max: limit}); err != nil {
			return err
		}
	}

	// SIGXCPU at the soft limit is ignored by the Go runtime; the hard limit kills.
	if cpuSeconds > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpuSeconds, Max: cpuSeconds + 1}); err != nil {
			return err
		}
	}
	return nil
}

// mappedBytes reports the current virtual size of the process
func mappedBytes() uint64 {
	statm, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	fields := bytes.Fields(statm)
	if len(fields) == 0 {
		return 0
	}
	pages, err := strconv.ParseUint(string(fields[0]), 10, 64)
	if err != nil {
		return 0
	}
	return pages * uint64(unix.Getpagesize())
}
