// Package threading resolves how many workers the aggregation fan-out uses.
package threading

import (
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
)

// EnvNumThreads overrides the worker count for the whole process
const EnvNumThreads = "SDS_NUM_THREADS"

var numberOfThreads atomic.Int64

// SetNumberOfThreads sets the process-wide worker count. Values < 1 reset it,
// falling back to the environment or the hardware parallelism.
func SetNumberOfThreads(n int) {
	if n < 1 {
		n = 0
	}
	numberOfThreads.Store(int64(n))
}

// NumberOfThreads returns the worker count: the explicit setting first, then
// SDS_NUM_THREADS, then runtime.NumCPU().
func NumberOfThreads() int {
	if n := numberOfThreads.Load(); n > 0 {
		return int(n)
	}
	if env := os.Getenv(EnvNumThreads); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}
