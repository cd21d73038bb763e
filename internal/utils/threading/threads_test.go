package threading

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumberOfThreads(t *testing.T) {
	t.Cleanup(func() { SetNumberOfThreads(0) })

	t.Setenv(EnvNumThreads, "")
	SetNumberOfThreads(0)
	assert.Equal(t, runtime.NumCPU(), NumberOfThreads())

	t.Setenv(EnvNumThreads, "3")
	assert.Equal(t, 3, NumberOfThreads())

	t.Setenv(EnvNumThreads, "not-a-number")
	assert.Equal(t, runtime.NumCPU(), NumberOfThreads())

	SetNumberOfThreads(5)
	assert.Equal(t, 5, NumberOfThreads())

	SetNumberOfThreads(-2)
	assert.Equal(t, runtime.NumCPU(), NumberOfThreads())
}
