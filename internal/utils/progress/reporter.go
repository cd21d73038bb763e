// Package progress defines the progress reporting capability injected into
// long running pipeline stages.
package progress

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Reporter receives progress updates as a percentage in [0, 100].
// It is only ever called from the goroutine that started the stage.
type Reporter interface {
	Report(percentage float64)
}

// ReporterFunc adapts a function to the Reporter interface
type ReporterFunc func(percentage float64)

// Report implements Reporter
func (f ReporterFunc) Report(percentage float64) {
	f(percentage)
}

type noopReporter struct{}

func (noopReporter) Report(float64) {}

// Noop returns a reporter that discards every update
func Noop() Reporter {
	return noopReporter{}
}

// OrNoop returns r, or a no-op reporter when r is nil
func OrNoop(r Reporter) Reporter {
	if r == nil {
		return Noop()
	}
	return r
}

// LogReporter logs progress through logrus, skipping updates smaller than Step
type LogReporter struct {
	logger *logrus.Logger
	stage  string
	step   float64
	last   float64
}

// NewLogReporter creates a reporter that logs at most every step percent
func NewLogReporter(logger *logrus.Logger, stage string, step float64) *LogReporter {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogReporter{
		logger: logger,
		stage:  stage,
		step:   step,
		last:   -math.MaxFloat64,
	}
}

// Report implements Reporter
func (r *LogReporter) Report(percentage float64) {
	if percentage < 100 && percentage-r.last < r.step {
		return
	}
	r.last = percentage
	r.logger.WithFields(logrus.Fields{
		"stage":    r.stage,
		"progress": math.Round(percentage*100) / 100,
	}).Info("Progress")
}

// CalcPercentage returns n / total * 100, or 100 when total is zero
func CalcPercentage(n, total float64) float64 {
	if total == 0 {
		return 100
	}
	return n * 100 / total
}
