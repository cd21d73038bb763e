package synthesizer

import (
	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/utils/progress"
)

// synthesizeFromCounts builds every row by consolidation alone. Synthesized
// counts of every completed combination are held to the aggregated counts.
func (c *synthesisContext) synthesizeFromCounts(reporter progress.Reporter) []aggregator.Combination {
	c.enforceBudgets(OversamplingConfig{})
	return c.consolidate(nil, reporter)
}

// synthesizeFromAggregates builds every row by consolidation alone against
// released aggregates, which may carry noise. A combination may exceed its
// released count by the oversampling ratio; after the configured number of
// rejected candidates a row is closed.
func (c *synthesisContext) synthesizeFromAggregates(oversampling OversamplingConfig, reporter progress.Reporter) []aggregator.Combination {
	c.enforceBudgets(oversampling)
	return c.consolidate(nil, reporter)
}
