package synthesizer

import (
	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/utils/progress"
)

// synthesizeUnseeded samples as many rows as there are sensitive records.
// A row grows one attribute at a time: each legal candidate is weighted by
// how many records hold the row plus that candidate, and stopping is weighted
// by how many records holding the row cannot be extended legally.
func (c *synthesisContext) synthesizeUnseeded(reporter progress.Reporter) []aggregator.Combination {
	total := c.block.NumberOfRecords()
	rows := make([]aggregator.Combination, 0, total)

	for n := 0; n < total; n++ {
		var row aggregator.Combination
		for {
			e := c.entry(row)
			weights := make([]int, len(e.candidates)+1)
			for i, cand := range e.candidates {
				weights[i] = cand.conditional
			}
			weights[len(e.candidates)] = e.stopWeight

			i := sampleIndex(c.rng, weights)
			if i < 0 || i == len(e.candidates) {
				break
			}
			row = row.With(e.candidates[i].value)
		}

		if len(row) > 0 {
			rows = append(rows, row)
			c.track(row)
		}
		reporter.Report(progress.CalcPercentage(float64(n+1), float64(total)))
	}

	return rows
}
