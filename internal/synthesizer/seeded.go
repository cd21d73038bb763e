package synthesizer

import (
	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/utils/progress"
)

// synthesizeSeeded derives one candidate row from every sensitive record,
// visiting records and their attributes in random order. Attributes are kept
// while they stay legal, so each seed yields at most one synthetic row.
func (c *synthesisContext) synthesizeSeeded(reporter progress.Reporter) []aggregator.Combination {
	records := c.block.Records
	rows := make([]aggregator.Combination, 0, len(records))

	for n, i := range c.rng.Perm(len(records)) {
		values := append([]datablock.ValueID(nil), records[i].Values...)
		c.rng.Shuffle(len(values), func(a, b int) { values[a], values[b] = values[b], values[a] })

		var row aggregator.Combination
		for _, v := range values {
			if c.allowed(row, v) {
				row = row.With(v)
			}
		}

		if len(row) > 0 {
			rows = append(rows, row)
			c.track(row)
		}
		reporter.Report(progress.CalcPercentage(float64(n+1), float64(len(records))))
	}

	return rows
}
