package synthesizer

import (
	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/utils/progress"
)

// consolidate tops up attributes whose synthesized count is still below their
// target. Every new row is grown from legal candidates sampled in proportion
// to their remaining deficit; it stops at the first row that comes out empty.
func (c *synthesisContext) consolidate(rows []aggregator.Combination, reporter progress.Reporter) []aggregator.Combination {
	targets := c.targets()
	deficits := make(map[datablock.ValueID]int, len(targets))
	totalDeficit := 0
	for v, target := range targets {
		if d := target - c.singles[v]; d > 0 {
			deficits[v] = d
			totalDeficit += d
		}
	}

	remaining := totalDeficit
	for remaining > 0 {
		row := c.consolidateRow(deficits)
		if len(row) == 0 {
			break
		}

		rows = append(rows, row)
		c.track(row)
		for _, v := range row {
			if deficits[v] > 0 {
				deficits[v]--
				remaining--
			}
		}
		reporter.Report(progress.CalcPercentage(float64(totalDeficit-remaining), float64(totalDeficit)))
	}

	reporter.Report(100)
	return rows
}

func (c *synthesisContext) consolidateRow(deficits map[datablock.ValueID]int) aggregator.Combination {
	var row aggregator.Combination
	rejected := make(map[datablock.ValueID]bool)
	tries := 0

	for {
		e := c.entry(row)

		options := make([]datablock.ValueID, 0, len(e.candidates))
		weights := make([]int, 0, len(e.candidates))
		for _, cand := range e.candidates {
			if d := deficits[cand.value]; d > 0 && !rejected[cand.value] {
				options = append(options, cand.value)
				weights = append(weights, d)
			}
		}

		i := sampleIndex(c.rng, weights)
		if i < 0 {
			return row
		}

		v := options[i]
		if !c.withinBudget(row, v) {
			rejected[v] = true
			tries++
			if c.oversampling.Tries > 0 && tries >= c.oversampling.Tries {
				return row
			}
			continue
		}
		row = row.With(v)
	}
}
