package synthesizer

import (
	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
)

// allowed reports whether v may be appended to partial: v must come from an
// unused column and every combination it completes, up to the reporting
// length, must occur at least resolution times in the sensitive counts
func (c *synthesisContext) allowed(partial aggregator.Combination, v datablock.ValueID) bool {
	if partial.Contains(v) || c.columnsOf(partial)[c.block.Values.Column(v)] {
		return false
	}
	return c.minCount(partial, v) >= c.resolution
}

// withinBudget reports whether appending v to partial keeps every completed
// combination below its oversampling limit. It always holds when budgets are
// not enforced.
func (c *synthesisContext) withinBudget(partial aggregator.Combination, v datablock.ValueID) bool {
	if c.synthesized == nil {
		return true
	}

	ratio := 1 + c.oversampling.Ratio
	exceeded := false
	check := func(comb aggregator.Combination) {
		key := comb.Key()
		limit := float64(c.aggregates.CountByKey(key)) * ratio
		if float64(c.synthesized[key]) >= limit {
			exceeded = true
		}
	}

	check(aggregator.Combination{v})
	for length := 1; length < c.reportingLength && length <= len(partial) && !exceeded; length++ {
		aggregator.ForEachCombination(partial, length, func(sub aggregator.Combination) {
			if !exceeded {
				check(sub.With(v))
			}
		})
	}
	return !exceeded
}

// suppress removes attributes whose synthesized count exceeds their target
// from randomly chosen rows, then drops rows left empty. It returns the
// remaining rows and how many values were removed.
func (c *synthesisContext) suppress(rows []aggregator.Combination) ([]aggregator.Combination, int) {
	targets := c.targets()

	holders := make(map[datablock.ValueID][]int)
	for i, row := range rows {
		for _, v := range row {
			holders[v] = append(holders[v], i)
		}
	}

	removed := 0
	for _, v := range sortedValues(c.singles) {
		excess := c.singles[v] - targets[v]
		if excess <= 0 {
			continue
		}

		rowsWithValue := holders[v]
		c.rng.Shuffle(len(rowsWithValue), func(i, j int) {
			rowsWithValue[i], rowsWithValue[j] = rowsWithValue[j], rowsWithValue[i]
		})
		if excess > len(rowsWithValue) {
			excess = len(rowsWithValue)
		}
		for _, i := range rowsWithValue[:excess] {
			rows[i] = rows[i].Without(v)
		}
		c.singles[v] -= excess
		removed += excess
	}

	kept := rows[:0]
	for _, row := range rows {
		if len(row) > 0 {
			kept = append(kept, row)
		}
	}
	return kept, removed
}
