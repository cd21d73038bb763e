package aggregator

import (
	"github.com/inferloop/sds/internal/datablock"
)

// RowsAggregator counts the combinations of one contiguous shard of records.
// It owns its result map exclusively while it runs.
type RowsAggregator struct {
	records         []datablock.Record
	reportingLength int
}

type rowsAggregatorResult struct {
	aggregatesCount map[CombinationKey]*AggregatedCount
	// maximum number of combinations of each length a single record contributes
	recordsSensitivity []int
	processed          int
}

// NewRowsAggregator creates a worker for records. Record indices are kept as
// they are in the data block, never renumbered.
func NewRowsAggregator(records []datablock.Record, reportingLength int) *RowsAggregator {
	return &RowsAggregator{
		records:         records,
		reportingLength: reportingLength,
	}
}

func (ra *RowsAggregator) aggregateRows() *rowsAggregatorResult {
	result := &rowsAggregatorResult{
		aggregatesCount:    make(map[CombinationKey]*AggregatedCount),
		recordsSensitivity: make([]int, ra.reportingLength+1),
	}

	for _, record := range ra.records {
		for length := 1; length <= ra.reportingLength; length++ {
			if n := Binomial(record.Len(), length); n > result.recordsSensitivity[length] {
				result.recordsSensitivity[length] = n
			}

			ForEachCombination(record.Values, length, func(comb Combination) {
				key := comb.Key()
				ac, ok := result.aggregatesCount[key]
				if !ok {
					ac = &AggregatedCount{}
					result.aggregatesCount[key] = ac
				}
				// a combination occurs at most once per record
				ac.Count++
				ac.ContainedInRecords = append(ac.ContainedInRecords, record.Index)
			})
		}
		result.processed++
	}

	return result
}
