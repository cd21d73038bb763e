package aggregator

import (
	"sort"

	"github.com/inferloop/sds/internal/datablock"
)

// AggregatedCount is the result of aggregation for one combination.
// Count always equals len(ContainedInRecords), except for counts-only data
// rebuilt from released aggregates where no record sets exist.
type AggregatedCount struct {
	// How many records contain the combination
	Count int `json:"count"`
	// Which records contain the combination
	ContainedInRecords RecordsSet `json:"contained_in_records,omitempty"`
}

// CountByLen maps a combination length to a count
type CountByLen map[int]int

// AggregatedData maps every combination found in a data block to its count.
// It is immutable once built and safe to share between readers.
type AggregatedData struct {
	DataBlock       *datablock.DataBlock
	AggregatesCount map[CombinationKey]*AggregatedCount
	// Distinct records involved in under-threshold combinations, by length
	RecordsSensitivityByLen CountByLen
	// Maximum number of combinations a single record contributes, by length (index = length)
	RecordsSensitivity []int
	ReportingLength    int

	numberOfRecords int
	countsOnly      bool
}

// NewAggregatedData wraps aggregation results computed from dataBlock
func NewAggregatedData(
	dataBlock *datablock.DataBlock,
	aggregatesCount map[CombinationKey]*AggregatedCount,
	recordsSensitivityByLen CountByLen,
	recordsSensitivity []int,
	reportingLength int,
) *AggregatedData {
	if recordsSensitivityByLen == nil {
		recordsSensitivityByLen = CountByLen{}
	}
	return &AggregatedData{
		DataBlock:               dataBlock,
		AggregatesCount:         aggregatesCount,
		RecordsSensitivityByLen: recordsSensitivityByLen,
		RecordsSensitivity:      recordsSensitivity,
		ReportingLength:         reportingLength,
		numberOfRecords:         dataBlock.NumberOfRecords(),
	}
}

// NewCountsOnlyAggregatedData builds aggregated data without record sets, for
// released aggregate tables. dataBlock only carries headers and interned values.
func NewCountsOnlyAggregatedData(
	dataBlock *datablock.DataBlock,
	aggregatesCount map[CombinationKey]*AggregatedCount,
	reportingLength int,
	numberOfRecords int,
) *AggregatedData {
	recordsSensitivity := make([]int, reportingLength+1)
	for length := 1; length <= reportingLength; length++ {
		recordsSensitivity[length] = Binomial(dataBlock.NumberOfColumns(), length)
	}
	return &AggregatedData{
		DataBlock:               dataBlock,
		AggregatesCount:         aggregatesCount,
		RecordsSensitivityByLen: CountByLen{},
		RecordsSensitivity:      recordsSensitivity,
		ReportingLength:         reportingLength,
		numberOfRecords:         numberOfRecords,
		countsOnly:              true,
	}
}

// NumberOfRecords returns how many records the counts describe
func (d *AggregatedData) NumberOfRecords() int {
	return d.numberOfRecords
}

// CountsOnly reports whether record sets are unavailable
func (d *AggregatedData) CountsOnly() bool {
	return d.countsOnly
}

// Get returns the aggregated count of a combination
func (d *AggregatedData) Get(comb Combination) (*AggregatedCount, bool) {
	ac, ok := d.AggregatesCount[comb.Key()]
	return ac, ok
}

// Count returns the count of a combination, 0 when it never occurs
func (d *AggregatedData) Count(comb Combination) int {
	return d.CountByKey(comb.Key())
}

// CountByKey returns the count of an encoded combination, 0 when it never occurs
func (d *AggregatedData) CountByKey(key CombinationKey) int {
	if ac, ok := d.AggregatesCount[key]; ok {
		return ac.Count
	}
	return 0
}

// ProtectedCount is the suppressed view of a count: combinations below
// resolution read as 0
func (d *AggregatedData) ProtectedCount(comb Combination, resolution int) int {
	count := d.Count(comb)
	if count < resolution {
		return 0
	}
	return count
}

// ProtectedGet is the suppressed view of Get: combinations below resolution
// are reported as absent and their record sets are not exposed
func (d *AggregatedData) ProtectedGet(comb Combination, resolution int) (*AggregatedCount, bool) {
	ac, ok := d.Get(comb)
	if !ok || ac.Count < resolution {
		return nil, false
	}
	return ac, true
}

// Protect returns a copy holding only combinations at or above resolution.
// The receiver is left untouched; aggregated counts are shared, not copied.
func (d *AggregatedData) Protect(resolution int) *AggregatedData {
	protected := make(map[CombinationKey]*AggregatedCount, len(d.AggregatesCount))
	for key, ac := range d.AggregatesCount {
		if ac.Count >= resolution {
			protected[key] = ac
		}
	}

	out := *d
	out.AggregatesCount = protected
	return &out
}

// SortedKeys returns combination keys by descending count, then by their
// formatted representation
func (d *AggregatedData) SortedKeys() []CombinationKey {
	keys := make([]CombinationKey, 0, len(d.AggregatesCount))
	formatted := make(map[CombinationKey]string, len(d.AggregatesCount))
	for key := range d.AggregatesCount {
		keys = append(keys, key)
		formatted[key] = key.Combination().Format(d.DataBlock, ";")
	}

	sort.Slice(keys, func(i, j int) bool {
		ci, cj := d.AggregatesCount[keys[i]].Count, d.AggregatesCount[keys[j]].Count
		if ci != cj {
			return ci > cj
		}
		return formatted[keys[i]] < formatted[keys[j]]
	})
	return keys
}

// FormatCombination renders an encoded combination as "header:value" items
func (d *AggregatedData) FormatCombination(key CombinationKey, delimiter string) string {
	return key.Combination().Format(d.DataBlock, delimiter)
}

// CombinationsCountByLen returns how many distinct combinations exist per length
func (d *AggregatedData) CombinationsCountByLen() CountByLen {
	counts := CountByLen{}
	for key := range d.AggregatesCount {
		counts[key.Len()]++
	}
	return counts
}

// RareCombinationsCountByLen returns how many combinations fall below
// resolution, per length
func (d *AggregatedData) RareCombinationsCountByLen(resolution int) CountByLen {
	counts := CountByLen{}
	for key, ac := range d.AggregatesCount {
		if ac.Count < resolution {
			counts[key.Len()]++
		}
	}
	return counts
}

// CalcRecordsSensitivityByLen returns, per length, how many distinct records
// contain at least one combination of that length whose count is below
// threshold. Counts-only data has no record sets and yields an empty result.
func (d *AggregatedData) CalcRecordsSensitivityByLen(threshold int) CountByLen {
	result := CountByLen{}
	if d.countsOnly {
		return result
	}

	touched := make(map[int]map[int]struct{})
	for key, ac := range d.AggregatesCount {
		if ac.Count >= threshold {
			continue
		}
		length := key.Len()
		records, ok := touched[length]
		if !ok {
			records = make(map[int]struct{})
			touched[length] = records
		}
		for _, r := range ac.ContainedInRecords {
			records[r] = struct{}{}
		}
	}

	for length := 1; length <= d.ReportingLength; length++ {
		result[length] = len(touched[length])
	}
	return result
}

// RecordsWithRareCombinationsPercentage returns the share of records holding at
// least one under-threshold combination of the reporting length
func (d *AggregatedData) RecordsWithRareCombinationsPercentage() float64 {
	if d.numberOfRecords == 0 {
		return 0
	}
	return float64(d.RecordsSensitivityByLen[d.ReportingLength]) * 100 / float64(d.numberOfRecords)
}

// SingleAttributeCounts returns the count of every combination of length 1
func (d *AggregatedData) SingleAttributeCounts() map[datablock.ValueID]int {
	counts := make(map[datablock.ValueID]int)
	for key, ac := range d.AggregatesCount {
		if key.Len() == 1 {
			counts[key.Combination()[0]] = ac.Count
		}
	}
	return counts
}
