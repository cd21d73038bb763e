package aggregator

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/observability/metrics"
	"github.com/inferloop/sds/internal/utils/progress"
	"github.com/inferloop/sds/internal/utils/threading"
)

// Aggregator partitions a data block across a fixed worker pool, merges the
// partial counts and returns the aggregated data
type Aggregator struct {
	dataBlock *datablock.DataBlock
	logger    *logrus.Logger
	metrics   *metrics.PrometheusMetrics
	threads   int
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithThreads fixes the worker count instead of resolving the process setting
func WithThreads(threads int) Option {
	return func(a *Aggregator) {
		a.threads = threads
	}
}

// New returns an aggregator for the given data block
func New(dataBlock *datablock.DataBlock, opts ...Option) *Aggregator {
	a := &Aggregator{
		dataBlock: dataBlock,
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate counts every combination of 1 up to reportingLength values (0
// means no limit). sensitivityThreshold drives RecordsSensitivityByLen.
// The call blocks until every worker finished; reporter is called exactly
// once, after the merge.
func (a *Aggregator) Aggregate(reportingLength, sensitivityThreshold int, reporter progress.Reporter) *AggregatedData {
	start := time.Now()
	reporter = progress.OrNoop(reporter)

	normalizedReportingLength := a.dataBlock.NormalizeReportingLength(reportingLength)
	totalRecords := a.dataBlock.NumberOfRecords()
	threads := a.numberOfThreads()

	a.logger.WithFields(logrus.Fields{
		"reporting_length": normalizedReportingLength,
		"threads":          threads,
		"records":          totalRecords,
	}).Info("Aggregating data")

	results := a.runRowsAggregators(a.buildRowsAggregators(normalizedReportingLength, threads))
	aggregatesCount, recordsSensitivity, processed := mergeResults(results, normalizedReportingLength)

	reporter.Report(progress.CalcPercentage(float64(processed), float64(totalRecords)))

	data := NewAggregatedData(
		a.dataBlock,
		aggregatesCount,
		nil,
		recordsSensitivity,
		normalizedReportingLength,
	)
	data.RecordsSensitivityByLen = data.CalcRecordsSensitivityByLen(sensitivityThreshold)

	a.metrics.RecordAggregation(totalRecords, len(aggregatesCount), time.Since(start))

	a.logger.WithFields(logrus.Fields{
		"combinations": len(aggregatesCount),
		"duration":     time.Since(start),
	}).Info("Data aggregated")

	return data
}

func (a *Aggregator) numberOfThreads() int {
	if a.threads > 0 {
		return a.threads
	}
	return threading.NumberOfThreads()
}

func (a *Aggregator) buildRowsAggregators(reportingLength, threads int) []*RowsAggregator {
	records := a.dataBlock.Records
	if len(records) == 0 {
		return nil
	}

	chunkSize := int(math.Ceil(float64(len(records)) / float64(threads)))
	rowsAggregators := make([]*RowsAggregator, 0, threads)

	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		rowsAggregators = append(rowsAggregators, NewRowsAggregator(records[start:end], reportingLength))
	}

	return rowsAggregators
}

func (a *Aggregator) runRowsAggregators(rowsAggregators []*RowsAggregator) []*rowsAggregatorResult {
	results := make([]*rowsAggregatorResult, len(rowsAggregators))

	var wg sync.WaitGroup
	for i, ra := range rowsAggregators {
		wg.Add(1)
		go func(i int, ra *RowsAggregator) {
			defer wg.Done()
			results[i] = ra.aggregateRows()
		}(i, ra)
	}
	wg.Wait()

	return results
}

// mergeResults folds worker results in chunk order. Chunks hold disjoint,
// increasing record ranges, so appending record sets keeps them sorted and
// never needs conflict resolution.
func mergeResults(results []*rowsAggregatorResult, reportingLength int) (map[CombinationKey]*AggregatedCount, []int, int) {
	if len(results) == 0 {
		return make(map[CombinationKey]*AggregatedCount), make([]int, reportingLength+1), 0
	}

	merged := results[0].aggregatesCount
	recordsSensitivity := results[0].recordsSensitivity
	processed := results[0].processed

	for _, result := range results[1:] {
		for key, count := range result.aggregatesCount {
			existing, ok := merged[key]
			if !ok {
				merged[key] = count
				continue
			}
			existing.Count += count.Count
			existing.ContainedInRecords = append(existing.ContainedInRecords, count.ContainedInRecords...)
		}
		for length, s := range result.recordsSensitivity {
			if s > recordsSensitivity[length] {
				recordsSensitivity[length] = s
			}
		}
		processed += result.processed
	}

	return merged, recordsSensitivity, processed
}
