package evaluator

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/observability/metrics"
)

// Evaluator compares sensitive and synthetic aggregated data. It never
// modifies either side.
type Evaluator struct {
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics
}

// NewEvaluator creates a new evaluator
func NewEvaluator(logger *logrus.Logger) *Evaluator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Evaluator{logger: logger}
}

// SetMetrics sets the metrics collector
func (e *Evaluator) SetMetrics(m *metrics.PrometheusMetrics) {
	e.metrics = m
}

// LeakageCountByLen counts, per length, the synthetic combinations reported
// at or above resolution whose sensitive count is below resolution
func (e *Evaluator) LeakageCountByLen(sensitive, synthetic *aggregator.AggregatedData, resolution int) aggregator.CountByLen {
	counts := aggregator.CountByLen{}
	t := newTranslator(synthetic.DataBlock, sensitive.DataBlock)

	for key, ac := range synthetic.AggregatesCount {
		if ac.Count < resolution {
			continue
		}
		sensitiveCount := 0
		if comb, ok := t.translate(key); ok {
			sensitiveCount = sensitive.Count(comb)
		}
		if sensitiveCount < resolution {
			counts[key.Len()]++
		}
	}
	return counts
}

// FabricatedCountByLen counts, per length, the synthetic combinations that
// never occur in the sensitive data
func (e *Evaluator) FabricatedCountByLen(sensitive, synthetic *aggregator.AggregatedData) aggregator.CountByLen {
	counts := aggregator.CountByLen{}
	t := newTranslator(synthetic.DataBlock, sensitive.DataBlock)

	for key := range synthetic.AggregatesCount {
		comb, ok := t.translate(key)
		if !ok || sensitive.Count(comb) == 0 {
			counts[key.Len()]++
		}
	}
	return counts
}

// PreservationByCount measures how well synthetic counts track the sensitive
// counts of every sensitive combination at or above resolution
func (e *Evaluator) PreservationByCount(sensitive, synthetic *aggregator.AggregatedData, resolution int) *PreservationByCount {
	result := newPreservationByCount()
	t := newTranslator(sensitive.DataBlock, synthetic.DataBlock)

	var proportionalErrors []float64
	for key, ac := range sensitive.AggregatesCount {
		if ac.Count < resolution || ac.Count == 0 {
			continue
		}
		syntheticCount := 0
		if comb, ok := t.translate(key); ok {
			syntheticCount = synthetic.Count(comb)
		}
		result.add(key.Len(), ac.Count, syntheticCount)
		proportionalErrors = append(proportionalErrors, math.Abs(float64(syntheticCount-ac.Count))/float64(ac.Count))
	}

	result.MeanProportionalError = meanProportionalError(proportionalErrors)
	return result
}

// RecordExpansion returns synthetic records / sensitive records, or 1 when
// there is no sensitive record
func (e *Evaluator) RecordExpansion(sensitive, synthetic *aggregator.AggregatedData) float64 {
	if sensitive.NumberOfRecords() == 0 {
		return 1
	}
	return float64(synthetic.NumberOfRecords()) / float64(sensitive.NumberOfRecords())
}

// Evaluate computes every metric at once
func (e *Evaluator) Evaluate(sensitive, synthetic *aggregator.AggregatedData, resolution int) *EvaluateResult {
	start := time.Now()

	result := &EvaluateResult{
		Resolution:           resolution,
		SensitiveAggregates:  Summarize(sensitive, resolution),
		SyntheticAggregates:  Summarize(synthetic, resolution),
		LeakageCountByLen:    e.LeakageCountByLen(sensitive, synthetic, resolution),
		FabricatedCountByLen: e.FabricatedCountByLen(sensitive, synthetic),
		PreservationByCount:  e.PreservationByCount(sensitive, synthetic, resolution),
		RecordExpansion:      e.RecordExpansion(sensitive, synthetic),
	}

	e.metrics.RecordEvaluation(result.LeakageCountByLen, result.FabricatedCountByLen, result.RecordExpansion)

	e.logger.WithFields(logrus.Fields{
		"resolution":              resolution,
		"leaked":                  result.TotalLeakage(),
		"fabricated":              result.TotalFabricated(),
		"mean_proportional_error": result.PreservationByCount.MeanProportionalError,
		"record_expansion":        result.RecordExpansion,
		"duration":                time.Since(start),
	}).Info("Evaluation completed")

	return result
}

// translator maps combinations between two data blocks by header and value
type translator struct {
	from, to *datablock.DataBlock
	same     bool
	columns  map[int]int
	values   map[datablock.ValueID]datablock.ValueID
	missing  map[datablock.ValueID]bool
}

func newTranslator(from, to *datablock.DataBlock) *translator {
	t := &translator{
		from:    from,
		to:      to,
		same:    from == to,
		columns: make(map[int]int),
		values:  make(map[datablock.ValueID]datablock.ValueID),
		missing: make(map[datablock.ValueID]bool),
	}
	if !t.same {
		for i, header := range from.Headers {
			if j, ok := to.ColumnIndex(header); ok {
				t.columns[i] = j
			}
		}
	}
	return t
}

// translate returns the combination of the other block holding the same
// header:value items, or false when one of them does not exist there
func (t *translator) translate(key aggregator.CombinationKey) (aggregator.Combination, bool) {
	comb := key.Combination()
	if t.same {
		return comb, true
	}

	out := make([]datablock.ValueID, len(comb))
	for i, v := range comb {
		id, ok := t.value(v)
		if !ok {
			return nil, false
		}
		out[i] = id
	}
	return aggregator.NewCombination(out...), true
}

func (t *translator) value(v datablock.ValueID) (datablock.ValueID, bool) {
	if id, ok := t.values[v]; ok {
		return id, true
	}
	if t.missing[v] {
		return 0, false
	}

	attr := t.from.Values.Value(v)
	if column, ok := t.columns[attr.ColumnIndex]; ok {
		if id, found := t.to.Values.Lookup(column, attr.Value); found {
			t.values[v] = id
			return id, true
		}
	}
	t.missing[v] = true
	return 0, false
}
