package synthesizer

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/observability/metrics"
	"github.com/inferloop/sds/internal/utils/progress"
	"github.com/inferloop/sds/pkg/errors"
)

// Input is what a synthesis run consumes. Seeded and unseeded synthesis need
// DataBlock; count based synthesis needs Aggregates or a DataBlock to
// aggregate.
type Input struct {
	DataBlock  *datablock.DataBlock
	Aggregates *aggregator.AggregatedData
}

// Synthesizer generates synthetic records whose combination counts follow the
// sensitive counts without reproducing combinations rarer than the resolution
type Synthesizer struct {
	logger  *logrus.Logger
	config  *Config
	metrics *metrics.PrometheusMetrics
}

// NewSynthesizer creates a new synthesizer
func NewSynthesizer(config *Config, logger *logrus.Logger) *Synthesizer {
	if config == nil {
		config = getDefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Synthesizer{
		logger: logger,
		config: config,
	}
}

// SetMetrics sets the metrics collector
func (s *Synthesizer) SetMetrics(m *metrics.PrometheusMetrics) {
	s.metrics = m
}

// Generate runs one synthesis. A resolution above every sensitive count
// yields an empty result, not an error.
func (s *Synthesizer) Generate(input Input, reporter progress.Reporter) (*GeneratedData, error) {
	start := time.Now()
	reporter = progress.OrNoop(reporter)
	config := s.config.normalized()
	mode := config.SeedSource

	block, aggregates, err := s.prepareInput(input, config)
	if err != nil {
		return nil, err
	}

	reportingLength := aggregates.ReportingLength
	if config.ReportingLength > 0 && config.ReportingLength < reportingLength {
		reportingLength = config.ReportingLength
	}

	seed := config.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s.logger.WithFields(logrus.Fields{
		"mode":             mode.String(),
		"resolution":       config.ResolutionThreshold,
		"reporting_length": reportingLength,
		"cache_max_size":   config.CacheMaxSize,
		"seed":             seed,
	}).Info("Starting synthesis")

	cache := NewCache(config.CacheMaxSize, s.metrics)
	ctx := newSynthesisContext(block, aggregates, config, reportingLength, rand.New(rand.NewSource(seed)), cache)

	var rows []aggregator.Combination
	switch mode {
	case SeedSourceSeeded:
		rows = ctx.synthesizeSeeded(stage(reporter, 0, 70))
		rows = ctx.consolidate(rows, stage(reporter, 70, 95))
	case SeedSourceUnseeded:
		rows = ctx.synthesizeUnseeded(stage(reporter, 0, 70))
		rows = ctx.consolidate(rows, stage(reporter, 70, 95))
	case SeedSourceFromCounts:
		rows = ctx.synthesizeFromCounts(stage(reporter, 0, 95))
	case SeedSourceFromAggregates:
		rows = ctx.synthesizeFromAggregates(config.Oversampling, stage(reporter, 0, 95))
	default:
		return nil, errors.NewParameterError(errors.CodeInvalidMode, "unknown synthesis mode", errors.ErrInvalidSynthesisMode).
			WithDetails(mode.String())
	}

	rows, removed := ctx.suppress(rows)
	reporter.Report(100)

	sensitiveRecords := aggregates.NumberOfRecords()
	if mode.UsesRecords() {
		sensitiveRecords = block.NumberOfRecords()
	}

	generated := &GeneratedData{
		SyntheticData:               s.toRawData(block, rows, config.EmptyValue),
		ExpansionRatio:              expansionRatio(len(rows), sensitiveRecords),
		MultiValueColumnMetadataMap: block.MultiValueColumnMetadataMap,
		EmptyValue:                  config.EmptyValue,
	}

	stats := cache.Stats()
	s.metrics.RecordSuppressedValues(mode.String(), removed)
	s.metrics.RecordSynthesis(mode.String(), len(rows), time.Since(start))

	s.logger.WithFields(logrus.Fields{
		"mode":            mode.String(),
		"records":         len(rows),
		"expansion_ratio": generated.ExpansionRatio,
		"suppressed":      removed,
		"cache_hits":      stats.Hits,
		"cache_misses":    stats.Misses,
		"cache_evictions": stats.Evictions,
		"duration":        time.Since(start),
	}).Info("Synthesis completed")

	return generated, nil
}

// prepareInput resolves the block and the aggregates the run works on
func (s *Synthesizer) prepareInput(input Input, config Config) (*datablock.DataBlock, *aggregator.AggregatedData, error) {
	block := input.DataBlock
	aggregates := input.Aggregates

	if config.SeedSource.UsesRecords() {
		if block == nil {
			return nil, nil, errors.NewParameterError(errors.CodeMissingState, "synthesis needs sensitive records", errors.ErrMissingSensitiveData).
				WithDetails(config.SeedSource.String())
		}
		if aggregates != nil && aggregates.DataBlock != block {
			s.logger.Warn("Aggregates were not computed from the sensitive data block, aggregating again")
			aggregates = nil
		}
	} else if aggregates == nil && block == nil {
		return nil, nil, errors.NewParameterError(errors.CodeMissingState, "synthesis needs sensitive aggregates", errors.ErrMissingSensitiveData).
			WithDetails(config.SeedSource.String())
	}

	if aggregates == nil {
		aggregates = aggregator.New(block, aggregator.WithLogger(s.logger), aggregator.WithMetrics(s.metrics)).
			Aggregate(config.ReportingLength, config.ResolutionThreshold, nil)
	}
	if !config.SeedSource.UsesRecords() {
		block = aggregates.DataBlock
	}
	return block, aggregates, nil
}

func (s *Synthesizer) toRawData(block *datablock.DataBlock, rows []aggregator.Combination, emptyValue string) datablock.RawData {
	raw := make(datablock.RawData, 0, len(rows)+1)
	raw = append(raw, append([]string(nil), block.Headers...))
	for _, row := range rows {
		raw = append(raw, block.RowToRaw(row, emptyValue))
	}
	return raw
}

// expansionRatio is synthetic / sensitive, and 1 when there is no sensitive record
func expansionRatio(synthetic, sensitive int) float64 {
	if sensitive == 0 {
		return 1
	}
	return float64(synthetic) / float64(sensitive)
}

// stage maps the 0-100 progress of one synthesis step onto [from, to]
func stage(reporter progress.Reporter, from, to float64) progress.Reporter {
	return progress.ReporterFunc(func(percentage float64) {
		reporter.Report(from + (to-from)*percentage/100)
	})
}
