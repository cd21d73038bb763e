package evaluator

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/pkg/errors"
)

// AggregateSummary describes one side of an evaluation
type AggregateSummary struct {
	NumberOfRecords                       int                   `json:"number_of_records" yaml:"number_of_records"`
	ReportingLength                       int                   `json:"reporting_length" yaml:"reporting_length"`
	CombinationsCountByLen                aggregator.CountByLen `json:"combinations_count_by_len" yaml:"combinations_count_by_len"`
	RareCombinationsCountByLen            aggregator.CountByLen `json:"rare_combinations_count_by_len" yaml:"rare_combinations_count_by_len"`
	RareCombinationsPercentageByLen       map[int]float64       `json:"rare_combinations_percentage_by_len" yaml:"rare_combinations_percentage_by_len"`
	RecordsSensitivityByLen               aggregator.CountByLen `json:"records_sensitivity_by_len" yaml:"records_sensitivity_by_len"`
	RecordsWithRareCombinationsPercentage float64               `json:"records_with_rare_combinations_percentage" yaml:"records_with_rare_combinations_percentage"`
}

// Summarize computes the summary of aggregated data for a resolution
func Summarize(data *aggregator.AggregatedData, resolution int) AggregateSummary {
	combinations := data.CombinationsCountByLen()
	rare := data.RareCombinationsCountByLen(resolution)

	percentages := make(map[int]float64, len(combinations))
	for length, total := range combinations {
		if total > 0 {
			percentages[length] = float64(rare[length]) * 100 / float64(total)
		}
	}

	return AggregateSummary{
		NumberOfRecords:                       data.NumberOfRecords(),
		ReportingLength:                       data.ReportingLength,
		CombinationsCountByLen:                combinations,
		RareCombinationsCountByLen:            rare,
		RareCombinationsPercentageByLen:       percentages,
		RecordsSensitivityByLen:               data.RecordsSensitivityByLen,
		RecordsWithRareCombinationsPercentage: data.RecordsWithRareCombinationsPercentage(),
	}
}

// EvaluateResult holds every evaluation metric of a synthesis run
type EvaluateResult struct {
	Resolution           int                   `json:"resolution" yaml:"resolution"`
	SensitiveAggregates  AggregateSummary      `json:"sensitive_aggregates" yaml:"sensitive_aggregates"`
	SyntheticAggregates  AggregateSummary      `json:"synthetic_aggregates" yaml:"synthetic_aggregates"`
	LeakageCountByLen    aggregator.CountByLen `json:"leakage_count_by_len" yaml:"leakage_count_by_len"`
	FabricatedCountByLen aggregator.CountByLen `json:"fabricated_count_by_len" yaml:"fabricated_count_by_len"`
	PreservationByCount  *PreservationByCount  `json:"preservation_by_count" yaml:"preservation_by_count"`
	RecordExpansion      float64               `json:"record_expansion" yaml:"record_expansion"`
	// SensitiveAggregatesProtected is set once rare sensitive combinations were removed
	SensitiveAggregatesProtected bool `json:"sensitive_aggregates_protected" yaml:"sensitive_aggregates_protected"`
}

// TotalLeakage returns the number of leaked combinations over every length
func (r *EvaluateResult) TotalLeakage() int {
	return sum(r.LeakageCountByLen)
}

// TotalFabricated returns the number of fabricated combinations over every length
func (r *EvaluateResult) TotalFabricated() int {
	return sum(r.FabricatedCountByLen)
}

// WriteYAML writes the result as a YAML report
func (r *EvaluateResult) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(r); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to write evaluation report", err)
	}
	if err := encoder.Close(); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to flush evaluation report", err)
	}
	return nil
}

// WriteJSON writes the result as an indented JSON report
func (r *EvaluateResult) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to write evaluation report", err)
	}
	return nil
}

func sum(counts aggregator.CountByLen) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
