package aggregator

import (
	"fmt"
	"strings"

	"github.com/google/differential-privacy/go/v3/noise"

	"github.com/inferloop/sds/pkg/errors"
)

// NoiseParameters configures differentially private noise on aggregate counts.
// The budget is split evenly across combination lengths.
type NoiseParameters struct {
	// Kind is "laplace" (requires Delta == 0) or "gaussian" (requires 0 < Delta < 1)
	Kind    string  `json:"kind" mapstructure:"kind" yaml:"kind"`
	Epsilon float64 `json:"epsilon" mapstructure:"epsilon" yaml:"epsilon"`
	Delta   float64 `json:"delta" mapstructure:"delta" yaml:"delta"`
	// Threshold drops noisy counts below it
	Threshold int `json:"threshold" mapstructure:"threshold" yaml:"threshold"`
}

// MaxEpsilonShare bounds the epsilon spent on one share of the budget. The
// gaussian calibration does not terminate in practice for much larger shares.
const MaxEpsilonShare = 20.0

// EpsilonShare returns the epsilon spent on each combination length and on
// the record count
func (p NoiseParameters) EpsilonShare(reportingLength int) float64 {
	return p.Epsilon / float64(max(reportingLength, 1)+1)
}

// Validate checks the parameters against a reporting length
func (p NoiseParameters) Validate(reportingLength int) error {
	if _, err := p.noise(); err != nil {
		return err
	}
	if !(p.Epsilon > 0) {
		return errors.NewParameterError(errors.CodeInvalidNoise, "epsilon must be greater than zero", errors.ErrInvalidNoise).
			WithDetails(fmt.Sprintf("epsilon=%g", p.Epsilon))
	}
	if share := p.EpsilonShare(reportingLength); share > MaxEpsilonShare {
		return errors.NewParameterError(errors.CodeInvalidNoise, "epsilon per combination length is too large", errors.ErrInvalidNoise).
			WithDetails(fmt.Sprintf("epsilon=%g share=%g max_share=%g", p.Epsilon, share, MaxEpsilonShare))
	}
	return nil
}

func (p NoiseParameters) noise() (noise.Noise, error) {
	switch strings.ToLower(p.Kind) {
	case "", "laplace":
		return noise.Laplace(), nil
	case "gaussian":
		return noise.Gaussian(), nil
	default:
		return nil, errors.NewParameterError(errors.CodeInvalidNoise, "unknown noise kind", errors.ErrInvalidNoise).
			WithDetails(p.Kind)
	}
}

// WithNoise returns counts-only aggregated data whose counts carry
// differentially private noise. Each record contributes to at most
// RecordsSensitivity[l] combinations of length l, which bounds the L0
// sensitivity; every contribution changes a count by one.
func (d *AggregatedData) WithNoise(params NoiseParameters) (*AggregatedData, error) {
	if err := params.Validate(d.ReportingLength); err != nil {
		return nil, err
	}
	n, _ := params.noise()

	// one share for each length plus one for the record count
	shares := float64(max(d.ReportingLength, 1) + 1)
	epsilon := params.Epsilon / shares
	delta := params.Delta / shares

	noisy := make(map[CombinationKey]*AggregatedCount, len(d.AggregatesCount))
	for key, ac := range d.AggregatesCount {
		l0 := int64(1)
		if length := key.Len(); length < len(d.RecordsSensitivity) && d.RecordsSensitivity[length] > 0 {
			l0 = int64(d.RecordsSensitivity[length])
		}

		count, err := n.AddNoiseInt64(int64(ac.Count), l0, 1, epsilon, delta)
		if err != nil {
			return nil, errors.NewParameterError(errors.CodeInvalidNoise, "failed to add noise", err).
				WithDetails(fmt.Sprintf("kind=%s epsilon=%g delta=%g", n, params.Epsilon, params.Delta))
		}
		if count < int64(params.Threshold) || count <= 0 {
			continue
		}
		noisy[key] = &AggregatedCount{Count: int(count)}
	}

	records, err := n.AddNoiseInt64(int64(d.NumberOfRecords()), 1, 1, epsilon, delta)
	if err != nil {
		return nil, errors.NewParameterError(errors.CodeInvalidNoise, "failed to add noise to record count", err)
	}
	if records < 0 {
		records = 0
	}

	out := NewCountsOnlyAggregatedData(d.DataBlock, noisy, d.ReportingLength, int(records))
	out.RecordsSensitivity = d.RecordsSensitivity
	return out, nil
}
