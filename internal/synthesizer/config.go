package synthesizer

import (
	"strings"

	"github.com/inferloop/sds/pkg/constants"
	"github.com/inferloop/sds/pkg/errors"
)

// SeedSource selects what the first attributes of every synthetic row are
// derived from
type SeedSource int

const (
	// SeedSourceSeeded derives each row from one real record
	SeedSourceSeeded SeedSource = iota
	// SeedSourceUnseeded samples rows from attribute statistics only
	SeedSourceUnseeded
	// SeedSourceFromCounts builds rows from aggregated counts only
	SeedSourceFromCounts
	// SeedSourceFromAggregates builds rows from released (possibly noisy)
	// aggregates with oversampling control
	SeedSourceFromAggregates
)

var seedSourceNames = map[SeedSource]string{
	SeedSourceSeeded:         "seeded",
	SeedSourceUnseeded:       "unseeded",
	SeedSourceFromCounts:     "from_counts",
	SeedSourceFromAggregates: "from_aggregates",
}

func (s SeedSource) String() string {
	if name, ok := seedSourceNames[s]; ok {
		return name
	}
	return "unknown"
}

// UsesRecords reports whether the mode needs raw records
func (s SeedSource) UsesRecords() bool {
	return s == SeedSourceSeeded || s == SeedSourceUnseeded
}

// ParseSeedSource parses a synthesis mode name. Dashes and underscores are
// interchangeable.
func ParseSeedSource(name string) (SeedSource, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for source, n := range seedSourceNames {
		if n == normalized {
			return source, nil
		}
	}
	return 0, errors.NewParameterError(errors.CodeInvalidMode, "unknown synthesis mode", errors.ErrInvalidSynthesisMode).
		WithDetails(name)
}

// OversamplingConfig limits how far synthesized counts may exceed the
// released aggregates in from-aggregates synthesis
type OversamplingConfig struct {
	// Ratio is the allowed excess over a target count (0.1 allows 10%)
	Ratio float64 `json:"ratio" mapstructure:"ratio" yaml:"ratio"`
	// Tries is how many rejected candidates end a row (0 never ends it early)
	Tries int `json:"tries" mapstructure:"tries" yaml:"tries"`
}

// Config contains the synthesis parameters
type Config struct {
	SeedSource SeedSource `json:"seed_source"`
	// ResolutionThreshold is the minimum count of a reproducible combination
	ResolutionThreshold int `json:"resolution"`
	// ReportingLength bounds the combinations checked when rows are extended (0 means all columns)
	ReportingLength int `json:"reporting_length"`
	// CacheMaxSize bounds the candidate cache (0 disables caching)
	CacheMaxSize int    `json:"cache_max_size"`
	EmptyValue   string `json:"empty_value"`
	// RandomSeed seeds the sampler (0 picks a time based seed)
	RandomSeed   int64              `json:"random_seed"`
	Oversampling OversamplingConfig `json:"oversampling"`
}

func getDefaultConfig() *Config {
	return &Config{
		SeedSource:          SeedSourceSeeded,
		ResolutionThreshold: constants.DefaultReportingResolution,
		ReportingLength:     constants.DefaultReportingLength,
		CacheMaxSize:        constants.DefaultCacheMaxSize,
	}
}

// normalized returns a copy with values the synthesizer cannot work with
// replaced by the closest usable ones
func (c Config) normalized() Config {
	if c.ResolutionThreshold < 1 {
		c.ResolutionThreshold = 1
	}
	if c.CacheMaxSize < 0 {
		c.CacheMaxSize = 0
	}
	if c.Oversampling.Ratio < 0 {
		c.Oversampling.Ratio = 0
	}
	if c.Oversampling.Tries < 0 {
		c.Oversampling.Tries = 0
	}
	return c
}
