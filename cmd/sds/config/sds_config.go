package config

import (
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/export"
	"github.com/inferloop/sds/internal/observability/metrics"
	"github.com/inferloop/sds/internal/synthesizer"
	"github.com/inferloop/sds/pkg/constants"
	"github.com/inferloop/sds/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. SDS_REPORTING_RESOLUTION
const EnvPrefix = "SDS"

type SDSConfig struct {
	LogLevel   string `mapstructure:"log_level"`
	NumThreads int    `mapstructure:"num_threads"`

	Prefix    string `mapstructure:"prefix"`
	OutputDir string `mapstructure:"output_dir"`

	SensitiveMicrodataPath      string            `mapstructure:"sensitive_microdata_path"`
	SensitiveMicrodataDelimiter string            `mapstructure:"sensitive_microdata_delimiter"`
	UseColumns                  []string          `mapstructure:"use_columns"`
	SensitiveZeros              []string          `mapstructure:"sensitive_zeros"`
	MultiValueColumns           map[string]string `mapstructure:"multi_value_columns"`
	RecordLimit                 int               `mapstructure:"record_limit"`

	ReportingLength      int `mapstructure:"reporting_length"`
	ReportingResolution  int `mapstructure:"reporting_resolution"`
	SensitivityThreshold int `mapstructure:"sensitivity_threshold"`

	Seeded        bool                           `mapstructure:"seeded"`
	SynthesisMode string                         `mapstructure:"synthesis_mode"`
	CacheMaxSize  int                            `mapstructure:"cache_max_size"`
	EmptyValue    string                         `mapstructure:"empty_value"`
	RandomSeed    int64                          `mapstructure:"random_seed"`
	Oversampling  synthesizer.OversamplingConfig `mapstructure:"oversampling"`
	Noise         NoiseConfig                    `mapstructure:"noise"`

	AggregatesDelimiter         string `mapstructure:"aggregates_delimiter"`
	CombinationDelimiter        string `mapstructure:"combination_delimiter"`
	SyntheticMicrodataDelimiter string `mapstructure:"synthetic_microdata_delimiter"`
	JoinMultiValueColumns       bool   `mapstructure:"join_multi_value_columns"`
	LongForm                    bool   `mapstructure:"long_form"`
	ProtectSensitiveAggregates  bool   `mapstructure:"protect_sensitive_aggregates"`

	S3      export.S3Config          `mapstructure:"s3"`
	Metrics metrics.PrometheusConfig `mapstructure:"metrics"`
}

// NoiseConfig enables differentially private reportable aggregates and
// from-aggregates synthesis on noisy counts
type NoiseConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Kind      string  `mapstructure:"kind"`
	Epsilon   float64 `mapstructure:"epsilon"`
	Delta     float64 `mapstructure:"delta"`
	Threshold int     `mapstructure:"threshold"`
}

// Parameters returns the noise parameters, nil when noise is disabled
func (n NoiseConfig) Parameters() *aggregator.NoiseParameters {
	if !n.Enabled {
		return nil
	}
	return &aggregator.NoiseParameters{
		Kind:      n.Kind,
		Epsilon:   n.Epsilon,
		Delta:     n.Delta,
		Threshold: n.Threshold,
	}
}

// SetDefaults registers the default of every key, so that environment
// variables can override keys missing from the config file
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", constants.DefaultLogLevel)
	v.SetDefault("num_threads", 0)
	v.SetDefault("prefix", constants.DefaultOutputPrefix)
	v.SetDefault("output_dir", constants.DefaultOutputDir)
	v.SetDefault("sensitive_microdata_path", "")
	v.SetDefault("sensitive_microdata_delimiter", constants.DefaultSensitiveDelimiter)
	v.SetDefault("use_columns", []string{})
	v.SetDefault("sensitive_zeros", []string{})
	v.SetDefault("multi_value_columns", map[string]string{})
	v.SetDefault("record_limit", constants.DefaultRecordLimit)
	v.SetDefault("reporting_length", constants.DefaultReportingLength)
	v.SetDefault("reporting_resolution", constants.DefaultReportingResolution)
	v.SetDefault("sensitivity_threshold", 0)
	v.SetDefault("seeded", true)
	v.SetDefault("synthesis_mode", "")
	v.SetDefault("cache_max_size", constants.DefaultCacheMaxSize)
	v.SetDefault("empty_value", "")
	v.SetDefault("random_seed", 0)
	v.SetDefault("oversampling.ratio", constants.DefaultOversamplingRatio)
	v.SetDefault("oversampling.tries", constants.DefaultOversamplingTries)
	v.SetDefault("noise.enabled", false)
	v.SetDefault("noise.kind", constants.DefaultNoiseKind)
	v.SetDefault("noise.epsilon", constants.DefaultNoiseEpsilon)
	v.SetDefault("noise.delta", 0.0)
	v.SetDefault("noise.threshold", 0)
	v.SetDefault("aggregates_delimiter", string(constants.DefaultAggregatesDelimiter))
	v.SetDefault("combination_delimiter", constants.DefaultCombinationDelimiter)
	v.SetDefault("synthetic_microdata_delimiter", constants.DefaultSyntheticDelimiter)
	v.SetDefault("join_multi_value_columns", false)
	v.SetDefault("long_form", false)
	v.SetDefault("protect_sensitive_aggregates", false)
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("s3.max_retries", constants.DefaultS3MaxRetries)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", constants.DefaultMetricsAddress)
	v.SetDefault("metrics.path", constants.DefaultMetricsPath)
	v.SetDefault("metrics.namespace", constants.DefaultMetricsNamespace)
}

// LoadConfig reads cfgFile (optional) into v and unmarshals the result.
// Keys can be overridden with SDS_ environment variables.
func LoadConfig(v *viper.Viper, cfgFile string) (*SDSConfig, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigurationError(errors.CodeConfigLoad, "error reading config file", errors.ErrConfigurationLoad).
				WithDetails(err.Error())
		}
	}

	config := &SDSConfig{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.NewConfigurationError(errors.CodeConfigLoad, "error unmarshaling config", errors.ErrConfigurationLoad).
			WithDetails(err.Error())
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the values the pipeline cannot normalize itself
func (c *SDSConfig) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", c.LogLevel)
	}
	for key, delimiter := range map[string]string{
		"sensitive_microdata_delimiter": c.SensitiveMicrodataDelimiter,
		"synthetic_microdata_delimiter": c.SyntheticMicrodataDelimiter,
		"aggregates_delimiter":          c.AggregatesDelimiter,
	} {
		if utf8.RuneCountInString(delimiter) != 1 {
			return invalid(key, delimiter)
		}
	}
	if c.CombinationDelimiter == "" {
		return invalid("combination_delimiter", c.CombinationDelimiter)
	}
	if c.ReportingLength < 0 {
		return invalid("reporting_length", c.ReportingLength)
	}
	if c.ReportingResolution < 1 {
		return invalid("reporting_resolution", c.ReportingResolution)
	}
	if _, err := c.SeedSource(); err != nil {
		return invalid("synthesis_mode", c.SynthesisMode)
	}
	if params := c.Noise.Parameters(); params != nil {
		if err := params.Validate(c.ReportingLength); err != nil {
			return errors.NewConfigurationError(errors.CodeInvalidConfig, "invalid noise parameters", errors.ErrInvalidConfiguration).
				WithContext("key", "noise").
				WithContext("epsilon", c.Noise.Epsilon).
				WithDetails(err.Error())
		}
	}
	return nil
}

func invalid(key string, value interface{}) error {
	return errors.NewConfigurationError(errors.CodeInvalidConfig, "invalid configuration value", errors.ErrInvalidConfiguration).
		WithContext("key", key).
		WithContext("value", value).
		WithDetails(key)
}

// SeedSource resolves synthesis_mode, falling back to seeded/unseeded
func (c *SDSConfig) SeedSource() (synthesizer.SeedSource, error) {
	if c.SynthesisMode != "" {
		return synthesizer.ParseSeedSource(c.SynthesisMode)
	}
	if c.Seeded {
		return synthesizer.SeedSourceSeeded, nil
	}
	return synthesizer.SeedSourceUnseeded, nil
}

// Threshold is the sensitivity threshold used when aggregating, the
// resolution unless set
func (c *SDSConfig) Threshold() int {
	if c.SensitivityThreshold > 0 {
		return c.SensitivityThreshold
	}
	return c.ReportingResolution
}

// SynthesisConfig builds the synthesizer configuration
func (c *SDSConfig) SynthesisConfig() (synthesizer.Config, error) {
	mode, err := c.SeedSource()
	if err != nil {
		return synthesizer.Config{}, err
	}
	return synthesizer.Config{
		SeedSource:          mode,
		ResolutionThreshold: c.ReportingResolution,
		ReportingLength:     c.ReportingLength,
		CacheMaxSize:        c.CacheMaxSize,
		EmptyValue:          c.EmptyValue,
		RandomSeed:          c.RandomSeed,
		Oversampling:        c.Oversampling,
	}, nil
}

// CSVOptions builds the sensitive microdata reader options
func (c *SDSConfig) CSVOptions() datablock.CSVOptions {
	delimiter, _ := utf8.DecodeRuneInString(c.SensitiveMicrodataDelimiter)
	limit := c.RecordLimit
	if limit < 0 {
		limit = 0
	}
	return datablock.CSVOptions{
		Delimiter:         delimiter,
		UseColumns:        c.UseColumns,
		SensitiveZeros:    c.SensitiveZeros,
		RecordLimit:       limit,
		MultiValueColumns: c.MultiValueColumns,
	}
}

// AggregatesFormat builds the aggregates table format
func (c *SDSConfig) AggregatesFormat() aggregator.AggregatesFormat {
	delimiter, _ := utf8.DecodeRuneInString(c.AggregatesDelimiter)
	return aggregator.AggregatesFormat{
		AggregatesDelimiter:  delimiter,
		CombinationDelimiter: c.CombinationDelimiter,
	}
}

// SyntheticCSVOptions returns how synthetic microdata written with this
// config is read back: the empty value placeholder is an empty cell and
// joined multi-value columns are split again
func (c *SDSConfig) SyntheticCSVOptions() datablock.CSVOptions {
	options := datablock.CSVOptions{
		Delimiter:      c.SyntheticDelimiter(),
		SensitiveZeros: c.SensitiveZeros,
		EmptyValue:     c.EmptyValue,
	}
	if c.JoinMultiValueColumns {
		options.MultiValueColumns = c.MultiValueColumns
	}
	return options
}

// SyntheticDelimiter returns the synthetic microdata delimiter
func (c *SDSConfig) SyntheticDelimiter() rune {
	delimiter, _ := utf8.DecodeRuneInString(c.SyntheticMicrodataDelimiter)
	return delimiter
}

func (c *SDSConfig) SensitiveAggregatesPath() string {
	return c.outputPath(constants.SensitiveAggregatesFile)
}

func (c *SDSConfig) ReportableAggregatesPath() string {
	return c.outputPath(constants.ReportableAggregatesFile)
}

func (c *SDSConfig) SyntheticMicrodataPath() string {
	return c.outputPath(constants.SyntheticMicrodataFile)
}

func (c *SDSConfig) SyntheticAggregatesPath() string {
	return c.outputPath(constants.SyntheticAggregatesFile)
}

func (c *SDSConfig) EvaluationReportPath() string {
	return c.outputPath(constants.EvaluationReportFile)
}

// outputPath joins {output_dir}/{prefix}_{name}; output_dir may be an s3:// uri
func (c *SDSConfig) outputPath(name string) string {
	file := c.Prefix + "_" + name
	if export.IsS3URI(c.OutputDir) {
		return export.S3Scheme + path.Join(strings.TrimPrefix(c.OutputDir, export.S3Scheme), file)
	}
	return filepath.Join(c.OutputDir, file)
}
