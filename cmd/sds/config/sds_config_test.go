package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/sds/internal/synthesizer"
	"github.com/inferloop/sds/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "my", cfg.Prefix)
	assert.Equal(t, 3, cfg.ReportingLength)
	assert.Equal(t, 10, cfg.ReportingResolution)
	assert.Equal(t, 10, cfg.Threshold())
	assert.Equal(t, 100000, cfg.CacheMaxSize)
	assert.True(t, cfg.Seeded)
	assert.Equal(t, "\t", cfg.AggregatesDelimiter)
	assert.Nil(t, cfg.Noise.Parameters())

	mode, err := cfg.SeedSource()
	require.NoError(t, err)
	assert.Equal(t, synthesizer.SeedSourceSeeded, mode)

	// a negative record limit reads every record
	assert.Equal(t, 0, cfg.CSVOptions().RecordLimit)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
prefix: census
output_dir: /tmp/out
sensitive_microdata_path: census.csv
sensitive_microdata_delimiter: ";"
use_columns: [age, sex, city]
sensitive_zeros: [children]
multi_value_columns:
  languages: "|"
reporting_length: 4
reporting_resolution: 5
seeded: false
oversampling:
  ratio: 0.2
  tries: 3
noise:
  enabled: true
  kind: gaussian
  epsilon: 2
  delta: 0.000001
`)

	cfg, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/tmp/out", "census_synthetic_microdata.tsv"), cfg.SyntheticMicrodataPath())
	assert.Equal(t, filepath.Join("/tmp/out", "census_reportable_aggregates.tsv"), cfg.ReportableAggregatesPath())

	options := cfg.CSVOptions()
	assert.Equal(t, ';', options.Delimiter)
	assert.Equal(t, []string{"age", "sex", "city"}, options.UseColumns)
	assert.Equal(t, map[string]string{"languages": "|"}, options.MultiValueColumns)

	synthesis, err := cfg.SynthesisConfig()
	require.NoError(t, err)
	assert.Equal(t, synthesizer.SeedSourceUnseeded, synthesis.SeedSource)
	assert.Equal(t, 5, synthesis.ResolutionThreshold)
	assert.Equal(t, synthesizer.OversamplingConfig{Ratio: 0.2, Tries: 3}, synthesis.Oversampling)

	params := cfg.Noise.Parameters()
	require.NotNil(t, params)
	assert.Equal(t, "gaussian", params.Kind)
	assert.Equal(t, 1e-6, params.Delta)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SDS_REPORTING_RESOLUTION", "7")
	t.Setenv("SDS_SYNTHESIS_MODE", "from-aggregates")
	t.Setenv("SDS_NOISE_EPSILON", "0.5")

	cfg, err := LoadConfig(viper.New(), writeConfig(t, "reporting_resolution: 20\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.ReportingResolution)
	assert.Equal(t, 0.5, cfg.Noise.Epsilon)
	mode, err := cfg.SeedSource()
	require.NoError(t, err)
	assert.Equal(t, synthesizer.SeedSourceFromAggregates, mode)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"resolution", "reporting_resolution: 0\n"},
		{"delimiter", "aggregates_delimiter: \"::\"\n"},
		{"mode", "synthesis_mode: magic\n"},
		{"log level", "log_level: loud\n"},
		{"noise", "noise:\n  enabled: true\n  epsilon: 0\n"},
		{"noise kind", "noise:\n  enabled: true\n  kind: cauchy\n"},
		{"noise epsilon share", "reporting_length: 2\nnoise:\n  enabled: true\n  kind: gaussian\n  epsilon: 1000000000\n  delta: 0.00001\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(viper.New(), writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errors.ErrConfigurationLoad)
}

func TestOutputPathOnS3(t *testing.T) {
	cfg := &SDSConfig{Prefix: "run", OutputDir: "s3://bucket/showcase/"}
	assert.Equal(t, "s3://bucket/showcase/run_evaluation.yaml", cfg.EvaluationReportPath())
}
