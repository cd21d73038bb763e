package processor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/synthesizer"
	"github.com/inferloop/sds/pkg/errors"
	"github.com/inferloop/sds/tests/helpers"
)

func newLoadedContext(t *testing.T) *Context {
	t.Helper()

	c := NewContext(helpers.GetTestLogger(t))
	require.NoError(t, c.SetSensitiveData(strings.NewReader(helpers.SkewedMicrodata(300, 4, 5, ';')), datablock.CSVOptions{Delimiter: ';'}))
	return c
}

func seededParams(resolution int) GenerateParameters {
	return GenerateParameters{Synthesis: synthesizer.Config{
		SeedSource:          synthesizer.SeedSourceSeeded,
		ResolutionThreshold: resolution,
		ReportingLength:     3,
		CacheMaxSize:        1000,
		RandomSeed:          42,
	}}
}

func TestGenerateAndEvaluate(t *testing.T) {
	c := newLoadedContext(t)

	generated, err := c.Generate(seededParams(5), nil)
	require.NoError(t, err)
	require.NotNil(t, c.SyntheticData())
	assert.Equal(t, generated.NumberOfRecords(), c.SyntheticData().NumberOfRecords())
	assert.Equal(t, 5, c.Resolution())

	result, err := c.Evaluate(3, 5, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalLeakage())
	assert.Equal(t, 300, result.SensitiveAggregates.NumberOfRecords)
	assert.Equal(t, generated.NumberOfRecords(), result.SyntheticAggregates.NumberOfRecords)
	assert.InDelta(t, generated.ExpansionRatio, result.RecordExpansion, 1e-9)
	assert.Same(t, result, c.EvaluateResult())
}

func TestProtectSensitiveAggregatesCount(t *testing.T) {
	c := newLoadedContext(t)
	_, err := c.Generate(seededParams(5), nil)
	require.NoError(t, err)
	result, err := c.Evaluate(3, 5, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.SensitiveAggregates.RareCombinationsCountByLen)

	require.NoError(t, c.ProtectSensitiveAggregatesCount())

	assert.True(t, result.SensitiveAggregatesProtected)
	assert.Empty(t, result.SensitiveAggregates.RareCombinationsCountByLen)
	for _, ac := range c.SensitiveAggregates().AggregatesCount {
		assert.GreaterOrEqual(t, ac.Count, 5)
	}
	// a second call is a no-op
	require.NoError(t, c.ProtectSensitiveAggregatesCount())
}

func TestGenerateFromNoisyAggregates(t *testing.T) {
	c := newLoadedContext(t)

	params := seededParams(5)
	params.Synthesis.SeedSource = synthesizer.SeedSourceFromAggregates
	params.Synthesis.Oversampling = synthesizer.OversamplingConfig{Ratio: 0.1, Tries: 10}
	params.Noise = &aggregator.NoiseParameters{Kind: "laplace", Epsilon: 40}

	generated, err := c.Generate(params, nil)
	require.NoError(t, err)
	assert.Greater(t, generated.NumberOfRecords(), 0)

	_, err = c.Evaluate(3, 5, nil, nil)
	require.NoError(t, err)
}

func TestGenerateFromReleasedAggregates(t *testing.T) {
	source := newLoadedContext(t)
	sensitive, err := source.Aggregate(3, 5, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sensitive.WriteAggregates(&buf, aggregator.AggregatesFormat{}, 5, true))
	released, err := aggregator.ReadAggregates(&buf, aggregator.AggregatesFormat{})
	require.NoError(t, err)

	c := NewContext(logrus.New())
	c.SetSensitiveAggregates(released)

	params := seededParams(5)
	params.Synthesis.SeedSource = synthesizer.SeedSourceFromCounts
	generated, err := c.Generate(params, nil)
	require.NoError(t, err)
	assert.Greater(t, generated.NumberOfRecords(), 0)

	result, err := c.Evaluate(3, 5, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalLeakage())

	// records based modes cannot run from aggregates alone
	_, err = c.Generate(seededParams(5), nil)
	assert.ErrorIs(t, err, errors.ErrMissingSensitiveData)
}

func TestNoiseRequiresCountBasedSynthesis(t *testing.T) {
	c := newLoadedContext(t)

	params := seededParams(5)
	params.Noise = &aggregator.NoiseParameters{Kind: "laplace", Epsilon: 1}

	_, err := c.Generate(params, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidNoise)
}

func TestStagesRequireEarlierStages(t *testing.T) {
	c := NewContext(nil)

	_, err := c.Generate(seededParams(5), nil)
	assert.ErrorIs(t, err, errors.ErrMissingSensitiveData)

	_, err = c.Aggregate(3, 5, nil)
	assert.ErrorIs(t, err, errors.ErrMissingSensitiveData)

	_, err = c.Evaluate(3, 5, nil, nil)
	assert.ErrorIs(t, err, errors.ErrMissingSyntheticData)

	err = c.ProtectSensitiveAggregatesCount()
	helpers.AssertAppError(t, err, errors.ErrMissingEvaluateResult, errors.ErrorTypeParameter)
}

func TestClearCascades(t *testing.T) {
	c := newLoadedContext(t)
	_, err := c.Generate(seededParams(5), nil)
	require.NoError(t, err)
	_, err = c.Evaluate(3, 5, nil, nil)
	require.NoError(t, err)

	c.ClearGenerate()
	assert.Nil(t, c.GeneratedData())
	assert.Nil(t, c.SyntheticData())
	assert.Nil(t, c.EvaluateResult())
	assert.NotNil(t, c.SensitiveData())

	runID := c.RunID()
	c.ClearSensitiveData()
	assert.Nil(t, c.SensitiveData())
	assert.NotEqual(t, runID, c.RunID())
}

func TestSetSensitiveDataResetsGeneration(t *testing.T) {
	c := newLoadedContext(t)
	_, err := c.Generate(seededParams(5), nil)
	require.NoError(t, err)

	require.NoError(t, c.SetSensitiveData(strings.NewReader("A,B\na1,b1\n"), datablock.CSVOptions{}))
	assert.Nil(t, c.GeneratedData())
	assert.Equal(t, 1, c.SensitiveData().NumberOfRecords())
}

func TestSyntheticDataKeepsSensitiveZeros(t *testing.T) {
	csvData := "A,B\n" + strings.Repeat("0,0\n", 6) + strings.Repeat("1,0\n", 6)

	c := NewContext(logrus.New())
	require.NoError(t, c.SetSensitiveData(strings.NewReader(csvData), datablock.CSVOptions{SensitiveZeros: []string{"A"}}))

	_, err := c.Generate(seededParams(2), nil)
	require.NoError(t, err)

	synthetic := c.SyntheticData()
	col, ok := synthetic.ColumnIndex("A")
	require.True(t, ok)
	_, found := synthetic.Values.Lookup(col, "0")
	assert.True(t, found)
	// "0" is an empty cell in B
	assert.Equal(t, 2, len(synthetic.Headers))
	colB, _ := synthetic.ColumnIndex("B")
	_, found = synthetic.Values.Lookup(colB, "0")
	assert.False(t, found)
}

func TestSetSyntheticData(t *testing.T) {
	c := newLoadedContext(t)
	generated, err := c.Generate(seededParams(5), nil)
	require.NoError(t, err)
	out, err := generated.SyntheticDataToString('\t', "", false, false)
	require.NoError(t, err)

	fromFile := newLoadedContext(t)
	require.NoError(t, fromFile.SetSyntheticData(strings.NewReader(out), datablock.CSVOptions{Delimiter: '\t'}, 5))
	assert.Nil(t, fromFile.GeneratedData())
	assert.Equal(t, 5, fromFile.Resolution())

	assertSameEvaluation(t, c, fromFile)
}

func TestSetSyntheticDataWithEmptyValue(t *testing.T) {
	c := newLoadedContext(t)
	generated, err := c.Generate(seededParams(5), nil)
	require.NoError(t, err)
	out, err := generated.SyntheticDataToString('\t', "NA", false, false)
	require.NoError(t, err)
	require.Contains(t, out, "NA")

	fromFile := newLoadedContext(t)
	require.NoError(t, fromFile.SetSyntheticData(strings.NewReader(out),
		datablock.CSVOptions{Delimiter: '\t', EmptyValue: "NA"}, 5))

	for col := range fromFile.SyntheticData().Headers {
		_, found := fromFile.SyntheticData().Values.Lookup(col, "NA")
		assert.False(t, found)
	}
	assertSameEvaluation(t, c, fromFile)
}

func TestSetSyntheticDataWithJoinedMultiValueColumns(t *testing.T) {
	options := datablock.CSVOptions{Delimiter: ',', MultiValueColumns: map[string]string{"tags": "|"}}
	data := helpers.MultiValueMicrodata(300, 8)

	c := NewContext(helpers.GetTestLogger(t))
	require.NoError(t, c.SetSensitiveData(strings.NewReader(data), options))
	generated, err := c.Generate(seededParams(5), nil)
	require.NoError(t, err)
	out, err := generated.SyntheticDataToString('\t', "", true, false)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "id\tzone\ttags\n"))

	fromFile := NewContext(helpers.GetTestLogger(t))
	require.NoError(t, fromFile.SetSensitiveData(strings.NewReader(data), options))
	require.NoError(t, fromFile.SetSyntheticData(strings.NewReader(out),
		datablock.CSVOptions{Delimiter: '\t', MultiValueColumns: map[string]string{"tags": "|"}}, 5))

	assert.ElementsMatch(t, c.SyntheticData().Headers, fromFile.SyntheticData().Headers)
	assertSameEvaluation(t, c, fromFile)
}

func TestSetSyntheticDataRejectsLongForm(t *testing.T) {
	c := newLoadedContext(t)
	generated, err := c.Generate(seededParams(5), nil)
	require.NoError(t, err)
	out, err := generated.SyntheticDataToString('\t', "", false, true)
	require.NoError(t, err)

	fromFile := newLoadedContext(t)
	err = fromFile.SetSyntheticData(strings.NewReader(out), datablock.CSVOptions{Delimiter: '\t'}, 5)
	helpers.AssertAppError(t, err, errors.ErrLongFormSynthetic, errors.ErrorTypeParameter)
	assert.Nil(t, fromFile.SyntheticData())
}

// assertSameEvaluation evaluates the in-memory synthetic data of generated
// and the synthetic data loaded into loaded, expecting identical metrics
func assertSameEvaluation(t *testing.T, generated, loaded *Context) {
	t.Helper()

	expected, err := generated.Evaluate(3, 5, nil, nil)
	require.NoError(t, err)
	result, err := loaded.Evaluate(3, 5, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, expected.SyntheticAggregates.NumberOfRecords, result.SyntheticAggregates.NumberOfRecords)
	assert.Equal(t, expected.SyntheticAggregates.CombinationsCountByLen, result.SyntheticAggregates.CombinationsCountByLen)
	assert.Equal(t, expected.LeakageCountByLen, result.LeakageCountByLen)
	assert.Equal(t, expected.FabricatedCountByLen, result.FabricatedCountByLen)
	assert.InDelta(t, expected.PreservationByCount.MeanProportionalError, result.PreservationByCount.MeanProportionalError, 1e-9)
}
