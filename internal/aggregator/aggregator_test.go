package aggregator

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/internal/utils/progress"
	"github.com/inferloop/sds/pkg/errors"
)

func createTestBlock(t *testing.T, csvData string) *datablock.DataBlock {
	t.Helper()

	block, err := datablock.NewCSVBlockCreator(datablock.CSVOptions{}, logrus.New()).Create(strings.NewReader(csvData))
	require.NoError(t, err)
	return block
}

func createRandomBlock(t *testing.T, records, columns, valuesPerColumn int, seed int64) *datablock.DataBlock {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	var sb strings.Builder
	for c := 0; c < columns; c++ {
		if c > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "C%d", c)
	}
	sb.WriteString("\n")
	for r := 0; r < records; r++ {
		for c := 0; c < columns; c++ {
			if c > 0 {
				sb.WriteString(",")
			}
			// leave some cells empty so records differ in size
			if v := rng.Intn(valuesPerColumn + 1); v > 0 {
				fmt.Fprintf(&sb, "v%d", v)
			}
		}
		sb.WriteString("\n")
	}
	return createTestBlock(t, sb.String())
}

func combinationOf(t *testing.T, block *datablock.DataBlock, attrs ...string) Combination {
	t.Helper()

	ids := make([]datablock.ValueID, 0, len(attrs))
	for _, attr := range attrs {
		column, value, ok := strings.Cut(attr, ":")
		require.True(t, ok)
		index, ok := block.ColumnIndex(column)
		require.True(t, ok)
		id, ok := block.Values.Lookup(index, value)
		require.True(t, ok, "unknown attribute %s", attr)
		ids = append(ids, id)
	}
	return NewCombination(ids...)
}

const fourRecords = "A,B\na1,b1\na1,b1\na1,b2\na2,b1\n"

func TestAggregateFourRecords(t *testing.T) {
	block := createTestBlock(t, fourRecords)

	single := New(block, WithThreads(1)).Aggregate(2, 2, nil)
	multi := New(block, WithThreads(3)).Aggregate(2, 2, nil)

	a1b1 := combinationOf(t, block, "A:a1", "B:b1")
	ac, ok := single.Get(a1b1)
	require.True(t, ok)
	assert.Equal(t, 2, ac.Count)
	assert.Equal(t, RecordsSet{0, 1}, ac.ContainedInRecords)
	assert.Equal(t, 2, multi.Count(a1b1))

	assert.Equal(t, 3, single.Count(combinationOf(t, block, "A:a1")))
	assert.Equal(t, 1, single.Count(combinationOf(t, block, "A:a2", "B:b1")))
	assert.Equal(t, 0, single.Count(combinationOf(t, block, "A:a2", "B:b2")))

	// 4 single values plus 3 distinct pairs
	assert.Len(t, single.AggregatesCount, 7)
	assert.Equal(t, CountByLen{1: 4, 2: 3}, single.CombinationsCountByLen())

	// a2, b2, {a1,b2} and {a2,b1} are below 2
	assert.Equal(t, CountByLen{1: 2, 2: 2}, single.RecordsSensitivityByLen)
	assert.Equal(t, []int{0, 2, 1}, single.RecordsSensitivity)
}

func TestAggregateCountMatchesContainedRecords(t *testing.T) {
	block := createRandomBlock(t, 200, 5, 3, 7)

	for _, threads := range []int{1, 2, 7, 64} {
		data := New(block, WithThreads(threads)).Aggregate(3, 5, nil)
		for key, ac := range data.AggregatesCount {
			require.Equal(t, ac.Count, ac.ContainedInRecords.Len(), "threads=%d key=%s", threads, data.FormatCombination(key, ";"))
			for i := 1; i < len(ac.ContainedInRecords); i++ {
				require.Less(t, ac.ContainedInRecords[i-1], ac.ContainedInRecords[i])
			}
		}
	}
}

func TestAggregateIsPartitionInvariant(t *testing.T) {
	block := createRandomBlock(t, 150, 4, 4, 11)

	reference := New(block, WithThreads(1)).Aggregate(3, 3, nil)
	for _, threads := range []int{2, 4, 9, 150, 500} {
		other := New(block, WithThreads(threads)).Aggregate(3, 3, nil)

		if diff := cmp.Diff(reference.AggregatesCount, other.AggregatesCount); diff != "" {
			t.Errorf("threads=%d aggregates mismatch (-want +got):\n%s", threads, diff)
		}
		assert.Equal(t, reference.RecordsSensitivityByLen, other.RecordsSensitivityByLen)
		assert.Equal(t, reference.RecordsSensitivity, other.RecordsSensitivity)
	}
}

func TestAggregateSingleColumnSumsToRecordCount(t *testing.T) {
	block := createTestBlock(t, "A,B,C\na1,b1,c1\na2,b1,c2\na1,b2,c3\na3,b2,c1\na1,b1,c2\n")
	data := New(block).Aggregate(2, 1, nil)

	byColumn := make(map[int]int)
	for key, ac := range data.AggregatesCount {
		if key.Len() == 1 {
			byColumn[block.Values.Column(key.Combination()[0])] += ac.Count
		}
	}

	for column := range block.Headers {
		assert.Equal(t, block.NumberOfRecords(), byColumn[column], "column %s", block.Headers[column])
	}
}

func TestAggregateReportingLengthZeroMeansAllColumns(t *testing.T) {
	block := createRandomBlock(t, 60, 3, 2, 3)

	unlimited := New(block).Aggregate(0, 2, nil)
	full := New(block).Aggregate(3, 2, nil)

	assert.Equal(t, 3, unlimited.ReportingLength)
	if diff := cmp.Diff(full.AggregatesCount, unlimited.AggregatesCount); diff != "" {
		t.Errorf("aggregates mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateEmptyDataset(t *testing.T) {
	block := createTestBlock(t, "A,B\n")

	var reports []float64
	data := New(block, WithThreads(4)).Aggregate(2, 2, progress.ReporterFunc(func(p float64) {
		reports = append(reports, p)
	}))

	assert.Empty(t, data.AggregatesCount)
	assert.Equal(t, 0, data.NumberOfRecords())
	assert.Equal(t, []float64{100}, reports)
}

func TestAggregateReportsProgressOnce(t *testing.T) {
	block := createRandomBlock(t, 100, 3, 3, 5)

	var reports []float64
	New(block, WithThreads(8)).Aggregate(2, 2, progress.ReporterFunc(func(p float64) {
		reports = append(reports, p)
	}))

	assert.Equal(t, []float64{100}, reports)
}

func TestProtectedView(t *testing.T) {
	block := createRandomBlock(t, 120, 4, 3, 13)
	data := New(block).Aggregate(3, 4, nil)

	for _, resolution := range []int{1, 3, 5, 10, 1000} {
		protected := data.Protect(resolution)
		for key, ac := range data.AggregatesCount {
			comb := key.Combination()
			count := data.ProtectedCount(comb, resolution)
			if ac.Count < resolution {
				assert.Equal(t, 0, count)
				_, ok := data.ProtectedGet(comb, resolution)
				assert.False(t, ok)
				assert.Equal(t, 0, protected.Count(comb))
			} else {
				assert.Equal(t, ac.Count, count)
				assert.Equal(t, ac.Count, protected.Count(comb))
			}
		}
	}

	// protecting is a view: the source is untouched and protecting twice changes nothing
	before := len(data.AggregatesCount)
	once := data.Protect(5)
	twice := once.Protect(5)
	assert.Equal(t, before, len(data.AggregatesCount))
	assert.Equal(t, len(once.AggregatesCount), len(twice.AggregatesCount))
}

func TestSortedKeys(t *testing.T) {
	block := createTestBlock(t, fourRecords)
	data := New(block).Aggregate(2, 2, nil)

	keys := data.SortedKeys()
	require.Len(t, keys, 7)
	assert.Equal(t, "A:a1", data.FormatCombination(keys[0], ";"))
	assert.Equal(t, "B:b1", data.FormatCombination(keys[1], ";"))
	assert.Equal(t, "A:a1;B:b1", data.FormatCombination(keys[2], ";"))
	for i := 1; i < len(keys); i++ {
		assert.GreaterOrEqual(t, data.CountByKey(keys[i-1]), data.CountByKey(keys[i]))
	}
}

func TestWriteAndReadAggregates(t *testing.T) {
	block := createTestBlock(t, fourRecords)
	data := New(block).Aggregate(2, 2, nil)

	var buf bytes.Buffer
	require.NoError(t, data.WriteAggregates(&buf, AggregatesFormat{}, 2, true))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"selections\tcount",
		"record_count\t4",
		"columns\tA;B",
		"A:a1\t3",
		"B:b1\t3",
		"A:a1;B:b1\t2",
	}, lines)

	released, err := ReadAggregates(strings.NewReader(buf.String()), AggregatesFormat{})
	require.NoError(t, err)

	assert.True(t, released.CountsOnly())
	assert.Equal(t, 4, released.NumberOfRecords())
	assert.Equal(t, 2, released.ReportingLength)
	assert.Equal(t, []string{"A", "B"}, released.DataBlock.Headers)
	assert.Equal(t, 2, released.Count(combinationOf(t, released.DataBlock, "A:a1", "B:b1")))
	assert.Equal(t, 3, released.Count(combinationOf(t, released.DataBlock, "B:b1")))
	assert.Empty(t, released.CalcRecordsSensitivityByLen(10))
}

func TestReadAggregatesColumnOrder(t *testing.T) {
	// the most frequent attribute belongs to the last column
	table := "selections\tcount\nrecord_count\t6\ncolumns\tC;A;B\nB:b1\t5\nA:a1\t4\nA:a1;B:b1\t3\nC:c1\t2\n"

	released, err := ReadAggregates(strings.NewReader(table), AggregatesFormat{})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, released.DataBlock.Headers)
	assert.Equal(t, 3, released.Count(combinationOf(t, released.DataBlock, "A:a1", "B:b1")))
	assert.Equal(t, 2, released.Count(combinationOf(t, released.DataBlock, "C:c1")))

	withoutOrder, err := ReadAggregates(strings.NewReader("selections\tcount\nB:b1\t5\nA:a1\t4\n"), AggregatesFormat{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, withoutOrder.DataBlock.Headers)
	assert.Equal(t, 5, withoutOrder.Count(combinationOf(t, withoutOrder.DataBlock, "B:b1")))
}

func TestReadAggregatesKeepsSensitiveColumnOrder(t *testing.T) {
	block := createTestBlock(t, "Z,A\nz1,a1\nz1,a2\nz2,a1\n")
	data := New(block).Aggregate(2, 1, nil)

	var buf bytes.Buffer
	require.NoError(t, data.WriteAggregates(&buf, AggregatesFormat{}, 1, true))

	released, err := ReadAggregates(&buf, AggregatesFormat{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Z", "A"}, released.DataBlock.Headers)
}

func TestReadAggregatesInvalid(t *testing.T) {
	_, err := ReadAggregates(strings.NewReader("selections\tcount\nA:a1\tmany\n"), AggregatesFormat{})
	assert.ErrorIs(t, err, errors.ErrInvalidAggregates)

	_, err = ReadAggregates(strings.NewReader("selections\tcount\nnocolon\t3\n"), AggregatesFormat{})
	assert.ErrorIs(t, err, errors.ErrInvalidAggregates)

	_, err = ReadAggregates(strings.NewReader("foo\tbar\n"), AggregatesFormat{})
	assert.ErrorIs(t, err, errors.ErrInvalidAggregates)

	_, err = ReadAggregates(strings.NewReader(""), AggregatesFormat{})
	assert.ErrorIs(t, err, errors.ErrEmptyInput)
}

func TestReadAggregatesEstimatesRecordCount(t *testing.T) {
	released, err := ReadAggregates(strings.NewReader("selections\tcount\nA:a1\t3\nA:a2\t2\nB:b1\t4\n"), AggregatesFormat{})
	require.NoError(t, err)

	assert.Equal(t, 5, released.NumberOfRecords())
	assert.Equal(t, 1, released.ReportingLength)
}

func TestWithNoise(t *testing.T) {
	block := createTestBlock(t, fourRecords)
	data := New(block).Aggregate(2, 2, nil)

	noisy, err := data.WithNoise(NoiseParameters{Kind: "laplace", Epsilon: 30})
	require.NoError(t, err)

	assert.True(t, noisy.CountsOnly())
	assert.InDelta(t, 4, noisy.NumberOfRecords(), 5)
	for key, ac := range noisy.AggregatesCount {
		assert.Positive(t, ac.Count)
		assert.InDelta(t, data.CountByKey(key), ac.Count, 5)
	}

	thresholded, err := data.WithNoise(NoiseParameters{Kind: "gaussian", Epsilon: 30, Delta: 1e-5, Threshold: 2})
	require.NoError(t, err)
	for key, ac := range thresholded.AggregatesCount {
		assert.GreaterOrEqual(t, ac.Count, 2)
		assert.InDelta(t, data.CountByKey(key), ac.Count, 10)
	}
}

func TestNoiseParametersValidate(t *testing.T) {
	tests := []struct {
		name            string
		params          NoiseParameters
		reportingLength int
		valid           bool
	}{
		{"laplace", NoiseParameters{Kind: "laplace", Epsilon: 4}, 3, true},
		{"gaussian at the bound", NoiseParameters{Kind: "gaussian", Epsilon: 60, Delta: 1e-5}, 2, true},
		{"share too large", NoiseParameters{Kind: "gaussian", Epsilon: 1e9, Delta: 1e-5}, 2, false},
		{"share too large for a short length", NoiseParameters{Kind: "laplace", Epsilon: 50}, 1, false},
		{"zero epsilon", NoiseParameters{Kind: "laplace"}, 3, false},
		{"unknown kind", NoiseParameters{Kind: "cauchy", Epsilon: 1}, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate(tt.reportingLength)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, errors.ErrInvalidNoise)
			assert.True(t, errors.IsType(err, errors.ErrorTypeParameter))
		})
	}
}

func TestWithNoiseRejectsLargeEpsilon(t *testing.T) {
	block := createTestBlock(t, fourRecords)
	data := New(block).Aggregate(2, 2, nil)

	_, err := data.WithNoise(NoiseParameters{Kind: "gaussian", Epsilon: 1e9, Delta: 1e-5})
	assert.ErrorIs(t, err, errors.ErrInvalidNoise)
}

func TestWithNoiseInvalidParameters(t *testing.T) {
	block := createTestBlock(t, fourRecords)
	data := New(block).Aggregate(2, 2, nil)

	_, err := data.WithNoise(NoiseParameters{Kind: "cauchy", Epsilon: 1})
	assert.ErrorIs(t, err, errors.ErrInvalidNoise)

	_, err = data.WithNoise(NoiseParameters{Kind: "laplace", Epsilon: 1, Delta: 0.1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParameter))
}

func TestForEachCombination(t *testing.T) {
	values := []datablock.ValueID{1, 2, 3, 4}

	var got []string
	ForEachCombination(values, 2, func(c Combination) {
		got = append(got, fmt.Sprint([]datablock.ValueID(c)))
	})
	assert.Equal(t, []string{"[1 2]", "[1 3]", "[1 4]", "[2 3]", "[2 4]", "[3 4]"}, got)

	count := 0
	ForEachCombination(values, 5, func(Combination) { count++ })
	assert.Equal(t, 0, count)

	assert.Equal(t, 6, Binomial(4, 2))
	assert.Equal(t, 0, Binomial(2, 3))
	assert.Equal(t, 1, Binomial(5, 0))
	assert.Equal(t, 1, Binomial(0, 0))
	assert.Equal(t, math.MaxInt, Binomial(200, 100))
}

func TestCombinationKeyRoundTrip(t *testing.T) {
	a := NewCombination(7, 3, 300000)
	b := NewCombination(300000, 7, 3)

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, 3, a.Key().Len())
	assert.Equal(t, a, a.Key().Combination())

	assert.Equal(t, NewCombination(3, 5, 7, 300000), a.With(5))
	assert.Equal(t, a, a.With(7))
	assert.Equal(t, NewCombination(3, 300000), a.Without(7))
	assert.True(t, a.Contains(300000))
}

func TestRecordsSet(t *testing.T) {
	a := RecordsSet{1, 3, 5, 7}
	b := RecordsSet{3, 4, 5, 8}

	assert.Equal(t, RecordsSet{3, 5}, a.Intersect(b))
	assert.Equal(t, 2, a.IntersectCount(b))
	assert.Equal(t, RecordsSet{1, 3, 4, 5, 7, 8}, a.Union(b))
	assert.True(t, a.Contains(5))
	assert.False(t, a.Contains(4))
}
