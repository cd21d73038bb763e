package datablock

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/sds/pkg/errors"
)

func createTestBlock(t *testing.T, csvData string, options CSVOptions) *DataBlock {
	t.Helper()

	block, err := NewCSVBlockCreator(options, logrus.New()).Create(strings.NewReader(csvData))
	require.NoError(t, err)
	return block
}

func TestValueTableInterning(t *testing.T) {
	table := NewValueTable()

	a := table.Intern(0, "a1")
	b := table.Intern(1, "a1")
	again := table.Intern(0, "a1")

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, table.Len())

	id, ok := table.Lookup(1, "a1")
	assert.True(t, ok)
	assert.Equal(t, b, id)

	_, ok = table.Lookup(2, "a1")
	assert.False(t, ok)

	assert.Equal(t, AttributeValue{ColumnIndex: 1, Value: "a1"}, table.Value(b))
}

func TestNewRecordNormalizesValues(t *testing.T) {
	record := NewRecord(3, []ValueID{5, 1, 5, 3})

	assert.Equal(t, 3, record.Index)
	assert.Equal(t, []ValueID{1, 3, 5}, record.Values)
	assert.True(t, record.Contains(3))
	assert.False(t, record.Contains(2))
}

func TestCreateDataBlock(t *testing.T) {
	block := createTestBlock(t, "A,B,C\na1,b1,0\na2,,c1\na1,b2,c1\n", CSVOptions{})

	assert.Equal(t, []string{"A", "B", "C"}, block.Headers)
	assert.Equal(t, 3, block.NumberOfRecords())
	assert.Equal(t, 3, block.NumberOfColumns())

	// zeros and empty cells are not values unless declared sensitive
	assert.Equal(t, 2, block.Records[0].Len())
	assert.Equal(t, 2, block.Records[1].Len())
	assert.Equal(t, 3, block.Records[2].Len())

	raw := block.ToRawData("")
	assert.Equal(t, []string{"a1", "b1", ""}, raw[1])
	assert.Equal(t, []string{"a2", "", "c1"}, raw[2])
}

func TestCreateDataBlockSensitiveZeros(t *testing.T) {
	block := createTestBlock(t, "A,B\na1,0\na2,1\n", CSVOptions{SensitiveZeros: []string{"B"}})

	id, ok := block.Values.Lookup(1, "0")
	require.True(t, ok)
	assert.True(t, block.Records[0].Contains(id))
}

func TestCreateDataBlockUseColumnsAndLimit(t *testing.T) {
	block := createTestBlock(t, "A;B;C\na1;b1;c1\na2;b2;c2\na3;b3;c3\n", CSVOptions{
		Delimiter:   ';',
		UseColumns:  []string{"C", "A"},
		RecordLimit: 2,
	})

	assert.Equal(t, []string{"A", "C"}, block.Headers)
	assert.Equal(t, 2, block.NumberOfRecords())
}

func TestCreateDataBlockUnknownColumn(t *testing.T) {
	_, err := NewCSVBlockCreator(CSVOptions{UseColumns: []string{"Z"}}, nil).Create(strings.NewReader("A,B\na1,b1\n"))

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownColumn)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestCreateDataBlockMalformedRow(t *testing.T) {
	_, err := NewCSVBlockCreator(CSVOptions{}, nil).Create(strings.NewReader("A,B\na1,b1\na2\n"))

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedRow)
}

func TestCreateDataBlockEmptyInput(t *testing.T) {
	_, err := NewCSVBlockCreator(CSVOptions{}, nil).Create(strings.NewReader(""))

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmptyInput)
}

func TestNormalizeReportingLength(t *testing.T) {
	block := createTestBlock(t, "A,B,C\na1,b1,c1\n", CSVOptions{})

	assert.Equal(t, 3, block.NormalizeReportingLength(0))
	assert.Equal(t, 3, block.NormalizeReportingLength(10))
	assert.Equal(t, 2, block.NormalizeReportingLength(2))
	assert.Equal(t, 3, block.NormalizeReportingLength(-1))
}

func TestMultiValueColumns(t *testing.T) {
	block := createTestBlock(t, "A,M\na1,x;y\na2,y\na3,\n", CSVOptions{
		MultiValueColumns: map[string]string{"M": ";"},
	})

	assert.Equal(t, []string{"A", "M_x", "M_y"}, block.Headers)
	assert.Equal(t, MultiValueColumnMetadata{SrcHeaderName: "M", AttrName: "x", Delimiter: ";"}, block.MultiValueColumnMetadataMap["M_x"])
	assert.Equal(t, 3, block.Records[0].Len())
	assert.Equal(t, 1, block.Records[2].Len())

	joined := JoinMultiValueColumns(block.ToRawData(""), block.MultiValueColumnMetadataMap, "NA")
	assert.Equal(t, RawData{
		{"A", "M"},
		{"a1", "x;y"},
		{"a2", "y"},
		{"a3", "NA"},
	}, joined)
}

func TestRawDataToVec(t *testing.T) {
	block := createTestBlock(t, "A,M\na1,x|y\n", CSVOptions{
		MultiValueColumns: map[string]string{"M": "|"},
	})
	raw := block.ToRawData("")

	split := RawDataToVec(raw, "", block.MultiValueColumnMetadataMap, false)
	assert.Equal(t, [][]string{{"A", "M_x", "M_y"}, {"a1", "1", "1"}}, split)

	joined := RawDataToVec(raw, "", block.MultiValueColumnMetadataMap, true)
	assert.Equal(t, [][]string{{"A", "M"}, {"a1", "x|y"}}, joined)

	// copies never alias the source
	split[1][0] = "changed"
	assert.Equal(t, "a1", raw[1][0])
}

func TestAttrRowsMap(t *testing.T) {
	block := createTestBlock(t, "A,B\na1,b1\na2,b1\na1,b2\n", CSVOptions{})

	a1, _ := block.Values.Lookup(0, "a1")
	b1, _ := block.Values.Lookup(1, "b1")

	rows := block.AttrRowsMap()
	assert.Equal(t, []int{0, 2}, rows[a1])
	assert.Equal(t, []int{0, 1}, rows[b1])
	assert.Equal(t, "A:a1", block.FormatValue(a1))
}
