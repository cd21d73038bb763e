package datablock

import (
	"strings"
)

// RawData is a table of strings; index 0 holds the headers
type RawData [][]string

// MultiValueColumnMetadata describes how a normalized multi-value header
// (such as "A_a1") maps back to its source column
type MultiValueColumnMetadata struct {
	SrcHeaderName string `json:"src_header_name" yaml:"src_header_name"`
	AttrName      string `json:"attr_name" yaml:"attr_name"`
	Delimiter     string `json:"delimiter" yaml:"delimiter"`
}

// MultiValueColumnMetadataMap maps normalized multi-value header names to their metadata
type MultiValueColumnMetadataMap map[string]MultiValueColumnMetadata

// DataBlock is the normalized, read-only in-memory dataset shared by every
// pipeline stage once it has been built.
type DataBlock struct {
	Headers                     []string
	Records                     []Record
	Values                      *ValueTable
	MultiValueColumnMetadataMap MultiValueColumnMetadataMap
}

// New creates a data block from already interned records
func New(headers []string, records []Record, values *ValueTable, multiValueColumnMetadataMap MultiValueColumnMetadataMap) *DataBlock {
	if values == nil {
		values = NewValueTable()
	}
	if multiValueColumnMetadataMap == nil {
		multiValueColumnMetadataMap = MultiValueColumnMetadataMap{}
	}
	return &DataBlock{
		Headers:                     headers,
		Records:                     records,
		Values:                      values,
		MultiValueColumnMetadataMap: multiValueColumnMetadataMap,
	}
}

// NumberOfRecords returns how many records the block holds
func (b *DataBlock) NumberOfRecords() int {
	return len(b.Records)
}

// NumberOfColumns returns how many (normalized) columns the block holds
func (b *DataBlock) NumberOfColumns() int {
	return len(b.Headers)
}

// NormalizeReportingLength clamps the requested reporting length into
// [1, number of columns]. Zero means no limit.
func (b *DataBlock) NormalizeReportingLength(requested int) int {
	columns := b.NumberOfColumns()
	if columns == 0 {
		return 1
	}
	if requested <= 0 || requested > columns {
		return columns
	}
	return requested
}

// FormatValue renders an interned value as "header:value"
func (b *DataBlock) FormatValue(id ValueID) string {
	return b.Values.Value(id).Format(b.Headers)
}

// ColumnIndex returns the index of a header
func (b *DataBlock) ColumnIndex(header string) (int, bool) {
	for i, h := range b.Headers {
		if h == header {
			return i, true
		}
	}
	return -1, false
}

// AttrRowsMap maps every attribute value to the sorted indices of the records
// that contain it
func (b *DataBlock) AttrRowsMap() map[ValueID][]int {
	attrRows := make(map[ValueID][]int, b.Values.Len())
	for _, record := range b.Records {
		for _, v := range record.Values {
			attrRows[v] = append(attrRows[v], record.Index)
		}
	}
	return attrRows
}

// RowToRaw renders a set of values as one raw row, using emptyValue for
// absent columns
func (b *DataBlock) RowToRaw(values []ValueID, emptyValue string) []string {
	row := make([]string, len(b.Headers))
	for i := range row {
		row[i] = emptyValue
	}
	for _, id := range values {
		v := b.Values.Value(id)
		row[v.ColumnIndex] = v.Value
	}
	return row
}

// ToRawData renders the whole block, headers first
func (b *DataBlock) ToRawData(emptyValue string) RawData {
	raw := make(RawData, 0, len(b.Records)+1)
	raw = append(raw, append([]string(nil), b.Headers...))
	for _, record := range b.Records {
		raw = append(raw, b.RowToRaw(record.Values, emptyValue))
	}
	return raw
}

// RawDataToVec copies raw data, optionally rejoining multi-value columns
func RawDataToVec(raw RawData, emptyValue string, metadata MultiValueColumnMetadataMap, joinMultiValueColumns bool) [][]string {
	if joinMultiValueColumns {
		raw = JoinMultiValueColumns(raw, metadata, emptyValue)
	}
	out := make([][]string, len(raw))
	for i, row := range raw {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// JoinMultiValueColumns rejoins exploded multi-value columns back into a
// single delimited cell placed where the first exploded column was. Absent
// cells are rendered as emptyValue.
func JoinMultiValueColumns(raw RawData, metadata MultiValueColumnMetadataMap, emptyValue string) RawData {
	if len(raw) == 0 {
		return raw
	}

	headers := raw[0]
	joinedHeaders := make([]string, 0, len(headers))
	// for every source header, the position in the joined row
	srcPosition := make(map[string]int)
	// for every raw column, the joined column it ends up in
	target := make([]int, len(headers))

	for i, h := range headers {
		if meta, ok := metadata[h]; ok {
			pos, seen := srcPosition[meta.SrcHeaderName]
			if !seen {
				pos = len(joinedHeaders)
				srcPosition[meta.SrcHeaderName] = pos
				joinedHeaders = append(joinedHeaders, meta.SrcHeaderName)
			}
			target[i] = pos
		} else {
			target[i] = len(joinedHeaders)
			joinedHeaders = append(joinedHeaders, h)
		}
	}

	joined := make(RawData, 0, len(raw))
	joined = append(joined, joinedHeaders)

	for _, row := range raw[1:] {
		parts := make([][]string, len(joinedHeaders))
		delimiters := make([]string, len(joinedHeaders))

		for i, cell := range row {
			if cell == "" || cell == emptyValue {
				continue
			}
			pos := target[i]
			if meta, ok := metadata[headers[i]]; ok {
				parts[pos] = append(parts[pos], meta.AttrName)
				delimiters[pos] = meta.Delimiter
			} else {
				parts[pos] = append(parts[pos], cell)
			}
		}

		out := make([]string, len(joinedHeaders))
		for pos, p := range parts {
			if len(p) == 0 {
				out[pos] = emptyValue
			} else {
				out[pos] = strings.Join(p, delimiters[pos])
			}
		}
		joined = append(joined, out)
	}

	return joined
}
