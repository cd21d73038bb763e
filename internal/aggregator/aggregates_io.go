package aggregator

import (
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/pkg/constants"
	"github.com/inferloop/sds/pkg/errors"
)

const (
	selectionsHeader = "selections"
	countHeader      = "count"
	recordCountKey   = "record_count"
	columnsKey       = "columns"
)

// AggregatesFormat controls how aggregates tables are written and read
type AggregatesFormat struct {
	// AggregatesDelimiter separates the selection and count fields, defaults to '\t'
	AggregatesDelimiter rune
	// CombinationDelimiter separates the attributes of a selection, defaults to ";"
	CombinationDelimiter string
}

func (f AggregatesFormat) withDefaults() AggregatesFormat {
	if f.AggregatesDelimiter == 0 {
		f.AggregatesDelimiter = constants.DefaultAggregatesDelimiter
	}
	if f.CombinationDelimiter == "" {
		f.CombinationDelimiter = constants.DefaultCombinationDelimiter
	}
	return f
}

// WriteAggregates writes the record count, the column order and every
// combination with its count, sorted by descending count. With protected set,
// combinations below resolution are left out, producing the reportable
// aggregates table.
func (d *AggregatedData) WriteAggregates(w io.Writer, format AggregatesFormat, resolution int, protected bool) error {
	format = format.withDefaults()

	writer := csv.NewWriter(w)
	writer.Comma = format.AggregatesDelimiter

	if err := writer.Write([]string{selectionsHeader, countHeader}); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to write aggregates header", err)
	}
	if err := writer.Write([]string{recordCountKey, strconv.Itoa(d.NumberOfRecords())}); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to write record count", err)
	}
	if err := writer.Write([]string{columnsKey, strings.Join(d.DataBlock.Headers, format.CombinationDelimiter)}); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to write column order", err)
	}

	for _, key := range d.SortedKeys() {
		count := d.AggregatesCount[key].Count
		if protected && count < resolution {
			continue
		}
		if err := writer.Write([]string{d.FormatCombination(key, format.CombinationDelimiter), strconv.Itoa(count)}); err != nil {
			return errors.NewIOError(errors.CodeWriteFailed, "failed to write aggregate", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to flush aggregates", err)
	}
	return nil
}

// ReadAggregates rebuilds counts-only aggregated data from an aggregates
// table. Attributes are "header:value", split at the first ':'. Columns keep
// the order of the columns row; tables without one get sorted headers.
func ReadAggregates(r io.Reader, format AggregatesFormat) (*AggregatedData, error) {
	format = format.withDefaults()

	reader := csv.NewReader(r)
	reader.Comma = format.AggregatesDelimiter
	reader.FieldsPerRecord = 2

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NewDataError(errors.CodeEmptyInput, "aggregates table is empty", errors.ErrEmptyInput)
	}
	if err != nil {
		return nil, wrapAggregatesError(err)
	}
	if header[0] != selectionsHeader {
		return nil, errors.NewDataError(errors.CodeInvalidAggregates, "unexpected aggregates header", errors.ErrInvalidAggregates).
			WithDetails(strings.Join(header, ","))
	}

	var (
		order   []string
		headers []string
	)
	columns := make(map[string]int)
	values := datablock.NewValueTable()
	aggregatesCount := make(map[CombinationKey]*AggregatedCount)
	numberOfRecords := -1
	reportingLength := 0

	for {
		line, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapAggregatesError(err)
		}

		if line[0] == columnsKey {
			if line[1] != "" {
				order = strings.Split(line[1], format.CombinationDelimiter)
			}
			continue
		}

		count, err := strconv.Atoi(strings.TrimSpace(line[1]))
		if err != nil || count < 0 {
			return nil, errors.NewDataError(errors.CodeInvalidAggregates, "invalid aggregate count", errors.ErrInvalidAggregates).
				WithDetails(line[1])
		}

		if line[0] == recordCountKey {
			numberOfRecords = count
			continue
		}

		ids := make([]datablock.ValueID, 0)
		for _, item := range strings.Split(line[0], format.CombinationDelimiter) {
			column, value, ok := strings.Cut(item, ":")
			if !ok || column == "" || value == "" {
				return nil, errors.NewDataError(errors.CodeInvalidAggregates, "invalid selection", errors.ErrInvalidAggregates).
					WithDetails(item)
			}
			index, seen := columns[column]
			if !seen {
				index = len(headers)
				columns[column] = index
				headers = append(headers, column)
			}
			ids = append(ids, values.Intern(index, value))
		}

		comb := NewCombination(ids...)
		if comb.Len() > reportingLength {
			reportingLength = comb.Len()
		}
		aggregatesCount[comb.Key()] = &AggregatedCount{Count: count}
	}

	values, headers = reorderColumns(values, headers, order)
	block := datablock.New(headers, nil, values, nil)
	if numberOfRecords < 0 {
		numberOfRecords = estimateNumberOfRecords(block, aggregatesCount)
	}
	if reportingLength == 0 {
		reportingLength = 1
	}

	return NewCountsOnlyAggregatedData(block, aggregatesCount, reportingLength, numberOfRecords), nil
}

// reorderColumns lays headers out in order, followed by any header order
// does not list, sorted. Value ids are kept, only their column index moves.
func reorderColumns(values *datablock.ValueTable, headers, order []string) (*datablock.ValueTable, []string) {
	seen := make(map[string]bool, len(headers))
	var out []string
	for _, h := range order {
		if h != "" && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	var rest []string
	for _, h := range headers {
		if !seen[h] {
			seen[h] = true
			rest = append(rest, h)
		}
	}
	sort.Strings(rest)
	out = append(out, rest...)

	index := make(map[string]int, len(out))
	for i, h := range out {
		index[h] = i
	}
	remapped := datablock.NewValueTable()
	for id := 0; id < values.Len(); id++ {
		attr := values.Value(datablock.ValueID(id))
		remapped.Intern(index[headers[attr.ColumnIndex]], attr.Value)
	}
	return remapped, out
}

// estimateNumberOfRecords uses the most populated column as a lower bound
func estimateNumberOfRecords(block *datablock.DataBlock, aggregatesCount map[CombinationKey]*AggregatedCount) int {
	byColumn := make(map[int]int)
	for key, ac := range aggregatesCount {
		if key.Len() == 1 {
			byColumn[block.Values.Column(key.Combination()[0])] += ac.Count
		}
	}
	max := 0
	for _, total := range byColumn {
		if total > max {
			max = total
		}
	}
	return max
}

func wrapAggregatesError(err error) error {
	var parseErr *csv.ParseError
	if stderrors.As(err, &parseErr) {
		return errors.NewDataError(errors.CodeInvalidAggregates, "invalid aggregates line", errors.ErrInvalidAggregates).
			WithDetails(fmt.Sprintf("line %d: %v", parseErr.Line, parseErr.Err))
	}
	return errors.NewIOError(errors.CodeReadFailed, "failed to read aggregates", err)
}
