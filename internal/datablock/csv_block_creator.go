package datablock

import (
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/sds/pkg/errors"
)

// CSVOptions controls how delimited text is turned into a data block
type CSVOptions struct {
	// Delimiter separates fields, defaults to ','
	Delimiter rune
	// UseColumns restricts the block to these columns (all when empty)
	UseColumns []string
	// SensitiveZeros lists columns where "0" is a real value; elsewhere it is treated as empty
	SensitiveZeros []string
	// RecordLimit caps how many records are read (0 reads everything)
	RecordLimit int
	// MultiValueColumns maps a column name to the delimiter separating its values
	MultiValueColumns map[string]string
	// EmptyValue is an extra token treated as an empty cell
	EmptyValue string
}

// CSVBlockCreator builds data blocks from delimited text
type CSVBlockCreator struct {
	options CSVOptions
	logger  *logrus.Logger
}

// NewCSVBlockCreator creates a block creator
func NewCSVBlockCreator(options CSVOptions, logger *logrus.Logger) *CSVBlockCreator {
	if options.Delimiter == 0 {
		options.Delimiter = ','
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CSVBlockCreator{
		options: options,
		logger:  logger,
	}
}

// Create reads every row from reader and returns the resulting data block.
// A row whose field count does not match the header is a data error.
func (c *CSVBlockCreator) Create(reader io.Reader) (*DataBlock, error) {
	start := time.Now()

	csvReader := csv.NewReader(reader)
	csvReader.Comma = c.options.Delimiter
	csvReader.ReuseRecord = false

	header, err := csvReader.Read()
	if err == io.EOF {
		return nil, errors.NewDataError(errors.CodeEmptyInput, "failed to read headers", errors.ErrEmptyInput)
	}
	if err != nil {
		return nil, wrapReadError(err)
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	selected, err := c.selectColumns(header)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for c.options.RecordLimit <= 0 || len(rows) < c.options.RecordLimit {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapReadError(err)
		}
		rows = append(rows, row)
	}

	block := c.FromRows(header, selected, rows)

	c.logger.WithFields(logrus.Fields{
		"records":  block.NumberOfRecords(),
		"columns":  block.NumberOfColumns(),
		"values":   block.Values.Len(),
		"duration": time.Since(start),
	}).Info("Created data block")

	return block, nil
}

// FromRows normalizes already split rows. selected holds the indices of the
// header columns that should be kept.
func (c *CSVBlockCreator) FromRows(header []string, selected []int, rows [][]string) *DataBlock {
	sensitiveZeros := make(map[string]bool, len(c.options.SensitiveZeros))
	for _, z := range c.options.SensitiveZeros {
		sensitiveZeros[z] = true
	}

	// multi-value columns expand into one normalized column per distinct value
	multiValueParts := make(map[int]map[string]bool)
	for _, col := range selected {
		if _, ok := c.options.MultiValueColumns[header[col]]; ok {
			multiValueParts[col] = make(map[string]bool)
		}
	}
	for _, row := range rows {
		for col, parts := range multiValueParts {
			for _, part := range c.splitMultiValue(header[col], row[col]) {
				parts[part] = true
			}
		}
	}

	var headers []string
	metadata := MultiValueColumnMetadataMap{}
	columnIndex := make(map[int]int)
	partIndex := make(map[int]map[string]int)

	for _, col := range selected {
		parts, isMultiValue := multiValueParts[col]
		if !isMultiValue {
			columnIndex[col] = len(headers)
			headers = append(headers, header[col])
			continue
		}

		names := make([]string, 0, len(parts))
		for p := range parts {
			names = append(names, p)
		}
		sort.Strings(names)

		partIndex[col] = make(map[string]int, len(names))
		for _, p := range names {
			normalized := fmt.Sprintf("%s_%s", header[col], p)
			metadata[normalized] = MultiValueColumnMetadata{
				SrcHeaderName: header[col],
				AttrName:      p,
				Delimiter:     c.options.MultiValueColumns[header[col]],
			}
			partIndex[col][p] = len(headers)
			headers = append(headers, normalized)
		}
	}

	values := NewValueTable()
	records := make([]Record, 0, len(rows))

	for i, row := range rows {
		var ids []ValueID
		for _, col := range selected {
			if _, isMultiValue := multiValueParts[col]; isMultiValue {
				for _, part := range c.splitMultiValue(header[col], row[col]) {
					ids = append(ids, values.Intern(partIndex[col][part], "1"))
				}
				continue
			}

			cell := strings.TrimSpace(row[col])
			if c.isEmpty(cell) || (cell == "0" && !sensitiveZeros[header[col]]) {
				continue
			}
			ids = append(ids, values.Intern(columnIndex[col], cell))
		}
		records = append(records, NewRecord(i, ids))
	}

	return New(headers, records, values, metadata)
}

func (c *CSVBlockCreator) selectColumns(header []string) ([]int, error) {
	if len(c.options.UseColumns) == 0 {
		selected := make([]int, len(header))
		for i := range header {
			selected[i] = i
		}
		return selected, nil
	}

	use := make(map[string]bool, len(c.options.UseColumns))
	for _, col := range c.options.UseColumns {
		use[col] = true
	}

	var selected []int
	for i, h := range header {
		if use[h] {
			selected = append(selected, i)
			delete(use, h)
		}
	}

	if len(use) > 0 {
		missing := make([]string, 0, len(use))
		for col := range use {
			missing = append(missing, col)
		}
		sort.Strings(missing)
		return nil, errors.NewDataError(errors.CodeUnknownColumn, "use_columns references unknown columns", errors.ErrUnknownColumn).
			WithDetails(strings.Join(missing, ", "))
	}

	return selected, nil
}

func (c *CSVBlockCreator) splitMultiValue(column, cell string) []string {
	cell = strings.TrimSpace(cell)
	if c.isEmpty(cell) {
		return nil
	}

	var parts []string
	for _, p := range strings.Split(cell, c.options.MultiValueColumns[column]) {
		p = strings.TrimSpace(p)
		if !c.isEmpty(p) {
			parts = append(parts, p)
		}
	}
	return parts
}

func (c *CSVBlockCreator) isEmpty(cell string) bool {
	return cell == "" || (c.options.EmptyValue != "" && cell == c.options.EmptyValue)
}

func wrapReadError(err error) error {
	var parseErr *csv.ParseError
	if stderrors.As(err, &parseErr) && stderrors.Is(parseErr.Err, csv.ErrFieldCount) {
		return errors.NewDataError(errors.CodeMalformedRow, "row column count does not match the header", errors.ErrMalformedRow).
			WithDetails(parseErr.Error()).
			WithContext("line", parseErr.Line)
	}
	return errors.NewIOError(errors.CodeReadFailed, "failed to read input", err)
}
