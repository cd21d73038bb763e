package synthesizer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/inferloop/sds/internal/datablock"
	"github.com/inferloop/sds/pkg/errors"
)

var longFormHeaders = []string{"Id", "Attribute", "Value", "AttributeValue"}

// IsLongForm reports whether headers are those of long form synthetic data
func IsLongForm(headers []string) bool {
	return slices.Equal(headers, longFormHeaders)
}

// GeneratedData is the result of one synthesis run
type GeneratedData struct {
	// SyntheticData holds the headers at index 0 and one synthetic record per following row
	SyntheticData datablock.RawData
	// ExpansionRatio is synthetic record count / sensitive record count
	ExpansionRatio float64
	// MultiValueColumnMetadataMap maps normalized multi-value headers to their metadata
	MultiValueColumnMetadataMap datablock.MultiValueColumnMetadataMap
	// EmptyValue fills absent cells of SyntheticData
	EmptyValue string
}

// NumberOfRecords returns how many synthetic records were generated
func (g *GeneratedData) NumberOfRecords() int {
	if len(g.SyntheticData) == 0 {
		return 0
	}
	return len(g.SyntheticData) - 1
}

// SyntheticDataToVec returns a copy of the synthetic data with absent cells
// set to emptyValue, optionally rejoining multi-value columns
func (g *GeneratedData) SyntheticDataToVec(emptyValue string, joinMultiValueColumns bool) [][]string {
	return datablock.RawDataToVec(g.withEmptyValue(emptyValue), emptyValue, g.MultiValueColumnMetadataMap, joinMultiValueColumns)
}

// WriteSyntheticData writes the synthetic data as delimited text. The raw
// form writes the headers then one row per record. The long form writes one
// "Id, Attribute, Value, AttributeValue" row per non-empty cell.
func (g *GeneratedData) WriteSyntheticData(w io.Writer, delimiter rune, emptyValue string, joinMultiValueColumns, longForm bool) error {
	if !validDelimiter(delimiter) {
		return errors.NewParameterError(errors.CodeInvalidDelimiter, "invalid synthetic data delimiter", errors.ErrInvalidDelimiter).
			WithDetails(strconv.QuoteRune(delimiter))
	}

	data := g.SyntheticDataToVec(emptyValue, joinMultiValueColumns)

	writer := csv.NewWriter(w)
	writer.Comma = delimiter

	var err error
	if longForm {
		err = writeLongForm(writer, data, emptyValue)
	} else {
		err = writer.WriteAll(data)
	}
	if err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to write synthetic data", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to flush synthetic data", err)
	}
	return nil
}

// SyntheticDataToString renders the synthetic data the way WriteSyntheticData writes it
func (g *GeneratedData) SyntheticDataToString(delimiter rune, emptyValue string, joinMultiValueColumns, longForm bool) (string, error) {
	var buf bytes.Buffer
	if err := g.WriteSyntheticData(&buf, delimiter, emptyValue, joinMultiValueColumns, longForm); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (g *GeneratedData) withEmptyValue(emptyValue string) datablock.RawData {
	if len(g.SyntheticData) == 0 {
		return g.SyntheticData
	}

	raw := make(datablock.RawData, len(g.SyntheticData))
	raw[0] = g.SyntheticData[0]
	for i, row := range g.SyntheticData[1:] {
		out := make([]string, len(row))
		for j, cell := range row {
			if cell == "" || cell == g.EmptyValue {
				out[j] = emptyValue
			} else {
				out[j] = cell
			}
		}
		raw[i+1] = out
	}
	return raw
}

func writeLongForm(writer *csv.Writer, data [][]string, emptyValue string) error {
	if err := writer.Write(longFormHeaders); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	headers := data[0]
	for id, row := range data[1:] {
		for col, value := range row {
			if value == "" || value == emptyValue {
				continue
			}
			if err := writer.Write([]string{
				strconv.Itoa(id),
				headers[col],
				value,
				fmt.Sprintf("%s:%s", headers[col], value),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func validDelimiter(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && r != 0xFFFD
}
