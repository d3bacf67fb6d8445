package importer

// decode.go reads a tabular file into headers and raw rows.
//
// The decoder accepts CSV (UTF-8 or declared Latin-1) and XLSX input and
// produces the same DecodedFile either way, so the rest of the pipeline
// never cares about the source format. Every header and string cell goes
// through mojibake repair to undo the common "UTF-8 read as Latin-1"
// corruption found in exported spreadsheets.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// ErrEmptyFile is returned when the file has no rows at all.
var ErrEmptyFile = errors.New("file is empty")

// ErrNoDataRows is returned when the file has a header but nothing under it.
var ErrNoDataRows = errors.New("no data rows after header")

// SourceFormat declares how the uploaded bytes should be parsed.
type SourceFormat int

const (
	FormatCSV SourceFormat = iota
	FormatCSVLatin1
	FormatXLSX
)

// ParseFormat maps a user-facing format name to a SourceFormat.
func ParseFormat(s string) (SourceFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "csv-latin1", "latin1":
		return FormatCSVLatin1, nil
	case "xlsx", "xls", "excel":
		return FormatXLSX, nil
	default:
		return FormatCSV, fmt.Errorf("unknown file format: %q", s)
	}
}

// Decode reads a tabular file into a DecodedFile.
// The header is the first non-empty row; empty-named columns are dropped
// and fully empty data rows are skipped.
func Decode(r io.Reader, format SourceFormat) (*DecodedFile, error) {
	var grid [][]string
	var err error

	switch format {
	case FormatXLSX:
		grid, err = readXLSX(r)
	case FormatCSVLatin1:
		grid, err = readCSV(charmap.ISO8859_1.NewDecoder().Reader(r))
	default:
		grid, err = readCSV(r)
	}
	if err != nil {
		return nil, err
	}

	if len(grid) == 0 {
		return nil, ErrEmptyFile
	}

	// Header: trimmed, repaired, empties dropped. Keep the source column
	// index of each surviving header so rows stay aligned.
	var headers []string
	var cols []int
	for i, h := range grid[0] {
		name := strings.TrimSpace(RepairMojibake(h))
		if name == "" {
			continue
		}
		headers = append(headers, name)
		cols = append(cols, i)
	}
	if len(headers) == 0 {
		return nil, ErrEmptyFile
	}

	var rows []RawRow
	for _, raw := range grid[1:] {
		row := make(RawRow, len(cols))
		empty := true
		for j, src := range cols {
			var cell Cell
			if src < len(raw) {
				cell = classifyCell(raw[src])
			}
			if !cell.IsEmpty() {
				empty = false
			}
			row[j] = cell
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrNoDataRows
	}

	return &DecodedFile{Headers: headers, Rows: rows}, nil
}

// readCSV parses delimited text. Lazy quotes and ragged rows are tolerated;
// short rows are padded with empty cells later.
func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	// Strip UTF-8 BOM written by Windows exports.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	return records, nil
}

// readXLSX parses the first sheet of a spreadsheet. Raw cell values keep
// date serials as plain numbers for the normalizer to convert.
func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptyFile
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// classifyCell turns a raw cell string into the Cell variant. Numeric text
// becomes a number cell (keeping the original text); everything else is a
// repaired string cell.
func classifyCell(s string) Cell {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Cell{}
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Cell{Kind: CellNumber, Str: trimmed, Num: n}
	}
	return Cell{Kind: CellString, Str: RepairMojibake(trimmed)}
}

// RepairMojibake undoes double-encoded text: a UTF-8 string that was once
// mis-decoded as Latin-1 consists solely of code points ≤ 0xFF whose byte
// values form valid UTF-8. When that holds, the reinterpretation replaces
// the original; otherwise the input is returned unchanged. The repair is
// idempotent for inputs composed solely of code points ≤ 0xFF.
func RepairMojibake(s string) string {
	raw := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return s
		}
		raw = append(raw, byte(r))
	}

	if !utf8.Valid(raw) {
		return s
	}

	decoded := string(raw)
	if decoded == s {
		return s
	}
	return decoded
}
