package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"kycrisk/dataset"
	apperrors "kycrisk/internal/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadTable loads a source extract into a table.
//
// Workbooks (.xlsx, .xlsm) are read from their first sheet. CSV files may use
// "," or ";" and may be UTF-8 or Windows-1252. The first non-empty row is the
// header. Cells are trimmed and empty cells become null.
func ReadTable(path string) (*dataset.Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.NewSourceUnavailableError(
			fmt.Sprintf("cannot open %s", filepath.Base(path)), err,
		).WithContext(path)
	}

	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbookRows(path)
	case ".csv":
		rows, err = readCSVRows(path)
	default:
		return nil, apperrors.NewSourceUnavailableError(
			fmt.Sprintf("unsupported extract format %q", filepath.Ext(path)), nil,
		).WithContext(path)
	}
	if err != nil {
		return nil, apperrors.NewSourceUnavailableError(
			fmt.Sprintf("cannot read %s", filepath.Base(path)), err,
		).WithContext(path)
	}

	return buildTable(rows)
}

func readWorkbookRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in Excel file")
	}

	// Raw values keep long numeric ids exact; formatted text switches to E notation.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func readCSVRows(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	if !utf8.Valid(data) {
		decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode Windows-1252 content: %w", err)
		}
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// detectDelimiter picks ";" when the header line has more semicolons than commas
func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

func buildTable(rows [][]string) (*dataset.Table, error) {
	start := 0
	for start < len(rows) && isEmptyRow(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil, apperrors.NewSchemaMismatchError("extract has no header row", nil)
	}

	headers := HeaderNames(rows[start])
	table, err := dataset.New(headers...)
	if err != nil {
		return nil, apperrors.NewSchemaMismatchError("invalid header row", err)
	}

	for _, raw := range rows[start+1:] {
		if isEmptyRow(raw) {
			continue
		}
		cells := make([]dataset.Value, len(headers))
		for i := range headers {
			if i < len(raw) {
				cells[i] = dataset.FromCell(raw[i])
			}
		}
		if err := table.Append(cells...); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// HeaderNames trims raw header cells and makes them unique.
// Blank headers become "Unnamed: N" (N is the zero-based position) and
// repeated names get ".1", ".2" appended in order of appearance.
func HeaderNames(raw []string) []string {
	names := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	for i, cell := range raw {
		name := strings.TrimSpace(cell)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if used[name] {
			base := name
			for n := 1; used[name]; n++ {
				name = base + "." + strconv.Itoa(n)
			}
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
