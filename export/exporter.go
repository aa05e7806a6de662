// Package export writes tables to Excel, CSV and JSON files.
//
// Every writer replaces its target atomically: the content goes to a
// temporary file in the target directory which is renamed over the target
// only after it was written completely.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"kycrisk/dataset"
)

// Format is an output file format
type Format string

const (
	FormatExcel Format = "xlsx"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(s, "."))); f {
	case FormatExcel, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// FormatOf returns the format implied by a file extension
func FormatOf(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Sheet is a named table inside a workbook
type Sheet struct {
	Name  string
	Table *dataset.Table
}

// Write stores the table in the format implied by the path extension
func Write(path string, t *dataset.Table) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	switch format {
	case FormatCSV:
		return WriteCSV(path, t)
	case FormatJSON:
		return WriteJSON(path, t)
	default:
		return WriteExcel(path, Sheet{Name: "Sheet1", Table: t})
	}
}

// WriteExcel stores one or more tables as sheets of a single workbook
func WriteExcel(path string, sheets ...Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("workbook %s has no sheets", filepath.Base(path))
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				return fmt.Errorf("failed to name sheet %q: %w", sheet.Name, err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", sheet.Name, err)
		}
		if err := writeSheet(f, sheet, headerStyle); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)

	return atomicWrite(path, func(w io.Writer) error {
		if _, err := f.WriteTo(w); err != nil {
			return fmt.Errorf("failed to save Excel file: %w", err)
		}
		return nil
	})
}

func writeSheet(f *excelize.File, sheet Sheet, headerStyle int) error {
	columns := sheet.Table.Columns()
	for i, header := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet.Name, cell, header); err != nil {
			return fmt.Errorf("failed to write header %q: %w", header, err)
		}
		if err := f.SetCellStyle(sheet.Name, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	for r := 0; r < sheet.Table.Len(); r++ {
		for c, v := range sheet.Table.Row(r).Values() {
			if v.IsNull() {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet.Name, cell, cellValue(v.Str())); err != nil {
				return fmt.Errorf("failed to write cell %s: %w", cell, err)
			}
		}
	}

	for i := range columns {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet.Name, col, col, 18); err != nil {
			return err
		}
	}
	return nil
}

// cellValue stores canonical numbers as numbers so spreadsheets sort and sum them.
// Anything that would not print back identically stays text ("007", "1e3").
func cellValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strconv.FormatFloat(f, 'f', -1, 64) == s {
		return f
	}
	return s
}

// WriteCSV stores the table as comma-separated UTF-8. Nulls are empty fields.
func WriteCSV(path string, t *dataset.Table) error {
	return atomicWrite(path, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write(t.Columns()); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
		record := make([]string, len(t.Columns()))
		for r := 0; r < t.Len(); r++ {
			for c, v := range t.Row(r).Values() {
				record[c] = v.Str()
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}
		writer.Flush()
		return writer.Error()
	})
}

// WriteJSON stores the table as an array of objects with keys in column order.
// Nulls are JSON null.
func WriteJSON(path string, t *dataset.Table) error {
	return atomicWrite(path, func(w io.Writer) error {
		var buf bytes.Buffer
		columns := t.Columns()
		keys := make([][]byte, len(columns))
		for i, col := range columns {
			k, err := json.Marshal(col)
			if err != nil {
				return err
			}
			keys[i] = k
		}

		buf.WriteString("[")
		for r := 0; r < t.Len(); r++ {
			if r > 0 {
				buf.WriteString(",")
			}
			buf.WriteString("\n  {")
			for c, v := range t.Row(r).Values() {
				if c > 0 {
					buf.WriteString(", ")
				}
				buf.Write(keys[c])
				buf.WriteString(": ")
				if v.IsNull() {
					buf.WriteString("null")
					continue
				}
				b, err := json.Marshal(v.Str())
				if err != nil {
					return fmt.Errorf("failed to encode JSON: %w", err)
				}
				buf.Write(b)
			}
			buf.WriteString("}")
		}
		if t.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString("]\n")

		_, err := buf.WriteTo(w)
		return err
	})
}

// atomicWrite creates the parent directory, writes to a temporary sibling and
// renames it over path. On any failure the previous file is left untouched.
func atomicWrite(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
