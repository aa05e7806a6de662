// Package dataset holds the in-memory tables the pipeline stages exchange.
//
// A Table is an ordered set of uniquely named columns over rows of nullable
// cells. It implements exactly the relational operations the merge, normalize
// and reporting stages need: projection, column drop, left join on a key,
// first-seen distinct and filtering.
package dataset

import (
	"fmt"
	"strings"

	apperrors "kycrisk/internal/errors"
)

// Table is a column-named, row-ordered table of nullable cells
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]Value
}

// New creates an empty table. Column names must be unique.
func New(columns ...string) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		if _, dup := index[col]; dup {
			return nil, fmt.Errorf("duplicate column %q", col)
		}
		index[col] = i
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{columns: cols, index: index}, nil
}

// MustNew is New for column lists known at compile time
func MustNew(columns ...string) *Table {
	t, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Columns returns a copy of the column names in order
func (t *Table) Columns() []string {
	cols := make([]string, len(t.columns))
	copy(cols, t.columns)
	return cols
}

// HasColumn reports whether col exists
func (t *Table) HasColumn(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Append adds a row. The number of cells must match the number of columns.
func (t *Table) Append(cells ...Value) error {
	if len(cells) != len(t.columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(cells), len(t.columns))
	}
	row := make([]Value, len(cells))
	copy(row, cells)
	t.rows = append(t.rows, row)
	return nil
}

// AppendMap adds a row from a column→value map; absent columns are null.
// Unknown keys are a schema mismatch.
func (t *Table) AppendMap(values map[string]Value) error {
	row := make([]Value, len(t.columns))
	for col, v := range values {
		i, ok := t.index[col]
		if !ok {
			return unknownColumn(col)
		}
		row[i] = v
	}
	t.rows = append(t.rows, row)
	return nil
}

// Row returns a read-only view of row i
func (t *Table) Row(i int) Row {
	return Row{table: t, i: i}
}

// Get returns the cell at row i, column col. Unknown columns read as null.
func (t *Table) Get(i int, col string) Value {
	j, ok := t.index[col]
	if !ok {
		return Null
	}
	return t.rows[i][j]
}

// Column returns every cell of col in row order
func (t *Table) Column(col string) ([]Value, error) {
	j, ok := t.index[col]
	if !ok {
		return nil, unknownColumn(col)
	}
	out := make([]Value, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[j]
	}
	return out, nil
}

// RequireColumns fails with a schema mismatch naming every absent column
func (t *Table) RequireColumns(cols ...string) error {
	var missing []string
	for _, col := range cols {
		if !t.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewSchemaMismatchError(
			fmt.Sprintf("columns not present: %s", strings.Join(missing, ", ")), nil,
		).WithContext(strings.Join(missing, ","))
	}
	return nil
}

// Select projects the table onto cols in the requested order
func (t *Table) Select(cols ...string) (*Table, error) {
	if err := t.RequireColumns(cols...); err != nil {
		return nil, err
	}
	out, err := New(cols...)
	if err != nil {
		return nil, apperrors.NewSchemaMismatchError("invalid projection", err)
	}
	out.rows = make([][]Value, len(t.rows))
	for i, row := range t.rows {
		projected := make([]Value, len(cols))
		for k, col := range cols {
			projected[k] = row[t.index[col]]
		}
		out.rows[i] = projected
	}
	return out, nil
}

// DropColumns returns a copy without cols. Absent columns are ignored.
func (t *Table) DropColumns(cols ...string) *Table {
	drop := make(map[string]bool, len(cols))
	for _, col := range cols {
		drop[col] = true
	}
	keep := make([]string, 0, len(t.columns))
	for _, col := range t.columns {
		if !drop[col] {
			keep = append(keep, col)
		}
	}
	out, _ := t.Select(keep...)
	return out
}

// DropColumnsWithSuffix removes every column whose name ends in suffix
func (t *Table) DropColumnsWithSuffix(suffix string) (*Table, []string) {
	if suffix == "" {
		return t, nil
	}
	var dropped []string
	for _, col := range t.columns {
		if strings.HasSuffix(col, suffix) {
			dropped = append(dropped, col)
		}
	}
	if len(dropped) == 0 {
		return t, nil
	}
	return t.DropColumns(dropped...), dropped
}

// Filter returns the rows for which keep is true, in order
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := &Table{columns: t.Columns(), index: t.index}
	for i := range t.rows {
		if keep(t.Row(i)) {
			out.rows = append(out.rows, t.rows[i])
		}
	}
	return out
}

// DistinctBy keeps the first row for every value of col
func (t *Table) DistinctBy(col string) (*Table, error) {
	j, ok := t.index[col]
	if !ok {
		return nil, unknownColumn(col)
	}
	seen := make(map[string]bool, len(t.rows))
	return t.Filter(func(r Row) bool {
		key := r.table.rows[r.i][j].Key()
		if seen[key] {
			return false
		}
		seen[key] = true
		return true
	}), nil
}

// Clone returns a deep copy
func (t *Table) Clone() *Table {
	out, _ := t.Select(t.columns...)
	return out
}

// Row is a view of one table row
type Row struct {
	table *Table
	i     int
}

// Index returns the row position in its table
func (r Row) Index() int {
	return r.i
}

// Get returns the cell of col, or null when the column does not exist
func (r Row) Get(col string) Value {
	return r.table.Get(r.i, col)
}

// Values returns the row cells in column order
func (r Row) Values() []Value {
	out := make([]Value, len(r.table.columns))
	copy(out, r.table.rows[r.i])
	return out
}

func unknownColumn(col string) error {
	return apperrors.NewSchemaMismatchError(fmt.Sprintf("column %q not present", col), nil).WithContext(col)
}
