package dataset

import (
	"fmt"

	apperrors "kycrisk/internal/errors"
)

// LeftJoin joins right onto t by key.
//
// Every left row is kept in order. A left row with several matches on the
// right is repeated once per match in right order; a row without a match gets
// nulls for the right columns. Right columns whose name already exists on the
// left are renamed to name+suffix. The right key column itself is not carried.
// Null keys compare equal to each other and to the empty string.
func (t *Table) LeftJoin(right *Table, key, suffix string) (*Table, error) {
	lk, ok := t.index[key]
	if !ok {
		return nil, apperrors.NewMissingKeyError(fmt.Sprintf("left table has no %s column", key), nil).WithContext(key)
	}
	rk, ok := right.index[key]
	if !ok {
		return nil, apperrors.NewMissingKeyError(fmt.Sprintf("right table has no %s column", key), nil).WithContext(key)
	}

	columns := t.Columns()
	var carried []int
	for j, col := range right.columns {
		if j == rk {
			continue
		}
		name := col
		if t.HasColumn(col) {
			name = col + suffix
		}
		columns = append(columns, name)
		carried = append(carried, j)
	}

	out, err := New(columns...)
	if err != nil {
		return nil, apperrors.NewSchemaMismatchError("join produced duplicate columns", err)
	}

	matches := make(map[string][]int, len(right.rows))
	for i, row := range right.rows {
		k := row[rk].Key()
		matches[k] = append(matches[k], i)
	}

	for _, lrow := range t.rows {
		hits := matches[lrow[lk].Key()]
		if len(hits) == 0 {
			row := make([]Value, len(columns))
			copy(row, lrow)
			out.rows = append(out.rows, row)
			continue
		}
		for _, ri := range hits {
			row := make([]Value, len(columns))
			copy(row, lrow)
			for n, j := range carried {
				row[len(lrow)+n] = right.rows[ri][j]
			}
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}
