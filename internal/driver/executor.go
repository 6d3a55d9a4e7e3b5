// Package driver defines the query executor every higher layer talks to,
// and its ClickHouse native-protocol implementation.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrNoRows is returned when a scalar was expected but the result was empty.
var ErrNoRows = errors.New("driver: query returned no rows")

// Executor runs statements against a database.
//
// Implementations must return an error for malformed SQL, lost connections
// and server-side rejections. Nothing above this interface retries.
type Executor interface {
	// Exec runs a statement that produces no rows.
	Exec(ctx context.Context, query string) error

	// Query runs a statement and buffers all result rows.
	Query(ctx context.Context, query string) (*Result, error)

	// InsertRows bulk-inserts rows. insert is the statement head
	// ("INSERT INTO db.t (a, b)"); each row supplies a value per column.
	InsertRows(ctx context.Context, insert string, columns []string, rows []map[string]any) error

	// Close releases the connection.
	Close() error
}

// Result is a fully buffered query result.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Scalar returns the first column of the first row.
func (r *Result) Scalar() (any, error) {
	if r.Len() == 0 || len(r.Rows[0]) == 0 {
		return nil, ErrNoRows
	}
	return r.Rows[0][0], nil
}

// FirstColumn returns the first value of every row.
func (r *Result) FirstColumn() []any {
	out := make([]any, 0, r.Len())
	for _, row := range r.Rows {
		if len(row) > 0 {
			out = append(out, row[0])
		}
	}
	return out
}

// Strings returns the first column of every row formatted as strings.
func (r *Result) Strings() []string {
	vals := r.FirstColumn()
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = fmt.Sprint(v)
	}
	return out
}

// Maps returns every row keyed by column name.
func (r *Result) Maps() []map[string]any {
	out := make([]map[string]any, 0, r.Len())
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// ToInt64 converts the integer types ClickHouse hands back (count() is UInt64,
// flags are UInt8) into int64.
func ToInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	return 0, fmt.Errorf("driver: cannot convert %T to int64", v)
}

// ScalarInt64 runs query and converts its scalar result.
func ScalarInt64(ctx context.Context, exec Executor, query string) (int64, error) {
	res, err := exec.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	v, err := res.Scalar()
	if err != nil {
		return 0, err
	}
	return ToInt64(v)
}
