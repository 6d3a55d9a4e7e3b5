package ddl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PartitionKey is the ordered list of partition expression values of one partition.
// Elements may be any Go integer type, Date, time.Time (rendered as DateTime) or string.
type PartitionKey []any

// Date marks a time.Time that should render as a ClickHouse Date literal.
type Date struct{ time.Time }

// NewDate builds a Date from calendar parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Literal renders v as a ClickHouse literal suitable for a partition expression.
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case Date:
		return QuoteString(x.Format("2006-01-02")), nil
	case time.Time:
		return QuoteString(x.Format("2006-01-02 15:04:05")), nil
	case string:
		return QuoteString(x), nil
	case fmt.Stringer:
		return QuoteString(x.String()), nil
	}
	return "", fmt.Errorf("unsupported partition value type %T", v)
}

// DropPartition returns ALTER TABLE ... DROP PARTITION (values).
func DropPartition(ref TableRef, key PartitionKey) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("empty partition key for %s", ref)
	}
	parts := make([]string, len(key))
	for i, v := range key {
		lit, err := Literal(v)
		if err != nil {
			return "", err
		}
		parts[i] = lit
	}
	return fmt.Sprintf("ALTER TABLE %s DROP PARTITION (%s)", ref, strings.Join(parts, ", ")), nil
}
