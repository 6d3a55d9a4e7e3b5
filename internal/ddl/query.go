package ddl

import (
	"fmt"
	"strings"
)

func where(cond string) string {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return ""
	}
	return " WHERE " + cond
}

func columnList(columns []string) string {
	if len(columns) == 0 {
		return ""
	}
	return " (" + strings.Join(columns, ", ") + ")"
}

// Ping is the connectivity probe.
func Ping() string { return "SELECT 1" }

// Exists returns EXISTS TABLE.
func Exists(ref TableRef) string {
	return "EXISTS TABLE " + ref.String()
}

// Describe returns DESCRIBE TABLE.
func Describe(ref TableRef) string {
	return "DESCRIBE TABLE " + ref.String()
}

// ShowDatabases returns SHOW DATABASES.
func ShowDatabases() string { return "SHOW DATABASES" }

// ShowTables returns SHOW TABLES, optionally scoped to db and filtered by a LIKE pattern.
func ShowTables(db, like string) string {
	q := "SHOW TABLES"
	if db != "" {
		q += " FROM " + db
	}
	if like != "" {
		q += " LIKE " + QuoteString(like)
	}
	return q
}

// ShowProcessList returns SHOW PROCESSLIST.
func ShowProcessList() string { return "SHOW PROCESSLIST" }

// ShowCreateTable returns SHOW CREATE TABLE.
func ShowCreateTable(ref TableRef) string {
	return "SHOW CREATE TABLE " + ref.String()
}

// CountRows returns SELECT count() with an optional filter.
func CountRows(ref TableRef, cond string) string {
	return fmt.Sprintf("SELECT count() FROM %s%s", ref, where(cond))
}

// MinValue returns SELECT min(column).
func MinValue(ref TableRef, column, cond string) string {
	return fmt.Sprintf("SELECT min(%s) FROM %s%s", column, ref, where(cond))
}

// MaxValue returns SELECT max(column).
func MaxValue(ref TableRef, column, cond string) string {
	return fmt.Sprintf("SELECT max(%s) FROM %s%s", column, ref, where(cond))
}

// Insert returns the INSERT head used for batch inserts.
func Insert(ref TableRef, columns []string) string {
	return "INSERT INTO " + ref.String() + columnList(columns)
}

// InsertSelect returns INSERT INTO ref [(columns)] query.
func InsertSelect(ref TableRef, columns []string, query string) string {
	return fmt.Sprintf("INSERT INTO %s%s %s", ref, columnList(columns), strings.TrimSpace(query))
}

// Projection renders the select list: "*" or the columns, prefixed with DISTINCT when asked.
func Projection(columns []string, distinct bool) string {
	p := "*"
	if len(columns) > 0 {
		p = strings.Join(columns, ", ")
	}
	if distinct {
		p = "DISTINCT " + p
	}
	return p
}

// Select returns SELECT projection FROM ref [WHERE cond].
func Select(ref TableRef, projection, cond string) string {
	return fmt.Sprintf("SELECT %s FROM %s%s", projection, ref, where(cond))
}

// TransformExpr wraps a column in the conversion needed to land it in a column of dataType.
// Arrays pass through, numeric types go through to<Type>OrZero/OrNull, String via toString.
func TransformExpr(name, dataType string) string {
	switch {
	case strings.Contains(dataType, "Array"):
		return name
	case strings.Contains(dataType, "Int") || strings.Contains(dataType, "Float"):
		if inner, ok := unwrapNullable(dataType); ok {
			return fmt.Sprintf("to%sOrNull(toString(%s))", inner, name)
		}
		return fmt.Sprintf("to%sOrZero(ifNull(toString(%s), ''))", dataType, name)
	case dataType == "String":
		return fmt.Sprintf("toString(%s)", name)
	default:
		return name
	}
}

func unwrapNullable(dataType string) (string, bool) {
	if strings.HasPrefix(dataType, "Nullable(") && strings.HasSuffix(dataType, ")") {
		return dataType[len("Nullable(") : len(dataType)-1], true
	}
	return dataType, false
}
