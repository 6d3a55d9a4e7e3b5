package ddl

import (
	"fmt"
	"strings"
)

// TableRef identifies a table by database and table name.
type TableRef struct {
	Database string
	Table    string
}

// Ref is shorthand for TableRef{Database: db, Table: table}.
func Ref(db, table string) TableRef {
	return TableRef{Database: db, Table: table}
}

// String returns the qualified name db.table.
func (r TableRef) String() string {
	return r.Database + "." + r.Table
}

// Validate checks both name parts with ValidateIdentifier.
func (r TableRef) Validate() error {
	if err := ValidateIdentifier(r.Database); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := ValidateIdentifier(r.Table); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	return nil
}

// maxIdentifierLen is the file-name limit ClickHouse inherits for table directories.
const maxIdentifierLen = 206

// ValidateIdentifier checks that a database or table name can be spliced into
// a statement unquoted.
//
// Valid identifiers:
// - Start with letter or underscore
// - Contain only letters, digits and underscores
// - Not empty
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("identifier too long: %d characters (max %d)", len(name), maxIdentifierLen)
	}
	if !isIdentStart(rune(name[0])) {
		return fmt.Errorf("identifier must start with letter or underscore: %q", name)
	}
	for i, r := range name {
		if i == 0 {
			continue
		}
		if !isIdentStart(r) && !(r >= '0' && r <= '9') {
			return fmt.Errorf("identifier contains invalid character %q at position %d: %q", r, i, name)
		}
	}
	return nil
}

func isIdentStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

// QuoteString renders s as a single-quoted ClickHouse string literal.
func QuoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
