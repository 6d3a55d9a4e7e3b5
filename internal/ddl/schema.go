// Package ddl builds the ClickHouse statements issued by the client.
// Every builder is pure string formatting; nothing here talks to a server.
package ddl

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoColumns is returned by table builders given an empty column list.
var ErrNoColumns = errors.New("ddl: table needs at least one column")

// Default engines for the table builders.
const (
	DefaultMergeTreeEngine = "MergeTree"
	DefaultLogEngine       = "StripeLog"
)

// ColumnDef joins the parts of a column definition, e.g. ColumnDef("d", "DateTime", "CODEC(Delta)").
func ColumnDef(parts ...string) string {
	return strings.Join(parts, " ")
}

// MergeTree describes a MergeTree-family table.
type MergeTree struct {
	Columns     []string // "name Type ..." definitions
	OrderBy     []string
	PartitionBy []string
	SampleBy    []string
	PrimaryKey  []string
	TTL         string
	// ExtraBeforeSettings is spliced verbatim just before SETTINGS.
	ExtraBeforeSettings string
	Engine              string // default MergeTree
	Settings            string
	IfNotExists         bool
}

// LogTable describes a Log-family table.
type LogTable struct {
	Columns     []string
	Engine      string // default StripeLog
	IfNotExists bool
	Temporary   bool
}

func ifNotExists(b bool) string {
	if b {
		return " IF NOT EXISTS"
	}
	return ""
}

func ifExists(b bool) string {
	if b {
		return " IF EXISTS"
	}
	return ""
}

func onCluster(cluster string) string {
	if cluster == "" {
		return ""
	}
	return " ON CLUSTER " + cluster
}

// CreateDatabase returns CREATE DATABASE.
func CreateDatabase(db string, notExists bool) string {
	return fmt.Sprintf("CREATE DATABASE%s %s", ifNotExists(notExists), db)
}

// CreateMergeTree returns the CREATE TABLE statement for spec.
func CreateMergeTree(ref TableRef, spec MergeTree) (string, error) {
	if len(spec.Columns) == 0 {
		return "", ErrNoColumns
	}
	engine := spec.Engine
	if engine == "" {
		engine = DefaultMergeTreeEngine
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE%s %s (\n\t%s\n)\n", ifNotExists(spec.IfNotExists), ref, strings.Join(spec.Columns, ",\n\t"))
	fmt.Fprintf(&b, "ENGINE = %s\n", engine)
	fmt.Fprintf(&b, "ORDER BY (%s)\n", strings.Join(spec.OrderBy, ", "))
	if len(spec.PartitionBy) > 0 {
		fmt.Fprintf(&b, "PARTITION BY (%s)\n", strings.Join(spec.PartitionBy, ", "))
	}
	if len(spec.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "PRIMARY KEY (%s)\n", strings.Join(spec.PrimaryKey, ", "))
	}
	if len(spec.SampleBy) > 0 {
		fmt.Fprintf(&b, "SAMPLE BY (%s)\n", strings.Join(spec.SampleBy, ", "))
	}
	if spec.TTL != "" {
		fmt.Fprintf(&b, "TTL %s\n", spec.TTL)
	}
	if spec.ExtraBeforeSettings != "" {
		b.WriteString(spec.ExtraBeforeSettings)
		b.WriteString("\n")
	}
	if spec.Settings != "" {
		fmt.Fprintf(&b, "SETTINGS %s\n", spec.Settings)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// CreateLog returns the CREATE TABLE statement for a Log-family table.
func CreateLog(ref TableRef, spec LogTable) (string, error) {
	if len(spec.Columns) == 0 {
		return "", ErrNoColumns
	}
	engine := spec.Engine
	if engine == "" {
		engine = DefaultLogEngine
	}
	temp := ""
	if spec.Temporary {
		temp = " TEMPORARY"
	}
	return fmt.Sprintf("CREATE%s TABLE%s %s (\n\t%s\n)\nENGINE = %s",
		temp, ifNotExists(spec.IfNotExists), ref, strings.Join(spec.Columns, ",\n\t"), engine), nil
}

// CopyTable creates dst with the structure and engine of src.
func CopyTable(src, dst TableRef, notExists bool) string {
	return fmt.Sprintf("CREATE TABLE%s %s AS %s", ifNotExists(notExists), dst, src)
}

// DropDatabase returns DROP DATABASE.
func DropDatabase(db string, exists bool) string {
	return fmt.Sprintf("DROP DATABASE%s %s", ifExists(exists), db)
}

// DropTable returns DROP TABLE.
func DropTable(ref TableRef, exists bool) string {
	return fmt.Sprintf("DROP TABLE%s %s", ifExists(exists), ref)
}

// Truncate returns TRUNCATE TABLE.
func Truncate(ref TableRef) string {
	return "TRUNCATE TABLE " + ref.String()
}

// Rename returns RENAME TABLE from TO to.
func Rename(from, to TableRef) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s", from, to)
}

// Optimize returns OPTIMIZE TABLE.
func Optimize(ref TableRef) string {
	return "OPTIMIZE TABLE " + ref.String()
}

// CheckTable returns CHECK TABLE.
func CheckTable(ref TableRef) string {
	return "CHECK TABLE " + ref.String()
}

// Attach returns ATTACH TABLE, optionally on a cluster.
func Attach(ref TableRef, exists bool, cluster string) string {
	return fmt.Sprintf("ATTACH TABLE%s %s%s", ifExists(exists), ref, onCluster(cluster))
}

// Detach returns DETACH TABLE, optionally on a cluster.
func Detach(ref TableRef, exists bool, cluster string) string {
	return fmt.Sprintf("DETACH TABLE%s %s%s", ifExists(exists), ref, onCluster(cluster))
}

// ReloadDictionary returns SYSTEM RELOAD DICTIONARY name.
func ReloadDictionary(name string) string {
	return "SYSTEM RELOAD DICTIONARY " + name
}

// ReloadDictionaries returns SYSTEM RELOAD DICTIONARIES.
func ReloadDictionaries() string {
	return "SYSTEM RELOAD DICTIONARIES"
}
