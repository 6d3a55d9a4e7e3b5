package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver"
	"github.com/johndauphine/chkit/internal/mutation"
	"github.com/johndauphine/chkit/internal/transfer"
)

// DefaultDateColumn is the column MinValue and MaxValue read when none is given.
const DefaultDateColumn = "Date"

// Column is one row of DESCRIBE TABLE.
type Column struct {
	Name        string
	Type        string
	DefaultKind string // "", DEFAULT, MATERIALIZED, ALIAS, EPHEMERAL
	DefaultExpr string
}

// Stored reports whether the column takes values on insert.
func (c Column) Stored() bool {
	return c.DefaultKind != "ALIAS" && c.DefaultKind != "MATERIALIZED"
}

// Table is a table handle.
type Table struct {
	c   *Client
	ref ddl.TableRef
}

// Ref returns the table reference.
func (t *Table) Ref() ddl.TableRef { return t.ref }

func (t *Table) String() string { return t.ref.String() }

// Query runs query after replacing {db} and {table} with the bound names.
func (t *Table) Query(ctx context.Context, query string) (*driver.Result, error) {
	return t.c.exec.Query(ctx, t.expand(query))
}

// Exec runs a statement after the same substitution as Query.
func (t *Table) Exec(ctx context.Context, query string) error {
	return t.c.exec.Exec(ctx, t.expand(query))
}

func (t *Table) expand(query string) string {
	return strings.NewReplacer("{db}", t.ref.Database, "{table}", t.ref.Table).Replace(query)
}

// Exists reports whether the table exists.
func (t *Table) Exists(ctx context.Context) (bool, error) {
	n, err := driver.ScalarInt64(ctx, t.c.exec, ddl.Exists(t.ref))
	if err != nil {
		return false, fmt.Errorf("checking %s exists: %w", t.ref, err)
	}
	return n != 0, nil
}

// Describe returns the column list.
func (t *Table) Describe(ctx context.Context) ([]Column, error) {
	res, err := t.c.exec.Query(ctx, ddl.Describe(t.ref))
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", t.ref, err)
	}
	cols := make([]Column, 0, res.Len())
	for _, row := range res.Rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("describing %s: short row (%d columns)", t.ref, len(row))
		}
		col := Column{Name: fmt.Sprint(row[0]), Type: fmt.Sprint(row[1])}
		if len(row) > 3 {
			col.DefaultKind = fmt.Sprint(row[2])
			col.DefaultExpr = fmt.Sprint(row[3])
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// ShowCreate returns the CREATE statement of the table.
func (t *Table) ShowCreate(ctx context.Context) (string, error) {
	res, err := t.c.exec.Query(ctx, ddl.ShowCreateTable(t.ref))
	if err != nil {
		return "", err
	}
	v, err := res.Scalar()
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// CreateMergeTree creates the table with a MergeTree-family engine.
func (t *Table) CreateMergeTree(ctx context.Context, spec ddl.MergeTree) error {
	if err := t.ref.Validate(); err != nil {
		return err
	}
	q, err := ddl.CreateMergeTree(t.ref, spec)
	if err != nil {
		return fmt.Errorf("creating %s: %w", t.ref, err)
	}
	return t.c.logExec(ctx, "creating "+t.ref.String(), q)
}

// CreateLog creates the table with a Log-family engine.
func (t *Table) CreateLog(ctx context.Context, spec ddl.LogTable) error {
	if err := t.ref.Validate(); err != nil {
		return err
	}
	q, err := ddl.CreateLog(t.ref, spec)
	if err != nil {
		return fmt.Errorf("creating %s: %w", t.ref, err)
	}
	return t.c.logExec(ctx, "creating "+t.ref.String(), q)
}

// CopyTable creates to with the structure of this table and returns it.
func (t *Table) CopyTable(ctx context.Context, to ddl.TableRef, ifNotExists bool) (*Table, error) {
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if err := t.c.logExec(ctx, "copying structure of "+t.ref.String(), ddl.CopyTable(t.ref, to, ifNotExists)); err != nil {
		return nil, err
	}
	return t.c.Table(to.Database, to.Table), nil
}

// Rename moves the table and returns a handle bound to the new name. The
// receiver keeps the old name.
func (t *Table) Rename(ctx context.Context, to ddl.TableRef) (*Table, error) {
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if err := t.c.logExec(ctx, "renaming "+t.ref.String(), ddl.Rename(t.ref, to)); err != nil {
		return nil, err
	}
	return t.c.Table(to.Database, to.Table), nil
}

// Drop drops the table.
func (t *Table) Drop(ctx context.Context, ifExists bool) error {
	return t.c.logExec(ctx, "dropping "+t.ref.String(), ddl.DropTable(t.ref, ifExists))
}

// Truncate removes every row.
func (t *Table) Truncate(ctx context.Context) error {
	return t.c.logExec(ctx, "truncating "+t.ref.String(), ddl.Truncate(t.ref))
}

// Optimize runs OPTIMIZE TABLE.
func (t *Table) Optimize(ctx context.Context) error {
	return t.c.logExec(ctx, "optimizing "+t.ref.String(), ddl.Optimize(t.ref))
}

// Check runs CHECK TABLE and reports whether the data parts are intact.
func (t *Table) Check(ctx context.Context) (bool, error) {
	n, err := driver.ScalarInt64(ctx, t.c.exec, ddl.CheckTable(t.ref))
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", t.ref, err)
	}
	return n != 0, nil
}

// Attach attaches the table, on every host of cluster when it is non-empty.
func (t *Table) Attach(ctx context.Context, ifExists bool, cluster string) error {
	return t.c.logExec(ctx, "attaching "+t.ref.String(), ddl.Attach(t.ref, ifExists, cluster))
}

// Detach detaches the table.
func (t *Table) Detach(ctx context.Context, ifExists bool, cluster string) error {
	return t.c.logExec(ctx, "detaching "+t.ref.String(), ddl.Detach(t.ref, ifExists, cluster))
}

// DropPartitions drops each partition in turn and stops at the first error.
func (t *Table) DropPartitions(ctx context.Context, keys ...ddl.PartitionKey) error {
	for _, key := range keys {
		q, err := ddl.DropPartition(t.ref, key)
		if err != nil {
			return err
		}
		if err := t.c.logExec(ctx, "dropping partition of "+t.ref.String(), q); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of rows matching where (all rows when empty).
func (t *Table) Count(ctx context.Context, where string) (int64, error) {
	n, err := driver.ScalarInt64(ctx, t.c.exec, ddl.CountRows(t.ref, where))
	if err != nil {
		return 0, fmt.Errorf("counting rows of %s: %w", t.ref, err)
	}
	return n, nil
}

// MinValue returns min(column) over the rows matching where. column
// defaults to DefaultDateColumn.
func (t *Table) MinValue(ctx context.Context, column, where string) (any, error) {
	return t.scalar(ctx, ddl.MinValue(t.ref, orDate(column), where))
}

// MaxValue returns max(column) over the rows matching where.
func (t *Table) MaxValue(ctx context.Context, column, where string) (any, error) {
	return t.scalar(ctx, ddl.MaxValue(t.ref, orDate(column), where))
}

func orDate(column string) string {
	if column == "" {
		return DefaultDateColumn
	}
	return column
}

func (t *Table) scalar(ctx context.Context, q string) (any, error) {
	res, err := t.c.exec.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.Scalar()
}

// Insert bulk-inserts rows. With no columns, every stored column of the
// table is used.
func (t *Table) Insert(ctx context.Context, rows []map[string]any, columns ...string) error {
	if len(columns) == 0 {
		cols, err := t.Describe(ctx)
		if err != nil {
			return err
		}
		for _, c := range cols {
			if c.Stored() {
				columns = append(columns, c.Name)
			}
		}
	}
	if err := t.c.exec.InsertRows(ctx, ddl.Insert(t.ref, columns), columns, rows); err != nil {
		return fmt.Errorf("inserting into %s: %w", t.ref, err)
	}
	return nil
}

// InsertSelect runs INSERT INTO table [(columns)] query. {db} and {table}
// in query are replaced as in Query.
func (t *Table) InsertSelect(ctx context.Context, query string, columns ...string) error {
	return t.c.logExec(ctx, "inserting into "+t.ref.String(), ddl.InsertSelect(t.ref, columns, t.expand(query)))
}

// InsertTransformFrom copies every row of from into this table, converting
// each value to the type of the target column. ALIAS and MATERIALIZED
// columns are skipped.
func (t *Table) InsertTransformFrom(ctx context.Context, from ddl.TableRef) error {
	cols, err := t.Describe(ctx)
	if err != nil {
		return err
	}
	var names, exprs []string
	for _, c := range cols {
		if !c.Stored() {
			continue
		}
		names = append(names, c.Name)
		exprs = append(exprs, ddl.TransformExpr(c.Name, c.Type))
	}
	if len(exprs) == 0 {
		return fmt.Errorf("inserting into %s: %w", t.ref, ddl.ErrNoColumns)
	}
	sel := ddl.Select(from, strings.Join(exprs, ", "), "")
	return t.c.logExec(ctx, "inserting into "+t.ref.String(), ddl.InsertSelect(t.ref, names, sel))
}

// Delete submits ALTER TABLE ... DELETE WHERE where and returns the mutation id.
func (t *Table) Delete(ctx context.Context, where string, preventParallel bool) (string, error) {
	return t.c.Delete(ctx, t.ref, where, preventParallel)
}

// Update submits ALTER TABLE ... UPDATE set WHERE where and returns the mutation id.
func (t *Table) Update(ctx context.Context, set, where string, preventParallel bool) (string, error) {
	return t.c.Update(ctx, t.ref, set, where, preventParallel)
}

// CountRunningMutations returns the number of unfinished mutations.
func (t *Table) CountRunningMutations(ctx context.Context) (int64, error) {
	return t.c.CountRunningMutations(ctx, t.ref)
}

// Mutations lists the table's mutations, newest first.
func (t *Table) Mutations(ctx context.Context) ([]mutation.Record, error) {
	return t.c.Mutations(ctx, t.ref)
}

// WaitMutations blocks until the table has no running mutations.
func (t *Table) WaitMutations(ctx context.Context) error {
	return t.c.WaitMutations(ctx, t.ref)
}

// CopyTo copies rows into to and verifies the copy.
func (t *Table) CopyTo(ctx context.Context, to ddl.TableRef, opts transfer.CopyOptions) (transfer.CopyResult, error) {
	return t.c.CopyData(ctx, t.ref, to, opts)
}

// Deduplicate removes duplicate rows matching where.
func (t *Table) Deduplicate(ctx context.Context, where string) (bool, error) {
	return t.c.Deduplicate(ctx, t.ref, where)
}
