package client

import (
	"context"

	"github.com/johndauphine/chkit/internal/ddl"
)

// DB is a database handle.
type DB struct {
	c    *Client
	name string
}

// Name returns the database name.
func (d *DB) Name() string { return d.name }

func (d *DB) String() string { return d.name }

// Table returns a handle to a table of this database.
func (d *DB) Table(table string) *Table { return d.c.Table(d.name, table) }

// ShowTables lists the tables of the database.
func (d *DB) ShowTables(ctx context.Context, like string) ([]string, error) {
	return d.c.ShowTables(ctx, d.name, like)
}

// Drop drops the database.
func (d *DB) Drop(ctx context.Context, ifExists bool) error {
	return d.c.DropDatabase(ctx, d.name, ifExists)
}

// DropTable drops one table of the database.
func (d *DB) DropTable(ctx context.Context, table string, ifExists bool) error {
	return d.Table(table).Drop(ctx, ifExists)
}

// CreateMergeTree creates a MergeTree table in the database.
func (d *DB) CreateMergeTree(ctx context.Context, table string, spec ddl.MergeTree) (*Table, error) {
	t := d.Table(table)
	if err := t.CreateMergeTree(ctx, spec); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateLog creates a Log-family table in the database.
func (d *DB) CreateLog(ctx context.Context, table string, spec ddl.LogTable) (*Table, error) {
	t := d.Table(table)
	if err := t.CreateLog(ctx, spec); err != nil {
		return nil, err
	}
	return t, nil
}

// Deduplicate removes duplicate rows of table matching where.
func (d *DB) Deduplicate(ctx context.Context, table, where string) (bool, error) {
	return d.c.Deduplicate(ctx, ddl.Ref(d.name, table), where)
}
