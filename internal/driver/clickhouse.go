package driver

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/johndauphine/chkit/internal/dbconfig"
	"github.com/johndauphine/chkit/internal/logging"
)

// Querier is the subset of a clickhouse-go connection used by Conn.
// Production code passes a real chdriver.Conn; tests may inject their own.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (chdriver.Rows, error)
	PrepareBatch(ctx context.Context, query string, opts ...chdriver.PrepareBatchOption) (chdriver.Batch, error)
	Ping(ctx context.Context) error
	Close() error
}

// Conn executes statements over the ClickHouse native protocol.
type Conn struct {
	conn Querier
	addr string
}

var _ Executor = (*Conn)(nil)

// Open connects to the server described by cfg and verifies it with a ping.
func Open(ctx context.Context, cfg *dbconfig.ClickHouseConfig) (*Conn, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening connection to %s: %w", cfg.Addr(), err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging %s: %w", cfg.Addr(), err)
	}
	logging.Debug("connected to clickhouse at %s (database=%s)", cfg.Addr(), cfg.Database)
	return &Conn{conn: conn, addr: cfg.Addr()}, nil
}

// NewConn wraps an existing connection.
func NewConn(q Querier) *Conn {
	return &Conn{conn: q}
}

// withQueryID tags the statement so it can be found in system.query_log.
func withQueryID(ctx context.Context, query string) context.Context {
	id := uuid.NewString()
	logging.Debug("query %s: %s", id, query)
	return clickhouse.Context(ctx, clickhouse.WithQueryID(id))
}

// Exec runs a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string) error {
	if err := c.conn.Exec(withQueryID(ctx, query), query); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// Query runs query and scans every row into values of the column scan types.
func (c *Conn) Query(ctx context.Context, query string) (*Result, error) {
	rows, err := c.conn.Query(withQueryID(ctx, query), query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	res := &Result{Columns: rows.Columns()}
	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make([]any, len(dest))
		for i, d := range dest {
			row[i] = reflect.ValueOf(d).Elem().Interface()
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return res, nil
}

// InsertRows sends rows as one native-protocol batch.
func (c *Conn) InsertRows(ctx context.Context, insert string, columns []string, rows []map[string]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("insert: column list required")
	}
	batch, err := c.conn.PrepareBatch(withQueryID(ctx, insert), insert)
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}
	for n, row := range rows {
		vals := make([]any, len(columns))
		for i, col := range columns {
			vals[i] = row[col]
		}
		if err := batch.Append(vals...); err != nil {
			batch.Abort()
			return fmt.Errorf("appending row %d: %w", n, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending batch: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
