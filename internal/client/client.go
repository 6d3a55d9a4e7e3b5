// Package client wraps a driver.Executor with ClickHouse operations and
// carries database and table context in DB and Table handles.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver"
	"github.com/johndauphine/chkit/internal/logging"
	"github.com/johndauphine/chkit/internal/mutation"
	"github.com/johndauphine/chkit/internal/transfer"
)

// ErrUnknownMutation is returned for a mutation id the registry does not know.
var ErrUnknownMutation = errors.New("client: unknown mutation")

// Options tunes a Client.
type Options struct {
	// Mutations supplies the poll interval, timeout and wait callback for
	// Delete and Update. PreventParallel is set per call.
	Mutations mutation.Options

	// KeepStagingOnRestoreFailure is passed to the deduplication workflow.
	KeepStagingOnRestoreFailure bool
}

// Client issues statements through one executor.
type Client struct {
	exec     driver.Executor
	gate     *mutation.Gate
	transfer *transfer.Engine
	opts     Options
}

// New returns a client over exec.
func New(exec driver.Executor, opts Options) *Client {
	gate := mutation.NewGate(exec, nil)
	eng := transfer.NewEngine(exec, gate).WithMutationOptions(opts.Mutations)
	eng.KeepStagingOnRestoreFailure = opts.KeepStagingOnRestoreFailure
	return &Client{exec: exec, gate: gate, transfer: eng, opts: opts}
}

// Executor returns the underlying executor.
func (c *Client) Executor() driver.Executor { return c.exec }

// Close closes the executor.
func (c *Client) Close() error { return c.exec.Close() }

// DB returns a handle bound to db.
func (c *Client) DB(db string) *DB { return &DB{c: c, name: db} }

// Table returns a handle bound to db.table.
func (c *Client) Table(db, table string) *Table {
	return &Table{c: c, ref: ddl.Ref(db, table)}
}

// Exec runs a raw statement.
func (c *Client) Exec(ctx context.Context, query string) error {
	return c.exec.Exec(ctx, query)
}

// Query runs a raw query.
func (c *Client) Query(ctx context.Context, query string) (*driver.Result, error) {
	return c.exec.Query(ctx, query)
}

// Ping runs SELECT 1 and checks the answer.
func (c *Client) Ping(ctx context.Context) error {
	n, err := driver.ScalarInt64(ctx, c.exec, ddl.Ping())
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("ping: unexpected answer %d", n)
	}
	return nil
}

// CreateDatabase creates db and returns a handle to it.
func (c *Client) CreateDatabase(ctx context.Context, db string, ifNotExists bool) (*DB, error) {
	if err := ddl.ValidateIdentifier(db); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := c.exec.Exec(ctx, ddl.CreateDatabase(db, ifNotExists)); err != nil {
		return nil, fmt.Errorf("creating database %s: %w", db, err)
	}
	return c.DB(db), nil
}

// DropDatabase drops db.
func (c *Client) DropDatabase(ctx context.Context, db string, ifExists bool) error {
	if err := c.exec.Exec(ctx, ddl.DropDatabase(db, ifExists)); err != nil {
		return fmt.Errorf("dropping database %s: %w", db, err)
	}
	return nil
}

// ShowDatabases lists database names.
func (c *Client) ShowDatabases(ctx context.Context) ([]string, error) {
	res, err := c.exec.Query(ctx, ddl.ShowDatabases())
	if err != nil {
		return nil, err
	}
	return res.Strings(), nil
}

// ShowTables lists the tables of db (the session database when empty),
// filtered by a LIKE pattern when like is non-empty.
func (c *Client) ShowTables(ctx context.Context, db, like string) ([]string, error) {
	res, err := c.exec.Query(ctx, ddl.ShowTables(db, like))
	if err != nil {
		return nil, err
	}
	return res.Strings(), nil
}

// ShowProcessList returns the running queries.
func (c *Client) ShowProcessList(ctx context.Context) (*driver.Result, error) {
	return c.exec.Query(ctx, ddl.ShowProcessList())
}

// ReloadDictionary reloads one dictionary.
func (c *Client) ReloadDictionary(ctx context.Context, name string) error {
	return c.exec.Exec(ctx, ddl.ReloadDictionary(name))
}

// ReloadDictionaries reloads every dictionary.
func (c *Client) ReloadDictionaries(ctx context.Context) error {
	return c.exec.Exec(ctx, ddl.ReloadDictionaries())
}

// IsMutationDone reports whether the mutation has finished.
func (c *Client) IsMutationDone(ctx context.Context, mutationID string) (bool, error) {
	done, found, err := c.gate.Tracker().IsDone(ctx, mutationID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("%w: %s", ErrUnknownMutation, mutationID)
	}
	return done, nil
}

// CopyData copies rows from one table into another and verifies the copy.
func (c *Client) CopyData(ctx context.Context, from, to ddl.TableRef, opts transfer.CopyOptions) (transfer.CopyResult, error) {
	return c.transfer.Copy(ctx, from, to, opts)
}

// Deduplicate removes duplicate rows matching where from ref.
func (c *Client) Deduplicate(ctx context.Context, ref ddl.TableRef, where string) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, fmt.Errorf("deduplicate: %w", err)
	}
	return c.transfer.Deduplicate(ctx, ref, where)
}

func (c *Client) mutationOptions(preventParallel bool) mutation.Options {
	opts := c.opts.Mutations
	opts.PreventParallel = preventParallel
	return opts
}

// Delete submits a DELETE mutation on ref. See mutation.Gate.
func (c *Client) Delete(ctx context.Context, ref ddl.TableRef, where string, preventParallel bool) (string, error) {
	return c.gate.Delete(ctx, ref, where, c.mutationOptions(preventParallel))
}

// Update submits an UPDATE mutation on ref. See mutation.Gate.
func (c *Client) Update(ctx context.Context, ref ddl.TableRef, set, where string, preventParallel bool) (string, error) {
	return c.gate.Update(ctx, ref, set, where, c.mutationOptions(preventParallel))
}

// WaitMutations blocks until ref has no running mutations.
func (c *Client) WaitMutations(ctx context.Context, ref ddl.TableRef) error {
	return c.gate.WaitIdle(ctx, ref, c.opts.Mutations)
}

// CountRunningMutations returns the number of unfinished mutations of ref.
func (c *Client) CountRunningMutations(ctx context.Context, ref ddl.TableRef) (int64, error) {
	return c.gate.Tracker().CountRunning(ctx, ref)
}

// Mutations lists the mutations of ref, newest first.
func (c *Client) Mutations(ctx context.Context, ref ddl.TableRef) ([]mutation.Record, error) {
	return c.gate.Tracker().List(ctx, ref)
}

func (c *Client) logExec(ctx context.Context, what string, query string) error {
	logging.Debug("%s: %s", what, query)
	if err := c.exec.Exec(ctx, query); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
