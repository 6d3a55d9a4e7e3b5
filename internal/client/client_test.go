package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver"
	"github.com/johndauphine/chkit/internal/driver/drivertest"
	"github.com/johndauphine/chkit/internal/mutation"
	"github.com/johndauphine/chkit/internal/transfer"
)

const (
	testDB    = "default"
	testTable = "__test"
)

func newClient(t *testing.T) (*Client, *drivertest.Engine) {
	t.Helper()
	e := drivertest.New()
	return New(e, Options{Mutations: mutation.Options{PollInterval: time.Millisecond}}), e
}

func day(d int) time.Time { return time.Date(2000, 1, d, 0, 0, 0, 0, time.UTC) }

// Create, fill, drop partitions, truncate and drop a partitioned table.
func TestTableLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)

	tbl, err := c.DB(testDB).CreateMergeTree(ctx, testTable, ddl.MergeTree{
		Columns:     []string{"s String", "d DateTime"},
		OrderBy:     []string{"s"},
		PartitionBy: []string{"s"},
	})
	require.NoError(t, err)

	cols, err := tbl.Describe(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, Column{Name: "d", Type: "DateTime"}, cols[1])

	require.NoError(t, tbl.Insert(ctx, []map[string]any{
		{"s": "1", "d": day(1)},
		{"s": "2", "d": day(2)},
		{"s": "3", "d": day(3)},
	}, "s", "d"))

	n, err := tbl.Count(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	minD, err := tbl.MinValue(ctx, "d", "")
	require.NoError(t, err)
	assert.Equal(t, day(1), minD)
	maxD, err := tbl.MaxValue(ctx, "d", "")
	require.NoError(t, err)
	assert.Equal(t, day(3), maxD)

	res, err := tbl.Query(ctx, "SELECT * FROM {db}.{table}")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Len())

	require.NoError(t, tbl.DropPartitions(ctx, ddl.PartitionKey{"1"}))
	n, err = tbl.Count(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, tbl.DropPartitions(ctx, ddl.PartitionKey{"2"}, ddl.PartitionKey{"3"}))
	n, err = tbl.Count(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	require.NoError(t, tbl.Truncate(ctx))
	n, err = tbl.Count(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	require.NoError(t, tbl.Drop(ctx, true))
	ok, err := tbl.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertWithoutColumnsUsesDescribe(t *testing.T) {
	ctx := context.Background()
	c, e := newClient(t)
	e.CreateTable(ddl.Ref(testDB, testTable), "s String", "n String")

	tbl := c.Table(testDB, testTable)
	require.NoError(t, tbl.Insert(ctx, []map[string]any{{"s": "a", "n": "1"}}))
	assert.Equal(t, [][]any{{"a", "1"}}, e.Rows(tbl.Ref()))
	assert.Equal(t, 1, e.CountStatements("INSERT INTO default.__test (s, n)"))
}

func TestMinValueDefaultsToDateColumn(t *testing.T) {
	c, e := newClient(t)
	e.CreateTable(ddl.Ref(testDB, testTable), "s String")

	_, err := c.Table(testDB, testTable).MinValue(context.Background(), "", "s = 'x'")
	require.Error(t, err)
	assert.Equal(t, 1, e.CountStatements("SELECT min(Date) FROM default.__test WHERE s = 'x'"))
}

func TestMutations(t *testing.T) {
	ctx := context.Background()
	c, e := newClient(t)
	e.CreateTable(ddl.Ref(testDB, testTable), "s String", "n String")
	e.AddRows(ddl.Ref(testDB, testTable), []any{"--", "6"}, []any{"111", "0"})
	tbl := c.Table(testDB, testTable)

	running, err := tbl.CountRunningMutations(ctx)
	require.NoError(t, err)
	assert.Zero(t, running)

	id, err := tbl.Update(ctx, "n = '1000'", "n = '6'", true)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	done, err := c.IsMutationDone(ctx, id)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, [][]any{{"--", "1000"}, {"111", "0"}}, e.Rows(tbl.Ref()))

	_, err = tbl.Delete(ctx, "n = '1000'", true)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"111", "0"}}, e.Rows(tbl.Ref()))

	recs, err := tbl.Mutations(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "DELETE WHERE n = '1000'", recs[0].Command)

	require.NoError(t, tbl.WaitMutations(ctx))
}

func TestIsMutationDoneUnknown(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.IsMutationDone(context.Background(), "mutation_404.txt")
	require.ErrorIs(t, err, ErrUnknownMutation)
}

func TestRenameReturnsNewHandle(t *testing.T) {
	ctx := context.Background()
	c, e := newClient(t)
	e.CreateTable(ddl.Ref(testDB, testTable), "s String")

	old := c.Table(testDB, testTable)
	renamed, err := old.Rename(ctx, ddl.Ref(testDB, "__renamed"))
	require.NoError(t, err)
	assert.Equal(t, "default.__renamed", renamed.String())
	assert.Equal(t, "default.__test", old.String())
	assert.True(t, e.HasTable(renamed.Ref()))
	assert.False(t, e.HasTable(old.Ref()))

	_, err = renamed.Rename(ctx, ddl.Ref(testDB, "bad-name"))
	require.Error(t, err)
}

func TestCopyTableAndCopyTo(t *testing.T) {
	ctx := context.Background()
	c, e := newClient(t)
	src := ddl.Ref(testDB, testTable)
	e.CreateTable(src, "s String")
	e.AddRows(src, []any{"a"}, []any{"b"})

	clone, err := c.Table(testDB, testTable).CopyTable(ctx, ddl.Ref(testDB, "__clone"), true)
	require.NoError(t, err)
	assert.True(t, e.HasTable(clone.Ref()))
	assert.Empty(t, e.Rows(clone.Ref()))

	res, err := c.Table(testDB, testTable).CopyTo(ctx, clone.Ref(), transfer.CopyOptions{})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Len(t, e.Rows(clone.Ref()), 2)
}

func TestDeduplicateThroughDB(t *testing.T) {
	ctx := context.Background()
	c, e := newClient(t)
	ref := ddl.Ref(testDB, testTable)
	e.CreateTable(ref, "s String")
	e.AddRows(ref, []any{"a"}, []any{"a"}, []any{"b"})

	ok, err := c.DB(testDB).Deduplicate(ctx, testTable, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, [][]any{{"a"}, {"b"}}, e.Rows(ref))

	_, err = c.DB(testDB).Deduplicate(ctx, "no good", "")
	require.Error(t, err)
}

func TestDeduplicateValidatesEveryEntryPoint(t *testing.T) {
	ctx := context.Background()
	c, e := newClient(t)
	bad := ddl.Ref(testDB, "x; DROP TABLE y")

	_, err := c.Deduplicate(ctx, bad, "")
	require.Error(t, err)
	_, err = c.Table(bad.Database, bad.Table).Deduplicate(ctx, "")
	require.Error(t, err)
	_, err = c.DB(testDB).Deduplicate(ctx, bad.Table, "")
	require.Error(t, err)

	assert.Empty(t, e.Statements(), "nothing sent for an invalid name")
}

// describeOverride answers DESCRIBE with fixed rows so default kinds can be set.
type describeOverride struct {
	*drivertest.Engine
	rows [][]any
}

func (d describeOverride) Query(ctx context.Context, q string) (*driver.Result, error) {
	if q == ddl.Describe(ddl.Ref(testDB, "__to")) {
		return &driver.Result{Columns: []string{"name", "type", "default_type", "default_expression"}, Rows: d.rows}, nil
	}
	return d.Engine.Query(ctx, q)
}

func TestInsertTransformFrom(t *testing.T) {
	ctx := context.Background()
	e := drivertest.New()
	from, to := ddl.Ref(testDB, testTable), ddl.Ref(testDB, "__to")
	e.CreateTable(from, "s String", "n String")
	e.CreateTable(to, "s String", "n Int32", "total Int64")
	e.AddRows(from, []any{"--", "1"}, []any{"111", "2"})

	c := New(describeOverride{Engine: e, rows: [][]any{
		{"s", "String", "", ""},
		{"n", "Int32", "", ""},
		{"total", "Int64", "MATERIALIZED", "n * 2"},
	}}, Options{})

	require.NoError(t, c.Table(testDB, "__to").InsertTransformFrom(ctx, from))
	assert.Equal(t, 1, e.CountStatements(
		"INSERT INTO default.__to (s, n) SELECT toString(s), toInt32OrZero(ifNull(toString(n), '')) FROM default.__test"))
	assert.Len(t, e.Rows(to), 2)
}

func TestServerInfo(t *testing.T) {
	ctx := context.Background()
	c, e := newClient(t)
	e.CreateTable(ddl.Ref(testDB, testTable), "s String")
	e.CreateTable(ddl.Ref(testDB, "other"), "s String")

	require.NoError(t, c.Ping(ctx))

	dbs, err := c.ShowDatabases(ctx)
	require.NoError(t, err)
	assert.Contains(t, dbs, "default")

	tables, err := c.DB(testDB).ShowTables(ctx, "__t%")
	require.NoError(t, err)
	assert.Equal(t, []string{"__test"}, tables)

	ok, err := c.Table(testDB, testTable).Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	stmt, err := c.Table(testDB, testTable).ShowCreate(ctx)
	require.NoError(t, err)
	assert.Contains(t, stmt, "default.__test")

	_, err = c.ShowProcessList(ctx)
	require.NoError(t, err)
}

func TestCreateDatabaseValidates(t *testing.T) {
	c, e := newClient(t)
	_, err := c.CreateDatabase(context.Background(), "1bad", true)
	require.Error(t, err)
	assert.Empty(t, e.Statements())

	db, err := c.CreateDatabase(context.Background(), "analytics", true)
	require.NoError(t, err)
	assert.Equal(t, "analytics", db.Name())
	assert.Equal(t, 1, e.CountStatements("CREATE DATABASE IF NOT EXISTS analytics"))
}

func TestErrorsAreWrapped(t *testing.T) {
	c, e := newClient(t)
	boom := errors.New("code: 210, connection refused")
	e.Fail = func(string) error { return boom }

	err := c.Table(testDB, testTable).Truncate(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "truncating default.__test")
}
