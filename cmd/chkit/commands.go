package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/chkit/internal/client"
	"github.com/johndauphine/chkit/internal/config"
	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver"
	"github.com/johndauphine/chkit/internal/journal"
	"github.com/johndauphine/chkit/internal/logging"
	"github.com/johndauphine/chkit/internal/mutation"
	"github.com/johndauphine/chkit/internal/progress"
	"github.com/johndauphine/chkit/internal/secrets"
	"github.com/johndauphine/chkit/internal/transfer"
	"github.com/johndauphine/chkit/internal/util"
)

// exitUnverified is the exit code for a copy or dedupe whose row counts did not match.
const exitUnverified = 2

// session is what a command action works with.
type session struct {
	cfg    *config.Config
	client *client.Client
	out    io.Writer
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(config.DefaultFile); err == nil {
			path = config.DefaultFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyCredentials(cfg); err != nil {
		return nil, err
	}

	if c.IsSet("log-level") {
		if _, err := logging.ParseLevel(c.String("log-level")); err != nil {
			return nil, err
		}
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	if c.IsSet("wait-timeout") {
		cfg.Mutations.WaitTimeout = c.Duration("wait-timeout")
	}
	if c.IsSet("poll-interval") {
		cfg.Mutations.PollInterval = c.Duration("poll-interval")
	}
	cfg.ApplyLogging()
	return cfg, nil
}

// applyCredentials fills an empty password from the credentials file. A
// missing file is not an error.
func applyCredentials(cfg *config.Config) error {
	ch := &cfg.ClickHouse
	if ch.Password != "" {
		return nil
	}
	f, err := secrets.Load()
	if errors.Is(err, secrets.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cred, ok := f.Lookup(ch.Host, ch.User); ok {
		logging.Debug("using password for %s from %s", ch.Host, secrets.GetSecretsPath())
		ch.Password = cred.Password
	}
	return nil
}

// openJournal returns nil (a no-op journal) when the journal is disabled or
// cannot be opened.
func openJournal(ctx context.Context, c *cli.Context, cfg *config.Config) *journal.Journal {
	if cfg.Journal.Disabled || c.Bool("no-journal") {
		return nil
	}
	j, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		logging.Warn("journal unavailable: %v", err)
		return nil
	}
	return j
}

// run connects, runs fn under a context cancelled by SIGINT/SIGTERM and
// records the outcome in the journal. fn returns a one-line detail for the
// journal.
func run(c *cli.Context, target string, fn func(ctx context.Context, s *session) (string, error)) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(c.App.ErrWriter, "\nInterrupted.")
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := driver.Open(ctx, &cfg.ClickHouse)
	if err != nil {
		return err
	}
	defer conn.Close()

	waiter := progress.New(c.App.ErrWriter, target)
	opts := cfg.MutationOptions()
	opts.OnWait = waiter.OnWait
	s := &session{
		cfg: cfg,
		client: client.New(conn, client.Options{
			Mutations:                   opts,
			KeepStagingOnRestoreFailure: c.Bool("keep-staging-on-failure"),
		}),
		out: c.App.Writer,
	}

	j := openJournal(ctx, c, cfg)
	defer j.Close()
	id, err := j.Start(ctx, c.Command.Name, target)
	if err != nil {
		logging.Warn("%v", err)
	}

	detail, runErr := fn(ctx, s)
	waiter.Finish()

	if err := j.Finish(context.WithoutCancel(ctx), id, runErr, detail); err != nil {
		logging.Warn("%v", err)
	}
	return runErr
}

func usageError(c *cli.Context) error {
	return cli.Exit(fmt.Sprintf("usage: %s %s %s", c.App.Name, c.Command.Name, c.Command.ArgsUsage), 1)
}

// parseTableRef accepts db.table, or a bare table in defaultDB.
func parseTableRef(arg, defaultDB string) (ddl.TableRef, error) {
	db, table, ok := strings.Cut(arg, ".")
	if !ok {
		db, table = defaultDB, arg
	}
	ref := ddl.Ref(db, table)
	if err := ref.Validate(); err != nil {
		return ref, fmt.Errorf("%q: %w", arg, err)
	}
	return ref, nil
}

// tableCommand runs fn against the table named by the single argument.
func tableCommand(c *cli.Context, fn func(ctx context.Context, s *session, t *client.Table) (string, error)) error {
	if c.NArg() != 1 {
		return usageError(c)
	}
	return run(c, c.Args().First(), func(ctx context.Context, s *session) (string, error) {
		ref, err := parseTableRef(c.Args().First(), s.cfg.ClickHouse.Database)
		if err != nil {
			return "", err
		}
		return fn(ctx, s, s.client.Table(ref.Database, ref.Table))
	})
}

// parsePartitionKey splits a comma-separated key. Unless asStrings is set,
// integers, dates (2006-01-02) and date-times (2006-01-02 15:04:05) are typed.
func parsePartitionKey(s string, asStrings bool) (ddl.PartitionKey, error) {
	parts := util.SplitCSV(s)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty partition key %q", s)
	}
	key := make(ddl.PartitionKey, 0, len(parts))
	for _, p := range parts {
		if asStrings {
			key = append(key, p)
			continue
		}
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			key = append(key, n)
		} else if d, err := time.Parse("2006-01-02", p); err == nil {
			key = append(key, ddl.Date{Time: d})
		} else if ts, err := time.Parse("2006-01-02 15:04:05", p); err == nil {
			key = append(key, ts)
		} else {
			key = append(key, p)
		}
	}
	return key, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func pingServer(c *cli.Context) error {
	return run(c, "", func(ctx context.Context, s *session) (string, error) {
		if err := s.client.Ping(ctx); err != nil {
			return "", err
		}
		fmt.Fprintf(s.out, "ok %s (database %s)\n", s.cfg.ClickHouse.Addr(), s.cfg.ClickHouse.Database)
		return "", nil
	})
}

func listDatabases(c *cli.Context) error {
	return run(c, "", func(ctx context.Context, s *session) (string, error) {
		dbs, err := s.client.ShowDatabases(ctx)
		if err != nil {
			return "", err
		}
		fmt.Fprintln(s.out, strings.Join(dbs, "\n"))
		return fmt.Sprintf("%d databases", len(dbs)), nil
	})
}

func listTables(c *cli.Context) error {
	return run(c, c.String("db"), func(ctx context.Context, s *session) (string, error) {
		db := c.String("db")
		if db == "" {
			db = s.cfg.ClickHouse.Database
		}
		tables, err := s.client.ShowTables(ctx, db, c.String("like"))
		if err != nil {
			return "", err
		}
		for _, t := range tables {
			fmt.Fprintln(s.out, t)
		}
		return fmt.Sprintf("%d tables", len(tables)), nil
	})
}

func describeTable(c *cli.Context) error {
	return tableCommand(c, func(ctx context.Context, s *session, t *client.Table) (string, error) {
		cols, err := t.Describe(ctx)
		if err != nil {
			return "", err
		}
		w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tDEFAULT")
		for _, col := range cols {
			def := strings.TrimSpace(col.DefaultKind + " " + col.DefaultExpr)
			fmt.Fprintf(w, "%s\t%s\t%s\n", col.Name, col.Type, def)
		}
		return "", w.Flush()
	})
}

func countRows(c *cli.Context) error {
	return tableCommand(c, func(ctx context.Context, s *session, t *client.Table) (string, error) {
		n, err := t.Count(ctx, c.String("where"))
		if err != nil {
			return "", err
		}
		fmt.Fprintln(s.out, n)
		return fmt.Sprintf("%d rows", n), nil
	})
}

func createDatabase(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c)
	}
	name := c.Args().First()
	return run(c, name, func(ctx context.Context, s *session) (string, error) {
		_, err := s.client.CreateDatabase(ctx, name, c.Bool("if-not-exists"))
		return "", err
	})
}

func dropTable(c *cli.Context) error {
	return tableCommand(c, func(ctx context.Context, s *session, t *client.Table) (string, error) {
		return "", t.Drop(ctx, c.Bool("if-exists"))
	})
}

func truncateTable(c *cli.Context) error {
	return tableCommand(c, func(ctx context.Context, s *session, t *client.Table) (string, error) {
		return "", t.Truncate(ctx)
	})
}

func optimizeTable(c *cli.Context) error {
	return tableCommand(c, func(ctx context.Context, s *session, t *client.Table) (string, error) {
		return "", t.Optimize(ctx)
	})
}

func dropPartitions(c *cli.Context) error {
	if c.NArg() < 2 {
		return usageError(c)
	}
	var keys []ddl.PartitionKey
	for _, arg := range c.Args().Tail() {
		key, err := parsePartitionKey(arg, c.Bool("strings"))
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	return run(c, c.Args().First(), func(ctx context.Context, s *session) (string, error) {
		ref, err := parseTableRef(c.Args().First(), s.cfg.ClickHouse.Database)
		if err != nil {
			return "", err
		}
		if err := s.client.Table(ref.Database, ref.Table).DropPartitions(ctx, keys...); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d partitions", len(keys)), nil
	})
}

func reportMutation(ctx context.Context, s *session, t *client.Table, id string, wait bool) (string, error) {
	if id == "" {
		fmt.Fprintln(s.out, "submitted (mutation id not found in system.mutations)")
	} else {
		fmt.Fprintln(s.out, id)
	}
	if wait {
		if err := t.WaitMutations(ctx); err != nil {
			return id, err
		}
	}
	return id, nil
}

func deleteRows(c *cli.Context) error {
	return tableCommand(c, func(ctx context.Context, s *session, t *client.Table) (string, error) {
		id, err := t.Delete(ctx, c.String("where"), c.Bool("prevent-parallel"))
		if err != nil {
			return "", err
		}
		return reportMutation(ctx, s, t, id, c.Bool("wait"))
	})
}

func updateRows(c *cli.Context) error {
	return tableCommand(c, func(ctx context.Context, s *session, t *client.Table) (string, error) {
		id, err := t.Update(ctx, c.String("set"), c.String("where"), c.Bool("prevent-parallel"))
		if err != nil {
			return "", err
		}
		return reportMutation(ctx, s, t, id, c.Bool("wait"))
	})
}

func listMutations(c *cli.Context) error {
	return tableCommand(c, func(ctx context.Context, s *session, t *client.Table) (string, error) {
		recs, err := t.Mutations(ctx)
		if err != nil {
			return "", err
		}
		if c.Bool("running") {
			recs = runningOnly(recs)
		}
		if c.Bool("json") {
			return "", printJSON(s.out, recs)
		}
		w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tDONE\tCOMMAND")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", r.ID, r.CreateTime.Format(time.DateTime), r.IsDone, r.Command)
		}
		return "", w.Flush()
	})
}

func runningOnly(recs []mutation.Record) []mutation.Record {
	out := recs[:0]
	for _, r := range recs {
		if !r.IsDone {
			out = append(out, r)
		}
	}
	return out
}

func mutationStatus(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c)
	}
	id := c.Args().First()
	return run(c, id, func(ctx context.Context, s *session) (string, error) {
		done, err := s.client.IsMutationDone(ctx, id)
		if err != nil {
			return "", err
		}
		status := "running"
		if done {
			status = "done"
		}
		fmt.Fprintln(s.out, status)
		return status, nil
	})
}

func copyData(c *cli.Context) error {
	if c.NArg() != 2 {
		return usageError(c)
	}
	target := c.Args().Get(0) + " -> " + c.Args().Get(1)
	return run(c, target, func(ctx context.Context, s *session) (string, error) {
		from, err := parseTableRef(c.Args().Get(0), s.cfg.ClickHouse.Database)
		if err != nil {
			return "", err
		}
		to, err := parseTableRef(c.Args().Get(1), s.cfg.ClickHouse.Database)
		if err != nil {
			return "", err
		}
		res, err := s.client.CopyData(ctx, from, to, transfer.CopyOptions{
			Where:    c.String("where"),
			Columns:  util.SplitCSV(c.String("columns")),
			Distinct: c.Bool("distinct"),
		})
		if err != nil {
			return "", err
		}
		detail := fmt.Sprintf("%s: source %d, target %d -> %d", res.Outcome, res.SourceRows, res.TargetBefore, res.TargetAfter)
		fmt.Fprintln(s.out, detail)
		if res.Outcome == transfer.Mismatch {
			return detail, cli.Exit("copy did not verify: "+detail, exitUnverified)
		}
		return detail, nil
	})
}

func deduplicate(c *cli.Context) error {
	return tableCommand(c, func(ctx context.Context, s *session, t *client.Table) (string, error) {
		before, err := t.Count(ctx, "")
		if err != nil {
			return "", err
		}
		ok, err := t.Deduplicate(ctx, c.String("where"))
		if err != nil {
			return "", err
		}
		if !ok {
			return "", cli.Exit("deduplication aborted: staging copy did not verify, table unchanged", exitUnverified)
		}
		after, err := t.Count(ctx, "")
		if err != nil {
			return "", err
		}
		detail := fmt.Sprintf("removed %d rows (%d -> %d)", before-after, before, after)
		fmt.Fprintln(s.out, detail)
		return detail, nil
	})
}

var errJournalDisabled = errors.New("journal is disabled (journal.disabled in config)")

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Journal.Disabled {
		return errJournalDisabled
	}
	ctx := context.Background()
	j, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.List(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	return printHistory(c.App.Writer, entries, c.Bool("json"))
}

func printHistory(out io.Writer, entries []journal.Entry, asJSON bool) error {
	if asJSON {
		return printJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no operations recorded")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tCOMMAND\tTARGET\tSTATUS\tDURATION\tDETAIL")
	for _, e := range entries {
		dur := "-"
		if e.FinishedAt != nil {
			dur = e.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime), e.Command, e.Target, e.Status, dur, e.Detail)
	}
	return w.Flush()
}
