package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/chkit/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return 1
}

func newApp() *cli.App {
	return &cli.App{
		Name:            version.Name,
		Usage:           version.Description,
		Version:         version.Version,
		HideHelpCommand: true,
		ExitErrHandler:  func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"CHKIT_CONFIG"},
				Usage:   "Path to configuration file (default: ./chkit.yaml when present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override logging.level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override logging.format (text, json)",
			},
			&cli.BoolFlag{
				Name:  "no-journal",
				Usage: "Do not record this run in the local history",
			},
			&cli.DurationFlag{
				Name:  "wait-timeout",
				Usage: "Override mutations.wait_timeout (0 waits forever)",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Override mutations.poll_interval",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ping",
				Usage:  "Check the server answers",
				Action: pingServer,
			},
			{
				Name:   "databases",
				Usage:  "List databases",
				Action: listDatabases,
			},
			{
				Name:  "tables",
				Usage: "List tables",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "Database (default: clickhouse.database)"},
					&cli.StringFlag{Name: "like", Usage: "LIKE pattern on the table name"},
				},
				Action: listTables,
			},
			{
				Name:      "describe",
				Usage:     "Show the columns of a table",
				ArgsUsage: "<db.table>",
				Action:    describeTable,
			},
			{
				Name:      "count",
				Usage:     "Count rows",
				ArgsUsage: "<db.table>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "where", Usage: "Row filter"},
				},
				Action: countRows,
			},
			{
				Name:      "create-db",
				Usage:     "Create a database",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "if-not-exists", Value: true, Usage: "Add IF NOT EXISTS"},
				},
				Action: createDatabase,
			},
			{
				Name:      "drop-table",
				Usage:     "Drop a table",
				ArgsUsage: "<db.table>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "if-exists", Value: true, Usage: "Add IF EXISTS"},
				},
				Action: dropTable,
			},
			{
				Name:      "truncate",
				Usage:     "Remove every row of a table",
				ArgsUsage: "<db.table>",
				Action:    truncateTable,
			},
			{
				Name:      "optimize",
				Usage:     "Run OPTIMIZE TABLE",
				ArgsUsage: "<db.table>",
				Action:    optimizeTable,
			},
			{
				Name:      "drop-partitions",
				Usage:     "Drop partitions; each key is a comma-separated value list",
				ArgsUsage: "<db.table> <key> [<key>...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "strings", Usage: "Treat every key value as a string literal"},
				},
				Action: dropPartitions,
			},
			{
				Name:      "delete",
				Usage:     "Submit ALTER TABLE ... DELETE",
				ArgsUsage: "<db.table>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "where", Required: true, Usage: "Rows to delete"},
					&cli.BoolFlag{Name: "prevent-parallel", Value: true, Usage: "Wait until no mutation is running first"},
					&cli.BoolFlag{Name: "wait", Usage: "Wait for the mutation to finish"},
				},
				Action: deleteRows,
			},
			{
				Name:      "update",
				Usage:     "Submit ALTER TABLE ... UPDATE",
				ArgsUsage: "<db.table>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "set", Required: true, Usage: "Assignments, e.g. \"n = 1\""},
					&cli.StringFlag{Name: "where", Required: true, Usage: "Rows to update"},
					&cli.BoolFlag{Name: "prevent-parallel", Value: true, Usage: "Wait until no mutation is running first"},
					&cli.BoolFlag{Name: "wait", Usage: "Wait for the mutation to finish"},
				},
				Action: updateRows,
			},
			{
				Name:      "mutations",
				Usage:     "List the mutations of a table",
				ArgsUsage: "<db.table>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "running", Usage: "Only unfinished mutations"},
					&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
				},
				Action: listMutations,
			},
			{
				Name:      "mutation-status",
				Usage:     "Show whether a mutation has finished",
				ArgsUsage: "<mutation_id>",
				Action:    mutationStatus,
			},
			{
				Name:      "copy",
				Usage:     "Copy rows between tables and verify by row count",
				ArgsUsage: "<from db.table> <to db.table>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "where", Usage: "Filter on the source"},
					&cli.StringFlag{Name: "columns", Usage: "Comma-separated column list"},
					&cli.BoolFlag{Name: "distinct", Usage: "Copy distinct rows only (not verified)"},
				},
				Action: copyData,
			},
			{
				Name:      "dedupe",
				Usage:     "Remove duplicate rows through a staging table",
				ArgsUsage: "<db.table>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "where", Usage: "Limit to matching rows (default: all)"},
					&cli.BoolFlag{Name: "keep-staging-on-failure", Usage: "Keep the staging table if rows cannot be restored"},
				},
				Action: deduplicate,
			},
			{
				Name:  "history",
				Usage: "List operations recorded in the local journal",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum entries (0 for all)"},
					&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
				},
				Action: showHistory,
			},
		},
	}
}
