// Package transfer copies rows between tables and verifies the copy by row
// counts, and removes duplicate rows through a staging table.
package transfer

import (
	"context"
	"fmt"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver"
	"github.com/johndauphine/chkit/internal/logging"
	"github.com/johndauphine/chkit/internal/mutation"
)

// Outcome is the verdict of a copy.
type Outcome int

const (
	// Unchecked: distinct copies drop rows on purpose, so counts are not compared.
	Unchecked Outcome = iota
	// Match: the target grew by exactly the number of source rows.
	Match
	// Mismatch: the target grew by a different number of rows.
	Mismatch
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	default:
		return "unchecked"
	}
}

// CopyOptions selects what is copied.
type CopyOptions struct {
	Where    string   // filter on the source, empty for all rows
	Columns  []string // explicit column list, empty for *
	Distinct bool     // SELECT DISTINCT; disables verification
}

// CopyResult carries the counts behind the outcome.
type CopyResult struct {
	Outcome      Outcome
	TargetBefore int64
	TargetAfter  int64
	SourceRows   int64 // rows of the source matching Where
}

// OK reports whether the copy was verified.
func (r CopyResult) OK() bool { return r.Outcome == Match }

// Engine runs copies and deduplications over one executor.
type Engine struct {
	exec driver.Executor
	gate *mutation.Gate

	mutationOpts mutation.Options

	// KeepStagingOnRestoreFailure keeps the staging table when Deduplicate
	// fails at any point after sending the delete (including the wait for it
	// and the copy back), so the rows can be recovered by hand. By default the
	// staging table is always dropped.
	KeepStagingOnRestoreFailure bool
}

// NewEngine returns an engine. gate may be nil, in which case one is built on exec.
func NewEngine(exec driver.Executor, gate *mutation.Gate) *Engine {
	if gate == nil {
		gate = mutation.NewGate(exec, nil)
	}
	return &Engine{exec: exec, gate: gate}
}

// WithMutationOptions sets the poll interval, timeout and wait callback used
// for the gated delete in Deduplicate. PreventParallel is always forced on.
func (e *Engine) WithMutationOptions(opts mutation.Options) *Engine {
	e.mutationOpts = opts
	return e
}

func (e *Engine) count(ctx context.Context, ref ddl.TableRef, cond string) (int64, error) {
	n, err := driver.ScalarInt64(ctx, e.exec, ddl.CountRows(ref, cond))
	if err != nil {
		return 0, fmt.Errorf("counting rows of %s: %w", ref, err)
	}
	return n, nil
}

func (e *Engine) exists(ctx context.Context, ref ddl.TableRef) (bool, error) {
	n, err := driver.ScalarInt64(ctx, e.exec, ddl.Exists(ref))
	if err != nil {
		return false, fmt.Errorf("checking %s exists: %w", ref, err)
	}
	return n != 0, nil
}

// Copy inserts the rows of from (filtered by opts.Where) into to, creating to
// with the structure of from when it does not exist yet.
//
// The target is counted before and after without the filter while the source
// count is filtered; Match means after-before equals the filtered source count.
// Distinct copies report Unchecked.
func (e *Engine) Copy(ctx context.Context, from, to ddl.TableRef, opts CopyOptions) (CopyResult, error) {
	var res CopyResult

	ok, err := e.exists(ctx, to)
	if err != nil {
		return res, err
	}
	if !ok {
		logging.Info("%s does not exist, creating it as %s", to, from)
		if err := e.exec.Exec(ctx, ddl.CopyTable(from, to, true)); err != nil {
			return res, fmt.Errorf("creating %s: %w", to, err)
		}
	}

	if res.TargetBefore, err = e.count(ctx, to, ""); err != nil {
		return res, err
	}
	if res.SourceRows, err = e.count(ctx, from, opts.Where); err != nil {
		return res, err
	}

	sel := ddl.Select(from, ddl.Projection(opts.Columns, opts.Distinct), opts.Where)
	if err := e.exec.Exec(ctx, ddl.InsertSelect(to, opts.Columns, sel)); err != nil {
		return res, fmt.Errorf("copying %s into %s: %w", from, to, err)
	}

	if res.TargetAfter, err = e.count(ctx, to, ""); err != nil {
		return res, err
	}
	added := res.TargetAfter - res.TargetBefore

	if opts.Distinct {
		res.Outcome = Unchecked
		logging.Info("%s -> %s: distinct copy, %d source rows, %d rows added (%d before, %d after)",
			from, to, res.SourceRows, added, res.TargetBefore, res.TargetAfter)
		return res, nil
	}

	if added == res.SourceRows {
		res.Outcome = Match
		logging.Info("%s -> %s: OK %d rows copied", from, to, added)
	} else {
		res.Outcome = Mismatch
		logging.Warn("%s -> %s: count mismatch, expected %d rows, target grew by %d (%d before, %d after)",
			from, to, res.SourceRows, added, res.TargetBefore, res.TargetAfter)
	}
	return res, nil
}
