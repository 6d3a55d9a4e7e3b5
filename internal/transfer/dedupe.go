package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/logging"
)

// StagingSuffix is appended to a table name to form its deduplication staging table.
const StagingSuffix = "copy_table_for_deduplicate"

// StagingRef returns the staging table Deduplicate uses for ref.
func StagingRef(ref ddl.TableRef) ddl.TableRef {
	return ddl.Ref(ref.Database, ref.Table+StagingSuffix)
}

// Deduplicate removes duplicate rows matching cond from ref in place.
//
// The matching rows are copied into a staging table and the copy is verified.
// Only then are they deleted from ref (waiting for the delete mutation to
// finish) and copied back with DISTINCT. A failed verification leaves ref
// untouched and returns false.
//
// The staging table is dropped on every return path, unless
// KeepStagingOnRestoreFailure is set and the delete has been sent. A failure
// to drop it is joined to the returned error and never hides an earlier error.
func (e *Engine) Deduplicate(ctx context.Context, ref ddl.TableRef, cond string) (ok bool, err error) {
	staging := StagingRef(ref)

	if err := e.exec.Exec(ctx, ddl.DropTable(staging, true)); err != nil {
		return false, fmt.Errorf("dropping stale staging table %s: %w", staging, err)
	}
	if err := e.exec.Exec(ctx, ddl.CopyTable(ref, staging, true)); err != nil {
		return false, fmt.Errorf("creating staging table %s: %w", staging, err)
	}
	deleteIssued := false
	defer func() {
		if deleteIssued && err != nil && e.KeepStagingOnRestoreFailure {
			logging.Error("%s: failed after the delete was sent, matching rows are kept in %s", ref, staging)
			return
		}
		if dropErr := e.exec.Exec(context.WithoutCancel(ctx), ddl.DropTable(staging, true)); dropErr != nil {
			err = errors.Join(err, fmt.Errorf("dropping staging table %s: %w", staging, dropErr))
		}
	}()

	before, err := e.count(ctx, ref, cond)
	if err != nil {
		return false, err
	}

	res, err := e.Copy(ctx, ref, staging, CopyOptions{Where: cond})
	if err != nil {
		return false, err
	}
	if !res.OK() {
		logging.Warn("%s: staging copy did not verify, table left unchanged", ref)
		return false, nil
	}

	deleteCond := cond
	if deleteCond == "" {
		deleteCond = "1"
	}
	opts := e.mutationOpts
	opts.PreventParallel = true
	// Once Exec has run the server may apply the delete whatever happens
	// to this call.
	deleteIssued = true
	if _, err := e.gate.Delete(ctx, ref, deleteCond, opts); err != nil {
		return false, err
	}
	if err := e.gate.WaitIdle(ctx, ref, opts); err != nil {
		return false, fmt.Errorf("waiting for delete on %s: %w", ref, err)
	}

	if _, err := e.Copy(ctx, staging, ref, CopyOptions{Distinct: true}); err != nil {
		return false, err
	}
	deleteIssued = false

	after, err := e.count(ctx, ref, cond)
	if err != nil {
		return false, err
	}
	logging.Info("%s: removed %d duplicate rows (%d -> %d)", ref, before-after, before, after)
	return true, nil
}
