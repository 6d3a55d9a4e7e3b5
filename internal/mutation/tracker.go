// Package mutation observes the server's asynchronous ALTER mutations and
// gates new DELETE/UPDATE mutations on the ones already in flight.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver"
)

// Record is one row of system.mutations.
type Record struct {
	ID         string    `json:"mutation_id"`
	Database   string    `json:"database"`
	Table      string    `json:"table"`
	Command    string    `json:"command"`
	CreateTime time.Time `json:"create_time"`
	IsDone     bool      `json:"is_done"`
}

// Tracker reads the mutation registry.
type Tracker struct {
	exec driver.Executor
}

// NewTracker returns a tracker that queries through exec.
func NewTracker(exec driver.Executor) *Tracker {
	return &Tracker{exec: exec}
}

// CountRunning returns how many mutations of ref are not done yet.
func (t *Tracker) CountRunning(ctx context.Context, ref ddl.TableRef) (int64, error) {
	n, err := driver.ScalarInt64(ctx, t.exec, ddl.RunningMutations(ref))
	if err != nil {
		return 0, fmt.Errorf("counting running mutations of %s: %w", ref, err)
	}
	return n, nil
}

// LastID resolves the id of the newest mutation of ref created by statement.
// found is false when the registry has no matching row.
//
// The lookup compares the registry's command text with statement cut at kind
// (see ddl.MutationCommand). When kind does not occur in statement the text is
// not cut and the lookup comes back empty rather than failing.
func (t *Tracker) LastID(ctx context.Context, kind ddl.MutationKind, ref ddl.TableRef, statement string) (id string, found bool, err error) {
	res, err := t.exec.Query(ctx, ddl.LastMutationID(ref, ddl.MutationCommand(kind, statement)))
	if err != nil {
		return "", false, fmt.Errorf("resolving %s mutation id of %s: %w", kind, ref, err)
	}
	v, err := res.Scalar()
	if errors.Is(err, driver.ErrNoRows) {
		return "", false, nil
	}
	return fmt.Sprint(v), true, nil
}

// IsDone reports the completion flag of mutationID. found is false for an
// unknown id.
func (t *Tracker) IsDone(ctx context.Context, mutationID string) (done, found bool, err error) {
	res, err := t.exec.Query(ctx, ddl.MutationDone(mutationID))
	if err != nil {
		return false, false, fmt.Errorf("reading mutation %s: %w", mutationID, err)
	}
	v, err := res.Scalar()
	if errors.Is(err, driver.ErrNoRows) {
		return false, false, nil
	}
	n, err := driver.ToInt64(v)
	if err != nil {
		return false, true, fmt.Errorf("reading mutation %s: %w", mutationID, err)
	}
	return n != 0, true, nil
}

// List returns every mutation of ref, newest first.
func (t *Tracker) List(ctx context.Context, ref ddl.TableRef) ([]Record, error) {
	res, err := t.exec.Query(ctx, ddl.ListMutations(ref))
	if err != nil {
		return nil, fmt.Errorf("listing mutations of %s: %w", ref, err)
	}
	records := make([]Record, 0, res.Len())
	for _, row := range res.Rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("listing mutations of %s: short row (%d columns)", ref, len(row))
		}
		done, err := driver.ToInt64(row[5])
		if err != nil {
			return nil, fmt.Errorf("listing mutations of %s: %w", ref, err)
		}
		rec := Record{
			ID:       fmt.Sprint(row[0]),
			Database: fmt.Sprint(row[1]),
			Table:    fmt.Sprint(row[2]),
			Command:  fmt.Sprint(row[3]),
			IsDone:   done != 0,
		}
		if ts, ok := row[4].(time.Time); ok {
			rec.CreateTime = ts
		}
		records = append(records, rec)
	}
	return records, nil
}
