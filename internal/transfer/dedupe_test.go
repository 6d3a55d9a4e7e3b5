package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver/drivertest"
	"github.com/johndauphine/chkit/internal/mutation"
)

var eventsRef = ddl.Ref("default", "events")

func newDedupeEngine(t *testing.T) *drivertest.Engine {
	t.Helper()
	e := drivertest.New()
	e.CreateTable(eventsRef, "day String", "id String")
	e.AddRows(eventsRef,
		[]any{"d1", "1"}, []any{"d1", "1"}, []any{"d1", "2"},
		[]any{"d2", "3"}, []any{"d2", "3"},
	)
	return e
}

func countRows(rows [][]any, day string) int {
	n := 0
	for _, r := range rows {
		if r[0] == day {
			n++
		}
	}
	return n
}

func TestStagingRef(t *testing.T) {
	assert.Equal(t, ddl.Ref("default", "eventscopy_table_for_deduplicate"), StagingRef(eventsRef))
}

func TestDeduplicate_RemovesDuplicatesMatchingFilter(t *testing.T) {
	e := newDedupeEngine(t)

	ok, err := NewEngine(e, nil).Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.NoError(t, err)
	assert.True(t, ok)

	rows := e.Rows(eventsRef)
	assert.Equal(t, 2, countRows(rows, "d1"), "duplicates of d1 removed")
	assert.Equal(t, 2, countRows(rows, "d2"), "rows outside the filter untouched")
	assert.ElementsMatch(t, [][]any{{"d1", "1"}, {"d1", "2"}, {"d2", "3"}, {"d2", "3"}}, rows)
	assert.False(t, e.HasTable(StagingRef(eventsRef)), "staging table dropped")
}

func TestDeduplicate_EmptyFilterCoversWholeTable(t *testing.T) {
	e := newDedupeEngine(t)

	ok, err := NewEngine(e, nil).Deduplicate(context.Background(), eventsRef, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, e.Rows(eventsRef), 3)
	assert.Equal(t, 1, e.CountStatements("ALTER TABLE default.events DELETE WHERE 1"))
}

func TestDeduplicate_VerificationFailureLeavesTableUntouched(t *testing.T) {
	e := newDedupeEngine(t)
	staging := StagingRef(eventsRef)
	e.OnStatement = func(q string) {
		if strings.HasPrefix(q, "INSERT INTO "+staging.String()) {
			e.AddRows(staging, []any{"d9", "9"})
		}
	}
	before := e.Rows(eventsRef)

	ok, err := NewEngine(e, nil).Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, e.Rows(eventsRef))
	assert.Zero(t, e.CountStatements("ALTER TABLE"), "no delete before verification")
	assert.False(t, e.HasTable(staging))
}

// A failure inside the workflow is returned to the caller. Dropping the
// staging table still happens and does not replace the error.
func TestDeduplicate_ErrorIsReturnedAndStagingDropped(t *testing.T) {
	e := newDedupeEngine(t)
	boom := errors.New("code: 159, timeout exceeded")
	e.Fail = func(q string) error {
		if strings.HasPrefix(q, "ALTER TABLE default.events DELETE") {
			return boom
		}
		return nil
	}

	ok, err := NewEngine(e, nil).Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.False(t, e.HasTable(StagingRef(eventsRef)))
	assert.Len(t, e.Rows(eventsRef), 5)
}

func TestDeduplicate_CleanupFailureIsJoined(t *testing.T) {
	e := newDedupeEngine(t)
	boom := errors.New("insert failed")
	dropErr := errors.New("drop failed")
	drops := 0
	e.Fail = func(q string) error {
		switch {
		case strings.HasPrefix(q, "INSERT INTO default.eventscopy"):
			return boom
		case strings.HasPrefix(q, "DROP TABLE"):
			drops++
			if drops > 1 {
				return dropErr
			}
		}
		return nil
	}

	_, err := NewEngine(e, nil).Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, dropErr)
}

func TestDeduplicate_KeepStagingOnRestoreFailure(t *testing.T) {
	e := newDedupeEngine(t)
	boom := errors.New("restore failed")
	e.Fail = func(q string) error {
		if strings.HasPrefix(q, "INSERT INTO default.events SELECT DISTINCT") {
			return boom
		}
		return nil
	}

	eng := NewEngine(e, nil)
	eng.KeepStagingOnRestoreFailure = true
	_, err := eng.Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.ErrorIs(t, err, boom)
	assert.True(t, e.HasTable(StagingRef(eventsRef)))
	assert.Len(t, e.Rows(StagingRef(eventsRef)), 3)
}

func TestDeduplicate_WaitsForDeleteBeforeRestoring(t *testing.T) {
	e := newDedupeEngine(t)
	e.HoldMutations = true
	polls := 0
	e.OnStatement = func(q string) {
		if strings.HasPrefix(q, "SELECT count() FROM system.mutations") {
			polls++
			if polls == 3 {
				e.CompleteMutations()
			}
		}
	}

	eng := NewEngine(e, nil).WithMutationOptions(mutation.Options{PollInterval: time.Millisecond})
	ok, err := eng.Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, countRows(e.Rows(eventsRef), "d1"))
	assert.GreaterOrEqual(t, polls, 3)
}

func TestDeduplicate_PreExistingStagingIsReplaced(t *testing.T) {
	e := newDedupeEngine(t)
	staging := StagingRef(eventsRef)
	e.CreateTable(staging, "day String", "id String")
	e.AddRows(staging, []any{"stale", "0"})

	ok, err := NewEngine(e, nil).Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, countRows(e.Rows(eventsRef), "stale"))
}

func heldDeleteEngine(t *testing.T, keep bool) (*drivertest.Engine, *Engine) {
	t.Helper()
	e := newDedupeEngine(t)
	e.HoldMutations = true
	eng := NewEngine(e, nil).WithMutationOptions(mutation.Options{
		PollInterval: time.Millisecond,
		Timeout:      20 * time.Millisecond,
	})
	eng.KeepStagingOnRestoreFailure = keep
	return e, eng
}

// The delete is already on the server when the wait for it times out; the
// staging table is the only remaining copy of the matching rows.
func TestDeduplicate_KeepStagingWhenDeleteWaitTimesOut(t *testing.T) {
	e, eng := heldDeleteEngine(t, true)
	staging := StagingRef(eventsRef)

	ok, err := eng.Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.ErrorIs(t, err, mutation.ErrStillPending)
	assert.False(t, ok)
	require.True(t, e.HasTable(staging), "staging table kept")
	assert.Len(t, e.Rows(staging), 3)

	e.CompleteMutations()
	assert.Zero(t, countRows(e.Rows(eventsRef), "d1"), "held delete applied")
	assert.Equal(t, 3, countRows(e.Rows(staging), "d1"), "rows still recoverable")
}

func TestDeduplicate_DeleteWaitTimeoutDropsStagingByDefault(t *testing.T) {
	e, eng := heldDeleteEngine(t, false)

	_, err := eng.Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.ErrorIs(t, err, mutation.ErrStillPending)
	assert.False(t, e.HasTable(StagingRef(eventsRef)), "staging dropped on every path without the keep option")
	assert.Zero(t, e.CountStatements("INSERT INTO default.events SELECT DISTINCT"), "no restore attempted")
}

func TestDeduplicate_KeepStagingWhenMutationLookupFails(t *testing.T) {
	e := newDedupeEngine(t)
	boom := errors.New("lookup failed")
	e.Fail = func(q string) error {
		if strings.HasPrefix(q, "SELECT mutation_id FROM system.mutations") {
			return boom
		}
		return nil
	}

	eng := NewEngine(e, nil)
	eng.KeepStagingOnRestoreFailure = true
	_, err := eng.Deduplicate(context.Background(), eventsRef, "day = 'd1'")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, e.CountStatements("ALTER TABLE default.events DELETE"))
	assert.True(t, e.HasTable(StagingRef(eventsRef)))
	assert.Len(t, e.Rows(StagingRef(eventsRef)), 3)
}
