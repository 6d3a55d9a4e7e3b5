package mutation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver/drivertest"
)

var testRef = ddl.Ref("default", "__test")

func newEngine(t *testing.T) *drivertest.Engine {
	t.Helper()
	e := drivertest.New()
	e.CreateTable(testRef, "s String", "n String")
	return e
}

func TestCountRunning_FreshTable(t *testing.T) {
	tr := NewTracker(newEngine(t))

	n, err := tr.CountRunning(context.Background(), testRef)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountRunning_OnlyExactTable(t *testing.T) {
	e := newEngine(t)
	e.AddMutation(testRef, "DELETE WHERE 1", false)
	e.AddMutation(testRef, "DELETE WHERE 1", true)
	e.AddMutation(ddl.Ref("default", "__test2"), "DELETE WHERE 1", false)
	e.AddMutation(ddl.Ref("other", "__test"), "DELETE WHERE 1", false)

	n, err := NewTracker(e).CountRunning(context.Background(), testRef)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCountRunning_PropagatesError(t *testing.T) {
	e := newEngine(t)
	boom := errors.New("connection reset")
	e.Fail = func(string) error { return boom }

	_, err := NewTracker(e).CountRunning(context.Background(), testRef)
	assert.ErrorIs(t, err, boom)
}

func TestLastID(t *testing.T) {
	ctx := context.Background()

	t.Run("newest matching record wins", func(t *testing.T) {
		e := newEngine(t)
		e.AddMutation(testRef, "DELETE WHERE x=1", true)
		newest := e.AddMutation(testRef, "DELETE WHERE x=1", false)
		e.AddMutation(testRef, "DELETE WHERE x=2", false)

		id, found, err := NewTracker(e).LastID(ctx, ddl.MutationDelete, testRef, "ALTER TABLE default.__test DELETE WHERE x=1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, newest, id)
	})

	t.Run("no matching record", func(t *testing.T) {
		id, found, err := NewTracker(newEngine(t)).LastID(ctx, ddl.MutationDelete, testRef, "ALTER TABLE default.__test DELETE WHERE x=1")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, id)
	})

	t.Run("quoted values", func(t *testing.T) {
		e := newEngine(t)
		want := e.AddMutation(testRef, "UPDATE n = '1000' WHERE n = '6'", false)

		id, found, err := NewTracker(e).LastID(ctx, ddl.MutationUpdate, testRef, "ALTER TABLE default.__test UPDATE n = '1000' WHERE n = '6'")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, want, id)
	})

	t.Run("names containing the kind", func(t *testing.T) {
		for _, ref := range []ddl.TableRef{ddl.Ref("default", "updates_log"), ddl.Ref("deleted", "t")} {
			e := drivertest.New()
			e.CreateTable(ref, "s String", "n String")
			upd := e.AddMutation(ref, "UPDATE n = '1' WHERE 1", false)
			del := e.AddMutation(ref, "DELETE WHERE s = 'a'", false)
			tr := NewTracker(e)

			id, found, err := tr.LastID(ctx, ddl.MutationUpdate, ref, ddl.AlterUpdate(ref, "n = '1'", "1"))
			require.NoError(t, err)
			assert.True(t, found, ref.String())
			assert.Equal(t, upd, id)

			id, found, err = tr.LastID(ctx, ddl.MutationDelete, ref, ddl.AlterDelete(ref, "s = 'a'"))
			require.NoError(t, err)
			assert.True(t, found, ref.String())
			assert.Equal(t, del, id)
		}
	})

	t.Run("kind absent from statement", func(t *testing.T) {
		// The statement is not cut, so it cannot equal a registry command.
		// The lookup must still answer "not found" instead of failing.
		e := newEngine(t)
		e.AddMutation(testRef, "DELETE WHERE x=1", false)

		id, found, err := NewTracker(e).LastID(ctx, ddl.MutationUpdate, testRef, "ALTER TABLE default.__test DELETE WHERE x=1")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, id)
	})
}

func TestIsDone(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	pending := e.AddMutation(testRef, "DELETE WHERE 1", false)
	finished := e.AddMutation(testRef, "DELETE WHERE 1", true)
	tr := NewTracker(e)

	done, found, err := tr.IsDone(ctx, pending)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, done)

	done, found, err = tr.IsDone(ctx, finished)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, done)

	_, found, err = tr.IsDone(ctx, "mutation_404.txt")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestList(t *testing.T) {
	e := newEngine(t)
	first := e.AddMutation(testRef, "DELETE WHERE 1", true)
	second := e.AddMutation(testRef, "UPDATE n = 1 WHERE 1", false)

	recs, err := NewTracker(e).List(context.Background(), testRef)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, second, recs[0].ID)
	assert.False(t, recs[0].IsDone)
	assert.Equal(t, first, recs[1].ID)
	assert.True(t, recs[1].IsDone)
	assert.True(t, recs[0].CreateTime.After(recs[1].CreateTime))
}
