package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/johndauphine/chkit/internal/ddl"
	"github.com/johndauphine/chkit/internal/driver"
	"github.com/johndauphine/chkit/internal/logging"
)

// DefaultPollInterval is the wait between registry checks.
const DefaultPollInterval = time.Second

// ErrStillPending is returned when Options.Timeout elapses while the table
// still has running mutations. Nothing was submitted.
var ErrStillPending = errors.New("mutation: table still has running mutations")

// Options controls how a mutation is submitted.
type Options struct {
	// PreventParallel delays submission until the table has no running mutation.
	PreventParallel bool
	// PollInterval between registry checks. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// Timeout bounds the wait. Zero waits until the context is done.
	Timeout time.Duration
	// OnWait is called after each check that found running mutations.
	OnWait func(running int64)
}

func (o Options) interval() time.Duration {
	if o.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return o.PollInterval
}

// Gate submits DELETE and UPDATE mutations.
//
// With PreventParallel the gate waits for zero running mutations and then
// submits. The check and the submit are two statements, so another client can
// slip a mutation in between; the gate only serialises callers that share it
// and target the same table. Calls on different tables do not wait for each
// other.
type Gate struct {
	exec    driver.Executor
	tracker *Tracker

	mu    sync.Mutex
	locks map[ddl.TableRef]chan struct{}
}

// NewGate returns a gate that submits through exec.
func NewGate(exec driver.Executor, tracker *Tracker) *Gate {
	if tracker == nil {
		tracker = NewTracker(exec)
	}
	return &Gate{exec: exec, tracker: tracker, locks: make(map[ddl.TableRef]chan struct{})}
}

// Tracker returns the tracker the gate polls.
func (g *Gate) Tracker() *Tracker { return g.tracker }

// Delete submits ALTER TABLE ... DELETE WHERE cond and returns the new
// mutation's id ("" when the registry has no matching row).
func (g *Gate) Delete(ctx context.Context, ref ddl.TableRef, cond string, opts Options) (string, error) {
	return g.submit(ctx, ddl.MutationDelete, ref, ddl.AlterDelete(ref, cond), opts)
}

// Update submits ALTER TABLE ... UPDATE set WHERE cond and returns the new
// mutation's id ("" when the registry has no matching row).
func (g *Gate) Update(ctx context.Context, ref ddl.TableRef, set, cond string, opts Options) (string, error) {
	return g.submit(ctx, ddl.MutationUpdate, ref, ddl.AlterUpdate(ref, set, cond), opts)
}

// WaitIdle blocks until ref has no running mutations.
func (g *Gate) WaitIdle(ctx context.Context, ref ddl.TableRef, opts Options) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	interval := opts.interval()
	var timer *time.Timer
	for {
		running, err := g.tracker.CountRunning(ctx, ref)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && opts.Timeout > 0 {
				return fmt.Errorf("%w: %s", ErrStillPending, ref)
			}
			return err
		}
		if running == 0 {
			return nil
		}
		logging.Debug("%s: %d mutation(s) running, next check in %v", ref, running, interval)
		if opts.OnWait != nil {
			opts.OnWait(running)
		}

		if timer == nil {
			timer = time.NewTimer(interval)
			defer timer.Stop()
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && opts.Timeout > 0 {
				return fmt.Errorf("%w: %s (%d running)", ErrStillPending, ref, running)
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// acquire takes the per-table slot for ref, giving up when ctx is done.
func (g *Gate) acquire(ctx context.Context, ref ddl.TableRef) (release func(), err error) {
	g.mu.Lock()
	slot, ok := g.locks[ref]
	if !ok {
		slot = make(chan struct{}, 1)
		g.locks[ref] = slot
	}
	g.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gate) submit(ctx context.Context, kind ddl.MutationKind, ref ddl.TableRef, statement string, opts Options) (string, error) {
	release, err := g.acquire(ctx, ref)
	if err != nil {
		return "", err
	}
	defer release()

	if opts.PreventParallel {
		if err := g.WaitIdle(ctx, ref, opts); err != nil {
			return "", err
		}
	}
	if err := g.exec.Exec(ctx, statement); err != nil {
		return "", fmt.Errorf("submitting %s on %s: %w", kind, ref, err)
	}
	id, found, err := g.tracker.LastID(ctx, kind, ref, statement)
	if err != nil {
		return "", err
	}
	if !found {
		logging.Warn("%s: submitted %s mutation but found no matching registry row", ref, kind)
		return "", nil
	}
	logging.Info("%s: submitted %s mutation %s", ref, kind, id)
	return id, nil
}
