package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker shows a spinner while a table still has running mutations. Its
// OnWait method plugs into mutation.Options.OnWait. Nothing is drawn until
// the first wait.
type Tracker struct {
	out       io.Writer
	label     string
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	polls     atomic.Int64
	running   atomic.Int64
	startTime time.Time
}

// New creates a tracker that draws on out.
func New(out io.Writer, label string) *Tracker {
	return &Tracker{out: out, label: label}
}

// OnWait records one check that found running mutations.
func (t *Tracker) OnWait(running int64) {
	t.polls.Add(1)
	t.running.Store(running)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		t.startTime = time.Now()
		t.bar = progressbar.NewOptions64(
			-1,
			progressbar.OptionSetWriter(t.out),
			progressbar.OptionSetDescription(t.label),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("checks"),
			progressbar.OptionClearOnFinish(),
		)
	}
	t.bar.Describe(fmt.Sprintf("%s: %d mutation(s) running", t.label, running))
	_ = t.bar.Add64(1)
}

// Polls returns how many checks found running mutations.
func (t *Tracker) Polls() int64 {
	return t.polls.Load()
}

// Finish clears the spinner and prints how long the wait took.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		return
	}
	_ = t.bar.Finish()
	t.bar = nil

	fmt.Fprintf(t.out, "%s: waited %s over %d checks\n",
		t.label, time.Since(t.startTime).Round(time.Millisecond), t.polls.Load())
}
