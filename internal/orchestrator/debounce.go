package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/satchelhq/satchel/internal/portal"
)

// DefaultDebounce is the quiet period the input must be stable for
// before a search dispatches.
const DefaultDebounce = 1500 * time.Millisecond

// ResultFunc receives the outcome of a debounced dispatch. The query
// text is echoed back so the caller can discard responses that no
// longer match current input.
type ResultFunc func(query string, resp *portal.Response, err error)

// Debouncer wraps a Searcher for keystroke-driven input: each Type
// call resets a quiet-period timer, and only the text that survives
// the quiet period is dispatched. A superseding keystroke cancels the
// pending dispatch outright.
type Debouncer struct {
	searcher *Searcher
	role     portal.Role
	quiet    time.Duration
	deliver  ResultFunc

	mu      sync.Mutex
	timer   *time.Timer
	pending string
	closed  bool
}

// NewDebouncer creates a debouncer for one input surface. deliver is
// invoked from a background goroutine when a dispatch completes.
func NewDebouncer(searcher *Searcher, role portal.Role, quiet time.Duration, deliver ResultFunc) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultDebounce
	}
	return &Debouncer{
		searcher: searcher,
		role:     role,
		quiet:    quiet,
		deliver:  deliver,
	}
}

// Type registers the current input text, resetting the quiet-period
// timer. Text below the minimum query length cancels any pending
// dispatch and never fires.
func (d *Debouncer) Type(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = text

	if len(portal.Normalize(text)) < d.searcher.minQueryLen {
		return
	}

	text = d.pending
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(text) })
}

// Flush dispatches pending input immediately, without waiting out the
// quiet period. Used for explicit submits.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	text := d.pending
	d.mu.Unlock()

	if len(portal.Normalize(text)) >= d.searcher.minQueryLen {
		d.fire(text)
	}
}

// Close cancels any pending dispatch. Results already in flight still
// deliver.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire(text string) {
	d.mu.Lock()
	// A keystroke may have landed between the timer firing and this
	// goroutine acquiring the lock; the newer input wins.
	if d.closed || d.pending != text {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	resp, err := d.searcher.Search(context.Background(), text, d.role)
	d.deliver(text, resp, err)
}
