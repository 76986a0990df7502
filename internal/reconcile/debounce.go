package reconcile

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid recompute requests: only the latest function
// runs, after a fixed quiescence interval. Used for status recomputation so
// observers see the final status, not every intermediate.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
	stopped bool
}

// NewDebouncer uses delay as the quiescence interval.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Debouncer{delay: delay}
}

// Submit schedules fn, replacing any not-yet-run predecessor.
func (d *Debouncer) Submit(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = fn
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Flush runs any pending function immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	fn := d.pending
	d.pending = nil
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stop discards pending work; further submissions are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = nil
	d.stopped = true
}
