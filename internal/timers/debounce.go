package timers

import (
	"sync"
	"time"
)

// Debouncer runs the most recently supplied function once no new call has arrived for the
// configured duration.
type Debouncer struct {
	mu        sync.Mutex
	scheduler Scheduler
	duration  time.Duration
	timer     Timer
	armed     int
}

func NewDebouncer(scheduler Scheduler, duration time.Duration) *Debouncer {
	if scheduler == nil {
		scheduler = System()
	}
	return &Debouncer{scheduler: scheduler, duration: duration}
}

// Debounce (re)arms the timer with fn.
func (d *Debouncer) Debounce(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.armed++
	generation := d.armed
	d.timer = d.scheduler.AfterFunc(d.duration, func() {
		d.mu.Lock()
		if generation != d.armed || d.timer == nil {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops any pending call. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.armed++
	return true
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
