package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// scheduledTask is a single deferred callback with last-scheduler-wins
// semantics: arming always cancels the previous timer first, so two
// Arm calls never stack.
type scheduledTask struct {
	mu     sync.Mutex
	timer  clockwork.Timer
	cancel chan struct{}
}

// Arm schedules fn to run after delay, replacing any pending run.
func (t *scheduledTask) Arm(clock clockwork.Clock, delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()

	timer := clock.NewTimer(delay)
	cancel := make(chan struct{})
	t.timer = timer
	t.cancel = cancel

	go func() {
		select {
		case <-timer.Chan():
			t.mu.Lock()
			if t.cancel != cancel {
				// A Cancel or re-Arm landed between the fire and the
				// lock; this generation must not run.
				t.mu.Unlock()
				return
			}
			t.timer = nil
			t.cancel = nil
			t.mu.Unlock()
			fn()
		case <-cancel:
		}
	}()
}

// Cancel stops the pending run, if any.
func (t *scheduledTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *scheduledTask) cancelLocked() {
	if t.timer == nil {
		return
	}
	if !t.timer.Stop() {
		// Already fired or stopped; drain so the timer goroutine can
		// be collected.
		select {
		case <-t.timer.Chan():
		default:
		}
	}
	close(t.cancel)
	t.timer = nil
	t.cancel = nil
}

// Armed reports whether a run is still pending.
func (t *scheduledTask) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
