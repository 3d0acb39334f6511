package room

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestScheduledTaskRearmReplacesPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var task scheduledTask

	var mu sync.Mutex
	var runs []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			runs = append(runs, name)
			mu.Unlock()
		}
	}

	task.Arm(clock, time.Minute, record("first"))
	task.Arm(clock, time.Minute, record("second"))
	clock.Advance(time.Minute)

	waitFor(t, "replacement to run", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) > 0
	})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(runs) != 1 || runs[0] != "second" {
		t.Fatalf("runs = %v, want just the replacement", runs)
	}
}

func TestScheduledTaskCancelRacingFireDoesNotRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var task scheduledTask

	var mu sync.Mutex
	ran := false
	task.Arm(clock, time.Minute, func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	})

	// Hold the task lock across the fire so the timer goroutine sits
	// between its channel receive and its generation check, then cancel
	// before releasing.
	task.mu.Lock()
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	task.cancelLocked()
	task.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if ran {
		t.Fatal("canceled run still executed")
	}
	if task.Armed() {
		t.Fatal("task reports armed after cancel")
	}
}
