package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dkeye/chorus/internal/domain"
)

func newTestRegistry(clock clockwork.Clock, onCleanup CleanupFunc) *Registry {
	return NewRegistry(clock, testSettings(), time.Minute, onCleanup)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	g := newTestRegistry(clockwork.NewFakeClock(), nil)
	a := g.GetOrCreate("jam")
	b := g.GetOrCreate("jam")
	if a != b {
		t.Fatal("GetOrCreate returned two rooms for one id")
	}
	if g.Count() != 1 {
		t.Fatalf("room count = %d, want 1", g.Count())
	}
}

func TestActiveUserCountCachesUntilDirty(t *testing.T) {
	g := newTestRegistry(clockwork.NewFakeClock(), nil)
	r := g.GetOrCreate("jam")
	r.AddClient("c1", "ada", &fakeConn{})

	if got := g.ActiveUserCount(); got != 1 {
		t.Fatalf("active users = %d, want 1", got)
	}

	// Mutations mark the cache dirty through the room callback.
	r.AddClient("c2", "bob", &fakeConn{})
	if got := g.ActiveUserCount(); got != 2 {
		t.Fatalf("active users after join = %d, want 2", got)
	}
	r.RemoveClient("c1")
	if got := g.ActiveUserCount(); got != 1 {
		t.Fatalf("active users after leave = %d, want 1", got)
	}
}

func TestActiveUserCountSingleFlight(t *testing.T) {
	g := newTestRegistry(clockwork.NewFakeClock(), nil)
	r := g.GetOrCreate("jam")
	r.AddClient("c1", "ada", &fakeConn{})
	if got := g.ActiveUserCount(); got != 1 {
		t.Fatalf("active users = %d, want 1", got)
	}

	// Simulate a recomputation in flight: a dirty read must return the
	// previous cached value instead of stacking a second recompute.
	r.AddClient("c2", "bob", &fakeConn{})
	g.countMu.Lock()
	g.calculating = true
	g.countMu.Unlock()

	if got := g.ActiveUserCount(); got != 1 {
		t.Fatalf("in-flight read = %d, want stale cached 1", got)
	}

	g.countMu.Lock()
	g.calculating = false
	g.countMu.Unlock()
	if got := g.ActiveUserCount(); got != 2 {
		t.Fatalf("settled read = %d, want 2", got)
	}
}

func TestScheduleCleanupFiresOnceAndDeletesRoom(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var mu sync.Mutex
	cleaned := 0
	g := newTestRegistry(clock, func(_ context.Context, _ domain.RoomID) {
		mu.Lock()
		cleaned++
		mu.Unlock()
	})
	g.GetOrCreate("jam")

	g.ScheduleCleanup("jam")
	clock.BlockUntil(1)
	clock.Advance(time.Minute + time.Second)

	waitFor(t, "room deletion", func() bool {
		_, ok := g.Get("jam")
		return !ok
	})
	mu.Lock()
	defer mu.Unlock()
	if cleaned != 1 {
		t.Fatalf("cleanup ran %d times, want exactly once", cleaned)
	}
}

func TestScheduleCleanupTwiceReplacesTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var mu sync.Mutex
	cleaned := 0
	g := newTestRegistry(clock, func(_ context.Context, _ domain.RoomID) {
		mu.Lock()
		cleaned++
		mu.Unlock()
	})
	g.GetOrCreate("jam")

	g.ScheduleCleanup("jam")
	clock.BlockUntil(1)
	g.ScheduleCleanup("jam")
	clock.BlockUntil(1)
	clock.Advance(2 * time.Minute)

	waitFor(t, "room deletion", func() bool {
		_, ok := g.Get("jam")
		return !ok
	})
	mu.Lock()
	defer mu.Unlock()
	if cleaned != 1 {
		t.Fatalf("cleanup ran %d times after double scheduling, want once", cleaned)
	}
}

func TestRejoinBeforeExpiryCancelsCleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newTestRegistry(clock, nil)
	r := g.GetOrCreate("jam")

	g.ScheduleCleanup("jam")
	clock.BlockUntil(1)

	// A rejoin cancels the pending teardown.
	r.AddClient("c1", "ada", &fakeConn{})
	clock.Advance(2 * time.Minute)

	time.Sleep(10 * time.Millisecond)
	if _, ok := g.Get("jam"); !ok {
		t.Fatal("room was deleted despite a rejoin before expiry")
	}
}

func TestScheduleCleanupSkipsActiveRoom(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newTestRegistry(clock, nil)
	r := g.GetOrCreate("jam")
	r.AddClient("c1", "ada", &fakeConn{})

	g.ScheduleCleanup("jam")
	if r.cleanup.Armed() {
		t.Fatal("cleanup must not be armed while connections are active")
	}
}

func TestCleanupRechecksLivenessAtFireTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newTestRegistry(clock, nil)
	r := g.GetOrCreate("jam")

	// Restore-style ghost: no active connection, cleanup armed.
	r.RestoreClients([]*Client{{ID: "g1", Username: "ghost"}})
	g.ScheduleCleanup("jam")
	clock.BlockUntil(1)

	// A client connects but the timer still fires: the fire-time
	// re-check must keep the room. AddClient also cancels the timer,
	// so force the race by re-arming and connecting underneath it.
	r.AddClient("c1", "ada", &fakeConn{})
	g.ScheduleCleanup("jam") // no-op: active connections
	clock.Advance(2 * time.Minute)

	time.Sleep(10 * time.Millisecond)
	if _, ok := g.Get("jam"); !ok {
		t.Fatal("cleanup removed a room with live connections")
	}
}
