package snapshot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/room"
	"github.com/dkeye/chorus/internal/storage"
)

const publicBase = "https://cdn.example.com"

func testSettings() room.Settings {
	return room.Settings{
		ScheduleLead:      750 * time.Millisecond,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		OrbitTick:         100 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, opts Options) (*Manager, *storage.MemStore, *room.Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := storage.NewMemStore()
	rooms := room.NewRegistry(clock, testSettings(), time.Minute, nil)
	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}
	opts.PublicURL = publicBase
	return NewManager(store, rooms, clock, opts), store, rooms, clock
}

func putAudio(t *testing.T, store *storage.MemStore, roomID, file string) string {
	t.Helper()
	key := storage.AudioKey(roomID, file)
	store.PutRaw(key, []byte("audio"))
	return publicBase + "/" + key
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	m, store, rooms, clock := newTestManager(t, Options{Keep: 5})
	ctx := context.Background()

	r := rooms.GetOrCreate("r1")
	r.AddClient("c1", "alice", nil)
	r.AddClient("c2", "bob", nil)
	url := putAudio(t, store, "r1", "track.mp3")
	r.AddAudioSource(domain.AudioSource{URL: url})
	rooms.GetOrCreate("r2")

	if err := m.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	// Fresh registry simulating a restarted process.
	rooms2 := room.NewRegistry(clock, testSettings(), time.Minute, nil)
	m2 := NewManager(store, rooms2, clock, Options{Keep: 5, PublicURL: publicBase})

	results, err := m2.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("restored %d rooms, want 2", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("room %s restore: %v", res.RoomID, res.Err)
		}
	}

	r1, ok := rooms2.Get("r1")
	if !ok {
		t.Fatal("r1 not restored")
	}
	if r1.ClientCount() != 2 {
		t.Fatalf("r1 ghosts = %d, want 2", r1.ClientCount())
	}
	if r1.HasActiveConnections() {
		t.Fatal("restored ghosts must not count as active connections")
	}
	if !r1.IsAdmin("c1") || r1.IsAdmin("c2") {
		t.Fatal("admin flag lost across restore")
	}
	if got := r1.AudioSources(); len(got) != 1 || got[0].URL != url {
		t.Fatalf("r1 sources = %v, want [%s]", got, url)
	}
	if _, ok := rooms2.Get("r2"); !ok {
		t.Fatal("empty room r2 not restored")
	}
}

func TestRestoreDropsMissingAudioSources(t *testing.T) {
	m, store, rooms, clock := newTestManager(t, Options{Keep: 5})
	ctx := context.Background()

	r := rooms.GetOrCreate("r1")
	r.AddClient("c1", "alice", nil)
	kept := putAudio(t, store, "r1", "kept.mp3")
	r.AddAudioSource(domain.AudioSource{URL: kept})
	r.AddAudioSource(domain.AudioSource{URL: publicBase + "/" + storage.AudioKey("r1", "gone.mp3")})
	r.AddAudioSource(domain.AudioSource{URL: "https://elsewhere.example.com/x.mp3"})

	if err := m.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	rooms2 := room.NewRegistry(clock, testSettings(), time.Minute, nil)
	m2 := NewManager(store, rooms2, clock, Options{Keep: 5, PublicURL: publicBase})
	if _, err := m2.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	r1, _ := rooms2.Get("r1")
	got := r1.AudioSources()
	if len(got) != 1 || got[0].URL != kept {
		t.Fatalf("sources = %v, want only %s", got, kept)
	}
}

func TestRestoredRoomIsReclaimedWithoutReconnect(t *testing.T) {
	m, store, rooms, clock := newTestManager(t, Options{Keep: 5})
	ctx := context.Background()

	rooms.GetOrCreate("r1").AddClient("c1", "alice", nil)
	putAudio(t, store, "r1", "track.mp3")
	if err := m.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	rooms2 := room.NewRegistry(clock, testSettings(), time.Minute, func(ctx context.Context, id domain.RoomID) {
		keys, _ := store.List(ctx, storage.RoomPrefix(string(id)))
		_, _ = store.RemoveAll(ctx, keys)
	})
	m2 := NewManager(store, rooms2, clock, Options{Keep: 5, PublicURL: publicBase})
	if _, err := m2.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	clock.BlockUntil(1)
	clock.Advance(2 * time.Minute)
	waitFor(t, func() bool {
		_, ok := rooms2.Get("r1")
		return !ok
	})
	waitFor(t, func() bool {
		keys, _ := store.List(context.Background(), storage.RoomPrefix("r1"))
		return len(keys) == 0
	})
}

func TestCorruptSnapshotAbortsButSweepsOrphans(t *testing.T) {
	m, store, rooms, _ := newTestManager(t, Options{Keep: 5})
	ctx := context.Background()

	store.PutRaw(storage.BackupKey(time.Now()), []byte(`{"rooms": "not a map"}`))
	store.PutRaw(storage.AudioKey("ghostroom", "x.mp3"), []byte("audio"))

	if _, err := m.Restore(ctx); err == nil {
		t.Fatal("Restore accepted a corrupt snapshot")
	}
	if rooms.Count() != 0 {
		t.Fatalf("rooms = %d after corrupt restore, want 0", rooms.Count())
	}
	keys, _ := store.List(ctx, storage.RoomPrefix("ghostroom"))
	if len(keys) != 0 {
		t.Fatalf("orphaned objects survived: %v", keys)
	}
}

func TestBackupPrunesOldSnapshots(t *testing.T) {
	m, store, _, clock := newTestManager(t, Options{Keep: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := m.Backup(ctx); err != nil {
			t.Fatalf("Backup %d: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	keys, err := store.List(ctx, storage.BackupPrefix())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("kept %d snapshots, want 2: %v", len(keys), keys)
	}
	// The survivors are the lexically (and so chronologically) latest.
	for _, key := range keys {
		if !strings.HasPrefix(key, storage.BackupPrefix()) {
			t.Fatalf("unexpected key %s", key)
		}
	}
	latest := storage.BackupKey(clock.Now().Add(-time.Second))
	if keys[len(keys)-1] != latest {
		t.Fatalf("latest kept = %s, want %s", keys[len(keys)-1], latest)
	}
}

func TestOrphanSweepKeepsLiveRooms(t *testing.T) {
	m, store, rooms, _ := newTestManager(t, Options{Keep: 5})
	ctx := context.Background()

	rooms.GetOrCreate("live")
	store.PutRaw(storage.AudioKey("live", "a.mp3"), []byte("audio"))
	store.PutRaw(storage.AudioKey("dead", "b.mp3"), []byte("audio"))

	removed, err := m.CleanupOrphanedRooms(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphanedRooms: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d objects, want 1", removed)
	}
	if keys, _ := store.List(ctx, storage.RoomPrefix("live")); len(keys) != 1 {
		t.Fatal("live room's objects were swept")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
