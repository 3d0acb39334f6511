package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
)

// CleanupFunc removes a deleted room's durable objects. Wired to the
// storage layer by the server; nil is fine in tests.
type CleanupFunc func(ctx context.Context, roomID domain.RoomID)

// Registry owns every active Room. The aggregate user count is
// cached behind a dirty flag with a single-flight guard so bursts of
// stats reads never stack recomputations.
type Registry struct {
	clock        clockwork.Clock
	settings     Settings
	cleanupDelay time.Duration
	onCleanup    CleanupFunc

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room

	countMu     sync.Mutex
	userCount   int
	dirty       bool
	calculating bool
}

func NewRegistry(clock clockwork.Clock, settings Settings, cleanupDelay time.Duration, onCleanup CleanupFunc) *Registry {
	return &Registry{
		clock:        clock,
		settings:     settings,
		cleanupDelay: cleanupDelay,
		onCleanup:    onCleanup,
		rooms:        make(map[domain.RoomID]*Room),
		dirty:        true,
	}
}

func (g *Registry) Get(id domain.RoomID) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

func (g *Registry) GetOrCreate(id domain.RoomID) *Room {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok = g.rooms[id]; ok {
		return r
	}
	r = New(id, g.clock, g.settings, g.MarkUserCountDirty)
	g.rooms[id] = r
	log.Info().Str("module", "room.registry").Str("room", string(id)).Msg("room created")
	return r
}

// Delete removes a room from the registry. The room's timers must
// already be shut down by the caller.
func (g *Registry) Delete(id domain.RoomID) {
	g.mu.Lock()
	_, ok := g.rooms[id]
	delete(g.rooms, id)
	g.mu.Unlock()
	if ok {
		g.MarkUserCountDirty()
		log.Info().Str("module", "room.registry").Str("room", string(id)).Msg("room deleted")
	}
}

func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

func (g *Registry) ForEach(fn func(*Room)) {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()
	for _, r := range rooms {
		fn(r)
	}
}

func (g *Registry) RoomIDs() []domain.RoomID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]domain.RoomID, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	return ids
}

// MarkUserCountDirty invalidates the cached aggregate count. Rooms
// call this on every membership change.
func (g *Registry) MarkUserCountDirty() {
	g.countMu.Lock()
	g.dirty = true
	g.countMu.Unlock()
}

// ActiveUserCount returns the total members across rooms. A fresh
// cache is returned as-is; a dirty one is recomputed by exactly one
// caller while concurrent readers get the previous value instead of
// piling onto the recomputation.
func (g *Registry) ActiveUserCount() int {
	g.countMu.Lock()
	if !g.dirty || g.calculating {
		v := g.userCount
		g.countMu.Unlock()
		return v
	}
	g.calculating = true
	g.countMu.Unlock()

	total := 0
	g.ForEach(func(r *Room) { total += r.ClientCount() })

	g.countMu.Lock()
	g.userCount = total
	g.dirty = false
	g.calculating = false
	g.countMu.Unlock()
	return total
}

// ScheduleCleanup arms a deferred teardown for a room with no active
// connections. Arming again replaces the previous timer, and a rejoin
// cancels it via Room.AddClient. The deferred task re-checks liveness
// at fire time: a connection may have come back in the interim.
func (g *Registry) ScheduleCleanup(id domain.RoomID) {
	r, ok := g.Get(id)
	if !ok {
		log.Warn().Str("module", "room.registry").Str("room", string(id)).Msg("cleanup requested for unknown room")
		return
	}
	if r.HasActiveConnections() {
		return
	}

	log.Info().Str("module", "room.registry").Str("room", string(id)).
		Dur("delay", g.cleanupDelay).Msg("cleanup scheduled")

	r.cleanup.Arm(g.clock, g.cleanupDelay, func() {
		current, ok := g.Get(id)
		if !ok {
			return
		}
		if current.HasActiveConnections() {
			log.Info().Str("module", "room.registry").Str("room", string(id)).Msg("cleanup skipped, room active again")
			return
		}
		current.Shutdown()
		g.Delete(id)
		if g.onCleanup != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			g.onCleanup(ctx, id)
		}
	})
}

// ShutdownAll stops every room's timers; used on process shutdown.
func (g *Registry) ShutdownAll() {
	g.ForEach(func(r *Room) { r.Shutdown() })
}
