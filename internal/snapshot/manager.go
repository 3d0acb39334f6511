// Package snapshot persists a periodic backup of room state to the
// object store and restores it on startup, so a server restart does
// not wipe rooms or the files their members uploaded.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/room"
	"github.com/dkeye/chorus/internal/storage"
)

type Options struct {
	// Interval between periodic backups.
	Interval time.Duration
	// Keep is how many snapshots survive pruning.
	Keep int
	// RestoreConcurrency bounds parallel per-room restores.
	RestoreConcurrency int
	// PublicURL maps stored audio-source URLs back to bucket keys.
	PublicURL string
}

// Manager owns the backup/restore cycle against one bucket.
type Manager struct {
	store storage.ObjectStore
	rooms *room.Registry
	clock clockwork.Clock
	opts  Options
}

func NewManager(store storage.ObjectStore, rooms *room.Registry, clock clockwork.Clock, opts Options) *Manager {
	if opts.Keep <= 0 {
		opts.Keep = 5
	}
	if opts.RestoreConcurrency <= 0 {
		opts.RestoreConcurrency = 4
	}
	return &Manager{store: store, rooms: rooms, clock: clock, opts: opts}
}

// Snapshot shape on the wire. Playback state is deliberately absent:
// a restored room always comes back paused.
type clientSnapshot struct {
	ClientID string `json:"clientId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

type roomSnapshot struct {
	Clients      []clientSnapshot     `json:"clients"`
	AudioSources []domain.AudioSource `json:"audioSources"`
}

type stateSnapshot struct {
	Timestamp int64                   `json:"timestamp"`
	Rooms     map[string]roomSnapshot `json:"rooms"`
}

// Backup writes the current room state under a fresh timestamped key
// and prunes snapshots beyond the retention count.
func (m *Manager) Backup(ctx context.Context) error {
	snap := stateSnapshot{
		Timestamp: domain.EpochMillis(m.clock.Now()),
		Rooms:     make(map[string]roomSnapshot),
	}
	m.rooms.ForEach(func(r *room.Room) {
		rs := roomSnapshot{AudioSources: r.AudioSources()}
		for _, c := range r.ClientInfos() {
			rs.Clients = append(rs.Clients, clientSnapshot{
				ClientID: c.ClientID,
				Username: c.Username,
				IsAdmin:  c.IsAdmin,
			})
		}
		snap.Rooms[string(r.ID())] = rs
	})

	key := storage.BackupKey(m.clock.Now())
	if err := m.store.PutJSON(ctx, key, snap); err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	log.Info().Str("module", "snapshot").Str("key", key).Int("rooms", len(snap.Rooms)).Msg("backup written")

	return m.prune(ctx)
}

func (m *Manager) prune(ctx context.Context) error {
	keys, err := m.store.List(ctx, storage.BackupPrefix())
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(keys) <= m.opts.Keep {
		return nil
	}
	sort.Strings(keys)
	stale := keys[:len(keys)-m.opts.Keep]
	for _, key := range stale {
		if err := m.store.Remove(ctx, key); err != nil {
			log.Warn().Err(err).Str("module", "snapshot").Str("key", key).Msg("prune failed")
		}
	}
	log.Debug().Str("module", "snapshot").Int("pruned", len(stale)).Msg("old snapshots pruned")
	return nil
}

// RoomResult reports the outcome of restoring one room.
type RoomResult struct {
	RoomID domain.RoomID
	Err    error
}

// Restore loads the latest snapshot and rebuilds its rooms as ghost
// memberships with validated audio sources. Every restored room gets
// a cleanup scheduled immediately; if nobody reconnects it is
// reclaimed like any abandoned room. Orphaned room objects are swept
// afterwards regardless of whether the snapshot was usable.
func (m *Manager) Restore(ctx context.Context) ([]RoomResult, error) {
	defer func() {
		if _, err := m.CleanupOrphanedRooms(ctx); err != nil {
			log.Warn().Err(err).Str("module", "snapshot").Msg("orphan sweep failed")
		}
	}()

	keys, err := m.store.List(ctx, storage.BackupPrefix())
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(keys) == 0 {
		log.Info().Str("module", "snapshot").Msg("no snapshot to restore")
		return nil, nil
	}
	sort.Strings(keys)
	latest := keys[len(keys)-1]

	var snap stateSnapshot
	if err := m.store.GetJSON(ctx, latest, &snap); err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", latest, err)
	}
	if err := validateSnapshot(snap); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", latest, err)
	}

	results := make([]RoomResult, 0, len(snap.Rooms))
	ids := make([]string, 0, len(snap.Rooms))
	for id := range snap.Rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var g errgroup.Group
	g.SetLimit(m.opts.RestoreConcurrency)
	for i, id := range ids {
		id := id
		results = append(results, RoomResult{RoomID: domain.RoomID(id)})
		res := &results[i]
		rs := snap.Rooms[id]
		g.Go(func() error {
			res.Err = m.restoreRoom(ctx, domain.RoomID(id), rs)
			return nil
		})
	}
	_ = g.Wait()

	restored := 0
	for _, res := range results {
		if res.Err == nil {
			restored++
		} else {
			log.Warn().Err(res.Err).Str("module", "snapshot").Str("room", string(res.RoomID)).Msg("room restore failed")
		}
	}
	log.Info().Str("module", "snapshot").Str("key", latest).
		Int("restored", restored).Int("failed", len(results)-restored).Msg("restore finished")
	return results, nil
}

func validateSnapshot(snap stateSnapshot) error {
	if snap.Timestamp <= 0 {
		return fmt.Errorf("missing timestamp")
	}
	if snap.Rooms == nil {
		return fmt.Errorf("missing rooms map")
	}
	for id, rs := range snap.Rooms {
		if id == "" {
			return fmt.Errorf("empty room id")
		}
		for _, c := range rs.Clients {
			if c.ClientID == "" || c.Username == "" {
				return fmt.Errorf("room %s: client missing identity", id)
			}
		}
	}
	return nil
}

// restoreRoom materialises one snapshot room: audio sources that still
// exist in the bucket, ghost clients, and an immediate cleanup timer.
func (m *Manager) restoreRoom(ctx context.Context, id domain.RoomID, rs roomSnapshot) error {
	var firstErr error
	sources := make([]domain.AudioSource, 0, len(rs.AudioSources))
	for _, src := range rs.AudioSources {
		key, ok := storage.KeyFromPublicURL(m.opts.PublicURL, src.URL)
		if !ok {
			log.Warn().Str("module", "snapshot").Str("room", string(id)).
				Str("url", src.URL).Msg("unmappable audio source dropped")
			continue
		}
		exists, err := m.store.Exists(ctx, key)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("check %s: %w", key, err)
			}
			continue
		}
		if !exists {
			log.Warn().Str("module", "snapshot").Str("room", string(id)).
				Str("key", key).Msg("missing audio source dropped")
			continue
		}
		sources = append(sources, src)
	}

	ghosts := make([]*room.Client, 0, len(rs.Clients))
	for _, c := range rs.Clients {
		ghosts = append(ghosts, &room.Client{
			ID:       domain.ClientID(c.ClientID),
			Username: c.Username,
			IsAdmin:  c.IsAdmin,
		})
	}

	r := m.rooms.GetOrCreate(id)
	r.SetAudioSources(sources)
	r.RestoreClients(ghosts)
	m.rooms.ScheduleCleanup(id)
	return firstErr
}

// CleanupOrphanedRooms deletes room-owned objects whose room is not in
// the registry. Returns how many objects went.
func (m *Manager) CleanupOrphanedRooms(ctx context.Context) (int, error) {
	keys, err := m.store.List(ctx, "room-")
	if err != nil {
		return 0, fmt.Errorf("list room objects: %w", err)
	}

	live := make(map[string]bool)
	for _, id := range m.rooms.RoomIDs() {
		live[string(id)] = true
	}

	var orphaned []string
	for _, key := range keys {
		id, ok := storage.RoomIDFromKey(key)
		if !ok || !live[id] {
			orphaned = append(orphaned, key)
		}
	}
	if len(orphaned) == 0 {
		return 0, nil
	}

	removed, err := m.store.RemoveAll(ctx, orphaned)
	if removed > 0 {
		log.Info().Str("module", "snapshot").Int("objects", removed).Msg("orphaned room objects removed")
	}
	return removed, err
}

// DeleteRoomObjects removes everything a single room owns in the
// bucket. Wired as the registry's cleanup callback.
func (m *Manager) DeleteRoomObjects(ctx context.Context, id domain.RoomID) {
	keys, err := m.store.List(ctx, storage.RoomPrefix(string(id)))
	if err != nil {
		log.Warn().Err(err).Str("module", "snapshot").Str("room", string(id)).Msg("list room objects failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if _, err := m.store.RemoveAll(ctx, keys); err != nil {
		log.Warn().Err(err).Str("module", "snapshot").Str("room", string(id)).Msg("delete room objects failed")
	}
}

// Run performs periodic backups until the context ends, then takes a
// final backup so a graceful shutdown never loses state.
func (m *Manager) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.Backup(shutdownCtx); err != nil {
				log.Error().Err(err).Str("module", "snapshot").Msg("final backup failed")
			}
			cancel()
			return
		case <-ticker.Chan():
			if err := m.Backup(ctx); err != nil {
				log.Error().Err(err).Str("module", "snapshot").Msg("periodic backup failed")
			}
		}
	}
}
