// Package room holds the per-session server state: membership,
// playback scheduling, spatial configuration and liveness, plus the
// registry of all active rooms.
package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/protocol"
	"github.com/dkeye/chorus/internal/spatial"
)

// Conn is the transport seam. Owned by the websocket adapter; the
// room only sends through it and may force-close stale ones.
type Conn interface {
	TrySend(data []byte) error
	Close()
	Active() bool
}

// Client is one member of a room. Conn is nil for ghost clients
// restored from a snapshot.
type Client struct {
	ID       domain.ClientID
	Username string
	IsAdmin  bool
	Position domain.Position
	RTT      float64
	LastSeen time.Time
	Conn     Conn
}

// Settings are the timing knobs a Room runs on.
type Settings struct {
	ScheduleLead      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	OrbitTick         time.Duration
}

// Room is the authoritative state of one listening session. All
// mutation goes through the mutex; timers (heartbeat, orbit, cleanup)
// run as independent goroutines per room.
type Room struct {
	id       domain.RoomID
	clock    clockwork.Clock
	settings Settings

	mu              sync.Mutex
	clients         []*Client // join order, reorder moves to front
	sources         []domain.AudioSource
	listeningSource domain.Position
	permissions     domain.PlaybackPermissions
	playback        playbackState

	heartbeatStop chan struct{}
	orbitStop     chan struct{}

	cleanup scheduledTask

	onClientCountChange func()
}

func New(id domain.RoomID, clock clockwork.Clock, settings Settings, onClientCountChange func()) *Room {
	return &Room{
		id:                  id,
		clock:               clock,
		settings:            settings,
		listeningSource:     domain.Position{X: domain.GridOriginX, Y: domain.GridOriginY},
		permissions:         domain.PermissionsEveryone,
		onClientCountChange: onClientCountChange,
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) now() int64 { return domain.EpochMillis(r.clock.Now()) }

// AddClient admits a client, cancels any pending cleanup, grants
// admin to the first member and lays everyone back out on the circle.
func (r *Room) AddClient(id domain.ClientID, username string, conn Conn) {
	r.cleanup.Cancel()

	r.mu.Lock()
	client := &Client{
		ID:       id,
		Username: username,
		IsAdmin:  len(r.clients) == 0,
		Position: spatial.CenterStage(),
		LastSeen: r.clock.Now(),
		Conn:     conn,
	}
	r.clients = append(r.clients, client)
	r.layoutLocked()
	r.mu.Unlock()

	r.startHeartbeat()
	r.notifyCountChange()

	log.Info().Str("module", "room").Str("room", string(r.id)).
		Str("client", string(id)).Str("username", username).
		Bool("admin", client.IsAdmin).Msg("client added")
}

// RemoveClient drops a member and repositions the rest; the last one
// out stops the heartbeat loop.
func (r *Room) RemoveClient(id domain.ClientID) {
	r.mu.Lock()
	found := false
	for i, c := range r.clients {
		if c.ID == id {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			found = true
			break
		}
	}
	empty := len(r.clients) == 0
	if found && !empty {
		r.layoutLocked()
	}
	r.mu.Unlock()

	if !found {
		return
	}
	if empty {
		r.stopHeartbeat()
	}
	r.notifyCountChange()
	log.Info().Str("module", "room").Str("room", string(r.id)).Str("client", string(id)).Msg("client removed")
}

// RestoreClients replaces membership with ghost entries from a
// snapshot: identity only, no connection, no liveness.
func (r *Room) RestoreClients(ghosts []*Client) {
	r.mu.Lock()
	r.clients = ghosts
	r.layoutLocked()
	r.mu.Unlock()
	r.notifyCountChange()
}

func (r *Room) notifyCountChange() {
	if r.onClientCountChange != nil {
		r.onClientCountChange()
	}
}

// layoutLocked redistributes every member on the circle.
func (r *Room) layoutLocked() {
	positions := spatial.LayoutInCircle(len(r.clients))
	for i, p := range positions {
		r.clients[i].Position = p
	}
}

func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Room) IsEmpty() bool { return r.ClientCount() == 0 }

// HasActiveConnections distinguishes live members from snapshot
// ghosts.
func (r *Room) HasActiveConnections() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.Conn != nil && c.Conn.Active() {
			return true
		}
	}
	return false
}

func (r *Room) Client(id domain.ClientID) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.ID == id {
			return *c, true
		}
	}
	return Client{}, false
}

func (r *Room) IsAdmin(id domain.ClientID) bool {
	c, ok := r.Client(id)
	return ok && c.IsAdmin
}

// SetAdmin flips the admin flag on a member. The caller gates who may
// issue this.
func (r *Room) SetAdmin(target domain.ClientID, isAdmin bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.ID == target {
			c.IsAdmin = isAdmin
			return true
		}
	}
	return false
}

func (r *Room) SetPermissions(p domain.PlaybackPermissions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permissions = p
}

func (r *Room) Permissions() domain.PlaybackPermissions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permissions
}

// MayControlPlayback applies the room's playback-permissions policy.
func (r *Room) MayControlPlayback(id domain.ClientID) bool {
	if r.Permissions() == domain.PermissionsEveryone {
		return true
	}
	return r.IsAdmin(id)
}

func (r *Room) AddAudioSource(source domain.AudioSource) []domain.AudioSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
	return append([]domain.AudioSource(nil), r.sources...)
}

// SetAudioSources replaces the whole list; only restore does this.
func (r *Room) SetAudioSources(sources []domain.AudioSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append([]domain.AudioSource(nil), sources...)
}

func (r *Room) AudioSources() []domain.AudioSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AudioSource(nil), r.sources...)
}

// ClientInfos is the broadcastable membership view, in room order.
func (r *Room) ClientInfos() []protocol.ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientInfosLocked()
}

func (r *Room) clientInfosLocked() []protocol.ClientInfo {
	out := make([]protocol.ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, protocol.ClientInfo{
			ClientID: string(c.ID),
			Username: c.Username,
			IsAdmin:  c.IsAdmin,
			Position: c.Position,
			RTT:      c.RTT,
		})
	}
	return out
}

// Broadcast marshals once and fans out to every member with a live
// connection. Backpressured members are skipped, not disconnected;
// the heartbeat loop reclaims truly dead ones.
func (r *Room) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "room").Str("room", string(r.id)).Msg("broadcast marshal")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.Conn == nil {
			continue
		}
		if err := c.Conn.TrySend(data); err != nil {
			log.Debug().Err(err).Str("module", "room").Str("room", string(r.id)).
				Str("client", string(c.ID)).Msg("broadcast dropped")
		}
	}
}

// Unicast sends to a single member.
func (r *Room) Unicast(id domain.ClientID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "room").Str("room", string(r.id)).Msg("unicast marshal")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.ID == id && c.Conn != nil {
			if err := c.Conn.TrySend(data); err != nil {
				log.Debug().Err(err).Str("module", "room").Str("room", string(r.id)).
					Str("client", string(c.ID)).Msg("unicast dropped")
			}
			return
		}
	}
}

// BroadcastClientChange pushes the current membership view to
// everyone.
func (r *Room) BroadcastClientChange() {
	r.Broadcast(protocol.NewClientChange(r.ClientInfos()))
}

// Shutdown tears down every room-owned timer. Connections are owned
// by the adapter and left alone.
func (r *Room) Shutdown() {
	r.cleanup.Cancel()
	r.StopSpatialAudio()
	r.stopHeartbeat()
}

// Stats is the monitoring view of a room.
type Stats struct {
	RoomID           string `json:"roomId"`
	ClientCount      int    `json:"clientCount"`
	AudioSourceCount int    `json:"audioSourceCount"`
	HasSpatialAudio  bool   `json:"hasSpatialAudio"`
}

func (r *Room) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		RoomID:           string(r.id),
		ClientCount:      len(r.clients),
		AudioSourceCount: len(r.sources),
		HasSpatialAudio:  r.orbitStop != nil,
	}
}
