package room

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/protocol"
	"github.com/dkeye/chorus/internal/spatial"
)

// MoveClient relocates one member and re-broadcasts gains.
func (r *Room) MoveClient(id domain.ClientID, pos domain.Position) bool {
	r.mu.Lock()
	moved := false
	for _, c := range r.clients {
		if c.ID == id {
			c.Position = pos
			moved = true
			break
		}
	}
	r.mu.Unlock()

	if moved {
		r.broadcastGains()
	}
	return moved
}

// ReorderClient moves a member to the front, relays everyone out on
// the circle again and re-broadcasts gains. Returns the new view.
func (r *Room) ReorderClient(id domain.ClientID) []protocol.ClientInfo {
	r.mu.Lock()
	for i, c := range r.clients {
		if c.ID == id {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			r.clients = append([]*Client{c}, r.clients...)
			r.layoutLocked()
			break
		}
	}
	infos := r.clientInfosLocked()
	r.mu.Unlock()

	r.broadcastGains()
	return infos
}

// SetListeningSource moves the virtual listener and re-broadcasts
// gains.
func (r *Room) SetListeningSource(pos domain.Position) {
	r.mu.Lock()
	r.listeningSource = pos
	r.mu.Unlock()
	r.broadcastGains()
}

func (r *Room) ListeningSource() domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeningSource
}

// gainsLocked computes per-member gain against the current listening
// source.
func (r *Room) gainsLocked() map[string]protocol.GainSetting {
	gains := make(map[string]protocol.GainSetting, len(r.clients))
	for _, c := range r.clients {
		gains[string(c.ID)] = protocol.GainSetting{
			Gain:     spatial.Gain(c.Position, r.listeningSource),
			RampTime: spatial.RampTime,
		}
	}
	return gains
}

// broadcastGains pushes a SPATIAL_CONFIG executing immediately. The
// ramp time keeps the audible change smooth even without a lead.
func (r *Room) broadcastGains() {
	r.mu.Lock()
	source := r.listeningSource
	gains := r.gainsLocked()
	r.mu.Unlock()

	r.Broadcast(protocol.NewSpatialConfig(r.now(), source, gains))
}

// StartSpatialAudio begins the orbit loop: the listening source
// circles the grid origin, gains re-broadcast every tick. Idempotent.
func (r *Room) StartSpatialAudio() {
	r.mu.Lock()
	if r.orbitStop != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.orbitStop = stop
	r.mu.Unlock()

	log.Info().Str("module", "room").Str("room", string(r.id)).Msg("spatial orbit started")

	go func() {
		ticker := r.clock.NewTicker(r.settings.OrbitTick)
		defer ticker.Stop()
		tick := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				r.mu.Lock()
				if len(r.clients) == 0 {
					r.mu.Unlock()
					continue
				}
				r.listeningSource = spatial.OrbitPosition(tick)
				source := r.listeningSource
				gains := r.gainsLocked()
				r.mu.Unlock()

				executeAt := r.now() + r.settings.ScheduleLead.Milliseconds()
				r.Broadcast(protocol.NewSpatialConfig(executeAt, source, gains))
				tick++
			}
		}
	}()
}

// StopSpatialAudio halts the orbit loop and tells clients to drop
// their spatial gains. Safe to call when not running.
func (r *Room) StopSpatialAudio() {
	r.mu.Lock()
	stop := r.orbitStop
	r.orbitStop = nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	log.Info().Str("module", "room").Str("room", string(r.id)).Msg("spatial orbit stopped")

	r.Broadcast(protocol.NewStopSpatial(r.now() + r.settings.ScheduleLead.Milliseconds()))
}

// SpatialActive reports whether the orbit loop is running.
func (r *Room) SpatialActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orbitStop != nil
}
