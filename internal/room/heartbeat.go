package room

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
)

// MarkSeen refreshes a member's liveness timestamp and records its
// latest round-trip estimate. Called on every time-probe the client
// sends; the probe doubles as the heartbeat.
func (r *Room) MarkSeen(id domain.ClientID, rtt float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.ID == id {
			c.LastSeen = r.clock.Now()
			if rtt > 0 {
				c.RTT = rtt
			}
			return
		}
	}
}

// startHeartbeat launches the liveness sweep if it is not already
// running. The loop force-closes connections whose transport died
// without a close event: no probe within the timeout means the member
// is gone.
func (r *Room) startHeartbeat() {
	r.mu.Lock()
	if r.heartbeatStop != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.heartbeatStop = stop
	r.mu.Unlock()

	log.Info().Str("module", "room").Str("room", string(r.id)).Msg("heartbeat started")

	go func() {
		ticker := r.clock.NewTicker(r.settings.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				r.sweepStale()
			}
		}
	}()
}

func (r *Room) sweepStale() {
	now := r.clock.Now()

	r.mu.Lock()
	var stale []*Client
	for _, c := range r.clients {
		if c.Conn == nil {
			// Ghosts have no transport to time out; room cleanup
			// reclaims them.
			continue
		}
		if now.Sub(c.LastSeen) > r.settings.HeartbeatTimeout {
			stale = append(stale, c)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		log.Warn().Str("module", "room").Str("room", string(r.id)).
			Str("client", string(c.ID)).Dur("silent_for", now.Sub(c.LastSeen)).
			Msg("disconnecting stale client")
		c.Conn.Close()
		r.RemoveClient(c.ID)
	}
	if len(stale) > 0 {
		r.BroadcastClientChange()
	}
}

func (r *Room) stopHeartbeat() {
	r.mu.Lock()
	stop := r.heartbeatStop
	r.heartbeatStop = nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	log.Info().Str("module", "room").Str("room", string(r.id)).Msg("heartbeat stopped")
}
