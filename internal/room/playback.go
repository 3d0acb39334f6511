package room

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/protocol"
)

type playbackMode string

const (
	modePaused  playbackMode = "paused"
	modePlaying playbackMode = "playing"
)

// playbackState records the last scheduled transition: which source,
// the server-clock reference instant it fired at, and the track
// position at that instant. Together they let the room project the
// current track position at any later time.
type playbackState struct {
	mode                 playbackMode
	audioSource          string
	referenceInstant     int64 // epoch ms, server clock
	trackPositionSeconds float64
}

// SchedulePlay records the playing state and broadcasts a PLAY with a
// reference instant one scheduling lead in the future, so every
// member computes the same local wait.
func (r *Room) SchedulePlay(source string, trackPositionSeconds float64) int64 {
	executeAt := r.now() + r.settings.ScheduleLead.Milliseconds()

	r.mu.Lock()
	r.playback = playbackState{
		mode:                 modePlaying,
		audioSource:          source,
		referenceInstant:     executeAt,
		trackPositionSeconds: trackPositionSeconds,
	}
	r.mu.Unlock()

	r.Broadcast(protocol.NewScheduledPlay(executeAt, source, trackPositionSeconds))
	return executeAt
}

// SchedulePause is symmetric to SchedulePlay.
func (r *Room) SchedulePause(source string, trackPositionSeconds float64) int64 {
	executeAt := r.now() + r.settings.ScheduleLead.Milliseconds()

	r.mu.Lock()
	r.playback = playbackState{
		mode:                 modePaused,
		audioSource:          source,
		referenceInstant:     executeAt,
		trackPositionSeconds: trackPositionSeconds,
	}
	r.mu.Unlock()

	r.Broadcast(protocol.NewScheduledPause(executeAt, source, trackPositionSeconds))
	return executeAt
}

// SyncClient brings a late joiner up to speed. Paused rooms need
// nothing: the next scheduled action covers the client. For a playing
// room the track position is projected forward to a fresh reference
// instant, so the joiner lands mid-song where everyone else is, not
// where the track was when PLAY was issued.
func (r *Room) SyncClient(id domain.ClientID) {
	r.mu.Lock()
	pb := r.playback
	r.mu.Unlock()

	if pb.mode != modePlaying {
		return
	}

	now := r.now()
	executeAt := now + r.settings.ScheduleLead.Milliseconds()
	elapsedAtExecution := float64(executeAt-pb.referenceInstant) / 1000
	resumeAtSeconds := pb.trackPositionSeconds + elapsedAtExecution

	log.Info().Str("module", "room").Str("room", string(r.id)).Str("client", string(id)).
		Float64("resume_at_s", resumeAtSeconds).Msg("syncing late joiner")

	r.Unicast(id, protocol.NewScheduledPlay(executeAt, pb.audioSource, resumeAtSeconds))
}
