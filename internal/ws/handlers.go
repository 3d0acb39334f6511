package ws

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/protocol"
	"github.com/dkeye/chorus/internal/room"
)

func jsonMarshal(v any) ([]byte, error) { return json.Marshal(v) }

// dispatch decodes one frame and routes it. Malformed frames get a
// generic error reply and the connection stays open; precondition
// failures (unknown room, missing privileges) drop the action with a
// log line and no reply.
func (ctl *Controller) dispatch(sess *session, data []byte, t1 int64) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("room", string(sess.roomID)).
			Str("client", string(sess.clientID)).Msg("rejected message")
		ctl.unicast(sess, protocol.NewError("invalid message format"))
		return
	}

	r, ok := ctl.Rooms.Get(sess.roomID)
	if !ok {
		log.Warn().Str("module", "ws").Str("room", string(sess.roomID)).Msg("message for unknown room dropped")
		return
	}

	switch m := msg.(type) {
	case protocol.NTPRequest:
		ctl.handleTimeProbe(sess, r, m, t1)
	case protocol.Play:
		if !r.MayControlPlayback(sess.clientID) {
			ctl.dropUnprivileged(sess, protocol.TypePlay)
			return
		}
		r.SchedulePlay(m.AudioSource, m.TrackTimeSeconds)
	case protocol.Pause:
		if !r.MayControlPlayback(sess.clientID) {
			ctl.dropUnprivileged(sess, protocol.TypePause)
			return
		}
		r.SchedulePause(m.AudioSource, m.TrackTimeSeconds)
	case protocol.StartSpatialAudio:
		r.StartSpatialAudio()
	case protocol.StopSpatialAudio:
		r.StopSpatialAudio()
	case protocol.ReorderClient:
		r.ReorderClient(domain.ClientID(m.ClientID))
		r.BroadcastClientChange()
	case protocol.SetListeningSource:
		r.SetListeningSource(domain.Position{X: m.X, Y: m.Y})
	case protocol.MoveClient:
		if !r.MoveClient(domain.ClientID(m.ClientID), m.Position) {
			log.Warn().Str("module", "ws").Str("room", string(sess.roomID)).
				Str("target", m.ClientID).Msg("move for unknown client dropped")
		}
	case protocol.Sync:
		r.SyncClient(sess.clientID)
	case protocol.SetAdmin:
		if !r.IsAdmin(sess.clientID) {
			ctl.dropUnprivileged(sess, protocol.TypeSetAdmin)
			return
		}
		if r.SetAdmin(domain.ClientID(m.ClientID), m.IsAdmin) {
			r.BroadcastClientChange()
		}
	case protocol.SetPlaybackControls:
		if !r.IsAdmin(sess.clientID) {
			ctl.dropUnprivileged(sess, protocol.TypeSetPlaybackControls)
			return
		}
		r.SetPermissions(m.Permissions)
	}
}

// handleTimeProbe answers a two-way time-transfer request. The reply
// echoes the client's send time, carries the receive time stamped by
// the read loop, and takes the send time as late as possible.
func (ctl *Controller) handleTimeProbe(sess *session, r *room.Room, m protocol.NTPRequest, t1 int64) {
	r.MarkSeen(sess.clientID, m.RTT)
	t2 := domain.EpochMillis(ctl.Clock.Now())
	ctl.unicast(sess, protocol.NewNTPResponse(m.T0, t1, t2))
}

func (ctl *Controller) dropUnprivileged(sess *session, action string) {
	log.Warn().Str("module", "ws").Str("room", string(sess.roomID)).
		Str("client", string(sess.clientID)).Str("action", action).
		Msg("unprivileged action dropped")
}
