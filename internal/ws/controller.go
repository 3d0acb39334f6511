package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/protocol"
	"github.com/dkeye/chorus/internal/room"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	joinLimit  = 10
	joinWindow = 10 * time.Second
)

// Controller accepts websocket joins and routes client messages into
// the room layer.
type Controller struct {
	Rooms *room.Registry
	Clock clockwork.Clock
	joins *joinLimiter
}

func NewController(rooms *room.Registry, clock clockwork.Clock) *Controller {
	return &Controller{
		Rooms: rooms,
		Clock: clock,
		joins: newJoinLimiter(clock, joinLimit, joinWindow),
	}
}

// session is the per-connection context: which client on which room.
type session struct {
	roomID   domain.RoomID
	clientID domain.ClientID
	username string
	conn     *Conn
}

// HandleJoin upgrades the request and admits the client to its room.
// roomId and username are required query parameters.
func (ctl *Controller) HandleJoin(ctx context.Context, c *gin.Context) {
	roomID := c.Query("roomId")
	username := c.Query("username")
	if err := domain.ValidateRoomID(roomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId and username are required"})
		return
	}
	if err := domain.ValidateUsername(username); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId and username are required"})
		return
	}
	if !ctl.joins.allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many join attempts"})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}

	sess := &session{
		roomID:   domain.RoomID(roomID),
		clientID: domain.ClientID(uuid.NewString()),
		username: username,
		conn:     newConn(wsConn),
	}

	log.Info().Str("module", "ws").Str("room", roomID).Str("username", username).
		Str("client", string(sess.clientID)).Msg("client connected")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sess.conn.writePump(ctx)
		cancel()
	}()
	go func() {
		ctl.readPump(ctx, sess)
		cancel()
	}()

	ctl.open(sess)
}

// open runs the join sequence: hand the client its id, admit it to
// the room, replay the room's audio sources and announce the change.
func (ctl *Controller) open(sess *session) {
	r := ctl.Rooms.GetOrCreate(sess.roomID)

	ctl.unicast(sess, protocol.NewSetClientID(sess.clientID))

	r.AddClient(sess.clientID, sess.username, sess.conn)

	if sources := r.AudioSources(); len(sources) > 0 {
		ctl.unicast(sess, protocol.NewSetAudioSources(sources))
	}

	r.BroadcastClientChange()
}

// close tears the session down and considers room cleanup.
func (ctl *Controller) close(sess *session) {
	sess.conn.Close()

	r, ok := ctl.Rooms.Get(sess.roomID)
	if !ok {
		return
	}
	r.RemoveClient(sess.clientID)

	if !r.HasActiveConnections() {
		r.StopSpatialAudio()
		ctl.Rooms.ScheduleCleanup(sess.roomID)
	}

	r.BroadcastClientChange()
}

func (ctl *Controller) readPump(ctx context.Context, sess *session) {
	defer func() {
		log.Info().Str("module", "ws").Str("room", string(sess.roomID)).
			Str("client", string(sess.clientID)).Msg("client disconnected")
		ctl.close(sess)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := sess.conn.ws.ReadMessage()
			if err != nil {
				return
			}
			// Receive timestamp for time probes, taken before any
			// decoding so queueing delays don't pollute it.
			t1 := domain.EpochMillis(ctl.Clock.Now())
			ctl.dispatch(sess, data, t1)
		}
	}
}

func (ctl *Controller) unicast(sess *session, v any) {
	data, err := jsonMarshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("unicast marshal")
		return
	}
	if err := sess.conn.TrySend(data); err != nil {
		log.Debug().Err(err).Str("module", "ws").Str("client", string(sess.clientID)).Msg("unicast dropped")
	}
}
