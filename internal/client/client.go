package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/protocol"
)

// Options configure one player client.
type Options struct {
	// ServerURL is the base websocket URL, e.g. ws://host:8080.
	ServerURL string
	RoomID    string
	Username  string
	Engine    Engine
	// EngineStart prepares the audio backend; run exactly once per
	// session. Nil means the engine needs no warm-up.
	EngineStart func() error
}

// Client is a supervised player connection: it joins a room, keeps the
// clock synced and executes scheduled actions, reconnecting with
// backoff when the link drops.
type Client struct {
	clock clockwork.Clock
	opts  Options
}

func New(clock clockwork.Clock, opts Options) *Client {
	return &Client{clock: clock, opts: opts}
}

// Run keeps a session alive until the context ends or the reconnect
// budget is exhausted.
func (c *Client) Run(ctx context.Context) error {
	sup := NewSupervisor(c.clock)
	return sup.Run(ctx, c.session)
}

// session dials, joins and serves one connection to completion.
// Returns nil only if the join handshake finished, so the supervisor
// can tell a working session from a failed attempt.
func (c *Client) session(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/ws?roomId=%s&username=%s",
		c.opts.ServerURL, url.QueryEscape(c.opts.RoomID), url.QueryEscape(c.opts.Username))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// conn.ReadMessage only unblocks when the socket closes, so tie
	// the socket's lifetime to the session context.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	var writeMu sync.Mutex
	send := func(req protocol.NTPRequest) error {
		data, err := protocol.EncodeClientMessage(req)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	// A stale clock-sync heartbeat cancels the session, which closes
	// the socket and frees the read loop; the supervisor dials again.
	clockSync := NewClockSync(c.clock, send, cancel)
	player := NewPlayer(c.clock, c.opts.Engine, clockSync)
	start := c.opts.EngineStart
	if start == nil {
		start = func() error { return nil }
	}
	if err := player.Init(start); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	go clockSync.Run(ctx)

	joined := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if joined {
				log.Info().Str("module", "client").Msg("session ended")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("undecodable server frame")
			continue
		}

		switch msg.Type {
		case protocol.TypeSetClientID:
			joined = true
			player.SetClientID(msg.ClientID)
			log.Info().Str("module", "client").Str("client", string(msg.ClientID)).Msg("joined room")
		case protocol.TypeNTPResponse:
			clockSync.HandleResponse(*msg.NTP)
		case protocol.TypeScheduledAction:
			act := *msg.ScheduledAction
			go func() {
				if err := player.Apply(ctx, act); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Str("module", "client").Str("action", act.Action.Type).Msg("scheduled action failed")
				}
			}()
		case protocol.TypeRoomEvent:
			log.Debug().Str("module", "client").Str("event", msg.EventType).
				Int("clients", len(msg.Clients)).Int("sources", len(msg.Sources)).Msg("room event")
		case protocol.TypeError:
			log.Warn().Str("module", "client").Str("message", msg.ErrorMessage).Msg("server error")
		}
	}
}
