package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/protocol"
	"github.com/dkeye/chorus/internal/spatial"
)

// Engine is the audio backend the player drives. Implementations wrap
// whatever can actually make sound on the platform.
type Engine interface {
	Play(source string, trackTimeSeconds float64) error
	Pause() error
	SetGain(gain, rampTime float64) error
}

// Player executes scheduled actions at their server-clock deadline,
// translated to local time through the clock-sync estimate.
type Player struct {
	clock  clockwork.Clock
	engine Engine
	sync   *ClockSync

	initMu sync.Mutex

	mu       sync.Mutex
	ready    bool
	clientID domain.ClientID
}

func NewPlayer(clock clockwork.Clock, engine Engine, sync *ClockSync) *Player {
	return &Player{clock: clock, engine: engine, sync: sync}
}

// Init runs the engine start routine under an exclusive lock. Audio
// backends must not be started twice, so concurrent triggers collapse
// to one winner and the losers wait for its outcome instead of
// re-running the setup. A failed start leaves the player uninitialised
// and a later call may try again.
func (p *Player) Init(start func() error) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.Ready() {
		return nil
	}

	err := start()

	p.mu.Lock()
	p.ready = err == nil
	p.mu.Unlock()
	return err
}

func (p *Player) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// SetClientID tells the player which gain entry in spatial configs is
// its own.
func (p *Player) SetClientID(id domain.ClientID) {
	p.mu.Lock()
	p.clientID = id
	p.mu.Unlock()
}

// Apply waits out the action's deadline on the local clock and then
// drives the engine. A deadline already in the past executes
// immediately.
func (p *Player) Apply(ctx context.Context, act protocol.ScheduledAction) error {
	if !p.Ready() {
		return fmt.Errorf("player not initialised")
	}

	wait := p.sync.WaitFor(act.ServerTimeToExecute)
	if wait > 0 {
		timer := p.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
	}

	switch act.Action.Type {
	case protocol.ActionPlay:
		return p.engine.Play(act.Action.AudioSource, act.Action.TrackTimeSeconds)
	case protocol.ActionPause:
		return p.engine.Pause()
	case protocol.ActionSpatialConfig:
		p.mu.Lock()
		id := p.clientID
		p.mu.Unlock()
		setting, ok := act.Action.Gains[string(id)]
		if !ok {
			log.Debug().Str("module", "client.player").Msg("spatial config without entry for this client")
			return nil
		}
		return p.engine.SetGain(setting.Gain, setting.RampTime)
	case protocol.ActionStopSpatial:
		return p.engine.SetGain(spatial.MaxGain, spatial.RampTime)
	default:
		return fmt.Errorf("unknown scheduled action %q", act.Action.Type)
	}
}
