package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Reconnect policy: exponential growth from one second, capped, with
// random jitter so a fleet of dropped clients does not stampede the
// server in lockstep.
const (
	reconnectBaseDelay    = time.Second
	reconnectMaxDelay     = 10 * time.Second
	reconnectGrowthFactor = 1.1
	reconnectJitterFrac   = 0.15
	maxReconnectAttempts  = 15
)

var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// Supervisor runs a connection function and restarts it with backoff
// when it fails. A successful session resets the attempt counter.
type Supervisor struct {
	clock  clockwork.Clock
	jitter func() float64
}

func NewSupervisor(clock clockwork.Clock) *Supervisor {
	return &Supervisor{clock: clock, jitter: rand.Float64}
}

// ReconnectDelay computes the wait before attempt k (1-based).
func (s *Supervisor) ReconnectDelay(attempt int) time.Duration {
	base := float64(reconnectBaseDelay) * math.Pow(reconnectGrowthFactor, float64(attempt-1))
	base = math.Min(base, float64(reconnectMaxDelay))
	return time.Duration(base + s.jitter()*reconnectJitterFrac*base)
}

// Run invokes connect until the context ends or the retry budget runs
// out. connect blocks for the lifetime of a session; returning nil
// means the session was established and later ended, which resets the
// backoff. Returning an error counts as a failed attempt.
func (s *Supervisor) Run(ctx context.Context, connect func(context.Context) error) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := connect(ctx)
		if err == nil {
			attempt = 0
		} else {
			attempt++
			if attempt >= maxReconnectAttempts {
				log.Error().Err(err).Str("module", "client.supervisor").
					Int("attempts", attempt).Msg("giving up")
				return ErrRetriesExhausted
			}
			log.Warn().Err(err).Str("module", "client.supervisor").
				Int("attempt", attempt).Msg("connection failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.ReconnectDelay(attempt + 1)
		log.Info().Str("module", "client.supervisor").Dur("delay", delay).Msg("reconnecting")
		timer := s.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
	}
}
