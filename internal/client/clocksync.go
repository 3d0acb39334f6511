// Package client implements the player side: clock synchronisation
// against the server, scheduled-action execution and a supervised
// websocket connection that survives drops.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/protocol"
	"github.com/dkeye/chorus/internal/timesync"
)

// SendFunc transmits one probe to the server.
type SendFunc func(protocol.NTPRequest) error

// ClockSync keeps a rolling estimate of the server clock offset by
// probing over the live connection. Probes go out rapidly until the
// measurement window fills, then settle to a slow cadence where each
// probe doubles as a heartbeat. Each reply echoes its own t0, so a
// measurement is derived from the reply alone and replies arriving
// after later probes have gone out still count. The connection is
// stale once the oldest unanswered probe exceeds the response timeout.
type ClockSync struct {
	clock   clockwork.Clock
	send    SendFunc
	onStale func()

	mu     sync.Mutex
	window *timesync.Window
	// unanswered is the send time of the oldest probe still waiting
	// for a reply; zero while everything sent has been answered.
	unanswered time.Time
	estimate   timesync.Estimate
	hasEst     bool
}

func NewClockSync(clock clockwork.Clock, send SendFunc, onStale func()) *ClockSync {
	return &ClockSync{
		clock:   clock,
		send:    send,
		onStale: onStale,
		window:  timesync.NewWindow(domain.ProbeWindowSize),
	}
}

// Run drives the probe loop until the context ends or the connection
// goes stale.
func (s *ClockSync) Run(ctx context.Context) {
	for {
		if !s.probe() {
			if s.onStale != nil {
				s.onStale()
			}
			return
		}

		timer := s.clock.NewTimer(s.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
	}
}

func (s *ClockSync) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window.Full() {
		return domain.ProbeSteadyInterval
	}
	return domain.ProbeInitialInterval
}

// probe sends the next request. Returns false when the oldest
// unanswered probe has gone without a reply past the timeout.
func (s *ClockSync) probe() bool {
	s.mu.Lock()
	now := s.clock.Now()
	if !s.unanswered.IsZero() && now.Sub(s.unanswered) >= domain.ProbeResponseTimeout {
		s.mu.Unlock()
		log.Warn().Str("module", "client.sync").Msg("probe timed out, connection stale")
		return false
	}
	req := protocol.NTPRequest{T0: domain.EpochMillis(now)}
	if s.hasEst {
		req.RTT = s.estimate.AverageRoundTrip
	}
	if s.unanswered.IsZero() {
		s.unanswered = now
	}
	s.mu.Unlock()

	if err := s.send(req); err != nil {
		log.Warn().Err(err).Str("module", "client.sync").Msg("probe send failed")
		return false
	}
	return true
}

// HandleResponse folds a server reply into the window. The reply
// carries its own t0, so it is accepted even when newer probes are
// already in flight; only replies older than the response timeout (or
// stamped in the future) are dropped.
func (s *ClockSync) HandleResponse(resp protocol.NTPResponse) {
	t3 := domain.EpochMillis(s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	age := t3 - resp.T0
	if age < 0 || age >= domain.ProbeResponseTimeout.Milliseconds() {
		log.Debug().Str("module", "client.sync").Int64("t0", resp.T0).Msg("expired probe reply dropped")
		return
	}
	s.unanswered = time.Time{}
	s.window.Push(timesync.NewMeasurement(resp.T0, resp.T1, resp.T2, t3))
	if est, ok := s.window.Estimates(); ok {
		s.estimate = est
		s.hasEst = true
	}
}

// Estimate returns the current offset/round-trip estimate; false until
// the first measurement lands.
func (s *ClockSync) Estimate() (timesync.Estimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimate, s.hasEst
}

// Synced reports whether the measurement window has filled at least
// once, meaning the estimate is trustworthy enough to schedule audio.
func (s *ClockSync) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Full()
}

// WaitFor converts an absolute server-clock deadline into a local
// wait using the current offset estimate.
func (s *ClockSync) WaitFor(serverMillis int64) time.Duration {
	s.mu.Lock()
	offset := s.estimate.AverageOffset
	s.mu.Unlock()
	return timesync.WaitDuration(serverMillis, offset, s.clock.Now())
}
