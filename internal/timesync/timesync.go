// Package timesync implements the two-way time-transfer estimator
// that lets a client agree with the server on when "now" is, and the
// translation of server-clock instants into local wait durations.
package timesync

import (
	"sort"
	"time"
)

// Measurement is one completed two-way exchange. All timestamps are
// epoch milliseconds; t0/t3 are client clock, t1/t2 server clock.
type Measurement struct {
	T0 int64
	T1 int64
	T2 int64
	T3 int64

	RoundTripDelay float64
	ClockOffset    float64
}

// NewMeasurement derives offset and round-trip delay from the four
// timestamps of an exchange.
func NewMeasurement(t0, t1, t2, t3 int64) Measurement {
	return Measurement{
		T0:             t0,
		T1:             t1,
		T2:             t2,
		T3:             t3,
		ClockOffset:    (float64(t1-t0) + float64(t2-t3)) / 2,
		RoundTripDelay: float64(t3-t0) - float64(t2-t1),
	}
}

// Window is a fixed-capacity FIFO of measurements. Once full, every
// insert evicts the oldest entry.
type Window struct {
	capacity int
	entries  []Measurement
	filled   bool
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{capacity: capacity, entries: make([]Measurement, 0, capacity)}
}

func (w *Window) Push(m Measurement) {
	if len(w.entries) == w.capacity {
		copy(w.entries, w.entries[1:])
		w.entries[len(w.entries)-1] = m
		return
	}
	w.entries = append(w.entries, m)
	if len(w.entries) == w.capacity {
		w.filled = true
	}
}

func (w *Window) Len() int { return len(w.entries) }

// Full reports whether the window has ever reached capacity. It
// latches: eviction keeps the window full.
func (w *Window) Full() bool { return w.filled }

// Measurements returns a copy of the held entries, oldest first.
func (w *Window) Measurements() []Measurement {
	return append([]Measurement(nil), w.entries...)
}

// Estimate summarizes a set of measurements.
type Estimate struct {
	AverageOffset    float64
	AverageRoundTrip float64
}

// Estimates computes the rolling estimate: round-trip is averaged
// over every measurement, but the offset only over the lower half by
// round-trip delay. High-delay exchanges are dominated by transient
// network jitter and would drag the offset around.
func (w *Window) Estimates() (Estimate, bool) {
	n := len(w.entries)
	if n == 0 {
		return Estimate{}, false
	}

	var totalRTT float64
	for _, m := range w.entries {
		totalRTT += m.RoundTripDelay
	}

	best := append([]Measurement(nil), w.entries...)
	sort.SliceStable(best, func(i, j int) bool {
		return best[i].RoundTripDelay < best[j].RoundTripDelay
	})
	half := (n + 1) / 2
	best = best[:half]

	var totalOffset float64
	for _, m := range best {
		totalOffset += m.ClockOffset
	}

	return Estimate{
		AverageOffset:    totalOffset / float64(half),
		AverageRoundTrip: totalRTT / float64(n),
	}, true
}

// WaitDuration translates an absolute server-clock instant into a
// local wait given the current offset estimate. Never negative: an
// already-due action fires immediately.
func WaitDuration(targetServerMillis int64, offsetMillis float64, localNow time.Time) time.Duration {
	estimatedServerNow := float64(localNow.UnixMilli()) + offsetMillis
	waitMillis := float64(targetServerMillis) - estimatedServerNow
	if waitMillis <= 0 {
		return 0
	}
	return time.Duration(waitMillis * float64(time.Millisecond))
}
