// Package spatial holds the pure geometry of a room: the
// distance-to-gain model and the circle layout of clients.
package spatial

import (
	"math"

	"github.com/dkeye/chorus/internal/domain"
)

// Default gain model parameters. Quadratic falloff, saturating at
// MinGain beyond a fixed radius.
const (
	Falloff  = 0.001
	MinGain  = 0.15
	MaxGain  = 1.0
	RampTime = 0.25
)

func distance(a, b domain.Position) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Gain maps a listener/source pair to a playback gain. Symmetric in
// direction, monotonically non-increasing in distance, MaxGain at
// zero distance, never below MinGain.
func Gain(client, source domain.Position) float64 {
	d := distance(client, source)
	g := MaxGain - Falloff*d*d
	if g < MinGain {
		return MinGain
	}
	if g > MaxGain {
		return MaxGain
	}
	return g
}
