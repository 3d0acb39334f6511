package spatial

import (
	"math"
	"testing"

	"github.com/dkeye/chorus/internal/domain"
)

func TestGainAtZeroDistanceIsMax(t *testing.T) {
	sources := []domain.Position{
		{X: 0, Y: 0},
		{X: 50, Y: 50},
		{X: 100, Y: 100},
		{X: 13.7, Y: 91.2},
	}
	for _, src := range sources {
		if g := Gain(src, src); g != MaxGain {
			t.Fatalf("gain at zero distance from (%v,%v) = %v, want %v", src.X, src.Y, g, MaxGain)
		}
	}
}

func TestGainDirectionSymmetry(t *testing.T) {
	source := domain.Position{X: 50, Y: 50}
	const d = 10.0
	diag := d / math.Sqrt2
	offsets := []domain.Position{
		{X: d, Y: 0}, {X: -d, Y: 0}, {X: 0, Y: d}, {X: 0, Y: -d},
		{X: diag, Y: diag}, {X: diag, Y: -diag}, {X: -diag, Y: diag}, {X: -diag, Y: -diag},
	}
	want := Gain(domain.Position{X: source.X + d, Y: source.Y}, source)
	for _, off := range offsets {
		client := domain.Position{X: source.X + off.X, Y: source.Y + off.Y}
		got := Gain(client, source)
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("gain at offset (%v,%v) = %v, want %v", off.X, off.Y, got, want)
		}
	}
}

func TestGainMonotoneNonIncreasing(t *testing.T) {
	source := domain.Position{X: 0, Y: 0}
	prev := math.Inf(1)
	for d := 0.0; d <= 200; d += 0.5 {
		g := Gain(domain.Position{X: d, Y: 0}, source)
		if g > prev {
			t.Fatalf("gain increased with distance: %v -> %v at d=%v", prev, g, d)
		}
		if g < 0 {
			t.Fatalf("gain went negative at d=%v: %v", d, g)
		}
		prev = g
	}
}

func TestGainClampsAtMinForLargeDistance(t *testing.T) {
	source := domain.Position{X: 0, Y: 0}
	for _, d := range []float64{100, 1000, 1e6} {
		if g := Gain(domain.Position{X: d, Y: 0}, source); g != MinGain {
			t.Fatalf("gain at d=%v = %v, want clamp to %v", d, g, MinGain)
		}
	}
}

func TestLayoutSingleClientCentered(t *testing.T) {
	got := LayoutInCircle(1)
	if len(got) != 1 {
		t.Fatalf("expected 1 position, got %d", len(got))
	}
	want := CenterStage()
	if got[0] != want {
		t.Fatalf("single client at %+v, want %+v", got[0], want)
	}
}

func TestLayoutCircleRadiusAndSpread(t *testing.T) {
	const n = 6
	positions := LayoutInCircle(n)
	if len(positions) != n {
		t.Fatalf("expected %d positions, got %d", n, len(positions))
	}
	for i, p := range positions {
		dx := p.X - domain.GridOriginX
		dy := p.Y - domain.GridOriginY
		r := math.Sqrt(dx*dx + dy*dy)
		if math.Abs(r-domain.GridClientRadius) > 1e-9 {
			t.Fatalf("client %d at radius %v, want %v", i, r, domain.GridClientRadius)
		}
	}
	// First client sits at the top of the circle.
	if math.Abs(positions[0].X-domain.GridOriginX) > 1e-9 ||
		math.Abs(positions[0].Y-(domain.GridOriginY-domain.GridClientRadius)) > 1e-9 {
		t.Fatalf("first client at %+v, want top of circle", positions[0])
	}
}

func TestOrbitPositionStaysOnCircle(t *testing.T) {
	for tick := 0; tick < 120; tick++ {
		p := OrbitPosition(tick)
		dx := p.X - domain.GridOriginX
		dy := p.Y - domain.GridOriginY
		r := math.Sqrt(dx*dx + dy*dy)
		if math.Abs(r-domain.GridClientRadius) > 1e-9 {
			t.Fatalf("orbit tick %d leaves circle: radius %v", tick, r)
		}
	}
}
