package spatial

import (
	"math"

	"github.com/dkeye/chorus/internal/domain"
)

// CenterStage is where a lone client sits: slightly above the grid
// origin so the listening source at the origin is not on top of it.
func CenterStage() domain.Position {
	return domain.Position{X: domain.GridOriginX, Y: domain.GridOriginY - 25}
}

// LayoutInCircle returns one position per client, evenly distributed
// on a circle of GridClientRadius around the grid origin, starting at
// the top. A single client is centered instead. Order is preserved:
// positions[i] belongs to the i-th client.
func LayoutInCircle(count int) []domain.Position {
	if count <= 0 {
		return nil
	}
	if count == 1 {
		return []domain.Position{CenterStage()}
	}
	out := make([]domain.Position, count)
	for i := range out {
		angle := (float64(i)/float64(count))*2*math.Pi - math.Pi/2
		out[i] = domain.Position{
			X: domain.GridOriginX + domain.GridClientRadius*math.Cos(angle),
			Y: domain.GridOriginY + domain.GridClientRadius*math.Sin(angle),
		}
	}
	return out
}

// OrbitPosition places the listening source on a slowly rotating
// circle around the origin; tick is the number of orbit steps taken
// so far.
func OrbitPosition(tick int) domain.Position {
	angle := float64(tick) * math.Pi / 30
	return domain.Position{
		X: domain.GridOriginX + domain.GridClientRadius*math.Cos(angle),
		Y: domain.GridOriginY + domain.GridClientRadius*math.Sin(angle),
	}
}
