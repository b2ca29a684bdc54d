package geo

import (
	"github.com/peterstace/simplefeatures/geom"

	"github.com/shardfall/shardfall/pkg/core"
)

func toXY(p core.Position) geom.XY {
	return geom.XY{X: p.X, Y: p.Y}
}

func fromXY(xy geom.XY) core.Position {
	return core.Position{X: xy.X, Y: xy.Y}
}

// Step moves from toward to by at most maxStep units and returns the new position
// together with the distance still left. It never overshoots to.
func Step(from, to core.Position, maxStep float64) (core.Position, float64) {
	delta := toXY(to).Sub(toXY(from))
	dist := delta.Length()
	if dist <= maxStep || dist == 0 {
		return to, 0
	}
	next := toXY(from).Add(delta.Scale(maxStep / dist))
	return fromXY(next), dist - maxStep
}

// Within reports whether a and b are no more than r apart.
func Within(a, b core.Position, r float64) bool {
	return toXY(a).Sub(toXY(b)).Length() <= r
}
