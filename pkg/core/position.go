package core

import "math"

// Position is a point in world units.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the euclidean distance between p and o.
func (p Position) DistanceTo(o Position) float64 {
	return math.Hypot(o.X-p.X, o.Y-p.Y)
}

// TargetPosition is a movement destination stamped with the time it was chosen.
type TargetPosition struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"` // epoch millis
}

// Position drops the timestamp.
func (t TargetPosition) Position() Position {
	return Position{X: t.X, Y: t.Y}
}
