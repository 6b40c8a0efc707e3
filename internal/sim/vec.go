package sim

import "math"

// Vec is a 2D vector in world units.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec) Add(o Vec) Vec {
	return Vec{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vec) Sub(o Vec) Vec {
	return Vec{X: v.X - o.X, Y: v.Y - o.Y}
}

func (v Vec) Scale(s float64) Vec {
	return Vec{X: v.X * s, Y: v.Y * s}
}

func (v Vec) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

// LerpVec blends component-wise.
func LerpVec(from, to Vec, t float64) Vec {
	return Vec{X: from.X + (to.X-from.X)*t, Y: from.Y + (to.Y-from.Y)*t}
}

// Within returns a rollback predicate that tolerates eps of drift.
func Within(eps float64) func(predicted, confirmed Vec) bool {
	return func(predicted, confirmed Vec) bool {
		return predicted.Sub(confirmed).Len() > eps
	}
}
