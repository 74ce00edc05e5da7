// internal/browser/humanoid/vector.go
package humanoid

import "math"

// Vec2 is a point or displacement in page coordinates (CSS pixels).
type Vec2 struct {
	X float64
	Y float64
}

func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{v.X + o.X, v.Y + o.Y}
}

func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{v.X - o.X, v.Y - o.Y}
}

func (v Vec2) Scale(s float64) Vec2 {
	return Vec2{v.X * s, v.Y * s}
}

func (v Vec2) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

func (v Vec2) Dist(o Vec2) float64 {
	return o.Sub(v).Len()
}

// Unit returns the direction of v, or the zero vector when v is too
// short to normalize safely.
func (v Vec2) Unit() Vec2 {
	l := v.Len()
	if l < 1e-9 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// perp returns the counter-clockwise perpendicular.
func (v Vec2) perp() Vec2 {
	return Vec2{-v.Y, v.X}
}

func lerp(a, b Vec2, t float64) Vec2 {
	return Vec2{a.X + (b.X-a.X)*t, a.Y + (b.Y-a.Y)*t}
}
