package model

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Vec2 is a point or displacement in the simulation plane.
type Vec2 struct {
	X, Y float64
}

// Point converts v to an orb point.
func (v Vec2) Point() orb.Point { return orb.Point{v.X, v.Y} }

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale returns v * k.
func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }

// Len returns the Euclidean norm of the vector.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Distance returns the straight-line distance between two points.
func (v Vec2) Distance(o Vec2) float64 { return planar.Distance(v.Point(), o.Point()) }

// ClampLen returns v scaled down so its magnitude does not exceed max.
func (v Vec2) ClampLen(max float64) Vec2 {
	l := v.Len()
	if l <= max || l == 0 {
		return v
	}
	return v.Scale(max / l)
}

// Bounds is the half-open rectangle [0, Width) x [0, Height).
type Bounds struct {
	Width, Height float64
}

// Contains reports whether p lies inside the bounds.
func (b Bounds) Contains(p Vec2) bool {
	return p.X >= 0 && p.X < b.Width && p.Y >= 0 && p.Y < b.Height
}

// Bound returns the closed orb rectangle covering the domain.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{b.Width, b.Height}}
}
