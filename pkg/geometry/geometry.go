// Package geometry provides the pixel-space math used by the safety checks:
// rectangle intersection and expansion, repulsion vectors and annulus sampling.
// All functions are pure.
package geometry

import (
	"math"
	"math/rand/v2"
)

// Point is a position in camera pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle [X1,Y1,X2,Y2] in pixel coordinates.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the rectangle's center point.
func (r Rect) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// Width returns X2-X1.
func (r Rect) Width() float64 { return r.X2 - r.X1 }

// Height returns Y2-Y1.
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// Contains reports whether p lies inside r. Points on the border count.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X1 && p.X <= r.X2 && p.Y >= r.Y1 && p.Y <= r.Y2
}

// Clamp returns p moved into r.
func (r Rect) Clamp(p Point) Point {
	return Point{X: clamp(p.X, r.X1, r.X2), Y: clamp(p.Y, r.Y1, r.Y2)}
}

// RectAround returns the square of half-size radius centred on p.
func RectAround(p Point, radius float64) Rect {
	return Rect{X1: p.X - radius, Y1: p.Y - radius, X2: p.X + radius, Y2: p.Y + radius}
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Intersects reports whether a and b overlap. Touching edges count as
// overlapping, which errs on the side of calling the laser unsafe.
func Intersects(a, b Rect) bool {
	if a.X2 < b.X1 || b.X2 < a.X1 {
		return false
	}
	if a.Y2 < b.Y1 || b.Y2 < a.Y1 {
		return false
	}
	return true
}

// Expand grows r by margin on every side. The result is not clipped to the
// frame, so negative coordinates are possible.
func Expand(r Rect, margin float64) Rect {
	return Rect{X1: r.X1 - margin, Y1: r.Y1 - margin, X2: r.X2 + margin, Y2: r.Y2 + margin}
}

// RepulsionTarget returns the point on the ray from the subject's center
// through p, pushed safeDist beyond p. When p sits exactly on the center a
// fixed diagonal direction is used.
func RepulsionTarget(subject Rect, p Point, safeDist float64) Point {
	c := subject.Center()
	dx, dy := p.X-c.X, p.Y-c.Y
	n := math.Hypot(dx, dy)
	if n == 0 {
		dx, dy, n = math.Sqrt2/2, math.Sqrt2/2, 1
	}
	return Point{X: p.X + dx/n*safeDist, Y: p.Y + dy/n*safeDist}
}

// SampleAnnulus draws a point uniformly by area from the ring between rMin
// and rMax around center, then clamps it into bounds. An empty bounds
// rectangle disables clamping.
func SampleAnnulus(rng *rand.Rand, center Point, rMin, rMax float64, bounds Rect) Point {
	if rMin > rMax {
		rMin, rMax = rMax, rMin
	}
	u := rng.Float64()
	r := math.Sqrt(u*(rMax*rMax-rMin*rMin) + rMin*rMin)
	theta := rng.Float64() * 2 * math.Pi

	p := Point{X: center.X + r*math.Cos(theta), Y: center.Y + r*math.Sin(theta)}
	if bounds.Empty() {
		return p
	}
	return bounds.Clamp(p)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
