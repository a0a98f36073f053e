// Package detection provides subject detections in camera pixel space and
// the backends that produce them.
package detection

import (
	"errors"
	"fmt"
	"math"

	"github.com/teslashibe/go-catlaser/pkg/geometry"
)

// ErrInvalidBox is returned for inverted, empty or non-finite boxes.
var ErrInvalidBox = errors.New("detection: invalid bounding box")

// BoundingBox is a detected subject in pixel coordinates with X1<X2, Y1<Y2.
type BoundingBox struct {
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	Label string  `json:"label,omitempty"`
	Score float64 `json:"score"`
}

// NewBoundingBox builds a box from corner coordinates.
func NewBoundingBox(x1, y1, x2, y2 float64) (BoundingBox, error) {
	b := BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2, Score: 1}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// FromXYWH builds a box from its top-left corner and size.
func FromXYWH(x, y, w, h float64) (BoundingBox, error) {
	return NewBoundingBox(x, y, x+w, y+h)
}

// Validate checks the ordering and finiteness invariants.
func (b BoundingBox) Validate() error {
	for _, v := range [...]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBox)
		}
	}
	if b.X1 >= b.X2 || b.Y1 >= b.Y2 {
		return fmt.Errorf("%w: [%g,%g,%g,%g] is inverted or empty", ErrInvalidBox, b.X1, b.Y1, b.X2, b.Y2)
	}
	return nil
}

// Rect returns the box as a geometry rectangle.
func (b BoundingBox) Rect() geometry.Rect {
	return geometry.Rect{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2}
}

// Center returns the center of the box.
func (b BoundingBox) Center() geometry.Point {
	return b.Rect().Center()
}

// Area returns the box area in square pixels.
func (b BoundingBox) Area() float64 {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Rects converts boxes to rectangles.
func Rects(boxes []BoundingBox) []geometry.Rect {
	out := make([]geometry.Rect, len(boxes))
	for i, b := range boxes {
		out[i] = b.Rect()
	}
	return out
}
