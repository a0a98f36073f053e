// Package safety decides whether the laser's predicted footprint is clear of
// every detected subject.
//
// The laser footprint is the square [x-r, y-r, x+r, y+r] around the predicted
// ROI center. Each detection is padded by the danger margin; any overlap,
// including touching edges, is unsafe. Without a calibration the ROI is
// unknown and the verdict is VerdictUnknown, never VerdictSafe.
package safety

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-catlaser/pkg/detection"
	"github.com/teslashibe/go-catlaser/pkg/geometry"
)

// Verdict is the outcome of a safety evaluation.
type Verdict int

const (
	VerdictSafe Verdict = iota
	VerdictUnsafe
	VerdictUnknown
)

func (v Verdict) String() string {
	switch v {
	case VerdictSafe:
		return "safe"
	case VerdictUnsafe:
		return "unsafe"
	case VerdictUnknown:
		return "unknown"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Evaluation is the full result of one check.
type Evaluation struct {
	Verdict   Verdict
	ROI       geometry.Point
	LaserRect geometry.Rect

	// Offender is the first detection whose danger zone overlaps the laser.
	// Only set when Verdict is VerdictUnsafe.
	Offender *detection.BoundingBox
}

// Unsafe is shorthand for Verdict == VerdictUnsafe.
func (e Evaluation) Unsafe() bool { return e.Verdict == VerdictUnsafe }

// Evaluator holds the pixel-space safety parameters.
type Evaluator struct {
	DangerMarginPx float64
	ROIRadiusPx    float64
}

// NewEvaluator creates an evaluator.
func NewEvaluator(dangerMarginPx, roiRadiusPx float64) Evaluator {
	return Evaluator{DangerMarginPx: dangerMarginPx, ROIRadiusPx: roiRadiusPx}
}

// LaserRect returns the laser footprint around roi.
func (e Evaluator) LaserRect(roi geometry.Point) geometry.Rect {
	return geometry.RectAround(roi, e.ROIRadiusPx)
}

// DangerZone returns the padded zone around a detection.
func (e Evaluator) DangerZone(b detection.BoundingBox) geometry.Rect {
	return geometry.Expand(b.Rect(), e.DangerMarginPx)
}

// Evaluate checks the laser at roi against dets. known is false when no
// calibration is available. Malformed detections or a non-finite ROI return
// an error so the caller can discard the tick.
func (e Evaluator) Evaluate(roi geometry.Point, known bool, dets []detection.BoundingBox) (Evaluation, error) {
	for i, d := range dets {
		if err := d.Validate(); err != nil {
			return Evaluation{}, fmt.Errorf("detection %d: %w", i, err)
		}
	}
	if !known {
		return Evaluation{Verdict: VerdictUnknown}, nil
	}
	if !finite(roi) {
		return Evaluation{}, fmt.Errorf("predicted ROI (%g, %g) is not finite", roi.X, roi.Y)
	}

	ev := Evaluation{Verdict: VerdictSafe, ROI: roi, LaserRect: e.LaserRect(roi)}
	for i := range dets {
		if geometry.Intersects(ev.LaserRect, e.DangerZone(dets[i])) {
			off := dets[i]
			ev.Verdict = VerdictUnsafe
			ev.Offender = &off
			break
		}
	}
	return ev, nil
}

// Hit returns the first detection whose center lies strictly within
// ROIRadiusPx of roi.
func (e Evaluator) Hit(roi geometry.Point, dets []detection.BoundingBox) (detection.BoundingBox, bool) {
	r2 := e.ROIRadiusPx * e.ROIRadiusPx
	for _, d := range dets {
		c := d.Center()
		dx, dy := c.X-roi.X, c.Y-roi.Y
		if dx*dx+dy*dy < r2 {
			return d, true
		}
	}
	return detection.BoundingBox{}, false
}

// InDangerZone reports whether pixel p falls inside any padded detection.
func (e Evaluator) InDangerZone(p geometry.Point, dets []detection.BoundingBox) bool {
	for _, d := range dets {
		if e.DangerZone(d).Contains(p) {
			return true
		}
	}
	return false
}

func finite(p geometry.Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}
