// Package calibration maps gimbal angles to camera pixels.
//
// The model is a plane per axis fitted by least squares over recorded
// samples:
//
//	x = C1*pan + C2*tilt + C3
//	y = C4*pan + C5*tilt + C6
//
// Samples and the fitted model are persisted through a Store.
package calibration

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/teslashibe/go-catlaser/pkg/geometry"
)

// SampleKind tags how a sample was collected.
type SampleKind string

const (
	KindGeneral SampleKind = "general"
	KindX       SampleKind = "x_calib"
	KindY       SampleKind = "y_calib"
)

// ParseSampleKind accepts the wire names. An empty string is KindGeneral.
func ParseSampleKind(s string) (SampleKind, error) {
	switch SampleKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindGeneral:
		return KindGeneral, nil
	case KindX:
		return KindX, nil
	case KindY:
		return KindY, nil
	}
	return "", fmt.Errorf("unknown sample kind %q", s)
}

// Sample is one observed angle to pixel correspondence.
type Sample struct {
	ID        string     `json:"id"`
	Pan       float64    `json:"pan"`
	Tilt      float64    `json:"tilt"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Timestamp time.Time  `json:"ts"`
	Kind      SampleKind `json:"type"`
}

func (s Sample) finite() bool {
	for _, v := range [...]float64{s.Pan, s.Tilt, s.X, s.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Params are the six plane coefficients.
type Params struct {
	C1 float64 `json:"c1"`
	C2 float64 `json:"c2"`
	C3 float64 `json:"c3"`
	C4 float64 `json:"c4"`
	C5 float64 `json:"c5"`
	C6 float64 `json:"c6"`
}

// Apply evaluates the model at (pan, tilt).
func (p Params) Apply(pan, tilt float64) geometry.Point {
	return geometry.Point{
		X: p.C1*pan + p.C2*tilt + p.C3,
		Y: p.C4*pan + p.C5*tilt + p.C6,
	}
}

// Model is the fitted mapping. Params are meaningless unless Calibrated.
type Model struct {
	Params     Params `json:"params"`
	Calibrated bool   `json:"calibrated"`
}

// Snapshot is everything a Store persists.
type Snapshot struct {
	Model   Model
	Samples []Sample
}

// Residual is the prediction error for one sample.
type Residual struct {
	Sample    Sample         `json:"sample"`
	Predicted geometry.Point `json:"predicted"`
	Error     float64        `json:"error"`
}
