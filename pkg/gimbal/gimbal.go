// Package gimbal provides interfaces and implementations for the pan/tilt
// servos and the laser diode.
//
// Consumers depend only on the small interfaces they use: the control loop
// needs an Actuator and a Laser, the wobble engine only an Actuator.
package gimbal

import "math"

// Hardware range of a hobby servo in degrees. Configured limits narrow this;
// ignoreLimits widens back to it but never beyond.
const (
	HardwareMin = 0.0
	HardwareMax = 180.0
)

// Pose is a gimbal orientation in degrees.
type Pose struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
}

// Add returns the component-wise sum of p and d.
func (p Pose) Add(d Pose) Pose {
	return Pose{Pan: p.Pan + d.Pan, Tilt: p.Tilt + d.Tilt}
}

// Sub returns p - o.
func (p Pose) Sub(o Pose) Pose {
	return Pose{Pan: p.Pan - o.Pan, Tilt: p.Tilt - o.Tilt}
}

// Norm returns the straight-line angular distance represented by p.
func (p Pose) Norm() float64 {
	return math.Hypot(p.Pan, p.Tilt)
}

// Finite reports whether both axes are real numbers.
func (p Pose) Finite() bool {
	return !math.IsNaN(p.Pan) && !math.IsInf(p.Pan, 0) &&
		!math.IsNaN(p.Tilt) && !math.IsInf(p.Tilt, 0)
}

// Limits is an inclusive [Min, Max] degree range for one axis.
type Limits struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// FullRange is the widest range the servos accept.
var FullRange = Limits{Min: HardwareMin, Max: HardwareMax}

// Clamp restricts v to the range.
func (l Limits) Clamp(v float64) float64 {
	if v < l.Min {
		return l.Min
	}
	if v > l.Max {
		return l.Max
	}
	return v
}

// Span returns Max-Min.
func (l Limits) Span() float64 { return l.Max - l.Min }

// Valid reports whether the range is ordered and inside the hardware range.
func (l Limits) Valid() bool {
	return l.Min <= l.Max && l.Min >= HardwareMin && l.Max <= HardwareMax
}

// Actuator positions the pan/tilt head. Clamping is the actuator's job:
// callers always use the returned angle rather than the one they asked for.
type Actuator interface {
	CurrentPan() float64
	CurrentTilt() float64
	SetPan(angle float64, ignoreLimits bool) float64
	SetTilt(angle float64, ignoreLimits bool) float64
	MoveRelative(dPan, dTilt float64, ignoreLimits bool) (pan, tilt float64)
	SetLimits(pan, tilt Limits)
	Limits() (pan, tilt Limits)
}

// Laser switches the laser diode. On and Off are idempotent and return the
// resulting state.
type Laser interface {
	On() bool
	Off() bool
	Toggle() bool
	State() bool
}

// Detacher is implemented by actuators that can stop driving their servos.
type Detacher interface {
	Detach() error
}

// CurrentPose reads both axes of an actuator.
func CurrentPose(a Actuator) Pose {
	return Pose{Pan: a.CurrentPan(), Tilt: a.CurrentTilt()}
}
