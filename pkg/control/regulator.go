// Package control implements the per-axis motion smoothing used by the
// autopilot: a PID regulator plus deadband and fixed-step helpers.
package control

import (
	"math"
	"time"

	"github.com/teslashibe/go-catlaser/internal/clock"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
)

// minDt keeps the derivative term finite when two updates share a timestamp.
const minDt = 1e-16

// Gains configures a Regulator.
type Gains struct {
	Kp float64 `json:"kp" yaml:"kp"` // Proportional gain
	Ki float64 `json:"ki" yaml:"ki"` // Integral gain
	Kd float64 `json:"kd" yaml:"kd"` // Derivative gain

	// Output clamp. OutMin == OutMax == 0 leaves the output unclamped.
	OutMin float64 `json:"out_min" yaml:"out_min"`
	OutMax float64 `json:"out_max" yaml:"out_max"`
}

// DefaultGains is a gentle proportional-only response with a ±10° per tick cap.
func DefaultGains() Gains {
	return Gains{Kp: 0.5, OutMin: -10, OutMax: 10}
}

// Clamped reports whether the output range is active.
func (g Gains) Clamped() bool {
	return g.OutMin != 0 || g.OutMax != 0
}

// State is a snapshot of a Regulator for diagnostics.
type State struct {
	Kp        float64   `json:"kp"`
	Ki        float64   `json:"ki"`
	Kd        float64   `json:"kd"`
	Integral  float64   `json:"integral"`
	PrevError float64   `json:"prev_error"`
	LastTick  time.Time `json:"last_tick"`
}

// Regulator is a single-axis PID controller. Its output is an angle delta to
// add to the measured position. A Regulator is not safe for concurrent use;
// the control loop owns it.
type Regulator struct {
	gains Gains
	clk   clock.Clock

	integral  float64
	prevError float64
	lastTick  time.Time
}

// NewRegulator creates a regulator with zeroed state. A nil clock uses the
// wall clock.
func NewRegulator(g Gains, clk clock.Clock) *Regulator {
	if clk == nil {
		clk = clock.Real{}
	}
	r := &Regulator{gains: g, clk: clk}
	r.Reset()
	return r
}

// Update computes the correction for one tick.
func (r *Regulator) Update(setpoint, measured float64) float64 {
	now := r.clk.Now()
	dt := now.Sub(r.lastTick).Seconds()
	if dt < minDt {
		dt = minDt
	}

	e := setpoint - measured

	pTerm := r.gains.Kp * e

	r.integral += e * dt
	iTerm := r.gains.Ki * r.integral

	dTerm := r.gains.Kd * (e - r.prevError) / dt

	out := pTerm + iTerm + dTerm
	if r.gains.Clamped() {
		out = clamp(out, r.gains.OutMin, r.gains.OutMax)
	}

	r.prevError = e
	r.lastTick = now
	return out
}

// Reset zeroes the integral and previous error and restarts the dt clock.
func (r *Regulator) Reset() {
	r.integral = 0
	r.prevError = 0
	r.lastTick = r.clk.Now()
}

// State returns a snapshot of the regulator.
func (r *Regulator) State() State {
	return State{
		Kp:        r.gains.Kp,
		Ki:        r.gains.Ki,
		Kd:        r.gains.Kd,
		Integral:  r.integral,
		PrevError: r.prevError,
		LastTick:  r.lastTick,
	}
}

// Deadband returns 0 for |delta| <= band and delta otherwise.
func Deadband(delta, band float64) float64 {
	if math.Abs(delta) <= band {
		return 0
	}
	return delta
}

// Step moves cur toward target by at most step degrees along the straight
// line in angle space. It reports true once the target is reached, in which
// case the returned pose equals target exactly.
func Step(cur, target gimbal.Pose, step float64) (gimbal.Pose, bool) {
	d := target.Sub(cur)
	dist := d.Norm()
	if dist <= step || dist == 0 {
		return target, true
	}
	k := step / dist
	return gimbal.Pose{Pan: cur.Pan + d.Pan*k, Tilt: cur.Tilt + d.Tilt*k}, false
}

// clamp limits a value to a range
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
