package autopilot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-catlaser/pkg/control"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
)

// Motion selects how the loop moves toward its target pose.
type Motion int

const (
	// MotionPID applies one regulator update per axis per tick.
	MotionPID Motion = iota
	// MotionCreep steps a fixed angular distance per tick.
	MotionCreep
	// MotionDirect jumps straight to the target.
	MotionDirect
)

func (m Motion) String() string {
	switch m {
	case MotionPID:
		return "pid"
	case MotionCreep:
		return "creep"
	case MotionDirect:
		return "direct"
	}
	return fmt.Sprintf("motion(%d)", int(m))
}

// ParseMotion accepts "pid", "creep" and "direct".
func ParseMotion(s string) (Motion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pid":
		return MotionPID, nil
	case "creep", "step":
		return MotionCreep, nil
	case "direct":
		return MotionDirect, nil
	}
	return MotionPID, fmt.Errorf("unknown motion %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Motion) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Motion) UnmarshalText(text []byte) error {
	v, err := ParseMotion(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Config holds the session parameters. It is fixed for the lifetime of an
// AutoPilot; runtime limit changes go through AutoPilot.SetLimits.
type Config struct {
	// Pixel-space safety
	DangerMarginPx float64
	ROIRadiusPx    float64

	// Laser timing
	Settle     time.Duration // No laser until the head has been still this long
	MaxLaserOn time.Duration // Forced retarget after this much continuous on-time
	Cooldown   time.Duration // Laser-off wait after an evade

	// Retargeting
	PanJitterDeg     float64
	TiltJitterDeg    float64
	MinMoveDeg       float64
	RetargetAttempts int
	RoamRefresh      time.Duration // Jitter the target this often once settled; 0 disables
	TrackRadiusDeg   float64       // TRACK retargets stay within this radius

	PanLimits  gimbal.Limits
	TiltLimits gimbal.Limits

	// Evade jump per axis
	EvadeMinDeg float64
	EvadeMaxDeg float64

	// Loop
	TickInterval time.Duration
	ErrorBackoff time.Duration

	// Motion
	Motion       Motion
	Gains        control.Gains
	DeadbandDeg  float64
	CreepStepDeg float64

	// Camera frame size, reported in the status for overlays.
	FrameWidth  int
	FrameHeight int
}

// DefaultConfig returns the bench-tested defaults.
func DefaultConfig() Config {
	return Config{
		DangerMarginPx: 20,
		ROIRadiusPx:    35,

		Settle:     250 * time.Millisecond,
		MaxLaserOn: 800 * time.Millisecond,
		Cooldown:   time.Second,

		PanJitterDeg:     10,
		TiltJitterDeg:    6,
		MinMoveDeg:       2,
		RetargetAttempts: 5,
		RoamRefresh:      3 * time.Second,
		TrackRadiusDeg:   15,

		PanLimits:  gimbal.FullRange,
		TiltLimits: gimbal.FullRange,

		EvadeMinDeg: 20,
		EvadeMaxDeg: 45,

		TickInterval: 50 * time.Millisecond,
		ErrorBackoff: time.Second,

		Motion:       MotionPID,
		Gains:        control.DefaultGains(),
		DeadbandDeg:  0.1,
		CreepStepDeg: 2,

		FrameWidth:  640,
		FrameHeight: 480,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	var errs []error
	nonNeg := func(name string, v float64) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %g", name, v))
		}
	}
	nonNegDur := func(name string, d time.Duration) {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %s", name, d))
		}
	}

	nonNeg("danger margin", c.DangerMarginPx)
	nonNeg("roi radius", c.ROIRadiusPx)
	nonNeg("pan jitter", c.PanJitterDeg)
	nonNeg("tilt jitter", c.TiltJitterDeg)
	nonNeg("min move", c.MinMoveDeg)
	nonNeg("track radius", c.TrackRadiusDeg)
	nonNeg("evade min", c.EvadeMinDeg)
	nonNeg("deadband", c.DeadbandDeg)
	nonNegDur("settle", c.Settle)
	nonNegDur("cooldown", c.Cooldown)
	nonNegDur("roam refresh", c.RoamRefresh)
	nonNegDur("error backoff", c.ErrorBackoff)

	if c.MaxLaserOn <= 0 {
		errs = append(errs, fmt.Errorf("max laser on must be > 0, got %s", c.MaxLaserOn))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be > 0, got %s", c.TickInterval))
	}
	if c.RetargetAttempts < 1 {
		errs = append(errs, fmt.Errorf("retarget attempts must be >= 1, got %d", c.RetargetAttempts))
	}
	if c.EvadeMaxDeg < c.EvadeMinDeg {
		errs = append(errs, fmt.Errorf("evade max %g is below evade min %g", c.EvadeMaxDeg, c.EvadeMinDeg))
	}
	if !c.PanLimits.Valid() {
		errs = append(errs, fmt.Errorf("invalid pan limits [%g, %g]", c.PanLimits.Min, c.PanLimits.Max))
	}
	if !c.TiltLimits.Valid() {
		errs = append(errs, fmt.Errorf("invalid tilt limits [%g, %g]", c.TiltLimits.Min, c.TiltLimits.Max))
	}
	if c.Motion == MotionCreep && c.CreepStepDeg <= 0 {
		errs = append(errs, fmt.Errorf("creep step must be > 0, got %g", c.CreepStepDeg))
	}
	if c.Gains.Clamped() && c.Gains.OutMin > c.Gains.OutMax {
		errs = append(errs, fmt.Errorf("gain output range [%g, %g] is inverted", c.Gains.OutMin, c.Gains.OutMax))
	}
	return errors.Join(errs...)
}
