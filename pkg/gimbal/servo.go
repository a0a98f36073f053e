package gimbal

import (
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-catlaser/internal/log"
)

// ServoConfig wires the two axes to driver channels.
type ServoConfig struct {
	PanChannel  int
	TiltChannel int
	PanLimits   Limits
	TiltLimits  Limits
	Center      Pose // Pose commanded at construction
}

// DefaultServoConfig matches the stock SG90 bracket: full range, camera
// centre slightly below horizontal.
func DefaultServoConfig() ServoConfig {
	return ServoConfig{
		PanChannel:  0,
		TiltChannel: 1,
		PanLimits:   FullRange,
		TiltLimits:  FullRange,
		Center:      Pose{Pan: 90, Tilt: 80},
	}
}

// ServoController is a thread-safe Actuator on top of a ServoDriver.
// The recorded pose follows the command even if the driver write fails, so a
// flaky link degrades to open-loop behaviour instead of stalling the loop.
type ServoController struct {
	driver ServoDriver
	cfg    ServoConfig

	mu         sync.Mutex
	panLimits  Limits
	tiltLimits Limits
	pan        float64
	tilt       float64

	errorCount    uint64
	lastErrorTime time.Time
}

var _ Actuator = (*ServoController)(nil)
var _ Detacher = (*ServoController)(nil)

// NewServoController creates a controller and moves the head to cfg.Center.
func NewServoController(driver ServoDriver, cfg ServoConfig) *ServoController {
	if driver == nil {
		driver = NewNopDriver()
	}
	if !cfg.PanLimits.Valid() {
		cfg.PanLimits = FullRange
	}
	if !cfg.TiltLimits.Valid() {
		cfg.TiltLimits = FullRange
	}
	s := &ServoController{
		driver:     driver,
		cfg:        cfg,
		panLimits:  cfg.PanLimits,
		tiltLimits: cfg.TiltLimits,
		pan:        cfg.PanLimits.Clamp(cfg.Center.Pan),
		tilt:       cfg.TiltLimits.Clamp(cfg.Center.Tilt),
	}
	s.SetPan(cfg.Center.Pan, false)
	s.SetTilt(cfg.Center.Tilt, false)
	return s
}

// CurrentPan returns the last commanded pan angle.
func (s *ServoController) CurrentPan() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pan
}

// CurrentTilt returns the last commanded tilt angle.
func (s *ServoController) CurrentTilt() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tilt
}

// SetPan moves the pan servo and returns the clamped angle.
func (s *ServoController) SetPan(angle float64, ignoreLimits bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pan = s.apply(s.cfg.PanChannel, angle, s.pan, s.limitsFor(s.panLimits, ignoreLimits))
	return s.pan
}

// SetTilt moves the tilt servo and returns the clamped angle.
func (s *ServoController) SetTilt(angle float64, ignoreLimits bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tilt = s.apply(s.cfg.TiltChannel, angle, s.tilt, s.limitsFor(s.tiltLimits, ignoreLimits))
	return s.tilt
}

// MoveRelative offsets both axes from the current pose.
func (s *ServoController) MoveRelative(dPan, dTilt float64, ignoreLimits bool) (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pan = s.apply(s.cfg.PanChannel, s.pan+dPan, s.pan, s.limitsFor(s.panLimits, ignoreLimits))
	s.tilt = s.apply(s.cfg.TiltChannel, s.tilt+dTilt, s.tilt, s.limitsFor(s.tiltLimits, ignoreLimits))
	return s.pan, s.tilt
}

// SetLimits replaces the soft limits. Invalid ranges are ignored per axis.
// The current pose is pulled back inside the new limits.
func (s *ServoController) SetLimits(pan, tilt Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pan.Valid() {
		s.panLimits = pan
	}
	if tilt.Valid() {
		s.tiltLimits = tilt
	}
	s.pan = s.apply(s.cfg.PanChannel, s.pan, s.pan, s.panLimits)
	s.tilt = s.apply(s.cfg.TiltChannel, s.tilt, s.tilt, s.tiltLimits)
	log.Component("gimbal").Info("limits updated",
		"pan_min", s.panLimits.Min, "pan_max", s.panLimits.Max,
		"tilt_min", s.tiltLimits.Min, "tilt_max", s.tiltLimits.Max)
}

// Limits returns the current soft limits.
func (s *ServoController) Limits() (Limits, Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panLimits, s.tiltLimits
}

// Detach stops driving both servos.
func (s *ServoController) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errPan := s.driver.Release(s.cfg.PanChannel)
	errTilt := s.driver.Release(s.cfg.TiltChannel)
	if errPan != nil {
		return errPan
	}
	return errTilt
}

func (s *ServoController) limitsFor(l Limits, ignoreLimits bool) Limits {
	if ignoreLimits {
		return FullRange
	}
	return l
}

// apply clamps and writes one axis. Must be called with s.mu held.
func (s *ServoController) apply(channel int, angle, current float64, l Limits) float64 {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return current
	}
	clamped := l.Clamp(angle)
	if err := s.driver.SetAngle(channel, clamped); err != nil {
		s.errorCount++
		// Don't spam - max once per 5 seconds
		if s.lastErrorTime.IsZero() || time.Since(s.lastErrorTime) > 5*time.Second {
			log.Component("gimbal").Warn("servo write failed",
				"channel", channel, "error", err, "total_errors", s.errorCount)
			s.lastErrorTime = time.Now()
		}
	}
	return clamped
}
