// Package autopilot runs the laser targeting control loop.
//
// A single goroutine ticks at Config.TickInterval and drives the state
// machine:
//
//	MANUAL   -> ROAM/TRACK   SetMode(auto|track)
//	ROAM     -> EVADE        predicted laser footprint overlaps a danger zone
//	EVADE    -> COOLDOWN     next tick
//	COOLDOWN -> ROAM/TRACK   Config.Cooldown elapsed
//	any      -> MANUAL       SetMode(manual), ToggleLaser, Stop
//
// The laser is only ever on in ROAM/TRACK, after the head has been still for
// Config.Settle and the footprint is clear.
package autopilot

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-catlaser/internal/clock"
	"github.com/teslashibe/go-catlaser/internal/log"
	"github.com/teslashibe/go-catlaser/pkg/control"
	"github.com/teslashibe/go-catlaser/pkg/detection"
	"github.com/teslashibe/go-catlaser/pkg/geometry"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
	"github.com/teslashibe/go-catlaser/pkg/safety"
)

var (
	// ErrNotManual is returned by manual commands outside MANUAL.
	ErrNotManual = errors.New("autopilot: manual control requires MANUAL mode")

	// ErrAlreadyRunning is returned by Start on a running loop.
	ErrAlreadyRunning = errors.New("autopilot: already running")

	// ErrStopTimeout is returned when the loop does not exit in time.
	ErrStopTimeout = errors.New("autopilot: timed out waiting for loop to stop")
)

// Predictor is the part of the calibration the loop needs.
type Predictor interface {
	Predict(pan, tilt float64) (geometry.Point, bool)
	Calibrated() bool
}

// Option customises an AutoPilot.
type Option func(*AutoPilot)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(a *AutoPilot) { a.clk = c }
}

// WithRand replaces the random source used for retargeting.
func WithRand(r *rand.Rand) Option {
	return func(a *AutoPilot) { a.rng = r }
}

// AutoPilot owns the control state, both axis regulators and the loop
// timestamps. All actuator and laser writes it makes go through mu.
type AutoPilot struct {
	cfg    Config
	act    gimbal.Actuator
	laser  gimbal.Laser
	src    detection.Source
	mapper Predictor
	safety safety.Evaluator
	clk    clock.Clock
	rng    *rand.Rand
	logger *slog.Logger

	state atomic.Int32 // State
	mode  atomic.Int32 // Mode

	runMu   sync.Mutex
	running atomic.Bool
	wake    chan struct{}
	done    chan struct{}

	mu            sync.Mutex
	panReg        *control.Regulator
	tiltReg       *control.Regulator
	target        gimbal.Pose
	hasTarget     bool
	escapeHint    *geometry.Point
	lastMove      time.Time
	lastHit       time.Time
	laserOnStart  time.Time
	cooldownStart time.Time
	lastRefresh   time.Time
	errorCount    uint64
}

// New validates cfg and builds an AutoPilot in MANUAL. The configured limits
// are applied to the actuator. A nil source or predictor behaves as "no
// detections" and "uncalibrated".
func New(cfg Config, act gimbal.Actuator, laser gimbal.Laser, src detection.Source, mapper Predictor, opts ...Option) (*AutoPilot, error) {
	if act == nil {
		return nil, errors.New("autopilot: actuator is required")
	}
	if laser == nil {
		return nil, errors.New("autopilot: laser is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("autopilot config: %w", err)
	}
	if src == nil {
		src = noDetections{}
	}
	if mapper == nil {
		mapper = uncalibrated{}
	}

	a := &AutoPilot{
		cfg:    cfg,
		act:    act,
		laser:  laser,
		src:    src,
		mapper: mapper,
		safety: safety.NewEvaluator(cfg.DangerMarginPx, cfg.ROIRadiusPx),
		clk:    clock.Real{},
		logger: log.Component("autopilot"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	a.panReg = control.NewRegulator(cfg.Gains, a.clk)
	a.tiltReg = control.NewRegulator(cfg.Gains, a.clk)

	act.SetLimits(cfg.PanLimits, cfg.TiltLimits)
	laser.Off()
	a.state.Store(int32(StateManual))
	a.mode.Store(int32(ModeManual))
	return a, nil
}

// State returns the current control state.
func (a *AutoPilot) State() State {
	return State(a.state.Load())
}

// Mode returns the last requested mode.
func (a *AutoPilot) Mode() Mode {
	return Mode(a.mode.Load())
}

// Config returns the session configuration.
func (a *AutoPilot) Config() Config {
	return a.cfg
}

// Start launches the control loop.
func (a *AutoPilot) Start() error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running.Load() {
		return ErrAlreadyRunning
	}
	a.wake = make(chan struct{})
	a.done = make(chan struct{})
	a.running.Store(true)
	ticker := a.clk.NewTicker(a.cfg.TickInterval)
	go a.loop(ticker, a.wake, a.done)
	a.logger.Info("control loop started", "tick", a.cfg.TickInterval, "motion", a.cfg.Motion)
	return nil
}

// Stop asks the loop to exit and waits up to timeout for it. The loop turns
// the laser off and detaches the servos on its way out.
func (a *AutoPilot) Stop(timeout time.Duration) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running.Swap(false) {
		return nil
	}
	close(a.wake)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-a.done:
		a.logger.Info("control loop stopped")
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Running reports whether the loop is active.
func (a *AutoPilot) Running() bool {
	return a.running.Load()
}

// SetMode switches between manual and the auto modes. It never fails.
// Leaving auto cuts the laser before returning.
func (a *AutoPilot) SetMode(m Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.State()
	a.mode.Store(int32(m))

	if m == ModeManual {
		a.state.Store(int32(StateManual))
		a.laser.Off()
		a.hasTarget = false
		a.escapeHint = nil
		if prev != StateManual {
			a.logger.Info("state transition", "from", prev, "to", StateManual, "reason", "mode")
		}
		return
	}

	next := m.roamState()
	switch prev {
	case StateManual:
		a.enterRoam(a.clk.Now(), StateManual, next, "mode")
	case StateRoam, StateTrack:
		if prev != next {
			a.state.Store(int32(next))
			a.logger.Info("state transition", "from", prev, "to", next, "reason", "mode")
		}
	}
	// EVADE/COOLDOWN pick the new roam class up when cooldown ends.
}

func (a *AutoPilot) loop(ticker clock.Ticker, wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer a.cleanup()
	defer ticker.Stop()

	for a.running.Load() {
		select {
		case <-wake:
			return
		case <-ticker.C():
		}
		if !a.running.Load() {
			return
		}

		if err := a.step(); err != nil {
			a.mu.Lock()
			a.errorCount++
			n := a.errorCount
			a.mu.Unlock()
			a.logger.Error("tick failed", "error", err, "total_errors", n, "backoff", a.cfg.ErrorBackoff)

			select {
			case <-wake:
				return
			case <-a.clk.After(a.cfg.ErrorBackoff):
			}
		}
	}
}

// step runs one tick. Panics are converted to errors.
func (a *AutoPilot) step() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tick(a.clk.Now())
}

func (a *AutoPilot) cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.laser.Off()
	prev := a.State()
	a.state.Store(int32(StateManual))
	a.mode.Store(int32(ModeManual))
	if prev != StateManual {
		a.logger.Info("state transition", "from", prev, "to", StateManual, "reason", "stop")
	}
	if d, ok := a.act.(gimbal.Detacher); ok {
		if err := d.Detach(); err != nil {
			a.logger.Warn("detach failed", "error", err)
		}
	}
}

// tick must be called with a.mu held.
func (a *AutoPilot) tick(now time.Time) error {
	switch st := a.State(); st {
	case StateManual:
		return nil
	case StateEvade:
		a.transition(StateEvade, StateCooldown, "evade complete")
		a.cooldownStart = now
		return nil
	case StateCooldown:
		return a.cooldownTick(now)
	case StateRoam, StateTrack:
		return a.roamTick(now, st)
	default:
		return fmt.Errorf("unhandled state %v", st)
	}
}

func (a *AutoPilot) cooldownTick(now time.Time) error {
	if a.laser.State() {
		a.laser.Off()
	}
	if now.Sub(a.cooldownStart) >= a.cfg.Cooldown {
		a.enterRoam(now, StateCooldown, a.Mode().roamState(), "cooldown elapsed")
		return nil
	}
	a.move(now)
	return nil
}

func (a *AutoPilot) roamTick(now time.Time, st State) error {
	// Reads and validation first; nothing below may fail.
	pose := gimbal.CurrentPose(a.act)
	dets := a.src.LatestDetections()
	roi, known := a.mapper.Predict(pose.Pan, pose.Tilt)
	ev, err := a.safety.Evaluate(roi, known, dets)
	if err != nil {
		return err
	}

	if ev.Unsafe() {
		a.laser.Off()
		a.enterEvade(now, st, pose, ev)
		return nil
	}

	laserOn := a.laser.State()
	if laserOn && now.Sub(a.laserOnStart) > a.cfg.MaxLaserOn {
		a.laser.Off()
		a.logger.Info("max laser time reached, retargeting", "on_for", now.Sub(a.laserOnStart))
		a.pickNewTarget(now, st, pose, dets)
		return nil
	}

	settled := now.Sub(a.lastMove) >= a.cfg.Settle
	if settled && known {
		if hit, ok := a.safety.Hit(roi, dets); ok {
			a.lastHit = now
			a.laser.Off()
			a.logger.Info("hit", "label", hit.Label, "score", hit.Score)
			a.pickNewTarget(now, st, pose, dets)
			return nil
		}
	}

	if a.move(now) {
		settled = false
	}

	// Unknown ROI: nothing to protect without detections, otherwise hold off.
	allowed := ev.Verdict == safety.VerdictSafe ||
		(ev.Verdict == safety.VerdictUnknown && len(dets) == 0)

	switch {
	case settled && allowed:
		if !laserOn && a.State() == st {
			a.laser.On()
			a.laserOnStart = now
		}
		if a.cfg.RoamRefresh > 0 && now.Sub(a.lastRefresh) >= a.cfg.RoamRefresh {
			a.lastRefresh = now
			a.jitterTarget(now, pose, dets)
		}
	case laserOn:
		a.laser.Off()
	}
	return nil
}

// enterRoam performs the ROAM/TRACK entry actions.
func (a *AutoPilot) enterRoam(now time.Time, from, to State, reason string) {
	if !a.transition(from, to, reason) {
		return
	}
	a.laser.Off()
	if !a.hasTarget {
		a.target = gimbal.CurrentPose(a.act)
		a.hasTarget = true
	}
	a.escapeHint = nil
	a.resetRegulators()
	a.lastMove = now
	a.lastRefresh = now
}

func (a *AutoPilot) enterEvade(now time.Time, from State, pose gimbal.Pose, ev safety.Evaluation) {
	if !a.transition(from, StateEvade, "unsafe") {
		return
	}
	a.target = a.escapeTarget(pose)
	a.hasTarget = true
	a.resetRegulators()
	a.lastMove = now

	a.escapeHint = nil
	if ev.Offender != nil {
		hint := geometry.RepulsionTarget(ev.Offender.Rect(), ev.ROI, a.cfg.ROIRadiusPx+a.cfg.DangerMarginPx)
		a.escapeHint = &hint
		a.logger.Warn("laser unsafe, evading",
			"label", ev.Offender.Label,
			"roi_x", ev.ROI.X, "roi_y", ev.ROI.Y,
			"escape_pan", a.target.Pan, "escape_tilt", a.target.Tilt)
	}
}

// transition moves from -> to unless another goroutine changed the state
// first, in which case it reports false.
func (a *AutoPilot) transition(from, to State, reason string) bool {
	if !a.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	a.logger.Info("state transition", "from", from, "to", to, "reason", reason)
	return true
}

func (a *AutoPilot) resetRegulators() {
	a.panReg.Reset()
	a.tiltReg.Reset()
}

// move advances toward the target and reports whether the pose changed.
// An applied move restarts the settle timer.
func (a *AutoPilot) move(now time.Time) bool {
	if !a.hasTarget {
		return false
	}
	before := gimbal.CurrentPose(a.act)

	switch a.cfg.Motion {
	case MotionPID:
		dPan := control.Deadband(a.panReg.Update(a.target.Pan, before.Pan), a.cfg.DeadbandDeg)
		dTilt := control.Deadband(a.tiltReg.Update(a.target.Tilt, before.Tilt), a.cfg.DeadbandDeg)
		if dPan == 0 && dTilt == 0 {
			return false
		}
		a.act.MoveRelative(dPan, dTilt, false)
	case MotionCreep:
		next, _ := control.Step(before, a.target, a.cfg.CreepStepDeg)
		if next == before {
			return false
		}
		a.act.SetPan(next.Pan, false)
		a.act.SetTilt(next.Tilt, false)
	case MotionDirect:
		if before == a.target {
			return false
		}
		// Adopt the clamped pose so an unreachable target is not retried.
		a.target.Pan = a.act.SetPan(a.target.Pan, false)
		a.target.Tilt = a.act.SetTilt(a.target.Tilt, false)
	}

	after := gimbal.CurrentPose(a.act)
	if after == before {
		return false
	}
	a.lastMove = now
	return true
}

// Status is a read-only snapshot for telemetry.
type Status struct {
	State      State                   `json:"state"`
	Mode       Mode                    `json:"mode"`
	ROI        *geometry.Point         `json:"roi"`
	ROIRadius  float64                 `json:"roi_radius"`
	Detections []detection.BoundingBox `json:"detections"`
	Laser      bool                    `json:"laser"`
	Pan        float64                 `json:"pan"`
	Tilt       float64                 `json:"tilt"`
	Calibrated bool                    `json:"calibrated"`
	Target     *gimbal.Pose            `json:"target"`
	EscapeHint *geometry.Point         `json:"escape_hint"`
	FrameSize  [2]int                  `json:"frame_size"`
}

// Status returns a snapshot. It never changes control state.
func (a *AutoPilot) Status() Status {
	pose := gimbal.CurrentPose(a.act)
	s := Status{
		State:      a.State(),
		Mode:       a.Mode(),
		ROIRadius:  a.cfg.ROIRadiusPx,
		Detections: a.src.LatestDetections(),
		Laser:      a.laser.State(),
		Pan:        pose.Pan,
		Tilt:       pose.Tilt,
		Calibrated: a.mapper.Calibrated(),
		FrameSize:  [2]int{a.cfg.FrameWidth, a.cfg.FrameHeight},
	}
	if s.Detections == nil {
		s.Detections = []detection.BoundingBox{}
	}
	if roi, ok := a.mapper.Predict(pose.Pan, pose.Tilt); ok {
		s.ROI = &roi
	}

	a.mu.Lock()
	if a.hasTarget && s.State.Auto() {
		t := a.target
		s.Target = &t
	}
	if a.escapeHint != nil {
		h := *a.escapeHint
		s.EscapeHint = &h
	}
	a.mu.Unlock()
	return s
}

// MoveManual nudges the head in MANUAL.
func (a *AutoPilot) MoveManual(dPan, dTilt float64) (gimbal.Pose, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() != StateManual {
		return gimbal.Pose{}, ErrNotManual
	}
	pan, tilt := a.act.MoveRelative(dPan, dTilt, false)
	return gimbal.Pose{Pan: pan, Tilt: tilt}, nil
}

// SetPose moves the head to an absolute pose in MANUAL.
func (a *AutoPilot) SetPose(pan, tilt float64) (gimbal.Pose, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() != StateManual {
		return gimbal.Pose{}, ErrNotManual
	}
	return gimbal.Pose{Pan: a.act.SetPan(pan, false), Tilt: a.act.SetTilt(tilt, false)}, nil
}

// ToggleLaser flips the laser in MANUAL. In an auto state it is the
// emergency cut: the laser goes off and the pilot drops to MANUAL.
func (a *AutoPilot) ToggleLaser() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if st := a.State(); st.Auto() {
		a.laser.Off()
		a.state.Store(int32(StateManual))
		a.mode.Store(int32(ModeManual))
		a.hasTarget = false
		a.escapeHint = nil
		a.logger.Warn("laser toggled during auto, forcing manual", "from", st)
		return false
	}
	return a.laser.Toggle()
}

// SetLimits forwards new soft limits to the actuator. Later retargets use
// them.
func (a *AutoPilot) SetLimits(pan, tilt gimbal.Limits) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.act.SetLimits(pan, tilt)
	if a.hasTarget {
		p, t := a.act.Limits()
		a.target = gimbal.Pose{Pan: p.Clamp(a.target.Pan), Tilt: t.Clamp(a.target.Tilt)}
	}
}

// Limits returns the actuator's current soft limits.
func (a *AutoPilot) Limits() (pan, tilt gimbal.Limits) {
	return a.act.Limits()
}

type noDetections struct{}

func (noDetections) LatestDetections() []detection.BoundingBox { return nil }

type uncalibrated struct{}

func (uncalibrated) Predict(float64, float64) (geometry.Point, bool) { return geometry.Point{}, false }
func (uncalibrated) Calibrated() bool                                  { return false }
