package autopilot

import (
	"encoding/json"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-catlaser/internal/clock"
	"github.com/teslashibe/go-catlaser/internal/log"
	"github.com/teslashibe/go-catlaser/pkg/detection"
	"github.com/teslashibe/go-catlaser/pkg/geometry"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
)

func init() {
	log.SetOutput(io.Discard, "error")
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// linearMapper puts the spot at four pixels per degree on both axes, so the
// default centre pose (90, 80) lands on (360, 320).
type linearMapper struct{}

func (linearMapper) Predict(pan, tilt float64) (geometry.Point, bool) {
	return geometry.Point{X: 4 * pan, Y: 4 * tilt}, true
}

func (linearMapper) Calibrated() bool { return true }

type staticSource []detection.BoundingBox

func (s staticSource) LatestDetections() []detection.BoundingBox { return s }

type panicSource struct{}

func (panicSource) LatestDetections() []detection.BoundingBox { panic("camera gone") }

type fixture struct {
	ap     *AutoPilot
	clk    *clock.Mock
	drv    *gimbal.NopDriver
	servos *gimbal.ServoController
	laser  *gimbal.LaserController
	det    *detection.MockDetector
}

func newFixture(t *testing.T, cfg Config, mapper Predictor) *fixture {
	t.Helper()
	clk := clock.NewMock(epoch)
	det := detection.NewMockDetector(time.Hour, clk)
	f := newFixtureWithSource(t, cfg, mapper, det, clk)
	f.det = det
	return f
}

func newFixtureWithSource(t *testing.T, cfg Config, mapper Predictor, src detection.Source, clk *clock.Mock) *fixture {
	t.Helper()
	drv := gimbal.NewNopDriver()
	servos := gimbal.NewServoController(drv, gimbal.DefaultServoConfig())
	laser := gimbal.NewLaserController(drv, 2)
	ap, err := New(cfg, servos, laser, src, mapper, WithClock(clk), WithRand(rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)
	return &fixture{ap: ap, clk: clk, drv: drv, servos: servos, laser: laser}
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.RoamRefresh = 0
	return cfg
}

func TestNew_Validation(t *testing.T) {
	laser := gimbal.NewLaserController(nil, 0)
	servos := gimbal.NewServoController(nil, gimbal.DefaultServoConfig())

	_, err := New(DefaultConfig(), nil, laser, nil, nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), servos, nil, nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.TickInterval = 0
	_, err = New(cfg, servos, laser, nil, nil)
	assert.Error(t, err)

	ap, err := New(DefaultConfig(), servos, laser, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateManual, ap.State())
	assert.Equal(t, ModeManual, ap.Mode())
}

func TestNew_AppliesLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PanLimits = gimbal.Limits{Min: 30, Max: 60}
	f := newFixture(t, cfg, nil)

	pan, _ := f.servos.Limits()
	assert.Equal(t, cfg.PanLimits, pan)
	assert.Equal(t, 60.0, f.servos.CurrentPan())
}

func TestManualTickDoesNothing(t *testing.T) {
	f := newFixture(t, quietConfig(), linearMapper{})

	require.NoError(t, f.ap.step())
	assert.Equal(t, StateManual, f.ap.State())
	assert.False(t, f.laser.State())
	assert.Equal(t, gimbal.Pose{Pan: 90, Tilt: 80}, gimbal.CurrentPose(f.servos))
}

func TestRoam_LaserWaitsForSettle(t *testing.T) {
	f := newFixture(t, quietConfig(), nil)
	f.ap.SetMode(ModeAuto)
	require.Equal(t, StateRoam, f.ap.State())

	require.NoError(t, f.ap.step())
	assert.False(t, f.laser.State(), "not settled yet")

	f.clk.Advance(249 * time.Millisecond)
	require.NoError(t, f.ap.step())
	assert.False(t, f.laser.State())

	f.clk.Advance(time.Millisecond)
	require.NoError(t, f.ap.step())
	assert.True(t, f.laser.State())
	assert.Equal(t, StateRoam, f.ap.State())
}

func TestRoam_UnknownROIWithDetectionsHoldsLaserOff(t *testing.T) {
	f := newFixture(t, quietConfig(), nil)
	b, err := detection.NewBoundingBox(0, 0, 20, 20)
	require.NoError(t, err)
	require.NoError(t, f.det.SetDetection(b))

	f.ap.SetMode(ModeAuto)
	require.NoError(t, f.ap.step())
	f.clk.Advance(time.Second)
	require.NoError(t, f.ap.step())

	assert.False(t, f.laser.State())
	assert.Equal(t, StateRoam, f.ap.State())
}

func TestRoam_MaxOnTimeRetargets(t *testing.T) {
	f := newFixture(t, quietConfig(), nil)
	f.ap.SetMode(ModeAuto)

	f.clk.Advance(250 * time.Millisecond)
	require.NoError(t, f.ap.step())
	require.True(t, f.laser.State())

	f.clk.Advance(800 * time.Millisecond)
	require.NoError(t, f.ap.step())
	assert.True(t, f.laser.State(), "exactly max on-time is still allowed")

	f.clk.Advance(time.Millisecond)
	require.NoError(t, f.ap.step())
	assert.False(t, f.laser.State())
	assert.Equal(t, StateRoam, f.ap.State())

	st := f.ap.Status()
	require.NotNil(t, st.Target)
	assert.NotEqual(t, gimbal.Pose{Pan: 90, Tilt: 80}, *st.Target)
}

func TestRoam_UnsafeEvadesThenCoolsDown(t *testing.T) {
	f := newFixture(t, quietConfig(), linearMapper{})
	f.ap.SetMode(ModeAuto)

	f.clk.Advance(250 * time.Millisecond)
	require.NoError(t, f.ap.step())
	require.True(t, f.laser.State(), "clear view, laser on")

	// A cat right under the spot at (360, 320).
	b, err := detection.NewBoundingBox(340, 300, 380, 340)
	require.NoError(t, err)
	require.NoError(t, f.det.SetDetection(b))

	require.NoError(t, f.ap.step())
	assert.False(t, f.laser.State())
	assert.Equal(t, StateEvade, f.ap.State())

	st := f.ap.Status()
	require.NotNil(t, st.EscapeHint)
	assert.Greater(t, st.EscapeHint.X, 360.0)
	assert.Greater(t, st.EscapeHint.Y, 320.0)
	require.NotNil(t, st.Target)
	d := st.Target.Sub(gimbal.Pose{Pan: 90, Tilt: 80})
	assert.GreaterOrEqual(t, abs(d.Pan), 20.0)
	assert.GreaterOrEqual(t, abs(d.Tilt), 20.0)

	require.NoError(t, f.ap.step())
	assert.Equal(t, StateCooldown, f.ap.State())

	require.NoError(t, f.ap.step())
	f.clk.Advance(999 * time.Millisecond)
	require.NoError(t, f.ap.step())
	assert.Equal(t, StateCooldown, f.ap.State())
	assert.False(t, f.laser.State())
	assert.NotEqual(t, gimbal.Pose{Pan: 90, Tilt: 80}, gimbal.CurrentPose(f.servos), "head moves during cooldown")

	f.clk.Advance(time.Millisecond)
	require.NoError(t, f.ap.step())
	assert.Equal(t, StateRoam, f.ap.State())
	assert.False(t, f.laser.State())
}

func TestTrack_CooldownReturnsToTrack(t *testing.T) {
	f := newFixture(t, quietConfig(), linearMapper{})
	b, err := detection.NewBoundingBox(340, 300, 380, 340)
	require.NoError(t, err)
	require.NoError(t, f.det.SetDetection(b))

	f.ap.SetMode(ModeTrack)
	require.Equal(t, StateTrack, f.ap.State())

	require.NoError(t, f.ap.step())
	require.Equal(t, StateEvade, f.ap.State())
	require.NoError(t, f.ap.step())
	require.Equal(t, StateCooldown, f.ap.State())

	f.clk.Advance(time.Second)
	require.NoError(t, f.ap.step())
	assert.Equal(t, StateTrack, f.ap.State())
}

func TestSetMode(t *testing.T) {
	f := newFixture(t, quietConfig(), nil)

	f.ap.SetMode(ModeTrack)
	assert.Equal(t, StateTrack, f.ap.State())
	f.ap.SetMode(ModeAuto)
	assert.Equal(t, StateRoam, f.ap.State())
	assert.Equal(t, ModeAuto, f.ap.Mode())

	f.clk.Advance(time.Second)
	require.NoError(t, f.ap.step())
	require.True(t, f.laser.State())

	f.ap.SetMode(ModeManual)
	assert.False(t, f.laser.State(), "laser cut before SetMode returns")
	assert.Equal(t, StateManual, f.ap.State())
	assert.Nil(t, f.ap.Status().Target)
}

func TestSetMode_ManualDuringCooldown(t *testing.T) {
	f := newFixture(t, quietConfig(), linearMapper{})
	b, err := detection.NewBoundingBox(340, 300, 380, 340)
	require.NoError(t, err)
	require.NoError(t, f.det.SetDetection(b))

	f.ap.SetMode(ModeAuto)
	require.NoError(t, f.ap.step())
	require.NoError(t, f.ap.step())
	require.Equal(t, StateCooldown, f.ap.State())

	f.ap.SetMode(ModeManual)
	assert.Equal(t, StateManual, f.ap.State())
	f.clk.Advance(time.Second)
	require.NoError(t, f.ap.step())
	assert.Equal(t, StateManual, f.ap.State())
}

func TestToggleLaser(t *testing.T) {
	f := newFixture(t, quietConfig(), nil)

	assert.True(t, f.ap.ToggleLaser())
	assert.False(t, f.ap.ToggleLaser())

	f.ap.SetMode(ModeAuto)
	f.clk.Advance(time.Second)
	require.NoError(t, f.ap.step())
	require.True(t, f.laser.State())

	assert.False(t, f.ap.ToggleLaser(), "toggle in auto is an emergency cut")
	assert.False(t, f.laser.State())
	assert.Equal(t, StateManual, f.ap.State())
	assert.Equal(t, ModeManual, f.ap.Mode())
}

func TestManualCommands(t *testing.T) {
	f := newFixture(t, quietConfig(), nil)

	pose, err := f.ap.MoveManual(5, -5)
	require.NoError(t, err)
	assert.Equal(t, gimbal.Pose{Pan: 95, Tilt: 75}, pose)

	pose, err = f.ap.SetPose(200, -10)
	require.NoError(t, err)
	assert.Equal(t, gimbal.Pose{Pan: 180, Tilt: 0}, pose)

	f.ap.SetMode(ModeAuto)
	_, err = f.ap.MoveManual(1, 1)
	assert.ErrorIs(t, err, ErrNotManual)
	_, err = f.ap.SetPose(90, 90)
	assert.ErrorIs(t, err, ErrNotManual)
}

func TestSetLimits(t *testing.T) {
	f := newFixture(t, quietConfig(), nil)
	f.ap.SetMode(ModeAuto)

	f.ap.SetLimits(gimbal.Limits{Min: 100, Max: 120}, gimbal.Limits{Min: 10, Max: 50})
	pan, tilt := f.ap.Limits()
	assert.Equal(t, gimbal.Limits{Min: 100, Max: 120}, pan)
	assert.Equal(t, gimbal.Limits{Min: 10, Max: 50}, tilt)

	st := f.ap.Status()
	require.NotNil(t, st.Target)
	assert.Equal(t, gimbal.Pose{Pan: 100, Tilt: 50}, *st.Target)
}

func TestStep_MalformedDetectionDiscardsTick(t *testing.T) {
	bad := staticSource{{X1: 10, Y1: 0, X2: 5, Y2: 5}}
	f := newFixtureWithSource(t, quietConfig(), linearMapper{}, bad, clock.NewMock(epoch))
	f.ap.SetMode(ModeAuto)
	f.clk.Advance(time.Second)

	err := f.ap.step()
	assert.ErrorIs(t, err, detection.ErrInvalidBox)
	assert.Equal(t, StateRoam, f.ap.State())
	assert.False(t, f.laser.State())
}

func TestStep_RecoversPanic(t *testing.T) {
	f := newFixtureWithSource(t, quietConfig(), nil, panicSource{}, clock.NewMock(epoch))
	f.ap.SetMode(ModeAuto)

	err := f.ap.step()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera gone")

	// The tick lock was released.
	f.ap.SetMode(ModeManual)
	assert.Equal(t, StateManual, f.ap.State())
}

func TestStatus(t *testing.T) {
	f := newFixture(t, quietConfig(), nil)
	st := f.ap.Status()
	assert.Nil(t, st.ROI)
	assert.NotNil(t, st.Detections)
	assert.False(t, st.Calibrated)
	assert.Equal(t, [2]int{640, 480}, st.FrameSize)

	raw, err := json.Marshal(st)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "MANUAL", m["state"])
	assert.Equal(t, "manual", m["mode"])
	assert.Nil(t, m["roi"])
	assert.Equal(t, []any{}, m["detections"])
	assert.Equal(t, 35.0, m["roi_radius"])

	g := newFixture(t, quietConfig(), linearMapper{})
	st = g.ap.Status()
	require.NotNil(t, st.ROI)
	assert.Equal(t, geometry.Point{X: 360, Y: 320}, *st.ROI)
	assert.True(t, st.Calibrated)
}

func TestMotion_PIDConverges(t *testing.T) {
	f := newFixture(t, quietConfig(), nil)
	f.ap.SetMode(ModeAuto)

	f.ap.mu.Lock()
	f.ap.target = gimbal.Pose{Pan: 120, Tilt: 60}
	for range 40 {
		f.clk.Advance(50 * time.Millisecond)
		f.ap.move(f.clk.Now())
	}
	f.ap.mu.Unlock()

	pose := gimbal.CurrentPose(f.servos)
	assert.InDelta(t, 120, pose.Pan, 0.25)
	assert.InDelta(t, 60, pose.Tilt, 0.25)
}

func TestMotion_Creep(t *testing.T) {
	cfg := quietConfig()
	cfg.Motion = MotionCreep
	f := newFixture(t, cfg, nil)
	f.ap.SetMode(ModeAuto)

	f.ap.mu.Lock()
	defer f.ap.mu.Unlock()
	f.ap.target = gimbal.Pose{Pan: 96, Tilt: 88}

	assert.True(t, f.ap.move(f.clk.Now()))
	pose := gimbal.CurrentPose(f.servos)
	assert.InDelta(t, 91.2, pose.Pan, 1e-9)
	assert.InDelta(t, 81.6, pose.Tilt, 1e-9)

	for range 10 {
		f.ap.move(f.clk.Now())
	}
	assert.Equal(t, gimbal.Pose{Pan: 96, Tilt: 88}, gimbal.CurrentPose(f.servos))
	assert.False(t, f.ap.move(f.clk.Now()), "at target")
}

func TestMotion_DirectAdoptsClampedTarget(t *testing.T) {
	cfg := quietConfig()
	cfg.Motion = MotionDirect
	cfg.PanLimits = gimbal.Limits{Min: 0, Max: 150}
	f := newFixture(t, cfg, nil)
	f.ap.SetMode(ModeAuto)

	f.ap.mu.Lock()
	defer f.ap.mu.Unlock()
	f.ap.target = gimbal.Pose{Pan: 170, Tilt: 60}
	f.clk.Advance(time.Second)

	assert.True(t, f.ap.move(f.clk.Now()))
	assert.Equal(t, gimbal.Pose{Pan: 150, Tilt: 60}, gimbal.CurrentPose(f.servos))
	assert.Equal(t, gimbal.Pose{Pan: 150, Tilt: 60}, f.ap.target)
	assert.Equal(t, f.clk.Now(), f.ap.lastMove)
	assert.False(t, f.ap.move(f.clk.Now()))
}

func TestStartStop(t *testing.T) {
	cfg := quietConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.Settle = 0
	cfg.MaxLaserOn = time.Minute

	drv := gimbal.NewNopDriver()
	servos := gimbal.NewServoController(drv, gimbal.DefaultServoConfig())
	laser := gimbal.NewLaserController(drv, 2)
	ap, err := New(cfg, servos, laser, nil, nil)
	require.NoError(t, err)

	require.NoError(t, ap.Start())
	assert.ErrorIs(t, ap.Start(), ErrAlreadyRunning)
	assert.True(t, ap.Running())

	ap.SetMode(ModeAuto)
	require.Eventually(t, laser.State, time.Second, 5*time.Millisecond)

	require.NoError(t, ap.Stop(time.Second))
	assert.False(t, ap.Running())
	assert.False(t, laser.State())
	assert.Equal(t, StateManual, ap.State())
	assert.True(t, drv.Released(0))
	assert.True(t, drv.Released(1))

	assert.NoError(t, ap.Stop(time.Second), "second stop is a no-op")
	require.NoError(t, ap.Start(), "restart after stop")
	require.NoError(t, ap.Stop(time.Second))
}

func TestLoop_BacksOffAfterError(t *testing.T) {
	clk := clock.NewMock(epoch)
	f := newFixtureWithSource(t, quietConfig(), nil, panicSource{}, clk)
	f.ap.SetMode(ModeAuto)
	require.NoError(t, f.ap.Start())
	defer f.ap.Stop(time.Second)

	clk.Advance(50 * time.Millisecond)
	require.Eventually(t, func() bool {
		f.ap.mu.Lock()
		defer f.ap.mu.Unlock()
		return f.ap.errorCount == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, StateRoam, f.ap.State(), "errors never change state")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
