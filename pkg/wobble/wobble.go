// Package wobble moves the head in small repeating patterns around the pose
// it had when started. It is a manual-mode toy; callers must stop it before
// handing the actuator to the autopilot.
package wobble

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-catlaser/internal/clock"
	"github.com/teslashibe/go-catlaser/internal/log"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
)

// Pattern names a wobble motion.
type Pattern string

const (
	PatternCircle      Pattern = "circle"
	PatternFigure8     Pattern = "figure8"
	PatternSmallRandom Pattern = "small_random"
)

// Pattern parameters.
const (
	CircleRadiusDeg = 10.0
	FigureScaleDeg  = 15.0
	RandomSpanDeg   = 5.0
	AngularSpeed    = 2.0 // rad/s

	smoothInterval = 50 * time.Millisecond
	randomInterval = 100 * time.Millisecond
	stopTimeout    = time.Second
)

// ParsePattern accepts the pattern names plus "figure_8".
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "circle":
		return PatternCircle, nil
	case "figure8", "figure_8":
		return PatternFigure8, nil
	case "small_random", "random":
		return PatternSmallRandom, nil
	}
	return "", fmt.Errorf("unknown wobble pattern %q", s)
}

// Interval returns how often the pattern updates the pose.
func (p Pattern) Interval() time.Duration {
	if p == PatternSmallRandom {
		return randomInterval
	}
	return smoothInterval
}

// Offset returns the pan/tilt offset at t seconds. rng is only used by
// PatternSmallRandom.
func (p Pattern) Offset(t float64, rng *rand.Rand) gimbal.Pose {
	switch p {
	case PatternCircle:
		a := t * AngularSpeed
		return gimbal.Pose{Pan: CircleRadiusDeg * math.Cos(a), Tilt: CircleRadiusDeg * math.Sin(a)}
	case PatternFigure8:
		a := t * AngularSpeed
		return gimbal.Pose{Pan: FigureScaleDeg * math.Cos(a), Tilt: FigureScaleDeg * math.Sin(2*a) / 2}
	case PatternSmallRandom:
		return gimbal.Pose{
			Pan:  (rng.Float64()*2 - 1) * RandomSpanDeg,
			Tilt: (rng.Float64()*2 - 1) * RandomSpanDeg,
		}
	}
	return gimbal.Pose{}
}

// Engine runs one pattern at a time on an actuator.
type Engine struct {
	act gimbal.Actuator
	clk clock.Clock
	rng *rand.Rand

	mu      sync.Mutex
	pattern Pattern
	center  gimbal.Pose
	stop    chan struct{}
	done    chan struct{}
}

// New creates an idle engine. A nil clock uses the wall clock and a nil rng
// is seeded randomly.
func New(act gimbal.Actuator, clk clock.Clock, rng *rand.Rand) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{act: act, clk: clk, rng: rng}
}

// Start begins wobbling around the current pose. A running pattern is
// stopped first.
func (e *Engine) Start(p Pattern) error {
	if _, err := ParsePattern(string(p)); err != nil {
		return err
	}
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pattern = p
	e.center = gimbal.CurrentPose(e.act)
	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	ticker := e.clk.NewTicker(p.Interval())
	go e.loop(p, e.center, e.clk.Now(), ticker, e.stop, e.done)

	log.Component("wobble").Info("wobble started", "pattern", p, "pan", e.center.Pan, "tilt", e.center.Tilt)
	return nil
}

// Stop halts the pattern and waits briefly for the loop to exit. The head
// stays where the pattern left it.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.pattern = ""
	e.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Component("wobble").Warn("wobble loop did not stop in time")
	}
}

// Running reports whether a pattern is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop != nil
}

// Pattern returns the active pattern, or "" when idle.
func (e *Engine) Pattern() Pattern {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pattern
}

func (e *Engine) loop(p Pattern, center gimbal.Pose, start time.Time, ticker clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C():
			off := p.Offset(now.Sub(start).Seconds(), e.rng)
			e.act.SetPan(center.Pan+off.Pan, false)
			e.act.SetTilt(center.Tilt+off.Tilt, false)
		}
	}
}
