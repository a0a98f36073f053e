package autopilot

import (
	"math"
	"time"

	"github.com/teslashibe/go-catlaser/pkg/detection"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
)

// pickNewTarget draws a fresh target after a hit or a max-on timeout. ROAM
// samples the whole limit box, TRACK stays within TrackRadiusDeg of the
// current pose. Candidates that barely move the head, or whose predicted
// spot falls inside a danger zone, are rejected. When every attempt is
// rejected the head holds its pose.
func (a *AutoPilot) pickNewTarget(now time.Time, st State, pose gimbal.Pose, dets []detection.BoundingBox) {
	panLim, tiltLim := a.act.Limits()
	if st == StateTrack {
		r := a.cfg.TrackRadiusDeg
		panLim = intersect(panLim, gimbal.Limits{Min: pose.Pan - r, Max: pose.Pan + r})
		tiltLim = intersect(tiltLim, gimbal.Limits{Min: pose.Tilt - r, Max: pose.Tilt + r})
	}

	target, ok := a.sample(pose, dets, func() gimbal.Pose {
		return gimbal.Pose{Pan: a.uniform(panLim.Min, panLim.Max), Tilt: a.uniform(tiltLim.Min, tiltLim.Max)}
	})
	if !ok {
		a.logger.Debug("no acceptable target, holding", "pan", pose.Pan, "tilt", pose.Tilt)
		target = pose
	}

	a.target = target
	a.hasTarget = true
	a.escapeHint = nil
	a.resetRegulators()
	a.lastMove = now
	a.lastRefresh = now
}

// jitterTarget nudges the current target by up to the jitter amplitude per
// axis. A rejected jitter leaves the target unchanged.
func (a *AutoPilot) jitterTarget(now time.Time, pose gimbal.Pose, dets []detection.BoundingBox) {
	panLim, tiltLim := a.act.Limits()
	base := pose
	if a.hasTarget {
		base = a.target
	}

	target, ok := a.sample(pose, dets, func() gimbal.Pose {
		return gimbal.Pose{
			Pan:  panLim.Clamp(base.Pan + a.uniform(-a.cfg.PanJitterDeg, a.cfg.PanJitterDeg)),
			Tilt: tiltLim.Clamp(base.Tilt + a.uniform(-a.cfg.TiltJitterDeg, a.cfg.TiltJitterDeg)),
		}
	})
	if !ok {
		return
	}
	a.target = target
	a.hasTarget = true
	a.resetRegulators()
	a.lastMove = now
}

// sample draws up to RetargetAttempts candidates and returns the first one
// that moves at least MinMoveDeg on some axis and whose predicted spot is
// clear of every danger zone.
func (a *AutoPilot) sample(pose gimbal.Pose, dets []detection.BoundingBox, draw func() gimbal.Pose) (gimbal.Pose, bool) {
	for range a.cfg.RetargetAttempts {
		c := draw()
		d := c.Sub(pose)
		if math.Abs(d.Pan) < a.cfg.MinMoveDeg && math.Abs(d.Tilt) < a.cfg.MinMoveDeg {
			continue
		}
		if p, known := a.mapper.Predict(c.Pan, c.Tilt); known && a.safety.InDangerZone(p, dets) {
			continue
		}
		return c, true
	}
	return gimbal.Pose{}, false
}

// escapeTarget jumps each axis by a random magnitude in
// [EvadeMinDeg, EvadeMaxDeg] with a random sign. If a limit swallows most of
// the jump the opposite direction is used instead.
func (a *AutoPilot) escapeTarget(pose gimbal.Pose) gimbal.Pose {
	panLim, tiltLim := a.act.Limits()
	return gimbal.Pose{
		Pan:  a.escapeAxis(pose.Pan, panLim),
		Tilt: a.escapeAxis(pose.Tilt, tiltLim),
	}
}

func (a *AutoPilot) escapeAxis(cur float64, lim gimbal.Limits) float64 {
	step := a.uniform(a.cfg.EvadeMinDeg, a.cfg.EvadeMaxDeg)
	if a.rng.IntN(2) == 0 {
		step = -step
	}
	next := lim.Clamp(cur + step)
	if math.Abs(next-cur) >= a.cfg.EvadeMinDeg {
		return next
	}
	if alt := lim.Clamp(cur - step); math.Abs(alt-cur) > math.Abs(next-cur) {
		return alt
	}
	return next
}

func (a *AutoPilot) uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + a.rng.Float64()*(hi-lo)
}

// intersect narrows l to w. If they do not overlap l is returned unchanged.
func intersect(l, w gimbal.Limits) gimbal.Limits {
	out := gimbal.Limits{Min: math.Max(l.Min, w.Min), Max: math.Min(l.Max, w.Max)}
	if out.Min > out.Max {
		return l
	}
	return out
}
