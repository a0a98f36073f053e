package gimbal

import (
	"sync"

	"github.com/teslashibe/go-catlaser/internal/log"
)

// LaserController is a thread-safe Laser on a digital output channel.
// A nil driver gives a pure in-memory laser for development.
type LaserController struct {
	driver  OutputDriver
	channel int

	mu sync.Mutex
	on bool
}

var _ Laser = (*LaserController)(nil)

// NewLaserController creates a laser that starts switched off.
func NewLaserController(driver OutputDriver, channel int) *LaserController {
	l := &LaserController{driver: driver, channel: channel}
	l.set(false)
	return l
}

// On switches the laser on.
func (l *LaserController) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set(true)
}

// Off switches the laser off.
func (l *LaserController) Off() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set(false)
}

// Toggle flips the laser and returns the new state.
func (l *LaserController) Toggle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set(!l.on)
}

// State reports whether the laser is on.
func (l *LaserController) State() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// set must be called with l.mu held (or from the constructor).
// Turning off always records the off state even if the write fails; turning
// on only sticks if the write succeeded.
func (l *LaserController) set(on bool) bool {
	if l.driver != nil {
		if err := l.driver.SetOutput(l.channel, on); err != nil {
			log.Component("gimbal").Error("laser write failed", "on", on, "error", err)
			if on {
				return l.on
			}
		}
	}
	l.on = on
	return l.on
}
