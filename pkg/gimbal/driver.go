package gimbal

import "sync"

// ServoDriver moves a single servo channel to an angle in degrees.
type ServoDriver interface {
	SetAngle(channel int, angle float64) error
	// Release stops driving the channel so the servo goes limp.
	Release(channel int) error
	Close() error
}

// OutputDriver drives a digital output channel (the laser).
type OutputDriver interface {
	SetOutput(channel int, on bool) error
}

// NopDriver records commands in memory. It stands in for hardware during
// development and in tests.
type NopDriver struct {
	mu       sync.Mutex
	angles   map[int]float64
	outputs  map[int]bool
	released map[int]bool
}

// NewNopDriver creates an empty NopDriver.
func NewNopDriver() *NopDriver {
	return &NopDriver{
		angles:   make(map[int]float64),
		outputs:  make(map[int]bool),
		released: make(map[int]bool),
	}
}

// SetAngle records the angle for channel.
func (d *NopDriver) SetAngle(channel int, angle float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.angles[channel] = angle
	d.released[channel] = false
	return nil
}

// Release marks channel as released.
func (d *NopDriver) Release(channel int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released[channel] = true
	return nil
}

// SetOutput records the output level for channel.
func (d *NopDriver) SetOutput(channel int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs[channel] = on
	return nil
}

// Close is a no-op.
func (d *NopDriver) Close() error { return nil }

// Angle returns the last angle sent to channel.
func (d *NopDriver) Angle(channel int) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.angles[channel]
	return a, ok
}

// Output returns the last level sent to channel.
func (d *NopDriver) Output(channel int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outputs[channel]
}

// Released reports whether channel was released after its last command.
func (d *NopDriver) Released(channel int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released[channel]
}
