package gimbal

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// ErrPortClosed is returned for writes after Close.
var ErrPortClosed = errors.New("gimbal: serial port closed")

// Pololu Maestro compact protocol.
const (
	cmdSetTarget = 0x84

	// Targets are in quarter-microseconds. 0 stops pulses on the channel.
	targetOff = 0
	// Channels configured as digital outputs go high at or above 1500 µs.
	outputHigh = 1500 * 4
	outputLow  = 500 * 4
)

// MaestroConfig maps servo angles onto pulse widths.
type MaestroConfig struct {
	MinPulseUS float64 // Pulse width at 0°
	MaxPulseUS float64 // Pulse width at 180°
}

// DefaultMaestroConfig returns the SG90 pulse range (0.5–2.5 ms).
func DefaultMaestroConfig() MaestroConfig {
	return MaestroConfig{MinPulseUS: 500, MaxPulseUS: 2500}
}

// MaestroDriver drives servos and the laser through a Pololu Maestro USB
// servo controller. It implements both ServoDriver and OutputDriver.
type MaestroDriver struct {
	cfg MaestroConfig

	mu     sync.Mutex
	port   io.WriteCloser
	closed bool
}

var _ ServoDriver = (*MaestroDriver)(nil)
var _ OutputDriver = (*MaestroDriver)(nil)

// NewMaestroDriver wraps an already opened port.
func NewMaestroDriver(port io.WriteCloser, cfg MaestroConfig) *MaestroDriver {
	if cfg.MaxPulseUS <= cfg.MinPulseUS {
		cfg = DefaultMaestroConfig()
	}
	return &MaestroDriver{cfg: cfg, port: port}
}

// OpenMaestro opens the serial device at path and returns a driver for it.
func OpenMaestro(path string, opts PortOptions, cfg MaestroConfig) (*MaestroDriver, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open servo controller %s: %w", path, err)
	}
	return NewMaestroDriver(port, cfg), nil
}

// PulseTarget converts an angle to a Maestro target in quarter-microseconds.
func (d *MaestroDriver) PulseTarget(angle float64) uint16 {
	angle = FullRange.Clamp(angle)
	us := d.cfg.MinPulseUS + angle/HardwareMax*(d.cfg.MaxPulseUS-d.cfg.MinPulseUS)
	return uint16(us*4 + 0.5)
}

// SetAngle moves channel to angle degrees.
func (d *MaestroDriver) SetAngle(channel int, angle float64) error {
	return d.setTarget(channel, d.PulseTarget(angle))
}

// Release stops pulses on channel.
func (d *MaestroDriver) Release(channel int) error {
	return d.setTarget(channel, targetOff)
}

// SetOutput drives a digital output channel high or low.
func (d *MaestroDriver) SetOutput(channel int, on bool) error {
	if on {
		return d.setTarget(channel, outputHigh)
	}
	return d.setTarget(channel, outputLow)
}

// Close closes the serial port.
func (d *MaestroDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.port.Close()
}

func (d *MaestroDriver) setTarget(channel int, target uint16) error {
	if channel < 0 || channel > 23 {
		return fmt.Errorf("maestro channel %d out of range", channel)
	}
	cmd := EncodeSetTarget(byte(channel), target)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrPortClosed
	}
	if _, err := d.port.Write(cmd); err != nil {
		return fmt.Errorf("maestro write channel %d: %w", channel, err)
	}
	return nil
}

// EncodeSetTarget builds a compact-protocol Set Target command.
func EncodeSetTarget(channel byte, target uint16) []byte {
	return []byte{cmdSetTarget, channel, byte(target & 0x7F), byte((target >> 7) & 0x7F)}
}
