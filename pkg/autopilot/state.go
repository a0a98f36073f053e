package autopilot

import (
	"fmt"
	"strings"
)

// State is the control state. Exactly one is active at a time.
type State int32

const (
	StateManual State = iota
	StateRoam
	StateTrack
	StateEvade
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateManual:
		return "MANUAL"
	case StateRoam:
		return "ROAM"
	case StateTrack:
		return "TRACK"
	case StateEvade:
		return "EVADE"
	case StateCooldown:
		return "COOLDOWN"
	}
	return fmt.Sprintf("STATE(%d)", int32(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Auto reports whether s is one of the autonomous states.
func (s State) Auto() bool {
	return s != StateManual
}

// Roaming reports whether s belongs to the roam class (ROAM or TRACK).
func (s State) Roaming() bool {
	return s == StateRoam || s == StateTrack
}

// Mode is what the operator asked for.
type Mode int32

const (
	ModeManual Mode = iota
	ModeAuto
	ModeTrack
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAuto:
		return "auto"
	case ModeTrack:
		return "track"
	}
	return fmt.Sprintf("mode(%d)", int32(m))
}

// ParseMode accepts "manual", "auto" and "track", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return ModeManual, nil
	case "auto", "roam":
		return ModeAuto, nil
	case "track":
		return ModeTrack, nil
	}
	return ModeManual, fmt.Errorf("unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// roamState maps an auto mode onto its roam-class state.
func (m Mode) roamState() State {
	switch m {
	case ModeAuto:
		return StateRoam
	case ModeTrack:
		return StateTrack
	}
	return StateManual
}
