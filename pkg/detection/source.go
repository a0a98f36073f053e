package detection

import (
	"fmt"
	"strings"
)

// Source supplies the most recent detections. LatestDetections never blocks
// and returns a snapshot the caller may keep.
type Source interface {
	LatestDetections() []BoundingBox
}

// Detector runs inference on one encoded frame.
type Detector interface {
	// Detect finds subjects in the JPEG image
	Detect(jpeg []byte) ([]BoundingBox, error)

	// Close releases resources
	Close() error
}

// Backend selects the detection implementation at startup.
type Backend int

const (
	BackendMock Backend = iota
	BackendCPU
	BackendRemote
)

func (b Backend) String() string {
	switch b {
	case BackendMock:
		return "mock"
	case BackendCPU:
		return "cpu"
	case BackendRemote:
		return "remote"
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// ParseBackend accepts "mock", "cpu" and "remote". "yolo" is an alias for cpu.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mock":
		return BackendMock, nil
	case "cpu", "yolo":
		return BackendCPU, nil
	case "remote":
		return BackendRemote, nil
	}
	return 0, fmt.Errorf("unknown detector backend %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Backend) UnmarshalText(text []byte) error {
	v, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}
