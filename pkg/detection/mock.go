package detection

import (
	"time"

	"github.com/teslashibe/go-catlaser/internal/clock"
	"github.com/teslashibe/go-catlaser/internal/log"
)

// Mock detector defaults.
const (
	DefaultMockTTL = 500 * time.Millisecond
	MockLabel      = "mock_cat"
)

// MockDetector reports a single hand-placed box until its TTL runs out.
// It stands in for a camera during bench testing.
type MockDetector struct {
	cache *Cache
}

var _ Source = (*MockDetector)(nil)

// NewMockDetector creates a mock with the given TTL (DefaultMockTTL if <= 0).
func NewMockDetector(ttl time.Duration, clk clock.Clock) *MockDetector {
	if ttl <= 0 {
		ttl = DefaultMockTTL
	}
	return &MockDetector{cache: NewCache(ttl, clk)}
}

// SetDetection places box as the only detection and restarts the TTL.
func (m *MockDetector) SetDetection(box BoundingBox) error {
	if err := box.Validate(); err != nil {
		return err
	}
	if box.Label == "" {
		box.Label = MockLabel
	}
	if box.Score == 0 {
		box.Score = 1
	}
	m.cache.Update([]BoundingBox{box})
	log.Component("detection").Debug("mock detection set",
		"x1", box.X1, "y1", box.Y1, "x2", box.X2, "y2", box.Y2)
	return nil
}

// Clear removes the detection.
func (m *MockDetector) Clear() {
	m.cache.Clear()
}

// LatestDetections returns the box while it is fresh.
func (m *MockDetector) LatestDetections() []BoundingBox {
	return m.cache.LatestDetections()
}
